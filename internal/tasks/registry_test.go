package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginAndComplete(t *testing.T) {
	r := NewRegistry()

	task, ctx := r.Begin(context.Background(), "analyze", "fp-1")
	require.NotNil(t, ctx)
	assert.Equal(t, StatusRunning, task.Status)
	assert.False(t, task.StartedAt.IsZero())

	r.Complete(task.ID)
	got, ok := r.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, StatusDone, got.Status)
	assert.False(t, got.FinishedAt.IsZero())
}

func TestDuplicateFingerprintReturnsRunningTask(t *testing.T) {
	r := NewRegistry()

	first, ctx := r.Begin(context.Background(), "analyze", "fp-1")
	require.NotNil(t, ctx)

	dup, dupCtx := r.Begin(context.Background(), "analyze", "fp-1")
	assert.Nil(t, dupCtx, "a duplicate must not get a context to run under")
	assert.Equal(t, first.ID, dup.ID)

	// Once the first finishes, the same fingerprint starts fresh.
	r.Complete(first.ID)
	again, againCtx := r.Begin(context.Background(), "analyze", "fp-1")
	require.NotNil(t, againCtx)
	assert.NotEqual(t, first.ID, again.ID)
}

func TestEmptyFingerprintNeverDeduplicates(t *testing.T) {
	r := NewRegistry()
	a, actx := r.Begin(context.Background(), "analyze", "")
	b, bctx := r.Begin(context.Background(), "analyze", "")
	require.NotNil(t, actx)
	require.NotNil(t, bctx)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestCancelAbortsContext(t *testing.T) {
	r := NewRegistry()
	task, ctx := r.Begin(context.Background(), "analyze", "fp-1")

	require.True(t, r.Cancel(task.ID))
	select {
	case <-ctx.Done():
	default:
		t.Fatal("context not cancelled")
	}

	got, _ := r.Get(task.ID)
	assert.Equal(t, StatusCancelled, got.Status)

	assert.False(t, r.Cancel(task.ID), "cancelling a finished task is a no-op")
	assert.False(t, r.Cancel("no-such-task"))
}

func TestFailRecordsReason(t *testing.T) {
	r := NewRegistry()
	task, _ := r.Begin(context.Background(), "analyze", "fp-1")

	r.Fail(task.ID, "model unavailable")
	got, ok := r.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "model unavailable", got.Error)
}

func TestFinishAfterCancelIsNoOp(t *testing.T) {
	r := NewRegistry()
	task, _ := r.Begin(context.Background(), "analyze", "fp-1")

	require.True(t, r.Cancel(task.ID))
	r.Fail(task.ID, "late failure")

	got, _ := r.Get(task.ID)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Empty(t, got.Error)
}

func TestGetUnknownTask(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("nope")
	assert.False(t, ok)
}
