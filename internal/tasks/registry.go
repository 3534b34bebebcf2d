// Package tasks tracks in-flight background work (document analysis runs)
// so concurrent uploads can be listed, cancelled, and resubmitted
// idempotently instead of being fire-and-forget.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task statuses.
const (
	StatusRunning   = "running"
	StatusDone      = "done"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Task is one tracked unit of background work.
type Task struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Fingerprint string    `json:"-"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`

	cancel context.CancelFunc
}

// Registry is a small in-process task table keyed by task id and by a
// caller-supplied request fingerprint for idempotent resubmission.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Begin registers a new task and returns it with a cancellable context.
// When a running task with the same fingerprint already exists, that task
// is returned instead with a nil context: the caller must not start a
// duplicate run.
func (r *Registry) Begin(parent context.Context, kind, fingerprint string) (*Task, context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if fingerprint != "" {
		for _, t := range r.tasks {
			if t.Fingerprint == fingerprint && t.Status == StatusRunning {
				return t, nil
			}
		}
	}

	ctx, cancel := context.WithCancel(parent)
	task := &Task{
		ID:          uuid.NewString(),
		Kind:        kind,
		Fingerprint: fingerprint,
		Status:      StatusRunning,
		StartedAt:   time.Now(),
		cancel:      cancel,
	}
	r.tasks[task.ID] = task
	return task, ctx
}

// Get returns a snapshot of the task, if known.
func (r *Registry) Get(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Cancel aborts a running task's context. Cancelling a finished or unknown
// task is a no-op and reports false.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status != StatusRunning {
		return false
	}
	t.cancel()
	t.Status = StatusCancelled
	t.FinishedAt = time.Now()
	return true
}

// Complete marks a running task done.
func (r *Registry) Complete(id string) {
	r.finish(id, StatusDone, "")
}

// Fail marks a running task failed with a user-facing reason.
func (r *Registry) Fail(id string, reason string) {
	r.finish(id, StatusFailed, reason)
}

func (r *Registry) finish(id, status, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status != StatusRunning {
		return
	}
	t.cancel()
	t.Status = status
	t.Error = reason
	t.FinishedAt = time.Now()
}
