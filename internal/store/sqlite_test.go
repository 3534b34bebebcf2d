package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "store_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

const testUser = "guest:Tester"

func TestDefaultStateSeeds(t *testing.T) {
	state := DefaultState()
	assert.Equal(t, "Calculus Final", state.Exam.Name)
	assert.Len(t, state.Uploads, 3)
	assert.Len(t, state.Sessions, 3)
	assert.Len(t, state.Analytics, 4)
	assert.Empty(t, state.Quizzes)
	assert.Empty(t, state.History)
	for _, u := range state.Uploads {
		assert.Equal(t, UploadReady, u.Status)
	}
}

func TestStateRoundTrip(t *testing.T) {
	st := newTestStore(t)

	uploads := []UploadedFile{{
		ID: "u1", Name: "notes.pdf", MimeType: "application/pdf",
		Content: "text", Status: UploadReady, Topics: []string{"Limits"},
		Analysis: &DocumentAnalysis{Summary: "short", KeyConcepts: []string{"a"}},
	}}
	quizzes := []Quiz{{ID: "quiz-1", Title: "Quiz: notes.pdf", SourceFileID: "u1"}}
	exam := ExamDetails{ID: "e1", Name: "Midterm", Date: "2026-10-01", TargetScore: 85, TotalMarks: 100}

	require.NoError(t, st.SaveUploads(testUser, uploads))
	require.NoError(t, st.SaveQuizzes(testUser, quizzes))
	require.NoError(t, st.SaveExam(testUser, exam))

	state := st.LoadState(testUser)
	require.Len(t, state.Uploads, 1)
	assert.Equal(t, "notes.pdf", state.Uploads[0].Name)
	require.NotNil(t, state.Uploads[0].Analysis)
	assert.Equal(t, "short", state.Uploads[0].Analysis.Summary)
	require.Len(t, state.Quizzes, 1)
	assert.Equal(t, "quiz-1", state.Quizzes[0].ID)
	assert.Equal(t, "Midterm", state.Exam.Name)

	// Unsaved slices keep their defaults.
	assert.Len(t, state.Sessions, 3)
}

func TestStateIsolatedPerUser(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.SaveQuizzes("guest:Alice", []Quiz{{ID: "a-quiz"}}))

	other := st.LoadState("guest:Bob")
	assert.Empty(t, other.Quizzes)
}

func TestCorruptKeyKeepsDefaultForThatSliceOnly(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.SaveUploads(testUser, []UploadedFile{{ID: "u1", Name: "ok.pdf"}}))
	require.NoError(t, st.Put(testUser, KeyQuizzes, `{"v":1,"data": not json at all`))

	state := st.LoadState(testUser)
	assert.Empty(t, state.Quizzes, "corrupt key falls back to default")
	require.Len(t, state.Uploads, 1, "other keys still load")
	assert.Equal(t, "ok.pdf", state.Uploads[0].Name)
}

func TestBareLegacyValueStillDecodes(t *testing.T) {
	st := newTestStore(t)
	// A value written before envelopes existed: the raw collection itself.
	require.NoError(t, st.Put(testUser, KeySessions, `[{"id":"legacy-1","title":"Old session","status":"PENDING"}]`))

	state := st.LoadState(testUser)
	require.Len(t, state.Sessions, 1)
	assert.Equal(t, "legacy-1", state.Sessions[0].ID)
}

func TestSaveWrapsInVersionedEnvelope(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.SaveHistory(testUser, []GeneratedSet{{ID: "h1"}}))

	raw, ok, err := st.Get(testUser, KeyHistory)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, `"v":1`)
	assert.Contains(t, raw, `"h1"`)
}

func TestClearRemovesEverything(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.SaveUploads(testUser, []UploadedFile{{ID: "u1"}}))
	require.NoError(t, st.SaveQuizzes(testUser, []Quiz{{ID: "q1"}}))
	require.NoError(t, st.SaveIdentity(Identity{DisplayName: "Tester", Guest: true}))

	require.NoError(t, st.Clear(testUser))

	state := st.LoadState(testUser)
	assert.Empty(t, state.Quizzes)
	// Defaults return after a clear, not the cleared values.
	assert.Len(t, state.Uploads, 3)
	_, ok := st.LoadIdentity(testUser)
	assert.False(t, ok)
}

func TestIdentityVariants(t *testing.T) {
	st := newTestStore(t)

	guest := Identity{DisplayName: "Tester", Guest: true}
	require.NoError(t, st.SaveIdentity(guest))
	got, ok := st.LoadIdentity(guest.Key())
	require.True(t, ok)
	assert.True(t, got.Guest)
	assert.Equal(t, "Tester", got.DisplayName)

	google := Identity{DisplayName: "Jane Doe", Email: "jane@example.com", SubjectID: "sub-123"}
	require.NoError(t, st.SaveIdentity(google))
	got, ok = st.LoadIdentity(google.Key())
	require.True(t, ok)
	assert.False(t, got.Guest)
	assert.Equal(t, "sub-123", got.SubjectID)
	assert.Equal(t, "jane@example.com", got.Email)
}

func TestIdentityKeyNamespaces(t *testing.T) {
	assert.Equal(t, "guest:Tester", Identity{DisplayName: "Tester", Guest: true}.Key())
	assert.Equal(t, "google:sub-123", Identity{SubjectID: "sub-123"}.Key())
}

func TestPutOverwrites(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Put(testUser, KeyGuest, "first"))
	require.NoError(t, st.Put(testUser, KeyGuest, "second"))

	raw, ok, err := st.Get(testUser, KeyGuest)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", raw)
}

func TestGetMissingKey(t *testing.T) {
	st := newTestStore(t)
	_, ok, err := st.Get(testUser, KeyExam)
	require.NoError(t, err)
	assert.False(t, ok)
}
