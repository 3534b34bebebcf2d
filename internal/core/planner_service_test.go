package core

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Codewithjainam7/EduHubPro/internal/store"
	"github.com/Codewithjainam7/EduHubPro/internal/tasks"
)

func newTestPlanner(t *testing.T, gen TextGenerator) *PlannerService {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "planner_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewPlannerService(st, NewGenerationService(gen), tasks.NewRegistry())
}

// waitForTask polls the registry until the analysis goroutine resolves.
func waitForTask(t *testing.T, p *PlannerService, taskID string) tasks.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, ok := p.Task(taskID)
		require.True(t, ok)
		if task.Status != tasks.StatusRunning {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("analysis task did not finish")
	return tasks.Task{}
}

const userKey = "guest:Tester"

func TestBeginUploadLifecycle(t *testing.T) {
	p := newTestPlanner(t, &stubGenerator{response: validAnalysisJSON})

	file, task, err := p.BeginUpload(userKey, "limits.txt", "text/plain", []byte("notes"))
	require.NoError(t, err)
	require.NotNil(t, file)
	require.NotNil(t, task)
	assert.Equal(t, store.UploadProcessing, file.Status)

	done := waitForTask(t, p, task.ID)
	assert.Equal(t, tasks.StatusDone, done.Status)

	state := p.State(userKey)
	require.NotEmpty(t, state.Uploads)
	got := state.Uploads[0]
	assert.Equal(t, file.ID, got.ID)
	assert.Equal(t, store.UploadReady, got.Status)
	assert.Equal(t, []string{"Limits"}, got.Topics)
	require.NotNil(t, got.Analysis)
	assert.Equal(t, "Intro to limits.", got.Analysis.Summary)
}

func TestBeginUploadRejectsBeforeRecording(t *testing.T) {
	gen := &stubGenerator{response: validAnalysisJSON}
	p := newTestPlanner(t, gen)
	seedCount := len(p.State(userKey).Uploads)

	_, _, err := p.BeginUpload(userKey, "huge.pdf", "application/pdf", make([]byte, maxUploadBytes+1))
	require.ErrorIs(t, err, ErrFileTooLarge)

	_, _, err = p.BeginUpload(userKey, "notes.zip", "application/zip", []byte("PK"))
	var typeErr *UnsupportedTypeError
	require.ErrorAs(t, err, &typeErr)

	assert.Len(t, p.State(userKey).Uploads, seedCount, "rejected uploads leave no record")
	assert.Zero(t, gen.calls)
}

func TestBeginUploadWithoutCredentials(t *testing.T) {
	p := newTestPlanner(t, nil)
	_, _, err := p.BeginUpload(userKey, "notes.txt", "text/plain", []byte("notes"))
	require.ErrorIs(t, err, ErrNoCredentials)
}

func TestBeginUploadRejectionStoresReason(t *testing.T) {
	p := newTestPlanner(t, &stubGenerator{response: `{"isStudyMaterial": false, "rejectionReason": "This is a pizza menu."}`})

	file, task, err := p.BeginUpload(userKey, "menu.pdf", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)

	done := waitForTask(t, p, task.ID)
	assert.Equal(t, tasks.StatusFailed, done.Status)

	state := p.State(userKey)
	got := state.Uploads[0]
	assert.Equal(t, file.ID, got.ID)
	assert.Equal(t, store.UploadError, got.Status)
	assert.Equal(t, "This is a pizza menu.", got.Content)
}

func TestBeginUploadIdempotentResubmission(t *testing.T) {
	// A generator that blocks until released, so the first upload is still
	// running when the duplicate arrives.
	release := make(chan struct{})
	gen := &blockingGenerator{release: release, response: validAnalysisJSON}
	p := newTestPlanner(t, gen)

	_, task1, err := p.BeginUpload(userKey, "notes.txt", "text/plain", []byte("notes"))
	require.NoError(t, err)

	_, task2, err := p.BeginUpload(userKey, "notes.txt", "text/plain", []byte("notes"))
	require.NoError(t, err)
	assert.Equal(t, task1.ID, task2.ID, "identical in-flight upload returns the existing task")

	close(release)
	waitForTask(t, p, task1.ID)

	processing := 0
	for _, u := range p.State(userKey).Uploads {
		if u.Name == "notes.txt" {
			processing++
		}
	}
	assert.Equal(t, 1, processing, "no duplicate record")
}

type blockingGenerator struct {
	release  <-chan struct{}
	response string
}

func (g *blockingGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	select {
	case <-g.release:
		return g.response, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestCancelRunningAnalysis(t *testing.T) {
	gen := &blockingGenerator{release: make(chan struct{})}
	p := newTestPlanner(t, gen)

	_, task, err := p.BeginUpload(userKey, "slow.txt", "text/plain", []byte("notes"))
	require.NoError(t, err)

	require.True(t, p.CancelTask(task.ID))
	done := waitForTask(t, p, task.ID)
	assert.Equal(t, tasks.StatusCancelled, done.Status)
}

func TestDeleteUploadRemovesExactlyOne(t *testing.T) {
	p := newTestPlanner(t, nil)
	state := p.State(userKey)
	before := len(state.Uploads)
	require.Greater(t, before, 1)

	require.NoError(t, p.DeleteUpload(userKey, state.Uploads[0].ID))

	after := p.State(userKey).Uploads
	assert.Len(t, after, before-1)
	for _, u := range after {
		assert.NotEqual(t, state.Uploads[0].ID, u.ID)
	}

	assert.ErrorIs(t, p.DeleteUpload(userKey, "no-such-id"), ErrNotFound)
}

func TestGenerateQuizPrependsAndSetsSource(t *testing.T) {
	p := newTestPlanner(t, &stubGenerator{response: quizResponse(5)})

	quiz, err := p.GenerateQuiz(context.Background(), userKey)
	require.NoError(t, err)
	// Seed uploads are prepend-ordered; the newest ready one is seed-1.
	assert.Equal(t, "seed-1", quiz.SourceFileID)
	assert.Len(t, quiz.Questions, 5)

	state := p.State(userKey)
	require.Len(t, state.Quizzes, 1)
	assert.Equal(t, quiz.ID, state.Quizzes[0].ID)
}

func TestGenerateQuizFailureLeavesListUnchanged(t *testing.T) {
	p := newTestPlanner(t, &stubGenerator{err: errors.New("model down")})

	_, err := p.GenerateQuiz(context.Background(), userKey)
	require.ErrorIs(t, err, ErrGenerationFailed)
	assert.Empty(t, p.State(userKey).Quizzes)
}

func TestGenerateQuizWithoutReadyUpload(t *testing.T) {
	p := newTestPlanner(t, &stubGenerator{response: quizResponse(5)})
	state := p.State(userKey)
	for _, u := range state.Uploads {
		require.NoError(t, p.DeleteUpload(userKey, u.ID))
	}

	_, err := p.GenerateQuiz(context.Background(), userKey)
	assert.ErrorIs(t, err, ErrNoStudyMaterial)
}

func TestSubmitQuizScoresAndCloses(t *testing.T) {
	p := newTestPlanner(t, &stubGenerator{response: quizResponse(5)})
	quiz, err := p.GenerateQuiz(context.Background(), userKey)
	require.NoError(t, err)

	// quizResponse marks answers 0,1,2,3,0 correct; answer three of them.
	answers := []int{0, 1, 2, 0, 1}
	graded, err := p.SubmitQuiz(userKey, quiz.ID, answers)
	require.NoError(t, err)
	require.NotNil(t, graded.Score)
	assert.Equal(t, 60, *graded.Score)
	assert.True(t, graded.Completed)
	require.NotNil(t, graded.Questions[0].UserAnswer)
	assert.Equal(t, 0, *graded.Questions[0].UserAnswer)

	_, err = p.SubmitQuiz(userKey, quiz.ID, answers)
	assert.ErrorIs(t, err, ErrQuizClosed)
}

func TestQuizTerminatesAfterThreeViolations(t *testing.T) {
	p := newTestPlanner(t, &stubGenerator{response: quizResponse(5)})
	quiz, err := p.GenerateQuiz(context.Background(), userKey)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		q, err := p.RecordQuizViolation(userKey, quiz.ID)
		require.NoError(t, err)
		assert.False(t, q.Terminated)
	}

	q, err := p.RecordQuizViolation(userKey, quiz.ID)
	require.NoError(t, err)
	assert.True(t, q.Terminated)
	assert.True(t, q.Completed)
	require.NotNil(t, q.Score)
	assert.Equal(t, 0, *q.Score)

	_, err = p.RecordQuizViolation(userKey, quiz.ID)
	assert.ErrorIs(t, err, ErrQuizClosed)
}

func TestGenerateRoadmapReplacesWholesale(t *testing.T) {
	p := newTestPlanner(t, &stubGenerator{response: `[
		{"title":"Integration focus","topic":"Integration","dayOffset":0,"durationMinutes":60,"type":"REVISION","description":"weak area first"}
	]`})

	sessions, replaced, err := p.GenerateRoadmap(context.Background(), userKey)
	require.NoError(t, err)
	assert.True(t, replaced)
	require.Len(t, sessions, 1)
	assert.Equal(t, "Integration focus", sessions[0].Title)

	state := p.State(userKey)
	require.Len(t, state.Sessions, 1, "old schedule is replaced, not merged")
}

func TestGenerateRoadmapEmptyResultKeepsSchedule(t *testing.T) {
	p := newTestPlanner(t, &stubGenerator{response: `[]`})
	before := p.State(userKey).Sessions

	sessions, replaced, err := p.GenerateRoadmap(context.Background(), userKey)
	require.NoError(t, err)
	assert.False(t, replaced)
	assert.Len(t, sessions, len(before))
	assert.Len(t, p.State(userKey).Sessions, len(before))
}

func TestGenerateRoadmapFailureKeepsSchedule(t *testing.T) {
	p := newTestPlanner(t, &stubGenerator{err: errors.New("model down")})
	before := p.State(userKey).Sessions

	_, replaced, err := p.GenerateRoadmap(context.Background(), userKey)
	require.ErrorIs(t, err, ErrGenerationFailed)
	assert.False(t, replaced)
	assert.Len(t, p.State(userKey).Sessions, len(before))
}

func TestUpdateSessionStatus(t *testing.T) {
	p := newTestPlanner(t, nil)
	state := p.State(userKey)
	require.NotEmpty(t, state.Sessions)
	id := state.Sessions[0].ID

	session, err := p.UpdateSessionStatus(userKey, id, store.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, session.Status)
	assert.Equal(t, store.StatusCompleted, p.State(userKey).Sessions[0].Status)

	_, err = p.UpdateSessionStatus(userKey, id, "SNOOZED")
	assert.Error(t, err)

	_, err = p.UpdateSessionStatus(userKey, "no-such-id", store.StatusMissed)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGenerateSetQuestionBankSumsMarks(t *testing.T) {
	p := newTestPlanner(t, &stubGenerator{response: `{"items":[
		{"question":"Short one","answer":"a","marks":3,"type":"x"},
		{"question":"Long one","answer":"b","marks":6,"type":"x"}
	]}`})

	set, err := p.GenerateSet(context.Background(), userKey, store.ModeQuestionBank, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 9, set.TotalMarks)
	assert.Equal(t, "Calculus_Ch1_Limits.pdf", set.SourceFileName)
	assert.Contains(t, set.Title, "Exam Question Bank")

	state := p.State(userKey)
	require.Len(t, state.History, 1)
	assert.Equal(t, set.ID, state.History[0].ID)
}

func TestGenerateSetUnknownMode(t *testing.T) {
	p := newTestPlanner(t, &stubGenerator{response: `{"items":[]}`})
	_, err := p.GenerateSet(context.Background(), userKey, "ESSAY", 0, 0)
	assert.Error(t, err)
}

func TestGenerateSetFailureLeavesHistoryUnchanged(t *testing.T) {
	p := newTestPlanner(t, &stubGenerator{err: errors.New("model down")})
	_, err := p.GenerateSet(context.Background(), userKey, store.ModeFlashcard, 0, 0)
	require.ErrorIs(t, err, ErrGenerationFailed)
	assert.Empty(t, p.State(userKey).History)
}

func TestAskUploadRequiresReadyFile(t *testing.T) {
	p := newTestPlanner(t, &stubGenerator{response: "A limit is a value."})

	answer, err := p.AskUpload(context.Background(), userKey, "seed-1", "What is a limit?")
	require.NoError(t, err)
	assert.Equal(t, "A limit is a value.", answer)

	_, err = p.AskUpload(context.Background(), userKey, "no-such-id", "hello?")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExportSummaryRendersAnalysis(t *testing.T) {
	p := newTestPlanner(t, &stubGenerator{response: validAnalysisJSON})
	_, task, err := p.BeginUpload(userKey, "limits.txt", "text/plain", []byte("notes"))
	require.NoError(t, err)
	waitForTask(t, p, task.ID)

	fileID := p.State(userKey).Uploads[0].ID
	summary, err := p.ExportSummary(userKey, fileID)
	require.NoError(t, err)
	assert.Contains(t, summary, "STUDY SUMMARY")
	assert.Contains(t, summary, "Intro to limits.")
	assert.Contains(t, summary, "Limit: The value a function approaches.")

	// Seed uploads have no analysis record.
	_, err = p.ExportSummary(userKey, "seed-1")
	assert.ErrorIs(t, err, ErrNoStudyMaterial)
}

func TestLogoutClearsState(t *testing.T) {
	p := newTestPlanner(t, &stubGenerator{response: quizResponse(5)})
	_, err := p.GenerateQuiz(context.Background(), userKey)
	require.NoError(t, err)

	require.NoError(t, p.Logout(userKey))
	assert.Empty(t, p.State(userKey).Quizzes)
}

func TestTopicCoverage(t *testing.T) {
	state := &store.AppState{
		Uploads: []store.UploadedFile{
			{ID: "a", Status: store.UploadReady, Topics: []string{"Limits", "Continuity"}},
			{ID: "b", Status: store.UploadReady, Topics: []string{"Limits"}},
			{ID: "c", Status: store.UploadError, Topics: []string{"Ignored"}},
		},
		Analytics: []store.AnalyticsData{{Topic: "Limits", Mastery: 92}},
	}

	coverage := TopicCoverageFor(state)
	require.Len(t, coverage, 2)
	assert.Equal(t, "Limits", coverage[0].Topic)
	assert.Equal(t, 2, coverage[0].Documents)
	assert.Equal(t, 92, coverage[0].Mastery)
	assert.Equal(t, "Continuity", coverage[1].Topic)
	assert.Equal(t, 0, coverage[1].Mastery)
}
