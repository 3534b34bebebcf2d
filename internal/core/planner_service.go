package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Codewithjainam7/EduHubPro/internal/extract"
	"github.com/Codewithjainam7/EduHubPro/internal/store"
	"github.com/Codewithjainam7/EduHubPro/internal/tasks"
)

var (
	ErrNoStudyMaterial = errors.New("planner: no ready study material uploaded")
	ErrNotFound        = errors.New("planner: record not found")
	ErrQuizClosed      = errors.New("planner: quiz is already completed or terminated")
)

// maxTabSwitches is the proctoring strike limit. This is a cosmetic
// deterrent, not a security control: the client self-reports visibility
// changes and nothing corroborates them.
const maxTabSwitches = 3

// PlannerService orchestrates the application state: it wires user actions
// to the generation client and persists every state change through the
// store. A failed generation never mutates stored state.
type PlannerService struct {
	store *store.SQLiteStore
	gen   *GenerationService
	tasks *tasks.Registry

	mu sync.Mutex // serializes read-modify-write cycles on stored state
}

func NewPlannerService(st *store.SQLiteStore, gen *GenerationService, reg *tasks.Registry) *PlannerService {
	return &PlannerService{store: st, gen: gen, tasks: reg}
}

// State hydrates the full application state for an identity.
func (s *PlannerService) State(userKey string) *store.AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.LoadState(userKey)
}

// Logout deletes every key the application owns for the identity.
func (s *PlannerService) Logout(userKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Clear(userKey)
}

// Task exposes registry lookups to the API layer.
func (s *PlannerService) Task(id string) (tasks.Task, bool) {
	return s.tasks.Get(id)
}

// CancelTask aborts a running analysis task.
func (s *PlannerService) CancelTask(id string) bool {
	return s.tasks.Cancel(id)
}

// BeginUpload validates an uploaded document, records it as processing, and
// runs the model analysis in the background. Validation failures (size,
// type, missing credential) reject synchronously before any record is
// written. Re-submitting an identical in-flight upload returns the
// existing task instead of starting a duplicate run.
func (s *PlannerService) BeginUpload(userKey, name, mimeType string, data []byte) (*store.UploadedFile, *tasks.Task, error) {
	if len(data) > maxUploadBytes {
		return nil, nil, ErrFileTooLarge
	}

	// Word documents are converted to plain text locally; the model
	// endpoint does not accept WordprocessingML.
	if mimeType == extract.MimeDocx {
		text, err := extract.DocxText(data)
		if err != nil {
			log.Printf("DOCX conversion failed for %s: %v", name, err)
			return nil, nil, &UnsupportedTypeError{MimeType: mimeType}
		}
		data = []byte(text)
		mimeType = "text/plain"
	}
	if !supportedMimeTypes[mimeType] {
		return nil, nil, &UnsupportedTypeError{MimeType: mimeType}
	}
	if s.gen.gen == nil {
		return nil, nil, ErrNoCredentials
	}

	fingerprint := fmt.Sprintf("%s|%s|%d", userKey, name, len(data))
	task, taskCtx := s.tasks.Begin(context.Background(), "analyze", fingerprint)
	if taskCtx == nil {
		// Idempotent resubmission: an identical analysis is already
		// running; hand back its task and processing record.
		file := s.findProcessingUpload(userKey, name)
		return file, task, nil
	}

	file := store.UploadedFile{
		ID:       uuid.NewString(),
		Name:     name,
		MimeType: mimeType,
		Date:     time.Now().Format(time.RFC3339),
		Status:   store.UploadProcessing,
		Topics:   []string{},
	}

	s.mu.Lock()
	state := s.store.LoadState(userKey)
	state.Uploads = append([]store.UploadedFile{file}, state.Uploads...)
	err := s.store.SaveUploads(userKey, state.Uploads)
	s.mu.Unlock()
	if err != nil {
		s.tasks.Fail(task.ID, "failed to persist upload")
		return nil, nil, err
	}

	go s.runAnalysis(taskCtx, task.ID, userKey, file.ID, mimeType, data)

	return &file, task, nil
}

func (s *PlannerService) findProcessingUpload(userKey, name string) *store.UploadedFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.store.LoadState(userKey)
	for i := range state.Uploads {
		if state.Uploads[i].Name == name && state.Uploads[i].Status == store.UploadProcessing {
			return &state.Uploads[i]
		}
	}
	return nil
}

// runAnalysis performs the model round trip for one upload and flips its
// stored record to ready or error. Concurrent uploads each resolve
// independently, in whatever order their calls complete.
func (s *PlannerService) runAnalysis(ctx context.Context, taskID, userKey, fileID, mimeType string, data []byte) {
	result, err := s.gen.AnalyzeDocument(ctx, mimeType, data)

	update := func(file *store.UploadedFile) {
		if err == nil {
			file.Status = store.UploadReady
			file.Content = result.Text
			file.Topics = result.Topics
			file.Analysis = &result.Analysis
			// The model occasionally returns analysis without the full
			// text; for PDFs we can still extract it locally.
			if file.Content == "" && mimeType == "application/pdf" {
				if text, exErr := extract.PDFText(data); exErr == nil {
					file.Content = text
				}
			}
			return
		}

		file.Status = store.UploadError
		var rej *RejectionError
		if errors.As(err, &rej) {
			// Domain rejection: the stored content is the human-readable
			// reason, shown to the user as "try different material".
			file.Content = rej.Reason
		} else {
			file.Content = "Failed to analyze document. Please try again."
		}
	}

	s.mu.Lock()
	state := s.store.LoadState(userKey)
	found := false
	for i := range state.Uploads {
		if state.Uploads[i].ID == fileID {
			update(&state.Uploads[i])
			found = true
			break
		}
	}
	var saveErr error
	if found {
		saveErr = s.store.SaveUploads(userKey, state.Uploads)
	}
	s.mu.Unlock()

	if saveErr != nil {
		log.Printf("Failed to persist analysis result for upload %s: %v", fileID, saveErr)
	}

	switch {
	case err == nil:
		s.tasks.Complete(taskID)
	case ctx.Err() != nil:
		// Registry already marked the task cancelled.
	default:
		s.tasks.Fail(taskID, err.Error())
	}
}

// DeleteUpload removes exactly one file from the persisted upload list.
func (s *PlannerService) DeleteUpload(userKey, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.store.LoadState(userKey)
	kept := make([]store.UploadedFile, 0, len(state.Uploads))
	found := false
	for _, f := range state.Uploads {
		if f.ID == fileID {
			found = true
			continue
		}
		kept = append(kept, f)
	}
	if !found {
		return ErrNotFound
	}
	return s.store.SaveUploads(userKey, kept)
}

// AskUpload answers a single-turn question against one ready document.
// Multi-turn context is reconstructed by the client resending questions;
// nothing is retained here.
func (s *PlannerService) AskUpload(ctx context.Context, userKey, fileID, question string) (string, error) {
	file, err := s.uploadByID(userKey, fileID)
	if err != nil {
		return "", err
	}
	if file.Status != store.UploadReady {
		return "", ErrNoStudyMaterial
	}
	return s.gen.AskDocument(ctx, file.Content, question), nil
}

func (s *PlannerService) uploadByID(userKey, fileID string) (*store.UploadedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.store.LoadState(userKey)
	for i := range state.Uploads {
		if state.Uploads[i].ID == fileID {
			return &state.Uploads[i], nil
		}
	}
	return nil, ErrNotFound
}

// ExportSummary renders a plain-text study summary of one analyzed upload
// for download.
func (s *PlannerService) ExportSummary(userKey, fileID string) (string, error) {
	file, err := s.uploadByID(userKey, fileID)
	if err != nil {
		return "", err
	}
	if file.Status != store.UploadReady || file.Analysis == nil {
		return "", ErrNoStudyMaterial
	}

	var b strings.Builder
	fmt.Fprintf(&b, "STUDY SUMMARY — %s\n", file.Name)
	fmt.Fprintf(&b, "Generated %s\n\n", time.Now().Format("2 Jan 2006 15:04"))
	fmt.Fprintf(&b, "SUMMARY\n%s\n\n", file.Analysis.Summary)

	if len(file.Topics) > 0 {
		b.WriteString("TOPICS\n")
		for _, t := range file.Topics {
			fmt.Fprintf(&b, "  - %s\n", t)
		}
		b.WriteString("\n")
	}
	if len(file.Analysis.KeyConcepts) > 0 {
		b.WriteString("KEY CONCEPTS\n")
		for _, c := range file.Analysis.KeyConcepts {
			fmt.Fprintf(&b, "  - %s\n", c)
		}
		b.WriteString("\n")
	}
	if len(file.Analysis.Definitions) > 0 {
		b.WriteString("DEFINITIONS\n")
		for _, d := range file.Analysis.Definitions {
			fmt.Fprintf(&b, "  %s: %s\n", d.Term, d.Definition)
		}
		b.WriteString("\n")
	}
	if len(file.Analysis.Formulas) > 0 {
		b.WriteString("FORMULAS\n")
		for _, f := range file.Analysis.Formulas {
			fmt.Fprintf(&b, "  %s\n", f)
		}
	}
	return b.String(), nil
}

// GenerateQuiz creates a quiz from the most-recent ready upload and
// prepends it to the quiz list. On any generation failure the list is left
// untouched and the error is surfaced for a user-facing notice.
func (s *PlannerService) GenerateQuiz(ctx context.Context, userKey string) (*store.Quiz, error) {
	s.mu.Lock()
	state := s.store.LoadState(userKey)
	source := latestReadyUpload(state.Uploads)
	s.mu.Unlock()

	if source == nil {
		return nil, ErrNoStudyMaterial
	}

	quiz, err := s.gen.GenerateQuiz(ctx, source.Content, source.Name)
	if err != nil {
		return nil, err
	}
	quiz.SourceFileID = source.ID

	s.mu.Lock()
	defer s.mu.Unlock()
	state = s.store.LoadState(userKey)
	state.Quizzes = append([]store.Quiz{*quiz}, state.Quizzes...)
	if err := s.store.SaveQuizzes(userKey, state.Quizzes); err != nil {
		return nil, err
	}
	return quiz, nil
}

// latestReadyUpload applies the one documented selection rule: the
// most-recent upload whose analysis succeeded. Uploads are prepend-ordered,
// so the first ready entry wins.
func latestReadyUpload(uploads []store.UploadedFile) *store.UploadedFile {
	for i := range uploads {
		if uploads[i].Status == store.UploadReady && uploads[i].Content != "" {
			return &uploads[i]
		}
	}
	return nil
}

// SubmitQuiz grades the user's answers and marks the quiz completed. The
// score is the percentage of correct answers. Answers beyond the question
// count are ignored; missing answers count as wrong.
func (s *PlannerService) SubmitQuiz(userKey, quizID string, answers []int) (*store.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.store.LoadState(userKey)
	for i := range state.Quizzes {
		quiz := &state.Quizzes[i]
		if quiz.ID != quizID {
			continue
		}
		if quiz.Completed || quiz.Terminated {
			return nil, ErrQuizClosed
		}

		correct := 0
		for qi := range quiz.Questions {
			if qi < len(answers) {
				answer := answers[qi]
				quiz.Questions[qi].UserAnswer = &answer
				if answer == quiz.Questions[qi].CorrectAnswer {
					correct++
				}
			}
		}
		score := 0
		if len(quiz.Questions) > 0 {
			score = correct * 100 / len(quiz.Questions)
		}
		quiz.Score = &score
		quiz.Completed = true

		if err := s.store.SaveQuizzes(userKey, state.Quizzes); err != nil {
			return nil, err
		}
		return quiz, nil
	}
	return nil, ErrNotFound
}

// RecordQuizViolation counts one tab-switch event against an active quiz.
// After maxTabSwitches strikes the attempt is terminated with a zero score.
func (s *PlannerService) RecordQuizViolation(userKey, quizID string) (*store.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.store.LoadState(userKey)
	for i := range state.Quizzes {
		quiz := &state.Quizzes[i]
		if quiz.ID != quizID {
			continue
		}
		if quiz.Completed || quiz.Terminated {
			return nil, ErrQuizClosed
		}

		quiz.TabSwitches++
		if quiz.TabSwitches >= maxTabSwitches {
			zero := 0
			quiz.Terminated = true
			quiz.Completed = true
			quiz.Score = &zero
		}
		if err := s.store.SaveQuizzes(userKey, state.Quizzes); err != nil {
			return nil, err
		}
		return quiz, nil
	}
	return nil, ErrNotFound
}

// GenerateRoadmap regenerates the study schedule from uploaded topics, the
// exam record, and the weak areas (mastery below 60). A non-empty result
// replaces the session set wholesale; an empty result or a failure leaves
// the existing schedule untouched.
func (s *PlannerService) GenerateRoadmap(ctx context.Context, userKey string) ([]store.StudySession, bool, error) {
	s.mu.Lock()
	state := s.store.LoadState(userKey)
	s.mu.Unlock()

	var topics []string
	for _, u := range state.Uploads {
		topics = append(topics, u.Topics...)
	}
	var weakAreas []string
	for _, a := range state.Analytics {
		if a.Mastery < 60 {
			weakAreas = append(weakAreas, a.Topic)
		}
	}
	today := time.Now().Format("2006-01-02")

	sessions, err := s.gen.GenerateRoadmap(ctx, topics, state.Exam.Name, state.Exam.Date, today, weakAreas)
	if err != nil {
		return state.Sessions, false, err
	}
	if len(sessions) == 0 {
		return state.Sessions, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.SaveSessions(userKey, sessions); err != nil {
		return state.Sessions, false, err
	}
	return sessions, true, nil
}

// UpdateSessionStatus flips one session to PENDING, COMPLETED, or MISSED.
func (s *PlannerService) UpdateSessionStatus(userKey, sessionID, status string) (*store.StudySession, error) {
	switch status {
	case store.StatusPending, store.StatusCompleted, store.StatusMissed:
	default:
		return nil, fmt.Errorf("planner: invalid session status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.store.LoadState(userKey)
	for i := range state.Sessions {
		if state.Sessions[i].ID == sessionID {
			state.Sessions[i].Status = status
			if err := s.store.SaveSessions(userKey, state.Sessions); err != nil {
				return nil, err
			}
			return &state.Sessions[i], nil
		}
	}
	return nil, ErrNotFound
}

// generatorTitles names a generated set by its mode.
var generatorTitles = map[string]string{
	store.ModeMCQ:          "MCQ Practice",
	store.ModeFlashcard:    "Flashcards",
	store.ModeFillBlank:    "Fill in the Blanks",
	store.ModeQuestionBank: "Exam Question Bank",
}

// GenerateSet runs the question-bank generator against the most-recent
// ready upload and prepends the result to the history. History is
// append-only; failures leave it untouched.
func (s *PlannerService) GenerateSet(ctx context.Context, userKey, mode string, shortCount, longCount int) (*store.GeneratedSet, error) {
	title, ok := generatorTitles[mode]
	if !ok {
		return nil, fmt.Errorf("planner: unknown generator mode %q", mode)
	}

	s.mu.Lock()
	state := s.store.LoadState(userKey)
	source := latestReadyUpload(state.Uploads)
	s.mu.Unlock()

	if source == nil {
		return nil, ErrNoStudyMaterial
	}

	items, err := s.gen.GenerateQuestionBank(ctx, source.Content, mode, shortCount, longCount)
	if err != nil {
		return nil, err
	}

	set := store.GeneratedSet{
		ID:             uuid.NewString(),
		Type:           mode,
		Title:          fmt.Sprintf("%s — %s", title, source.Name),
		Date:           time.Now().Format(time.RFC3339),
		Items:          items,
		SourceFileName: source.Name,
	}
	if mode == store.ModeQuestionBank {
		for _, item := range items {
			set.TotalMarks += item.Marks
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	state = s.store.LoadState(userKey)
	state.History = append([]store.GeneratedSet{set}, state.History...)
	if err := s.store.SaveHistory(userKey, state.History); err != nil {
		return nil, err
	}
	return &set, nil
}

// UpdateExam overwrites the singleton exam record.
func (s *PlannerService) UpdateExam(userKey string, exam store.ExamDetails) (store.ExamDetails, error) {
	if exam.ID == "" {
		exam.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.SaveExam(userKey, exam); err != nil {
		return store.ExamDetails{}, err
	}
	return exam, nil
}

// TopicCoverage is the per-topic aggregation derived from ready uploads:
// how many documents cover the topic, paired with the mastery row if one
// exists. Deleting an upload removes its topics from this view.
type TopicCoverage struct {
	Topic     string `json:"topic"`
	Documents int    `json:"documents"`
	Mastery   int    `json:"mastery"`
}

// TopicCoverageFor aggregates topics across ready uploads, preserving
// first-seen order.
func TopicCoverageFor(state *store.AppState) []TopicCoverage {
	mastery := make(map[string]int, len(state.Analytics))
	for _, a := range state.Analytics {
		mastery[a.Topic] = a.Mastery
	}

	index := make(map[string]int)
	var coverage []TopicCoverage
	for _, u := range state.Uploads {
		if u.Status != store.UploadReady {
			continue
		}
		for _, topic := range u.Topics {
			if i, ok := index[topic]; ok {
				coverage[i].Documents++
				continue
			}
			index[topic] = len(coverage)
			coverage = append(coverage, TopicCoverage{
				Topic:     topic,
				Documents: 1,
				Mastery:   mastery[topic],
			})
		}
	}
	return coverage
}
