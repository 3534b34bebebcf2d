package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/Codewithjainam7/EduHubPro/internal/store"
)

// Failure classes. Transport errors, non-JSON payloads, and schema
// mismatches all collapse into ErrGenerationFailed; callers only branch on
// "retry" vs. "fix your input" vs. "configure a key".
var (
	ErrNoCredentials    = errors.New("generation: no API credential configured")
	ErrGenerationFailed = errors.New("generation: model call failed")
	ErrFileTooLarge     = errors.New("generation: document exceeds the 50MB limit")
)

// UnsupportedTypeError rejects a file before any network call is made.
type UnsupportedTypeError struct {
	MimeType string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("generation: unsupported file type %q (PDF, TXT, DOCX, or image files only)", e.MimeType)
}

// RejectionError is a domain rejection: the model judged the content
// non-educational. This is a successful call, not a system failure, and the
// reason is shown to the user verbatim.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "generation: content rejected: " + e.Reason
}

const (
	maxUploadBytes = 50 * 1024 * 1024

	// Content prefix caps keep prompts inside the model's context window.
	quizContentCap      = 15000
	generatorContentCap = 12000
	askContentCap       = 30000

	quizQuestionCount  = 5
	generatorItemCount = 10

	// Roadmap sessions are anchored at this local hour of their day.
	sessionHour = 18

	askMissingKeyAnswer = "API Key missing."
	askFallbackAnswer   = "Sorry, I encountered an error analyzing your question."
)

var supportedMimeTypes = map[string]bool{
	"application/pdf": true,
	"text/plain":      true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/jpg":       true,
}

// GenerationService turns content requests into typed domain records via a
// single model round trip each. Every operation resolves to a typed error
// value; nothing throws past the call boundary and nothing is retried.
type GenerationService struct {
	gen TextGenerator
}

// NewGenerationService accepts a nil generator; in that case every
// operation short-circuits with ErrNoCredentials.
func NewGenerationService(gen TextGenerator) *GenerationService {
	return &GenerationService{gen: gen}
}

// cleanJSON strips Markdown code fences the model sometimes wraps around
// its JSON payload.
func cleanJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

func decodeJSON(raw string, out any) error {
	if err := json.Unmarshal([]byte(cleanJSON(raw)), out); err != nil {
		return fmt.Errorf("%w: malformed JSON payload: %v", ErrGenerationFailed, err)
	}
	return nil
}

func capContent(content string, limit int) string {
	if len(content) > limit {
		return content[:limit]
	}
	return content
}

func floatPtr(f float32) *float32 { return &f }

// AnalyzedDocument is the normalized result of a successful analysis.
type AnalyzedDocument struct {
	Text     string
	Topics   []string
	Analysis store.DocumentAnalysis
}

type analysisPayload struct {
	IsStudyMaterial *bool              `json:"isStudyMaterial"`
	RejectionReason string             `json:"rejectionReason"`
	FullText        string             `json:"fullText"`
	Summary         string             `json:"summary"`
	Topics          []string           `json:"topics"`
	KeyConcepts     []string           `json:"keyConcepts"`
	Definitions     []store.Definition `json:"definitions"`
	Formulas        []string           `json:"formulas"`
}

const analyzePrompt = `You are a strict Academic Content Filter and Analysis Engine.

STEP 1: VALIDATION
Determine if the attached document is valid educational study material (e.g., lecture notes, textbook chapters, academic papers, exam questions, educational articles).

STRICTLY REJECT the following:
- Restaurant menus, food recipes
- Fiction novels, entertainment news
- Invoices, receipts, financial statements (unless clearly an accounting textbook example)
- Random internet comments, casual chat logs
- Source code without educational context
- Non-textual images or random photos

STEP 2: ANALYSIS (Only if Valid)
If the document is valid study material:
1. EXTRACT all readable text.
2. ANALYZE to identify key concepts, definitions, and formulas.
3. GENERATE a brief summary and main topics.

Return JSON in this format. If rejected, set isStudyMaterial to false and provide a rejectionReason.`

func analysisSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"isStudyMaterial": {Type: genai.TypeBoolean},
			"rejectionReason": {Type: genai.TypeString},
			"fullText":        {Type: genai.TypeString, Description: "The full extracted text content of the document"},
			"summary":         {Type: genai.TypeString, Description: "A concise summary of the document (max 100 words)"},
			"topics":          {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"keyConcepts":     {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"definitions": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"term":       {Type: genai.TypeString},
						"definition": {Type: genai.TypeString},
					},
				},
			},
			"formulas": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		},
		Required: []string{"isStudyMaterial"},
	}
}

// AnalyzeDocument classifies and analyzes one uploaded document. Oversized
// files and unsupported types are rejected before any network call. A
// domain rejection surfaces as *RejectionError; every other failure is a
// configuration or transport error.
func (s *GenerationService) AnalyzeDocument(ctx context.Context, mimeType string, data []byte) (*AnalyzedDocument, error) {
	if s.gen == nil {
		return nil, ErrNoCredentials
	}
	if len(data) > maxUploadBytes {
		return nil, ErrFileTooLarge
	}
	if !supportedMimeTypes[mimeType] {
		return nil, &UnsupportedTypeError{MimeType: mimeType}
	}

	raw, err := s.gen.Generate(ctx, GenerateRequest{
		Prompt: analyzePrompt,
		File:   &InlineFile{MIMEType: mimeType, Data: data},
		Schema: analysisSchema(),
	})
	if err != nil {
		log.Printf("Document analysis call failed: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	var payload analysisPayload
	if err := decodeJSON(raw, &payload); err != nil {
		return nil, err
	}
	if payload.IsStudyMaterial == nil {
		return nil, fmt.Errorf("%w: response missing required field isStudyMaterial", ErrGenerationFailed)
	}

	if !*payload.IsStudyMaterial {
		reason := payload.RejectionReason
		if reason == "" {
			reason = "Content detected as non-educational. System accepts study materials only."
		}
		return nil, &RejectionError{Reason: reason}
	}

	result := &AnalyzedDocument{
		Text:   payload.FullText,
		Topics: payload.Topics,
		Analysis: store.DocumentAnalysis{
			Summary:     payload.Summary,
			KeyConcepts: payload.KeyConcepts,
			Definitions: payload.Definitions,
			Formulas:    payload.Formulas,
		},
	}
	if result.Analysis.Summary == "" {
		result.Analysis.Summary = "No summary available."
	}
	if result.Topics == nil {
		result.Topics = []string{}
	}
	if result.Analysis.KeyConcepts == nil {
		result.Analysis.KeyConcepts = []string{}
	}
	if result.Analysis.Definitions == nil {
		result.Analysis.Definitions = []store.Definition{}
	}
	return result, nil
}

type quizQuestionPayload struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer *int     `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
}

type quizPayload struct {
	Questions []quizQuestionPayload `json:"questions"`
}

func quizSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"questions": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"question":      {Type: genai.TypeString},
						"options":       {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
						"correctAnswer": {Type: genai.TypeInteger, Description: "Index of the correct option (0-3)"},
						"explanation":   {Type: genai.TypeString},
					},
					Required: []string{"question", "options", "correctAnswer", "explanation"},
				},
			},
		},
		Required: []string{"questions"},
	}
}

// GenerateQuiz builds a five-question multiple-choice quiz from a bounded
// prefix of the content. Any failure returns (nil, err); the caller must
// leave its quiz list untouched.
func (s *GenerationService) GenerateQuiz(ctx context.Context, content, title string) (*store.Quiz, error) {
	if s.gen == nil {
		return nil, ErrNoCredentials
	}

	prompt := fmt.Sprintf(`You are an expert tutor. Create a personalized multiple-choice quiz based ONLY on the following study notes.
Adapt the difficulty.
Generate %d high-quality questions.
Notes: "%s..."`, quizQuestionCount, capContent(content, quizContentCap))

	raw, err := s.gen.Generate(ctx, GenerateRequest{
		Prompt:      prompt,
		Schema:      quizSchema(),
		Temperature: floatPtr(0.7),
	})
	if err != nil {
		log.Printf("Quiz generation call failed: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	var payload quizPayload
	if err := decodeJSON(raw, &payload); err != nil {
		return nil, err
	}
	if len(payload.Questions) == 0 {
		return nil, fmt.Errorf("%w: response contained no questions", ErrGenerationFailed)
	}

	questions := make([]store.QuizQuestion, 0, len(payload.Questions))
	for idx, q := range payload.Questions {
		if q.Question == "" || len(q.Options) != 4 || q.CorrectAnswer == nil ||
			*q.CorrectAnswer < 0 || *q.CorrectAnswer >= len(q.Options) {
			return nil, fmt.Errorf("%w: question %d failed schema validation", ErrGenerationFailed, idx)
		}
		questions = append(questions, store.QuizQuestion{
			ID:            fmt.Sprintf("q-%d", idx),
			Question:      q.Question,
			Options:       q.Options,
			CorrectAnswer: *q.CorrectAnswer,
			Explanation:   q.Explanation,
		})
	}

	return &store.Quiz{
		ID:        uuid.NewString(),
		Title:     "Quiz: " + title,
		Questions: questions,
		Completed: false,
		CreatedAt: time.Now().Format(time.RFC3339),
	}, nil
}

type roadmapSessionPayload struct {
	Title           string `json:"title"`
	Topic           string `json:"topic"`
	DayOffset       *int   `json:"dayOffset"`
	DurationMinutes int    `json:"durationMinutes"`
	Type            string `json:"type"`
	Description     string `json:"description"`
}

func roadmapSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"title":           {Type: genai.TypeString},
				"topic":           {Type: genai.TypeString},
				"dayOffset":       {Type: genai.TypeInteger, Description: "Day number starting from 0 (today)"},
				"durationMinutes": {Type: genai.TypeInteger},
				"type":            {Type: genai.TypeString, Enum: []string{store.SessionStudy, store.SessionPractice, store.SessionQuiz, store.SessionRevision, store.SessionMockTest}},
				"description":     {Type: genai.TypeString},
			},
			Required: []string{"title", "topic", "dayOffset", "durationMinutes", "type", "description"},
		},
	}
}

var sessionTypes = map[string]bool{
	store.SessionStudy:    true,
	store.SessionPractice: true,
	store.SessionQuiz:     true,
	store.SessionRevision: true,
	store.SessionMockTest: true,
}

// GenerateRoadmap asks for a day-offset study schedule and converts each
// offset to an absolute timestamp anchored at today 18:00 local. Offsets
// before today are dropped. On any failure the result is empty and the
// caller must treat it as "no change", never "clear the schedule".
func (s *GenerationService) GenerateRoadmap(ctx context.Context, topics []string, examName, examDate, today string, weakAreas []string) ([]store.StudySession, error) {
	if s.gen == nil {
		return nil, ErrNoCredentials
	}

	prompt := fmt.Sprintf(`I have an exam "%s" on %s. Today is %s.
My available study material covers these topics: %s.
My weak areas that need extra focus are: %s.

Create a detailed, personalized study schedule (Roadmap) leading up to the exam.

Rules:
1. Break down topics into sessions.
2. Include 'REVISION' sessions for weak areas (spaced repetition).
3. Include 'MOCK_TEST' sessions on weekends.
4. Prioritize weak areas early in the schedule.
5. Ensure the day before the exam is 'REVISION' only.
6. Return a JSON array of sessions.
7. Provide a helpful description for each session.`,
		examName, examDate, today, strings.Join(topics, ", "), strings.Join(weakAreas, ", "))

	raw, err := s.gen.Generate(ctx, GenerateRequest{
		Prompt: prompt,
		Schema: roadmapSchema(),
	})
	if err != nil {
		log.Printf("Roadmap generation call failed: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	var payload []roadmapSessionPayload
	if err := decodeJSON(raw, &payload); err != nil {
		return nil, err
	}

	anchor, err := time.ParseInLocation("2006-01-02", today, time.Local)
	if err != nil {
		anchor = time.Now()
	}

	sessions := make([]store.StudySession, 0, len(payload))
	for _, p := range payload {
		if p.Title == "" || p.DayOffset == nil || !sessionTypes[p.Type] {
			log.Printf("Dropping roadmap session failing validation: %+v", p)
			continue
		}
		if *p.DayOffset < 0 {
			continue
		}
		when := time.Date(anchor.Year(), anchor.Month(), anchor.Day()+*p.DayOffset,
			sessionHour, 0, 0, 0, time.Local)
		sessions = append(sessions, store.StudySession{
			ID:              uuid.NewString(),
			Title:           p.Title,
			Topic:           p.Topic,
			Date:            when.Format(time.RFC3339),
			DurationMinutes: p.DurationMinutes,
			Type:            p.Type,
			Status:          store.StatusPending,
			Description:     p.Description,
		})
	}
	return sessions, nil
}

type generatedItemPayload struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
	Marks    int      `json:"marks"`
	Type     string   `json:"type"`
}

type generatorPayload struct {
	Items []generatedItemPayload `json:"items"`
}

func generatorSchema(mode string) *genai.Schema {
	itemProps := map[string]*genai.Schema{
		"question": {Type: genai.TypeString},
		"answer":   {Type: genai.TypeString},
		"marks":    {Type: genai.TypeInteger},
		"type":     {Type: genai.TypeString},
	}
	// Only the MCQ mode is allowed an options array; the other modes are
	// subjective and the schema omits it entirely.
	if mode == store.ModeMCQ {
		itemProps["options"] = &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"items": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type:       genai.TypeObject,
					Properties: itemProps,
					Required:   []string{"question", "answer", "type"},
				},
			},
		},
		Required: []string{"items"},
	}
}

func generatorPrompt(content, mode string, shortCount, longCount int) string {
	base := "You are a strict exam generator. Use the provided CONTENT text to generate questions. Do not use outside knowledge."
	capped := capContent(content, generatorContentCap)

	switch mode {
	case store.ModeMCQ:
		return fmt.Sprintf("%s Generate %d multiple choice questions with 4 options (A,B,C,D) and correct answer/explanation. CONTENT: %s", base, generatorItemCount, capped)
	case store.ModeFlashcard:
		return fmt.Sprintf("%s Generate %d high-quality flashcards. 'Question' is the front, 'Answer' is the back. CONTENT: %s", base, generatorItemCount, capped)
	case store.ModeFillBlank:
		return fmt.Sprintf("%s Generate %d fill-in-the-blank sentences. The 'question' is the sentence with a missing term (____). The 'answer' is the missing term. CONTENT: %s", base, generatorItemCount, capped)
	default: // QUESTION_BANK
		return fmt.Sprintf(`%s Generate a formal exam paper with SUBJECTIVE questions.
Create exactly %d Short Answer Questions (3 marks each).
Also create %d questions distributed as follows:
- 1 question worth 6 marks (detailed analysis)
- 1 question worth 5 marks (comprehensive answer)
- 1 question worth 2 marks (brief explanation)
- 1 question worth 4 marks (moderate detail)

IMPORTANT:
- ALL questions are SUBJECTIVE (text-based answers, NO multiple choice options)
- Do NOT include any 'options' array
- Provide detailed model answers for each question
- For higher mark questions, provide more comprehensive model answers
CONTENT: %s`, base, shortCount, longCount, capped)
	}
}

// GenerateQuestionBank produces one generated set's items. QUESTION_BANK
// items are always subjective: the options field is nilled out even if the
// model hallucinates one. An empty slice is returned on failure.
func (s *GenerationService) GenerateQuestionBank(ctx context.Context, content, mode string, shortCount, longCount int) ([]store.GeneratedItem, error) {
	if s.gen == nil {
		return nil, ErrNoCredentials
	}

	raw, err := s.gen.Generate(ctx, GenerateRequest{
		Prompt:      generatorPrompt(content, mode, shortCount, longCount),
		Schema:      generatorSchema(mode),
		Temperature: floatPtr(0.5),
	})
	if err != nil {
		log.Printf("Question bank generation call failed (mode %s): %v", mode, err)
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	var payload generatorPayload
	if err := decodeJSON(raw, &payload); err != nil {
		return nil, err
	}
	if len(payload.Items) == 0 {
		return nil, fmt.Errorf("%w: response contained no items", ErrGenerationFailed)
	}

	items := make([]store.GeneratedItem, 0, len(payload.Items))
	for _, p := range payload.Items {
		if p.Question == "" || p.Answer == "" {
			return nil, fmt.Errorf("%w: item missing required fields", ErrGenerationFailed)
		}

		id, err := gonanoid.New()
		if err != nil {
			id = uuid.NewString()
		}

		item := store.GeneratedItem{
			ID:       "gen-" + id,
			Question: p.Question,
			Answer:   p.Answer,
			Marks:    p.Marks,
			Type:     mode,
		}
		switch mode {
		case store.ModeMCQ:
			item.Options = p.Options
		case store.ModeQuestionBank:
			item.Options = nil
			if p.Marks <= 3 {
				item.Type = "SHORT_ANSWER"
			} else {
				item.Type = "LONG_ANSWER"
			}
		default:
			item.Options = nil
		}
		items = append(items, item)
	}
	return items, nil
}

// AskDocument answers a single question constrained to a bounded prefix of
// the document. It never returns an error: every failure resolves to a
// fixed user-facing string. Multi-turn context is the caller's concern (the
// content is resent with each question).
func (s *GenerationService) AskDocument(ctx context.Context, content, question string) string {
	if s.gen == nil {
		return askMissingKeyAnswer
	}

	prompt := fmt.Sprintf(`You are an expert tutor. Answer the following question based ONLY on the provided study notes context.
If the answer cannot be found in the notes, strictly state "I cannot find the answer in the provided document."
Keep your explanation clear, concise, and academic.

STUDY NOTES:
"%s..."

USER QUESTION: "%s"`, capContent(content, askContentCap), question)

	raw, err := s.gen.Generate(ctx, GenerateRequest{
		Prompt:      prompt,
		Temperature: floatPtr(0.7),
	})
	if err != nil {
		log.Printf("Ask-document call failed: %v", err)
		return askFallbackAnswer
	}
	if strings.TrimSpace(raw) == "" {
		return "I couldn't generate a response."
	}
	return raw
}
