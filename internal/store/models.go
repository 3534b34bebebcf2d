package store

// Identity is the display identity established at login. Guest identities
// carry only a display name; Google identities carry the verified token
// claims.
type Identity struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	PictureURL  string `json:"picture_url,omitempty"`
	SubjectID   string `json:"subject_id,omitempty"`
	Guest       bool   `json:"guest"`
}

// Key returns the stable namespace key for this identity's persisted state.
func (id Identity) Key() string {
	if id.Guest {
		return "guest:" + id.DisplayName
	}
	return "google:" + id.SubjectID
}

// DocumentAnalysis is the structured summary produced by the model for a
// valid study document.
type DocumentAnalysis struct {
	Summary     string       `json:"summary"`
	KeyConcepts []string     `json:"keyConcepts"`
	Definitions []Definition `json:"definitions"`
	Formulas    []string     `json:"formulas,omitempty"`
}

type Definition struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
}

// Upload statuses.
const (
	UploadProcessing = "processing"
	UploadReady      = "ready"
	UploadError      = "error"
)

// UploadedFile is one analyzed document. When Status is "error", Content
// holds the human-readable rejection reason instead of document text.
type UploadedFile struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	MimeType string            `json:"type"`
	Content  string            `json:"content"`
	Date     string            `json:"date"` // ISO-8601
	Status   string            `json:"status"`
	Topics   []string          `json:"topics"`
	Analysis *DocumentAnalysis `json:"analysis,omitempty"`
}

// QuizQuestion is one question of a generated quiz. An empty Options slice
// marks a subjective (free-text) question; CorrectAnswer is -1 in that case.
type QuizQuestion struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
	UserAnswer    *int     `json:"userAnswer,omitempty"`
}

// Quiz is the output of one generation call. It is never mutated after
// creation except for the completion fields and the proctoring counter.
type Quiz struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	SourceFileID string         `json:"sourceFileId"`
	Questions    []QuizQuestion `json:"questions"`
	Score        *int           `json:"score,omitempty"`
	Completed    bool           `json:"completed"`
	Terminated   bool           `json:"terminated,omitempty"`
	TabSwitches  int            `json:"tabSwitches,omitempty"`
	CreatedAt    string         `json:"createdAt"`
}

// Session kinds and statuses.
const (
	SessionStudy    = "STUDY"
	SessionPractice = "PRACTICE"
	SessionQuiz     = "QUIZ"
	SessionRevision = "REVISION"
	SessionMockTest = "MOCK_TEST"

	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusMissed    = "MISSED"
)

// StudySession is one entry of the generated roadmap. The whole set is
// replaced wholesale by a new roadmap generation.
type StudySession struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Topic           string `json:"topic"`
	Date            string `json:"date"` // ISO-8601 with time
	DurationMinutes int    `json:"durationMinutes"`
	Type            string `json:"type"`
	Status          string `json:"status"`
	Description     string `json:"description,omitempty"`
}

// Generator modes.
const (
	ModeMCQ          = "MCQ"
	ModeFlashcard    = "FLASHCARD"
	ModeFillBlank    = "FILL_BLANK"
	ModeQuestionBank = "QUESTION_BANK"
)

// GeneratedItem is one output unit of the question-bank generator. Options
// is nil for every subjective item.
type GeneratedItem struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
	Answer   string   `json:"answer"`
	Marks    int      `json:"marks,omitempty"`
}

// GeneratedSet groups one generator run. History is append-only from the
// caller's perspective (new sets are prepended).
type GeneratedSet struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Title          string          `json:"title"`
	Date           string          `json:"date"`
	Items          []GeneratedItem `json:"items"`
	SourceFileName string          `json:"sourceFileName"`
	TotalMarks     int             `json:"totalMarks,omitempty"`
}

// ExamDetails is the singleton exam record per identity.
type ExamDetails struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Date        string `json:"date"` // ISO date
	TargetScore int    `json:"targetScore"`
	TotalMarks  int    `json:"totalMarks"`
}

// AnalyticsData is one per-topic mastery row. Rows are seeded statically;
// real usage tracking is out of scope.
type AnalyticsData struct {
	Topic        string  `json:"topic"`
	Mastery      int     `json:"mastery"` // 0-100
	HoursStudied float64 `json:"hoursStudied"`
}
