package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Stable storage keys. These are a persistence contract: renaming one
// without a migration silently orphans every user's data under the old key.
const (
	KeyUser      = "eduhub_user"  // verified Google identity, JSON
	KeyGuest     = "eduhub_guest" // guest display name
	KeyUploads   = "eduhub_uploads"
	KeyHistory   = "eduhub_history"
	KeySessions  = "eduhub_sessions"
	KeyQuizzes   = "eduhub_quizzes"
	KeyAnalytics = "eduhub_analytics"
	KeyExam      = "eduhub_exam"
)

// envelopeVersion is bumped when a persisted collection's shape changes;
// the loader keeps accepting older envelopes (and bare legacy values as v0).
const envelopeVersion = 1

type envelope struct {
	Version int             `json:"v"`
	Data    json.RawMessage `json:"data"`
}

// SQLiteStore persists each identity's application state as a fixed set of
// JSON-encoded values, one row per storage key.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS app_state (
        user_key   TEXT NOT NULL,
        store_key  TEXT NOT NULL,
        value      TEXT NOT NULL,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        PRIMARY KEY (user_key, store_key)
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the raw stored value for one key, reporting whether it exists.
func (s *SQLiteStore) Get(userKey, storeKey string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(
		"SELECT value FROM app_state WHERE user_key = ? AND store_key = ?",
		userKey, storeKey,
	).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to query state key %s: %w", storeKey, err)
	}
	return value, true, nil
}

// Put writes one key unconditionally (last write wins).
func (s *SQLiteStore) Put(userKey, storeKey, value string) error {
	stmt, err := s.db.Prepare(`
        INSERT INTO app_state (user_key, store_key, value, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (user_key, store_key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
    `)
	if err != nil {
		return fmt.Errorf("failed to prepare state upsert: %w", err)
	}
	defer stmt.Close()

	if _, err := stmt.Exec(userKey, storeKey, value, time.Now()); err != nil {
		return fmt.Errorf("failed to write state key %s: %w", storeKey, err)
	}
	return nil
}

// Clear deletes every key this application owns for the identity, including
// the identity keys themselves. Used on logout.
func (s *SQLiteStore) Clear(userKey string) error {
	if _, err := s.db.Exec("DELETE FROM app_state WHERE user_key = ?", userKey); err != nil {
		return fmt.Errorf("failed to clear state for %s: %w", userKey, err)
	}
	return nil
}

// SaveJSON wraps v in a versioned envelope and writes it under storeKey.
func (s *SQLiteStore) SaveJSON(userKey, storeKey string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", storeKey, err)
	}
	env, err := json.Marshal(envelope{Version: envelopeVersion, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope for %s: %w", storeKey, err)
	}
	return s.Put(userKey, storeKey, string(env))
}

// LoadJSON reads storeKey into out. It returns false when the key is absent
// or its value does not decode; a malformed value is logged and skipped so
// the caller keeps its default. One corrupt key never aborts a full load.
func (s *SQLiteStore) LoadJSON(userKey, storeKey string, out any) bool {
	raw, ok, err := s.Get(userKey, storeKey)
	if err != nil {
		log.Printf("Failed to read state key %s: %v. Keeping default.", storeKey, err)
		return false
	}
	if !ok {
		return false
	}

	payload := []byte(raw)
	var env envelope
	if err := json.Unmarshal(payload, &env); err == nil && env.Data != nil {
		payload = env.Data
	}
	// Bare legacy values (no envelope) fall through and decode directly.

	if err := json.Unmarshal(payload, out); err != nil {
		log.Printf("Malformed value under state key %s: %v. Keeping default.", storeKey, err)
		return false
	}
	return true
}

// AppState is the full set of tracked state slices for one identity.
type AppState struct {
	Uploads   []UploadedFile  `json:"uploads"`
	History   []GeneratedSet  `json:"history"`
	Sessions  []StudySession  `json:"sessions"`
	Quizzes   []Quiz          `json:"quizzes"`
	Analytics []AnalyticsData `json:"analytics"`
	Exam      ExamDetails     `json:"exam"`
}

// DefaultState returns the initial seed state shown to a fresh identity.
func DefaultState() *AppState {
	now := time.Now()
	iso := func(t time.Time) string { return t.Format(time.RFC3339) }

	return &AppState{
		Exam: ExamDetails{
			ID:          "exam-1",
			Name:        "Calculus Final",
			Date:        now.AddDate(0, 0, 42).Format("2006-01-02"),
			TargetScore: 90,
			TotalMarks:  100,
		},
		Uploads: []UploadedFile{
			{ID: "seed-1", Name: "Calculus_Ch1_Limits.pdf", MimeType: "application/pdf", Content: "...", Date: iso(now), Status: UploadReady, Topics: []string{"Limits", "Continuity"}},
			{ID: "seed-2", Name: "Differentiation_Rules.pdf", MimeType: "application/pdf", Content: "...", Date: iso(now.Add(-24 * time.Hour)), Status: UploadReady, Topics: []string{"Power Rule", "Chain Rule"}},
			{ID: "seed-3", Name: "Integration_Techniques.pdf", MimeType: "application/pdf", Content: "...", Date: iso(now.Add(-48 * time.Hour)), Status: UploadReady, Topics: []string{"Integration by Parts"}},
		},
		Sessions: []StudySession{
			{ID: "seed-s1", Title: "Limits & Continuity Deep Dive", Topic: "Calculus", Date: iso(now), DurationMinutes: 45, Type: SessionStudy, Status: StatusPending, Description: "Review Chapter 1 notes and solve 5 basic problems."},
			{ID: "seed-s2", Title: "Differentiation Practice", Topic: "Calculus", Date: iso(now.Add(24 * time.Hour)), DurationMinutes: 60, Type: SessionPractice, Status: StatusPending, Description: "Focus on Chain rule application problems."},
			{ID: "seed-s3", Title: "Weekend Mock Test #1", Topic: "Calculus", Date: iso(now.Add(48 * time.Hour)), DurationMinutes: 90, Type: SessionMockTest, Status: StatusPending, Description: "Simulate exam conditions. No formula sheets."},
		},
		Analytics: []AnalyticsData{
			{Topic: "Limits", Mastery: 92, HoursStudied: 12},
			{Topic: "Differentiation", Mastery: 78, HoursStudied: 15},
			{Topic: "Integration", Mastery: 45, HoursStudied: 4},
			{Topic: "Applications", Mastery: 60, HoursStudied: 6},
		},
		History: []GeneratedSet{},
		Quizzes: []Quiz{},
	}
}

// LoadState hydrates the full state for an identity. Each slice is guarded
// independently: a parse failure on one key leaves that slice at its
// default and the others loaded.
func (s *SQLiteStore) LoadState(userKey string) *AppState {
	state := DefaultState()
	s.LoadJSON(userKey, KeyUploads, &state.Uploads)
	s.LoadJSON(userKey, KeyHistory, &state.History)
	s.LoadJSON(userKey, KeySessions, &state.Sessions)
	s.LoadJSON(userKey, KeyQuizzes, &state.Quizzes)
	s.LoadJSON(userKey, KeyAnalytics, &state.Analytics)
	s.LoadJSON(userKey, KeyExam, &state.Exam)
	return state
}

// Per-slice savers, used so every state change persists only the slice that
// moved.

func (s *SQLiteStore) SaveUploads(userKey string, uploads []UploadedFile) error {
	return s.SaveJSON(userKey, KeyUploads, uploads)
}

func (s *SQLiteStore) SaveHistory(userKey string, history []GeneratedSet) error {
	return s.SaveJSON(userKey, KeyHistory, history)
}

func (s *SQLiteStore) SaveSessions(userKey string, sessions []StudySession) error {
	return s.SaveJSON(userKey, KeySessions, sessions)
}

func (s *SQLiteStore) SaveQuizzes(userKey string, quizzes []Quiz) error {
	return s.SaveJSON(userKey, KeyQuizzes, quizzes)
}

func (s *SQLiteStore) SaveAnalytics(userKey string, analytics []AnalyticsData) error {
	return s.SaveJSON(userKey, KeyAnalytics, analytics)
}

func (s *SQLiteStore) SaveExam(userKey string, exam ExamDetails) error {
	return s.SaveJSON(userKey, KeyExam, exam)
}

// SaveIdentity writes the identity under its variant key: verified Google
// identities go to KeyUser as JSON, guest names to KeyGuest as a plain
// string. Only one variant is ever written for a given identity.
func (s *SQLiteStore) SaveIdentity(id Identity) error {
	if id.Guest {
		return s.SaveJSON(id.Key(), KeyGuest, id.DisplayName)
	}
	return s.SaveJSON(id.Key(), KeyUser, id)
}

// LoadIdentity restores the identity record for a namespace key, if any.
func (s *SQLiteStore) LoadIdentity(userKey string) (*Identity, bool) {
	var id Identity
	if s.LoadJSON(userKey, KeyUser, &id) && id.SubjectID != "" {
		return &id, true
	}
	var name string
	if s.LoadJSON(userKey, KeyGuest, &name) && name != "" {
		return &Identity{DisplayName: name, Guest: true}, true
	}
	return nil, false
}
