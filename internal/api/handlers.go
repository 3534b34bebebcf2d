package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Codewithjainam7/EduHubPro/internal/auth"
	"github.com/Codewithjainam7/EduHubPro/internal/calendar"
	"github.com/Codewithjainam7/EduHubPro/internal/core"
	"github.com/Codewithjainam7/EduHubPro/internal/store"
)

// maxUploadBody caps the request body a little above the 50 MB document
// limit to leave room for multipart framing.
const maxUploadBody = 52 * 1024 * 1024

type APIHandler struct {
	planner *core.PlannerService
	store   *store.SQLiteStore
}

func NewAPIHandler(planner *core.PlannerService, st *store.SQLiteStore) *APIHandler {
	return &APIHandler{planner: planner, store: st}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps the planner/generation error taxonomy onto HTTP
// statuses. Transport and parse failures are deliberately collapsed into
// one generic retry message.
func writeDomainError(w http.ResponseWriter, err error) {
	var rejection *core.RejectionError
	var unsupported *core.UnsupportedTypeError

	switch {
	case errors.Is(err, core.ErrNoCredentials):
		writeError(w, http.StatusServiceUnavailable, "AI service is not configured. Set GEMINI_API_KEY and restart.")
	case errors.Is(err, core.ErrFileTooLarge):
		writeError(w, http.StatusBadRequest, "Document size exceeds the 50MB limit. Please upload a smaller file or compress the PDF.")
	case errors.As(err, &unsupported):
		writeError(w, http.StatusBadRequest, unsupported.Error())
	case errors.As(err, &rejection):
		// Domain rejection, not a system failure: the reason is shown
		// verbatim so the user can try different material.
		writeError(w, http.StatusUnprocessableEntity, rejection.Reason)
	case errors.Is(err, core.ErrNoStudyMaterial):
		writeError(w, http.StatusBadRequest, "No ready study material. Upload a document first.")
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, core.ErrQuizClosed):
		writeError(w, http.StatusConflict, "This quiz is already completed or terminated.")
	default:
		log.Printf("Generation request failed: %v", err)
		writeError(w, http.StatusBadGateway, "Generation failed. Please try again.")
	}
}

// SessionAuthMiddleware validates the Bearer session token and threads the
// identity's namespace key through the request context.
func (h *APIHandler) SessionAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		userKey, err := auth.ValidateSessionToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userKeyContextKey, userKey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type contextKey string

const userKeyContextKey contextKey = "userKey"

func userKeyFrom(r *http.Request) string {
	key, _ := r.Context().Value(userKeyContextKey).(string)
	return key
}

type GuestLoginRequest struct {
	Name string `json:"name"`
}

type LoginResponse struct {
	Token    string         `json:"token"`
	Identity store.Identity `json:"identity"`
}

// GuestLoginHandler accepts any non-empty free-text name as an identity.
func (h *APIHandler) GuestLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req GuestLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}

	identity := store.Identity{DisplayName: req.Name, Guest: true}
	if err := h.store.SaveIdentity(identity); err != nil {
		log.Printf("Error saving guest identity %q: %v", req.Name, err)
		writeError(w, http.StatusInternalServerError, "Failed to save identity")
		return
	}

	token, err := auth.GenerateSessionToken(identity)
	if err != nil {
		log.Printf("Error generating session token for guest %q: %v", req.Name, err)
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, Identity: identity})
}

type GoogleLoginRequest struct {
	Credential string `json:"credential"`
}

// GoogleLoginHandler verifies a Google Sign-In credential and establishes
// the verified identity.
func (h *APIHandler) GoogleLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req GoogleLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Credential == "" {
		writeError(w, http.StatusBadRequest, "Credential is required")
		return
	}

	identity, err := auth.VerifyGoogleCredential(r.Context(), req.Credential)
	if err != nil {
		if errors.Is(err, auth.ErrGoogleSignInDisabled) {
			writeError(w, http.StatusServiceUnavailable, "Google sign-in is not configured")
			return
		}
		log.Printf("Google credential rejected: %v", err)
		writeError(w, http.StatusUnauthorized, "Invalid credential")
		return
	}

	if err := h.store.SaveIdentity(identity); err != nil {
		log.Printf("Error saving identity for subject %s: %v", identity.SubjectID, err)
		writeError(w, http.StatusInternalServerError, "Failed to save identity")
		return
	}

	token, err := auth.GenerateSessionToken(identity)
	if err != nil {
		log.Printf("Error generating session token for subject %s: %v", identity.SubjectID, err)
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, Identity: identity})
}

// LogoutHandler clears every stored key the application owns for the
// identity. In-memory client state resets to empty collections, not the
// seed data.
func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.planner.Logout(userKeyFrom(r)); err != nil {
		log.Printf("Error clearing state on logout: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to clear state")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StateHandler hydrates the full application state in one round trip.
func (h *APIHandler) StateHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.planner.State(userKeyFrom(r)))
}

type UploadResponse struct {
	File   *store.UploadedFile `json:"file"`
	TaskID string              `json:"task_id"`
}

// UploadHandler accepts a multipart document and starts its analysis in
// the background. Multiple uploads may run concurrently; each resolves
// independently.
func (h *APIHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(8 * 1024 * 1024); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart body: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read file: "+err.Error())
		return
	}

	// Multipart writers commonly declare octet-stream for every part, so
	// the filename extension is a better signal than the part header.
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(header.Filename)); byExt != "" {
			mimeType = byExt
		} else {
			mimeType = http.DetectContentType(data)
		}
	}
	// Strip any charset parameter.
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	uploaded, task, err := h.planner.BeginUpload(userKeyFrom(r), header.Filename, mimeType, data)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := UploadResponse{File: uploaded}
	if task != nil {
		resp.TaskID = task.ID
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *APIHandler) ListUploadsHandler(w http.ResponseWriter, r *http.Request) {
	state := h.planner.State(userKeyFrom(r))
	writeJSON(w, http.StatusOK, state.Uploads)
}

func (h *APIHandler) DeleteUploadHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.planner.DeleteUpload(userKeyFrom(r), chi.URLParam(r, "fileID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type AskRequest struct {
	Question string `json:"question"`
}

func (h *APIHandler) AskUploadHandler(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "Question cannot be empty")
		return
	}

	answer, err := h.planner.AskUpload(r.Context(), userKeyFrom(r), chi.URLParam(r, "fileID"), req.Question)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

func (h *APIHandler) ExportSummaryHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := h.planner.ExportSummary(userKeyFrom(r), chi.URLParam(r, "fileID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="study-summary.txt"`)
	w.Write([]byte(summary))
}

// GenerateQuizHandler creates a quiz from the most-recent ready upload.
// A failed generation leaves the quiz list unchanged.
func (h *APIHandler) GenerateQuizHandler(w http.ResponseWriter, r *http.Request) {
	quiz, err := h.planner.GenerateQuiz(r.Context(), userKeyFrom(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, quiz)
}

func (h *APIHandler) ListQuizzesHandler(w http.ResponseWriter, r *http.Request) {
	state := h.planner.State(userKeyFrom(r))
	writeJSON(w, http.StatusOK, state.Quizzes)
}

type SubmitQuizRequest struct {
	Answers []int `json:"answers"`
}

func (h *APIHandler) SubmitQuizHandler(w http.ResponseWriter, r *http.Request) {
	var req SubmitQuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	quiz, err := h.planner.SubmitQuiz(userKeyFrom(r), chi.URLParam(r, "quizID"), req.Answers)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (h *APIHandler) QuizViolationHandler(w http.ResponseWriter, r *http.Request) {
	quiz, err := h.planner.RecordQuizViolation(userKeyFrom(r), chi.URLParam(r, "quizID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

type RoadmapResponse struct {
	Sessions []store.StudySession `json:"sessions"`
	Replaced bool                 `json:"replaced"`
}

// GenerateRoadmapHandler regenerates the study schedule. An empty
// generation result is a no-op, never a cleared schedule.
func (h *APIHandler) GenerateRoadmapHandler(w http.ResponseWriter, r *http.Request) {
	sessions, replaced, err := h.planner.GenerateRoadmap(r.Context(), userKeyFrom(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RoadmapResponse{Sessions: sessions, Replaced: replaced})
}

func (h *APIHandler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	state := h.planner.State(userKeyFrom(r))
	writeJSON(w, http.StatusOK, state.Sessions)
}

type UpdateSessionStatusRequest struct {
	Status string `json:"status"`
}

func (h *APIHandler) UpdateSessionStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req UpdateSessionStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	session, err := h.planner.UpdateSessionStatus(userKeyFrom(r), chi.URLParam(r, "sessionID"), req.Status)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
		} else {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *APIHandler) CalendarHandler(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year")
		return
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "Invalid month")
		return
	}

	state := h.planner.State(userKeyFrom(r))
	grid := calendar.BuildMonthGrid(year, time.Month(month), state.Sessions)
	writeJSON(w, http.StatusOK, grid)
}

type GenerateSetRequest struct {
	Mode       string `json:"mode"`
	ShortCount int    `json:"shortCount"`
	LongCount  int    `json:"longCount"`
}

// GenerateSetHandler runs the question-bank generator and appends the
// result to the history.
func (h *APIHandler) GenerateSetHandler(w http.ResponseWriter, r *http.Request) {
	var req GenerateSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Mode == store.ModeQuestionBank {
		if req.ShortCount <= 0 {
			req.ShortCount = 5
		}
		if req.LongCount <= 0 {
			req.LongCount = 4
		}
	}

	set, err := h.planner.GenerateSet(r.Context(), userKeyFrom(r), req.Mode, req.ShortCount, req.LongCount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, set)
}

func (h *APIHandler) ListHistoryHandler(w http.ResponseWriter, r *http.Request) {
	state := h.planner.State(userKeyFrom(r))
	writeJSON(w, http.StatusOK, state.History)
}

func (h *APIHandler) GetExamHandler(w http.ResponseWriter, r *http.Request) {
	state := h.planner.State(userKeyFrom(r))
	writeJSON(w, http.StatusOK, state.Exam)
}

func (h *APIHandler) UpdateExamHandler(w http.ResponseWriter, r *http.Request) {
	var exam store.ExamDetails
	if err := json.NewDecoder(r.Body).Decode(&exam); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if exam.Name == "" || exam.Date == "" {
		writeError(w, http.StatusBadRequest, "Exam name and date are required")
		return
	}

	saved, err := h.planner.UpdateExam(userKeyFrom(r), exam)
	if err != nil {
		log.Printf("Error saving exam details: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to save exam details")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

type AnalyticsResponse struct {
	Analytics     []store.AnalyticsData `json:"analytics"`
	TopicCoverage []core.TopicCoverage  `json:"topic_coverage"`
}

// AnalyticsHandler returns the seeded mastery rows plus the topic
// aggregation derived from ready uploads.
func (h *APIHandler) AnalyticsHandler(w http.ResponseWriter, r *http.Request) {
	state := h.planner.State(userKeyFrom(r))
	writeJSON(w, http.StatusOK, AnalyticsResponse{
		Analytics:     state.Analytics,
		TopicCoverage: core.TopicCoverageFor(state),
	})
}

func (h *APIHandler) GetTaskHandler(w http.ResponseWriter, r *http.Request) {
	task, ok := h.planner.Task(chi.URLParam(r, "taskID"))
	if !ok {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *APIHandler) CancelTaskHandler(w http.ResponseWriter, r *http.Request) {
	if !h.planner.CancelTask(chi.URLParam(r, "taskID")) {
		writeError(w, http.StatusConflict, "Task is not running")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
