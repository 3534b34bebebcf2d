package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/Codewithjainam7/EduHubPro/internal/config"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/login/guest", apiHandler.GuestLoginHandler)
		r.Post("/login/google", apiHandler.GoogleLoginHandler)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.SessionAuthMiddleware)

			r.Post("/logout", apiHandler.LogoutHandler)
			r.Get("/state", apiHandler.StateHandler)

			// Uploads
			r.Post("/uploads", apiHandler.UploadHandler)
			r.Get("/uploads", apiHandler.ListUploadsHandler)
			r.Delete("/uploads/{fileID}", apiHandler.DeleteUploadHandler)
			r.Post("/uploads/{fileID}/ask", apiHandler.AskUploadHandler)
			r.Get("/uploads/{fileID}/export", apiHandler.ExportSummaryHandler)

			// Quizzes
			r.Post("/quizzes/generate", apiHandler.GenerateQuizHandler)
			r.Get("/quizzes", apiHandler.ListQuizzesHandler)
			r.Post("/quizzes/{quizID}/submit", apiHandler.SubmitQuizHandler)
			r.Post("/quizzes/{quizID}/violations", apiHandler.QuizViolationHandler)

			// Roadmap and sessions
			r.Post("/roadmap/generate", apiHandler.GenerateRoadmapHandler)
			r.Get("/sessions", apiHandler.ListSessionsHandler)
			r.Put("/sessions/{sessionID}/status", apiHandler.UpdateSessionStatusHandler)
			r.Get("/calendar/{year}/{month}", apiHandler.CalendarHandler)

			// Question-bank generator
			r.Post("/generator", apiHandler.GenerateSetHandler)
			r.Get("/history", apiHandler.ListHistoryHandler)

			// Exam and analytics
			r.Get("/exam", apiHandler.GetExamHandler)
			r.Put("/exam", apiHandler.UpdateExamHandler)
			r.Get("/analytics", apiHandler.AnalyticsHandler)

			// Background tasks
			r.Get("/tasks/{taskID}", apiHandler.GetTaskHandler)
			r.Post("/tasks/{taskID}/cancel", apiHandler.CancelTaskHandler)
		})
	})

	// The consumer is a browser SPA on another origin.
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{config.AppConfig.CORSAllowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	return c.Handler(r)
}
