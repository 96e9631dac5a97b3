// Package handler exposes the admin pipeline as a JSON HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/talentlab/funnel/internal/llm"
	"github.com/talentlab/funnel/internal/mailer"
	"github.com/talentlab/funnel/internal/model"
	"github.com/talentlab/funnel/internal/store"
)

var validate = validator.New()

// Generator is the text-generation surface the handlers need.
type Generator interface {
	GenerateQuiz(ctx context.Context, spec llm.QuizSpec) ([]llm.GeneratedQuestion, error)
	EvaluateVideo(ctx context.Context, transcript, topic, quizName string) (llm.Evaluation, model.EvalOutcome, error)
}

// TranscriptFetcher fetches a video transcript by video ID.
type TranscriptFetcher interface {
	Fetch(ctx context.Context, videoID string) (string, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store       *store.Store
	llm         Generator
	transcripts TranscriptFetcher
	sender      mailer.Sender
	config      model.Config
}

// New creates a new Handler.
func New(s *store.Store, g Generator, tf TranscriptFetcher, sender mailer.Sender, cfg model.Config) *Handler {
	return &Handler{store: s, llm: g, transcripts: tf, sender: sender, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/login", h.handleLogin)
	r.Post("/api/logout", h.handleLogout)

	// Student-facing endpoints, keyed by invite token rather than a session.
	r.Post("/api/answers", h.handleSubmitAnswer)
	r.Post("/api/videos", h.handleSubmitVideo)
	r.Get("/api/quizzes/{quizID}/take", h.handleTakeQuiz)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Use(h.csrfMiddleware)

		r.Get("/api/stats", h.handleStats)

		r.Get("/api/students", h.handleListStudents)
		r.Post("/api/students", h.handleCreateStudent)
		r.Post("/api/students/import", h.handleImportStudents)

		r.Get("/api/quizzes", h.handleListQuizzes)
		r.Post("/api/quizzes", h.handleCreateQuiz)
		r.Get("/api/quizzes/{quizID}/questions", h.handleListQuestions)
		r.Get("/api/quizzes/{quizID}/results", h.handleQuizResults)
		r.Post("/api/quizzes/{quizID}/generate", h.handleGenerateQuiz)
		r.Post("/api/quizzes/{quizID}/activate", h.handleActivateQuiz)
		r.Post("/api/quizzes/{quizID}/invitations", h.handleSendInvitations)
		r.Post("/api/quizzes/{quizID}/score-and-notify", h.handleScoreAndNotify)

		r.Get("/api/videos", h.handleListSubmissions)
		r.Post("/api/videos/process", h.handleProcessVideos)
		r.Post("/api/videos/{submissionID}/process", h.handleProcessVideo)
		r.Post("/api/videos/rank-and-notify", h.handleRankAndNotify)

		r.Get("/api/winners", h.handleListWinners)
		r.Post("/api/winners/notify", h.handleNotifyWinners)
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// decodeBody decodes and validates a JSON request body.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return validate.Struct(dst)
}

// callCtx derives a bounded context for one external call.
func (h *Handler) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.config.CallTimeout())
}
