package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/talentlab/funnel/internal/cohort"
	"github.com/talentlab/funnel/internal/i18n"
	"github.com/talentlab/funnel/internal/llm"
	"github.com/talentlab/funnel/internal/mailer"
	"github.com/talentlab/funnel/internal/model"
	"github.com/talentlab/funnel/internal/notify"
)

func quizIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "quizID"), 10, 64)
}

func (h *Handler) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	quizzes, err := h.store.ListQuizzes()
	if err != nil {
		slog.Error("list quizzes", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, quizzes)
}

type createQuizRequest struct {
	Title           string `json:"title" validate:"required"`
	Description     string `json:"description"`
	Topic           string `json:"topic" validate:"required"`
	TimePerQuestion int    `json:"time_per_question" validate:"required,min=5,max=600"`
}

func (h *Handler) handleCreateQuiz(w http.ResponseWriter, r *http.Request) {
	var req createQuizRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	q := model.Quiz{
		Title:           strings.TrimSpace(req.Title),
		Description:     strings.TrimSpace(req.Description),
		Topic:           strings.TrimSpace(req.Topic),
		TimePerQuestion: req.TimePerQuestion,
	}
	id, err := h.store.CreateQuiz(q)
	if err != nil {
		slog.Error("create quiz", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	q.ID = id
	respondJSON(w, http.StatusCreated, q)
}

func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	quizID, err := quizIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid quiz id")
		return
	}
	questions, err := h.store.ListQuizQuestions(quizID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, questions)
}

type generateRequest struct {
	NumQuestions int                `json:"num_questions" validate:"required,min=1,max=50"`
	Difficulty   model.Difficulty   `json:"difficulty" validate:"required,oneof=easy medium hard"`
	Type         model.QuestionType `json:"type" validate:"required,oneof=mcq true_false"`
	Topics       []string           `json:"topics"`
}

// handleGenerateQuiz asks the language model for a question set and
// stores it under the quiz. Topics default to the quiz topic.
func (h *Handler) handleGenerateQuiz(w http.ResponseWriter, r *http.Request) {
	quizID, err := quizIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid quiz id")
		return
	}
	quiz, err := h.store.GetQuiz(quizID)
	if err != nil {
		respondError(w, http.StatusNotFound, "quiz not found")
		return
	}

	var req generateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	topics := req.Topics
	if len(topics) == 0 {
		topics = []string{quiz.Topic}
	}

	ctx, cancel := h.callCtx(r.Context())
	defer cancel()
	generated, err := h.llm.GenerateQuiz(ctx, llm.QuizSpec{
		NumQuestions:    req.NumQuestions,
		Difficulty:      req.Difficulty,
		Topics:          topics,
		TimePerQuestion: quiz.TimePerQuestion,
		Type:            req.Type,
	})
	if err != nil {
		slog.Error("generate quiz", "quiz_id", quizID, "error", err)
		respondError(w, http.StatusBadGateway, "question generation failed")
		return
	}

	inserted := make([]model.Question, 0, len(generated))
	for _, g := range generated {
		q := model.Question{
			QuizID:        quizID,
			Text:          g.Text,
			Type:          req.Type,
			Difficulty:    req.Difficulty,
			Options:       g.Options,
			CorrectAnswer: g.CorrectAnswer,
		}
		id, err := h.store.InsertQuestion(q)
		if err != nil {
			slog.Error("insert question", "quiz_id", quizID, "error", err)
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}
		q.ID = id
		inserted = append(inserted, q)
	}

	all, err := h.store.ListQuizQuestions(quizID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.store.SetQuizQuestionCount(quizID, len(all)); err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("quiz generated", "quiz_id", quizID, "questions", len(inserted))
	respondJSON(w, http.StatusOK, map[string]any{
		"generated":      len(inserted),
		"question_count": len(all),
		"questions":      inserted,
	})
}

type activateRequest struct {
	Active bool `json:"active"`
}

func (h *Handler) handleActivateQuiz(w http.ResponseWriter, r *http.Request) {
	quizID, err := quizIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid quiz id")
		return
	}
	quiz, err := h.store.GetQuiz(quizID)
	if err != nil {
		respondError(w, http.StatusNotFound, "quiz not found")
		return
	}
	var req activateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Active && quiz.QuestionCount == 0 {
		respondError(w, http.StatusConflict, "quiz has no questions")
		return
	}
	if err := h.store.SetQuizActive(quizID, req.Active); err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	quiz.Active = req.Active
	respondJSON(w, http.StatusOK, quiz)
}

// quizLink is the personal quiz URL emailed to one student.
func (h *Handler) quizLink(quizID int64, token string) string {
	return fmt.Sprintf("%s/student/quiz/%d?token=%s", h.config.BaseURL, quizID, token)
}

// videoLink is the personal video-submission URL emailed to one student.
func (h *Handler) videoLink(token string) string {
	return fmt.Sprintf("%s/student/video?token=%s", h.config.BaseURL, token)
}

// handleSendInvitations emails every rostered student a personal link to
// the quiz. Sends are sequential; one failed address never aborts the run.
func (h *Handler) handleSendInvitations(w http.ResponseWriter, r *http.Request) {
	quizID, err := quizIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid quiz id")
		return
	}
	quiz, err := h.store.GetQuiz(quizID)
	if err != nil {
		respondError(w, http.StatusNotFound, "quiz not found")
		return
	}
	if !quiz.Active {
		respondError(w, http.StatusConflict, "quiz is not active")
		return
	}
	students, err := h.store.ListStudents()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	batch := make([]notify.Outbound, 0, len(students))
	for _, st := range students {
		body := i18n.Td("InviteBody", map[string]any{
			"Name":     st.Name,
			"QuizName": quiz.Title,
			"Seconds":  quiz.TimePerQuestion,
			"Link":     h.quizLink(quiz.ID, st.InviteToken),
		})
		batch = append(batch, notify.Outbound{
			EntityID: st.ID,
			Message: mailer.Message{
				To:      st.Email,
				Subject: i18n.Td("InviteSubject", map[string]any{"QuizName": quiz.Title}),
				HTML:    body,
				Text:    body,
			},
		})
	}

	summary, results := notify.Dispatch(r.Context(), h.sender, batch)
	slog.Info("invitations sent", "quiz_id", quizID, "emails_sent", summary.Sent, "emails_failed", summary.Failed)
	respondJSON(w, http.StatusOK, map[string]any{
		"emails_sent":   summary.Sent,
		"emails_failed": summary.Failed,
		"total":         summary.Total,
		"results":       results,
	})
}

// handleTakeQuiz serves the question set for a student's personal link.
// Correct answers are stripped from the payload.
func (h *Handler) handleTakeQuiz(w http.ResponseWriter, r *http.Request) {
	quizID, err := quizIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid quiz id")
		return
	}
	student, err := h.store.GetStudentByToken(r.URL.Query().Get("token"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if student == nil {
		respondError(w, http.StatusUnauthorized, "unknown invite token")
		return
	}
	quiz, err := h.store.GetQuiz(quizID)
	if err != nil {
		respondError(w, http.StatusNotFound, "quiz not found")
		return
	}
	if !quiz.Active {
		respondError(w, http.StatusConflict, "quiz is not active")
		return
	}
	questions, err := h.store.ListQuizQuestions(quizID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	for i := range questions {
		questions[i].CorrectAnswer = ""
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"quiz":      quiz,
		"student":   map[string]any{"name": student.Name},
		"questions": questions,
	})
}

type submitAnswerRequest struct {
	Token      string `json:"token" validate:"required"`
	QuestionID int64  `json:"question_id" validate:"required"`
	AnswerText string `json:"answer_text"`
}

// handleSubmitAnswer records one answer, grading it against the stored
// correct answer. Re-submitting the same question replaces the earlier
// answer, so a student never counts twice.
func (h *Handler) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req submitAnswerRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	student, err := h.store.GetStudentByToken(req.Token)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if student == nil {
		respondError(w, http.StatusUnauthorized, "unknown invite token")
		return
	}
	question, err := h.store.GetQuestion(req.QuestionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "question not found")
		return
	}
	quiz, err := h.store.GetQuiz(question.QuizID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !quiz.Active {
		respondError(w, http.StatusConflict, "quiz is not active")
		return
	}

	correct := answersMatch(req.AnswerText, question.CorrectAnswer)
	rec := model.AnswerRecord{
		StudentID:  student.ID,
		QuestionID: question.ID,
		AnswerText: req.AnswerText,
		IsCorrect:  correct,
		AnsweredAt: time.Now().UTC(),
	}
	if err := h.store.UpsertAnswer(rec); err != nil {
		slog.Error("record answer", "student_id", student.ID, "question_id", question.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"recorded": true})
}

func answersMatch(given, correct string) bool {
	return strings.EqualFold(strings.TrimSpace(given), strings.TrimSpace(correct))
}

func (h *Handler) handleQuizResults(w http.ResponseWriter, r *http.Request) {
	quizID, err := quizIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid quiz id")
		return
	}
	results, err := h.store.QuizResults(quizID)
	if err != nil {
		slog.Error("quiz results", "quiz_id", quizID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, results)
}

// handleScoreAndNotify scores the quiz, selects the top cohort and emails
// each selected student a personal video-submission link.
func (h *Handler) handleScoreAndNotify(w http.ResponseWriter, r *http.Request) {
	quizID, err := quizIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid quiz id")
		return
	}
	quiz, err := h.store.GetQuiz(quizID)
	if err != nil {
		respondError(w, http.StatusNotFound, "quiz not found")
		return
	}
	results, err := h.store.QuizResults(quizID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	byStudent := make(map[int64]model.QuizResult, len(results))
	entities := make([]cohort.Entity, 0, len(results))
	for _, res := range results {
		byStudent[res.Student.ID] = res
		entities = append(entities, cohort.Entity{
			ID:    res.Student.ID,
			Score: res.Percentage,
			At:    res.FinishedAt,
		})
	}
	selected := cohort.Select(entities, cohort.TopAbsolute(h.config.QuizTopCount))

	// Remembered so the video-evaluation prompt can name the quiz the
	// cohort qualified through.
	if err := h.store.SetMetadata(metaQualifyingQuiz, quiz.Title); err != nil {
		slog.Error("save qualifying quiz", "error", err)
	}

	batch := make([]notify.Outbound, 0, len(selected))
	for _, e := range selected {
		res := byStudent[e.ID]
		body := i18n.Td("TopCohortBody", map[string]any{
			"Name":     res.Student.Name,
			"QuizName": quiz.Title,
			"Count":    len(selected),
			"Topic":    h.config.VideoTopic,
			"Link":     h.videoLink(res.Student.InviteToken),
		})
		batch = append(batch, notify.Outbound{
			EntityID: res.Student.ID,
			Message: mailer.Message{
				To:      res.Student.Email,
				Subject: i18n.Td("TopCohortSubject", map[string]any{"Count": len(selected)}),
				HTML:    body,
				Text:    body,
			},
		})
	}

	summary, sendResults := notify.Dispatch(r.Context(), h.sender, batch)
	slog.Info("quiz scored", "quiz_id", quizID, "participants", len(results),
		"selected", len(selected), "emails_sent", summary.Sent, "emails_failed", summary.Failed)

	selectedIDs := make([]int64, 0, len(selected))
	for _, e := range selected {
		selectedIDs = append(selectedIDs, e.ID)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"participants":  len(results),
		"selected":      selectedIDs,
		"results":       results,
		"emails_sent":   summary.Sent,
		"emails_failed": summary.Failed,
		"send_results":  sendResults,
	})
}
