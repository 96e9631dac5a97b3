package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/talentlab/funnel/internal/cohort"
	"github.com/talentlab/funnel/internal/i18n"
	"github.com/talentlab/funnel/internal/mailer"
	"github.com/talentlab/funnel/internal/model"
	"github.com/talentlab/funnel/internal/notify"
	"github.com/talentlab/funnel/internal/transcript"
	"github.com/talentlab/funnel/internal/worker"
)

// metaQualifyingQuiz is the app_metadata key holding the title of the
// quiz whose cohort was invited to the video stage.
const metaQualifyingQuiz = "qualifying_quiz"

type submitVideoRequest struct {
	Token       string `json:"token" validate:"required"`
	Title       string `json:"title" validate:"required"`
	YouTubeLink string `json:"youtube_link" validate:"required,url"`
}

// handleSubmitVideo records a student's contest video. One submission per
// student; re-submitting replaces the earlier entry and resets it to
// pending.
func (h *Handler) handleSubmitVideo(w http.ResponseWriter, r *http.Request) {
	var req submitVideoRequest
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
	if _, err := transcript.ExtractVideoID(req.YouTubeLink); err != nil {
		respondError(w, http.StatusBadRequest, "link is not a recognizable YouTube URL")
		return
	}

	id, err := h.store.InsertSubmission(model.VideoSubmission{
		StudentID:   student.ID,
		Title:       strings.TrimSpace(req.Title),
		YouTubeLink: strings.TrimSpace(req.YouTubeLink),
		Status:      model.SubmissionPending,
	})
	if err != nil {
		slog.Error("insert submission", "student_id", student.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	slog.Info("video submitted", "student_id", student.ID, "submission_id", id)
	respondJSON(w, http.StatusCreated, map[string]int64{"submission_id": id})
}

func (h *Handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	status := model.SubmissionStatus(r.URL.Query().Get("status"))
	subs, err := h.store.ListSubmissions(status)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, subs)
}

type processResult struct {
	SubmissionID int64             `json:"submission_id"`
	StudentID    int64             `json:"student_id"`
	Status       string            `json:"status"`
	TotalScore   float64           `json:"total_score,omitempty"`
	Outcome      model.EvalOutcome `json:"outcome,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// processOne runs the full evaluation chain for a single submission:
// link → video ID → transcript → rubric scoring → stored evaluation.
// Every failure is recorded on the submission; the returned result is
// what the caller reports, not a control-flow error.
func (h *Handler) processOne(ctx context.Context, sub model.VideoSubmission, quizName string) processResult {
	res := processResult{SubmissionID: sub.ID, StudentID: sub.StudentID}

	fail := func(reason string) processResult {
		if err := h.store.MarkSubmissionFailed(sub.ID, reason); err != nil {
			slog.Error("mark submission failed", "submission_id", sub.ID, "error", err)
		}
		res.Status = string(model.SubmissionFailed)
		res.Error = reason
		return res
	}

	videoID, err := transcript.ExtractVideoID(sub.YouTubeLink)
	if err != nil {
		return fail("invalid video link")
	}

	fetchCtx, cancel := h.callCtx(ctx)
	text, err := h.transcripts.Fetch(fetchCtx, videoID)
	cancel()
	if err != nil {
		if errors.Is(err, transcript.ErrNoTranscript) {
			return fail("transcript unavailable")
		}
		return fail("transcript fetch: " + err.Error())
	}

	evalCtx, cancel := h.callCtx(ctx)
	eval, outcome, err := h.llm.EvaluateVideo(evalCtx, text, h.config.VideoTopic, quizName)
	cancel()
	if err != nil {
		return fail("evaluation: " + err.Error())
	}

	blob, err := json.Marshal(eval)
	if err != nil {
		return fail("encode evaluation: " + err.Error())
	}
	if err := h.store.SaveEvaluation(sub.ID, text, string(blob), float64(eval.TotalScore), outcome); err != nil {
		slog.Error("save evaluation", "submission_id", sub.ID, "error", err)
		return fail("store evaluation")
	}

	res.Status = string(model.SubmissionCompleted)
	res.TotalScore = float64(eval.TotalScore)
	res.Outcome = outcome
	return res
}

// handleProcessVideos evaluates every pending submission through a
// bounded worker pool. One submission's failure never stops the batch.
func (h *Handler) handleProcessVideos(w http.ResponseWriter, r *http.Request) {
	pending, err := h.store.ListSubmissions(model.SubmissionPending)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	quizName, err := h.store.GetMetadata(metaQualifyingQuiz)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	tasks := make([]worker.Task[processResult], 0, len(pending))
	for _, sub := range pending {
		tasks = append(tasks, worker.Task[processResult]{
			ID: sub.ID,
			Run: func(ctx context.Context) processResult {
				return h.processOne(ctx, sub, quizName)
			},
		})
	}

	results := worker.Run(r.Context(), h.config.EvalConcurrency, tasks)

	out := make([]processResult, 0, len(results))
	var completed, failed int
	for _, res := range results {
		out = append(out, res.Value)
		if res.Value.Status == string(model.SubmissionCompleted) {
			completed++
		} else {
			failed++
		}
	}
	slog.Info("videos processed", "total", len(out), "completed", completed, "failed", failed)
	respondJSON(w, http.StatusOK, map[string]any{
		"total":     len(out),
		"completed": completed,
		"failed":    failed,
		"results":   out,
	})
}

// handleProcessVideo re-runs evaluation for a single submission
// regardless of its current status.
func (h *Handler) handleProcessVideo(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "submissionID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid submission id")
		return
	}
	sub, err := h.store.GetSubmission(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "submission not found")
		return
	}
	quizName, err := h.store.GetMetadata(metaQualifyingQuiz)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, h.processOne(r.Context(), sub, quizName))
}

// handleRankAndNotify selects the video-stage cohort among completed
// submissions and emails each selected student that they advanced.
func (h *Handler) handleRankAndNotify(w http.ResponseWriter, r *http.Request) {
	completed, err := h.store.ListSubmissions(model.SubmissionCompleted)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	bySubmission := make(map[int64]model.VideoSubmission, len(completed))
	entities := make([]cohort.Entity, 0, len(completed))
	for _, sub := range completed {
		bySubmission[sub.ID] = sub
		entities = append(entities, cohort.Entity{
			ID:    sub.ID,
			Score: sub.TotalScore,
			At:    sub.SubmittedAt,
		})
	}
	selected := cohort.Select(entities, cohort.Policy{
		Proportion: h.config.VideoProportion,
		Min:        h.config.VideoMinCount,
		Max:        h.config.VideoMaxCount,
	})

	batch := make([]notify.Outbound, 0, len(selected))
	for _, e := range selected {
		sub := bySubmission[e.ID]
		student, err := h.store.GetStudent(sub.StudentID)
		if err != nil {
			slog.Error("load student", "student_id", sub.StudentID, "error", err)
			continue
		}
		body := i18n.Td("VideoPassBody", map[string]any{"Name": student.Name})
		batch = append(batch, notify.Outbound{
			EntityID: student.ID,
			Message: mailer.Message{
				To:      student.Email,
				Subject: i18n.T("VideoPassSubject"),
				HTML:    body,
				Text:    body,
			},
		})
	}

	summary, sendResults := notify.Dispatch(r.Context(), h.sender, batch)
	slog.Info("video cohort selected", "completed", len(completed), "selected", len(selected),
		"emails_sent", summary.Sent, "emails_failed", summary.Failed)
	respondJSON(w, http.StatusOK, map[string]any{
		"completed":     len(completed),
		"selected":      len(selected),
		"emails_sent":   summary.Sent,
		"emails_failed": summary.Failed,
		"send_results":  sendResults,
	})
}

// prizeLabel maps a final-ranking position to a localized prize name.
func prizeLabel(position int) string {
	switch position {
	case 1:
		return i18n.T("PrizeFirst")
	case 2:
		return i18n.T("PrizeSecond")
	case 3:
		return i18n.T("PrizeThird")
	default:
		return i18n.T("PrizeFinalist")
	}
}

func (h *Handler) winnerList() ([]model.Winner, error) {
	ranked, err := h.store.ListRanked()
	if err != nil {
		return nil, err
	}
	winners := make([]model.Winner, 0, len(ranked))
	for _, sub := range ranked {
		student, err := h.store.GetStudent(sub.StudentID)
		if err != nil {
			return nil, err
		}
		position := 0
		if sub.Ranking != nil {
			position = *sub.Ranking
		}
		winners = append(winners, model.Winner{
			Position:   position,
			Prize:      prizeLabel(position),
			Student:    student,
			Submission: sub,
		})
	}
	return winners, nil
}

func (h *Handler) handleListWinners(w http.ResponseWriter, r *http.Request) {
	winners, err := h.winnerList()
	if err != nil {
		slog.Error("list winners", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, winners)
}

// handleNotifyWinners takes the final top slice of completed
// submissions, persists their rankings and emails each winner their
// position and prize. Rankings from an earlier run are replaced.
func (h *Handler) handleNotifyWinners(w http.ResponseWriter, r *http.Request) {
	completed, err := h.store.ListSubmissions(model.SubmissionCompleted)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	bySubmission := make(map[int64]model.VideoSubmission, len(completed))
	entities := make([]cohort.Entity, 0, len(completed))
	for _, sub := range completed {
		bySubmission[sub.ID] = sub
		entities = append(entities, cohort.Entity{
			ID:    sub.ID,
			Score: sub.TotalScore,
			At:    sub.SubmittedAt,
		})
	}
	selected := cohort.Select(entities, cohort.TopAbsolute(h.config.WinnerCount))

	if err := h.store.ClearRankings(); err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	batch := make([]notify.Outbound, 0, len(selected))
	winners := make([]model.Winner, 0, len(selected))
	for i, e := range selected {
		sub := bySubmission[e.ID]
		position := i + 1
		if err := h.store.SetSubmissionRanking(sub.ID, position); err != nil {
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}
		student, err := h.store.GetStudent(sub.StudentID)
		if err != nil {
			slog.Error("load student", "student_id", sub.StudentID, "error", err)
			continue
		}
		prize := prizeLabel(position)
		sub.Ranking = &position
		winners = append(winners, model.Winner{
			Position:   position,
			Prize:      prize,
			Student:    student,
			Submission: sub,
		})
		body := i18n.Td("WinnerBody", map[string]any{
			"Name":       student.Name,
			"Title":      sub.Title,
			"Prize":      prize,
			"Position":   position,
			"VideoScore": sub.TotalScore,
			"FinalScore": sub.TotalScore,
		})
		batch = append(batch, notify.Outbound{
			EntityID: student.ID,
			Message: mailer.Message{
				To:      student.Email,
				Subject: i18n.Td("WinnerSubject", map[string]any{"Prize": prize}),
				HTML:    body,
				Text:    body,
			},
		})
	}

	summary, sendResults := notify.Dispatch(r.Context(), h.sender, batch)
	slog.Info("winners notified", "winners", len(winners),
		"emails_sent", summary.Sent, "emails_failed", summary.Failed)
	respondJSON(w, http.StatusOK, map[string]any{
		"winners":       winners,
		"emails_sent":   summary.Sent,
		"emails_failed": summary.Failed,
		"send_results":  sendResults,
	})
}
