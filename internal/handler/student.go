package handler

import (
	"encoding/csv"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/talentlab/funnel/internal/model"
)

func (h *Handler) handleListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.store.ListStudents()
	if err != nil {
		slog.Error("list students", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, students)
}

type createStudentRequest struct {
	Name      string `json:"name" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	ExtraInfo string `json:"extra_info"`
}

func (h *Handler) handleCreateStudent(w http.ResponseWriter, r *http.Request) {
	var req createStudentRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	st := model.Student{
		Name:        strings.TrimSpace(req.Name),
		Email:       strings.ToLower(strings.TrimSpace(req.Email)),
		ExtraInfo:   strings.TrimSpace(req.ExtraInfo),
		InviteToken: uuid.NewString(),
	}
	id, err := h.store.InsertStudent(st)
	if err != nil {
		slog.Error("insert student", "email", st.Email, "error", err)
		respondError(w, http.StatusConflict, "student already exists")
		return
	}
	st.ID = id
	respondJSON(w, http.StatusCreated, st)
}

type importSummary struct {
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// handleImportStudents ingests a CSV roster upload. The file must have a
// header row with name and email columns; extra_info is optional. Rows with
// missing fields or duplicate emails are skipped and reported, not fatal.
func (h *Handler) handleImportStudents(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing roster file")
		return
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		respondError(w, http.StatusBadRequest, "empty roster file")
		return
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	nameIdx, okName := cols["name"]
	emailIdx, okEmail := cols["email"]
	if !okName || !okEmail {
		respondError(w, http.StatusBadRequest, "roster must have name and email columns")
		return
	}
	extraIdx, hasExtra := cols["extra_info"]

	var summary importSummary
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			summary.Skipped++
			summary.Errors = append(summary.Errors, rowError(line, "malformed row"))
			continue
		}
		if nameIdx >= len(record) || emailIdx >= len(record) {
			summary.Skipped++
			summary.Errors = append(summary.Errors, rowError(line, "missing fields"))
			continue
		}
		name := strings.TrimSpace(record[nameIdx])
		email := strings.ToLower(strings.TrimSpace(record[emailIdx]))
		if name == "" || email == "" || !strings.Contains(email, "@") {
			summary.Skipped++
			summary.Errors = append(summary.Errors, rowError(line, "invalid name or email"))
			continue
		}
		st := model.Student{
			Name:        name,
			Email:       email,
			InviteToken: uuid.NewString(),
		}
		if hasExtra && extraIdx < len(record) {
			st.ExtraInfo = strings.TrimSpace(record[extraIdx])
		}
		if _, err := h.store.InsertStudent(st); err != nil {
			summary.Skipped++
			summary.Errors = append(summary.Errors, rowError(line, "duplicate email"))
			continue
		}
		summary.Created++
	}

	slog.Info("roster imported", "created", summary.Created, "skipped", summary.Skipped)
	respondJSON(w, http.StatusOK, summary)
}

func rowError(line int, msg string) string {
	return "line " + strconv.Itoa(line) + ": " + msg
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	students, err := h.store.StudentCount()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	activeQuizzes, err := h.store.ActiveQuizCount()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	submissions, err := h.store.SubmissionCount()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	ranked, err := h.store.RankedCount()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{
		"students":          students,
		"active_quizzes":    activeQuizzes,
		"video_submissions": submissions,
		"winners":           ranked,
	})
}
