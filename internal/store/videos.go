package store

import (
	"database/sql"
	"time"

	"github.com/talentlab/funnel/internal/model"
)

const submissionColumns = `id, student_id, title, youtube_link, transcript, evaluation,
	total_score, outcome, status, ranking, submitted_at, processed_at`

func scanSubmission(row interface{ Scan(...any) error }) (model.VideoSubmission, error) {
	var v model.VideoSubmission
	var ranking sql.NullInt64
	err := row.Scan(&v.ID, &v.StudentID, &v.Title, &v.YouTubeLink, &v.Transcript, &v.Evaluation,
		&v.TotalScore, &v.Outcome, &v.Status, &ranking, &v.SubmittedAt, &v.ProcessedAt)
	if ranking.Valid {
		pos := int(ranking.Int64)
		v.Ranking = &pos
	}
	return v, err
}

// InsertSubmission stores a video submission. One submission per
// student; a re-submission replaces the link and resets evaluation state.
func (s *Store) InsertSubmission(v model.VideoSubmission) (int64, error) {
	_, err := s.db.Exec(
		`INSERT INTO video_submissions (student_id, title, youtube_link, status, submitted_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(student_id) DO UPDATE SET
		   title = excluded.title,
		   youtube_link = excluded.youtube_link,
		   transcript = '',
		   evaluation = '',
		   total_score = 0,
		   outcome = '',
		   status = excluded.status,
		   ranking = NULL,
		   submitted_at = excluded.submitted_at,
		   processed_at = NULL`,
		v.StudentID, v.Title, v.YouTubeLink, model.SubmissionPending, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	// LastInsertId is unreliable on the conflict-update path, so look the
	// row up by its owning student.
	var id int64
	err = s.db.QueryRow(`SELECT id FROM video_submissions WHERE student_id = ?`, v.StudentID).Scan(&id)
	return id, err
}

// GetSubmission returns a submission by ID.
func (s *Store) GetSubmission(id int64) (model.VideoSubmission, error) {
	return scanSubmission(s.db.QueryRow(
		`SELECT `+submissionColumns+` FROM video_submissions WHERE id = ?`, id,
	))
}

// ListSubmissions returns submissions, optionally filtered by status.
func (s *Store) ListSubmissions(status model.SubmissionStatus) ([]model.VideoSubmission, error) {
	query := `SELECT ` + submissionColumns + ` FROM video_submissions`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []model.VideoSubmission
	for rows.Next() {
		v, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, v)
	}
	return subs, rows.Err()
}

// SaveEvaluation stores the evaluation result for a submission and
// marks it completed.
func (s *Store) SaveEvaluation(id int64, transcript, evaluation string, totalScore float64, outcome model.EvalOutcome) error {
	_, err := s.db.Exec(
		`UPDATE video_submissions
		 SET transcript = ?, evaluation = ?, total_score = ?, outcome = ?, status = ?, processed_at = ?
		 WHERE id = ?`,
		transcript, evaluation, totalScore, outcome, model.SubmissionCompleted, time.Now(), id,
	)
	return err
}

// MarkSubmissionFailed records a per-item processing failure. The
// reason lands in the evaluation column so admins can see it.
func (s *Store) MarkSubmissionFailed(id int64, reason string) error {
	_, err := s.db.Exec(
		`UPDATE video_submissions SET status = ?, evaluation = ?, processed_at = ? WHERE id = ?`,
		model.SubmissionFailed, reason, time.Now(), id,
	)
	return err
}

// SetSubmissionRanking records a submission's final position.
func (s *Store) SetSubmissionRanking(id int64, position int) error {
	_, err := s.db.Exec(`UPDATE video_submissions SET ranking = ? WHERE id = ?`, position, id)
	return err
}

// ClearRankings resets all final positions before a re-rank.
func (s *Store) ClearRankings() error {
	_, err := s.db.Exec(`UPDATE video_submissions SET ranking = NULL`)
	return err
}

// ListRanked returns ranked submissions in position order.
func (s *Store) ListRanked() ([]model.VideoSubmission, error) {
	rows, err := s.db.Query(
		`SELECT ` + submissionColumns + ` FROM video_submissions WHERE ranking IS NOT NULL ORDER BY ranking`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []model.VideoSubmission
	for rows.Next() {
		v, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, v)
	}
	return subs, rows.Err()
}

// SubmissionCount returns the number of video submissions.
func (s *Store) SubmissionCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM video_submissions`).Scan(&count)
	return count, err
}

// RankedCount returns the number of submissions holding a final position.
func (s *Store) RankedCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM video_submissions WHERE ranking IS NOT NULL`).Scan(&count)
	return count, err
}
