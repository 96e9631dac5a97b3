package store

import (
	"time"

	"github.com/talentlab/funnel/internal/model"
)

// UpsertAnswer records a student's answer to a question. A re-submitted
// answer replaces the earlier row for the same (student, question)
// pair, which keeps the aggregation single-counted even if a student
// manages to submit twice.
func (s *Store) UpsertAnswer(a model.AnswerRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO answers (student_id, question_id, answer_text, is_correct, answered_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(student_id, question_id) DO UPDATE SET
		   answer_text = excluded.answer_text,
		   is_correct = excluded.is_correct,
		   answered_at = excluded.answered_at`,
		a.StudentID, a.QuestionID, a.AnswerText, a.IsCorrect, orNow(a.AnsweredAt),
	)
	return err
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// ListAnswersForQuiz returns all answer records whose question belongs
// to the given quiz.
func (s *Store) ListAnswersForQuiz(quizID int64) ([]model.AnswerRecord, error) {
	rows, err := s.db.Query(
		`SELECT a.id, a.student_id, a.question_id, a.answer_text, a.is_correct, a.answered_at
		 FROM answers a JOIN questions q ON q.id = a.question_id
		 WHERE q.quiz_id = ?`, quizID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []model.AnswerRecord
	for rows.Next() {
		var a model.AnswerRecord
		if err := rows.Scan(&a.ID, &a.StudentID, &a.QuestionID, &a.AnswerText, &a.IsCorrect, &a.AnsweredAt); err != nil {
			return nil, err
		}
		records = append(records, a)
	}
	return records, rows.Err()
}
