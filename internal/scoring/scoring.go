// Package scoring folds raw answer records into per-student quiz tallies
// and converts tallies into percentage scores.
package scoring

import (
	"math"
	"time"

	"github.com/talentlab/funnel/internal/model"
)

// TallyKey identifies one student's standing on one quiz.
type TallyKey struct {
	StudentID int64
	QuizID    int64
}

// QuizTally is the intermediate count of correct and total answers for
// one student on one quiz. It is recomputed on every aggregation pass
// and never persisted.
type QuizTally struct {
	StudentID      int64
	QuizID         int64
	Correct        int
	Answered       int
	LastAnsweredAt time.Time
}

// Aggregate folds answer records into tallies keyed by (student, quiz).
// quizOf maps a question ID to its quiz; records whose question is
// unknown are skipped. The fold is commutative: the result is identical
// for any input ordering. A student with no records for a quiz has no
// entry at all, which callers must treat as "not attempted" rather than
// a zero score.
func Aggregate(records []model.AnswerRecord, quizOf func(questionID int64) (int64, bool)) map[TallyKey]QuizTally {
	tallies := make(map[TallyKey]QuizTally)
	for _, rec := range records {
		quizID, ok := quizOf(rec.QuestionID)
		if !ok {
			continue
		}
		key := TallyKey{StudentID: rec.StudentID, QuizID: quizID}
		t := tallies[key]
		t.StudentID = rec.StudentID
		t.QuizID = quizID
		t.Answered++
		if rec.IsCorrect {
			t.Correct++
		}
		if rec.AnsweredAt.After(t.LastAnsweredAt) {
			t.LastAnsweredAt = rec.AnsweredAt
		}
		tallies[key] = t
	}
	return tallies
}

// Percentage converts a correct count into a percentage of the quiz's
// declared question count, rounded to one decimal place with halves
// rounded away from zero. The result is always within [0, 100]: a quiz
// declaring zero questions scores 0, and a correct count exceeding the
// declared total (stale count after re-generation) caps at 100.
func Percentage(correct, totalQuestions int) float64 {
	if totalQuestions <= 0 || correct <= 0 {
		return 0
	}
	if correct >= totalQuestions {
		return 100
	}
	pct := float64(correct) / float64(totalQuestions) * 100
	return math.Round(pct*10) / 10
}
