package store

import (
	"fmt"
	"sort"

	"github.com/talentlab/funnel/internal/model"
	"github.com/talentlab/funnel/internal/scoring"
)

// QuizResults builds the ranked standings for one quiz: every student
// with at least one answer, scored against the quiz's declared question
// count, ordered by percentage descending with earlier finishers first
// on ties. Students with no answer records do not appear at all.
func (s *Store) QuizResults(quizID int64) ([]model.QuizResult, error) {
	quiz, err := s.GetQuiz(quizID)
	if err != nil {
		return nil, fmt.Errorf("get quiz %d: %w", quizID, err)
	}

	questions, err := s.ListQuizQuestions(quizID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	questionQuiz := make(map[int64]int64, len(questions))
	for _, q := range questions {
		questionQuiz[q.ID] = q.QuizID
	}

	records, err := s.ListAnswersForQuiz(quizID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	tallies := scoring.Aggregate(records, func(questionID int64) (int64, bool) {
		qid, ok := questionQuiz[questionID]
		return qid, ok
	})

	results := make([]model.QuizResult, 0, len(tallies))
	for _, t := range tallies {
		student, err := s.GetStudent(t.StudentID)
		if err != nil {
			return nil, fmt.Errorf("get student %d: %w", t.StudentID, err)
		}
		results = append(results, model.QuizResult{
			Student:    student,
			QuizID:     quizID,
			Correct:    t.Correct,
			Answered:   t.Answered,
			Total:      quiz.QuestionCount,
			Percentage: scoring.Percentage(t.Correct, quiz.QuestionCount),
			FinishedAt: t.LastAnsweredAt,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Percentage != b.Percentage {
			return a.Percentage > b.Percentage
		}
		if !a.FinishedAt.Equal(b.FinishedAt) {
			return a.FinishedAt.Before(b.FinishedAt)
		}
		return a.Student.ID < b.Student.ID
	})

	return results, nil
}
