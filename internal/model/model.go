package model

import (
	"context"
	"time"
)

// UserRole represents an admin user's access level.
type UserRole string

const (
	// UserRoleAdmin can manage the full pipeline.
	UserRoleAdmin UserRole = "admin"
	// UserRoleViewer can read results but not trigger pipeline stages.
	UserRoleViewer UserRole = "viewer"
)

// User represents an admin dashboard user.
type User struct {
	ID           int64
	Email        string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents a server-side authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// Student is one roster entry. InviteToken keys the student's personal
// quiz and video-submission links.
type Student struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	ExtraInfo   string    `json:"extra_info,omitempty"`
	InviteToken string    `json:"invite_token"`
	CreatedAt   time.Time `json:"created_at"`
}

// Difficulty represents question difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// QuestionType represents the answer format of a question.
type QuestionType string

const (
	QuestionMCQ       QuestionType = "mcq"
	QuestionTrueFalse QuestionType = "true_false"
)

// Quiz is one timed quiz in the selection funnel. QuestionCount is the
// declared size used for percentage scoring; it may exceed the number of
// answers a student actually gave.
type Quiz struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Topic           string    `json:"topic"`
	TimePerQuestion int       `json:"time_per_question"`
	QuestionCount   int       `json:"question_count"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
}

// Question belongs to a quiz. Options is empty for true/false questions.
type Question struct {
	ID            int64        `json:"id"`
	QuizID        int64        `json:"quiz_id"`
	Text          string       `json:"text"`
	Type          QuestionType `json:"type"`
	Difficulty    Difficulty   `json:"difficulty"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer"`
}

// AnswerRecord is one student's answer to one question. Re-submission
// replaces the row for the same (student, question) pair.
type AnswerRecord struct {
	ID         int64     `json:"id"`
	StudentID  int64     `json:"student_id"`
	QuestionID int64     `json:"question_id"`
	AnswerText string    `json:"answer_text"`
	IsCorrect  bool      `json:"is_correct"`
	AnsweredAt time.Time `json:"answered_at"`
}

// SubmissionStatus tracks a video submission through evaluation.
type SubmissionStatus string

const (
	SubmissionPending   SubmissionStatus = "pending"
	SubmissionCompleted SubmissionStatus = "completed"
	SubmissionFailed    SubmissionStatus = "failed"
)

// EvalOutcome tags how a stored evaluation was obtained, so callers can
// tell a genuine score from a degraded one.
type EvalOutcome string

const (
	// OutcomeParsed means the response parsed cleanly into the rubric shape.
	OutcomeParsed EvalOutcome = "parsed"
	// OutcomeRepaired means the sub-scores parsed but the total had to be
	// recomputed from them.
	OutcomeRepaired EvalOutcome = "repaired"
	// OutcomeFallback means the response could not be parsed and the
	// fixed fallback evaluation was substituted.
	OutcomeFallback EvalOutcome = "fallback"
)

// VideoSubmission is one student's contest video. Evaluation holds the
// rubric breakdown as a JSON blob; TotalScore is denormalized for
// ranking queries.
type VideoSubmission struct {
	ID          int64            `json:"id"`
	StudentID   int64            `json:"student_id"`
	Title       string           `json:"title"`
	YouTubeLink string           `json:"youtube_link"`
	Transcript  string           `json:"transcript,omitempty"`
	Evaluation  string           `json:"evaluation,omitempty"`
	TotalScore  float64          `json:"total_score"`
	Outcome     EvalOutcome      `json:"outcome,omitempty"`
	Status      SubmissionStatus `json:"status"`
	Ranking     *int             `json:"ranking,omitempty"`
	SubmittedAt time.Time        `json:"submitted_at"`
	ProcessedAt *time.Time       `json:"processed_at,omitempty"`
}

// QuizResult is one student's scored standing on a quiz.
type QuizResult struct {
	Student    Student   `json:"student"`
	QuizID     int64     `json:"quiz_id"`
	Correct    int       `json:"correct"`
	Answered   int       `json:"answered"`
	Total      int       `json:"total"`
	Percentage float64   `json:"percentage"`
	FinishedAt time.Time `json:"finished_at"`
}

// Winner is one entry of the final ranked cohort.
type Winner struct {
	Position   int             `json:"position"`
	Prize      string          `json:"prize"`
	Student    Student         `json:"student"`
	Submission VideoSubmission `json:"submission"`
}

// Config holds runtime pipeline parameters set via CLI flags.
type Config struct {
	BaseURL         string  // public base URL used in emailed links
	Lang            string  // notification language (en, ru)
	VideoTopic      string  // topic students must cover in their videos
	QuizTopCount    int     // absolute size of the quiz-stage cohort
	VideoProportion float64 // proportion selected at the video stage
	VideoMinCount   int     // video-stage cohort floor
	VideoMaxCount   int     // video-stage cohort cap
	WinnerCount     int     // absolute size of the final cohort
	EvalConcurrency int     // worker cap for batch video evaluation
	CallTimeoutSecs int     // per external call (LLM, transcript, mail)
	SecureCookies   bool
}

// CallTimeout returns the external-call timeout as a duration.
func (c Config) CallTimeout() time.Duration {
	if c.CallTimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.CallTimeoutSecs) * time.Second
}
