package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/talentlab/funnel/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS students (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		extra_info TEXT NOT NULL DEFAULT '',
		invite_token TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS quizzes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		topic TEXT NOT NULL DEFAULT '',
		time_per_question INTEGER NOT NULL DEFAULT 30,
		question_count INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		quiz_id INTEGER NOT NULL,
		text TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'mcq',
		difficulty TEXT NOT NULL DEFAULT 'medium',
		options TEXT NOT NULL DEFAULT '[]',
		correct_answer TEXT NOT NULL,
		FOREIGN KEY (quiz_id) REFERENCES quizzes(id)
	);

	CREATE TABLE IF NOT EXISTS answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL,
		question_id INTEGER NOT NULL,
		answer_text TEXT NOT NULL,
		is_correct INTEGER NOT NULL DEFAULT 0,
		answered_at DATETIME NOT NULL,
		UNIQUE (student_id, question_id),
		FOREIGN KEY (student_id) REFERENCES students(id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS video_submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		youtube_link TEXT NOT NULL,
		transcript TEXT NOT NULL DEFAULT '',
		evaluation TEXT NOT NULL DEFAULT '',
		total_score REAL NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		ranking INTEGER,
		submitted_at DATETIME NOT NULL,
		processed_at DATETIME,
		FOREIGN KEY (student_id) REFERENCES students(id)
	);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'admin',
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS app_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateQuiz stores a quiz.
func (s *Store) CreateQuiz(q model.Quiz) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO quizzes (title, description, topic, time_per_question, question_count, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		q.Title, q.Description, q.Topic, q.TimePerQuestion, q.QuestionCount, q.Active, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetQuiz returns a quiz by ID.
func (s *Store) GetQuiz(id int64) (model.Quiz, error) {
	var q model.Quiz
	err := s.db.QueryRow(
		`SELECT id, title, description, topic, time_per_question, question_count, active, created_at
		 FROM quizzes WHERE id = ?`, id,
	).Scan(&q.ID, &q.Title, &q.Description, &q.Topic, &q.TimePerQuestion, &q.QuestionCount, &q.Active, &q.CreatedAt)
	return q, err
}

// ListQuizzes returns all quizzes, newest first.
func (s *Store) ListQuizzes() ([]model.Quiz, error) {
	rows, err := s.db.Query(
		`SELECT id, title, description, topic, time_per_question, question_count, active, created_at
		 FROM quizzes ORDER BY id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var quizzes []model.Quiz
	for rows.Next() {
		var q model.Quiz
		if err := rows.Scan(&q.ID, &q.Title, &q.Description, &q.Topic, &q.TimePerQuestion, &q.QuestionCount, &q.Active, &q.CreatedAt); err != nil {
			return nil, err
		}
		quizzes = append(quizzes, q)
	}
	return quizzes, rows.Err()
}

// SetQuizActive flips the active flag on a quiz.
func (s *Store) SetQuizActive(id int64, active bool) error {
	_, err := s.db.Exec(`UPDATE quizzes SET active = ? WHERE id = ?`, active, id)
	return err
}

// SetQuizQuestionCount records the declared question count after generation.
func (s *Store) SetQuizQuestionCount(id int64, count int) error {
	_, err := s.db.Exec(`UPDATE quizzes SET question_count = ? WHERE id = ?`, count, id)
	return err
}

// ActiveQuizCount returns the number of active quizzes.
func (s *Store) ActiveQuizCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM quizzes WHERE active = 1`).Scan(&count)
	return count, err
}

// InsertQuestion stores a question. Options are serialized as JSON.
func (s *Store) InsertQuestion(q model.Question) (int64, error) {
	opts, err := json.Marshal(q.Options)
	if err != nil {
		return 0, fmt.Errorf("marshal options: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO questions (quiz_id, text, type, difficulty, options, correct_answer)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		q.QuizID, q.Text, q.Type, q.Difficulty, string(opts), q.CorrectAnswer,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetQuestion returns a question by ID.
func (s *Store) GetQuestion(id int64) (model.Question, error) {
	var q model.Question
	var opts string
	err := s.db.QueryRow(
		`SELECT id, quiz_id, text, type, difficulty, options, correct_answer FROM questions WHERE id = ?`, id,
	).Scan(&q.ID, &q.QuizID, &q.Text, &q.Type, &q.Difficulty, &opts, &q.CorrectAnswer)
	if err != nil {
		return q, err
	}
	if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
		return q, fmt.Errorf("unmarshal options for question %d: %w", q.ID, err)
	}
	return q, nil
}

// ListQuizQuestions returns all questions for a quiz in insertion order.
func (s *Store) ListQuizQuestions(quizID int64) ([]model.Question, error) {
	rows, err := s.db.Query(
		`SELECT id, quiz_id, text, type, difficulty, options, correct_answer
		 FROM questions WHERE quiz_id = ? ORDER BY id`, quizID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var opts string
		if err := rows.Scan(&q.ID, &q.QuizID, &q.Text, &q.Type, &q.Difficulty, &opts, &q.CorrectAnswer); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options for question %d: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
