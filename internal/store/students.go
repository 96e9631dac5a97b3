package store

import (
	"database/sql"
	"time"

	"github.com/talentlab/funnel/internal/model"
)

// InsertStudent stores a roster entry. The caller supplies the invite token.
func (s *Store) InsertStudent(st model.Student) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO students (name, email, extra_info, invite_token, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		st.Name, st.Email, st.ExtraInfo, st.InviteToken, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetStudent returns a student by ID.
func (s *Store) GetStudent(id int64) (model.Student, error) {
	var st model.Student
	err := s.db.QueryRow(
		`SELECT id, name, email, extra_info, invite_token, created_at FROM students WHERE id = ?`, id,
	).Scan(&st.ID, &st.Name, &st.Email, &st.ExtraInfo, &st.InviteToken, &st.CreatedAt)
	return st, err
}

// GetStudentByToken returns the student owning an invite token, or nil
// if the token is unknown.
func (s *Store) GetStudentByToken(token string) (*model.Student, error) {
	var st model.Student
	err := s.db.QueryRow(
		`SELECT id, name, email, extra_info, invite_token, created_at FROM students WHERE invite_token = ?`, token,
	).Scan(&st.ID, &st.Name, &st.Email, &st.ExtraInfo, &st.InviteToken, &st.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ListStudents returns the full roster in insertion order.
func (s *Store) ListStudents() ([]model.Student, error) {
	rows, err := s.db.Query(
		`SELECT id, name, email, extra_info, invite_token, created_at FROM students ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var students []model.Student
	for rows.Next() {
		var st model.Student
		if err := rows.Scan(&st.ID, &st.Name, &st.Email, &st.ExtraInfo, &st.InviteToken, &st.CreatedAt); err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

// StudentCount returns the roster size.
func (s *Store) StudentCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM students`).Scan(&count)
	return count, err
}
