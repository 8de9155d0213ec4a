package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// StartAttempt records the first start of a test by a student and returns
// the stored start time.
func (s *SQLite) StartAttempt(ctx context.Context, testID, studentID string, at time.Time) (time.Time, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (test_id, student_id, started_at) VALUES (?, ?, ?)
		 ON CONFLICT(test_id, student_id) DO NOTHING`,
		testID, studentID, at.UTC(),
	); err != nil {
		return time.Time{}, err
	}
	start, err := s.GetAttemptStart(ctx, testID, studentID)
	if err != nil {
		return time.Time{}, err
	}
	if start == nil {
		return time.Time{}, ErrNotFound
	}
	return *start, nil
}

// GetAttemptStart returns when the student started the test, or nil if
// they never did.
func (s *SQLite) GetAttemptStart(ctx context.Context, testID, studentID string) (*time.Time, error) {
	var start time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at FROM attempts WHERE test_id = ? AND student_id = ?`, testID, studentID,
	).Scan(&start)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &start, nil
}
