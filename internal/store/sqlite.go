package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/hiretest/internal/model"

	_ "modernc.org/sqlite"
)

// SQLite stores tests and submissions as JSON documents in SQLite, with the
// fields used for lookups copied into indexed columns.
type SQLite struct {
	db *sql.DB
}

// New opens (and migrates) the SQLite database at dbPath.
func New(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite has a single writer, and ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS tests (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		doc TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tests_created_by ON tests (created_by, created_at DESC);

	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		test_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		student_name TEXT NOT NULL DEFAULT '',
		student_email TEXT NOT NULL DEFAULT '',
		submitted_at DATETIME NOT NULL,
		evaluated INTEGER NOT NULL DEFAULT 0,
		doc TEXT NOT NULL,
		UNIQUE (test_id, student_id),
		FOREIGN KEY (test_id) REFERENCES tests(id)
	);
	CREATE INDEX IF NOT EXISTS idx_submissions_student ON submissions (student_id);

	CREATE TABLE IF NOT EXISTS attempts (
		test_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		PRIMARY KEY (test_id, student_id)
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateTest stores a test definition and returns its ID.
func (s *SQLite) CreateTest(ctx context.Context, t model.TestDefinition) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	doc, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal test: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tests (id, title, created_by, created_at, doc) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.CreatedBy, t.CreatedAt, string(doc),
	)
	if isUniqueViolation(err) {
		return "", ErrDuplicate
	}
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

// GetTest returns a test by ID.
func (s *SQLite) GetTest(ctx context.Context, id string) (model.TestDefinition, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM tests WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TestDefinition{}, ErrNotFound
	}
	if err != nil {
		return model.TestDefinition{}, err
	}
	var t model.TestDefinition
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return model.TestDefinition{}, fmt.Errorf("decode test %s: %w", id, err)
	}
	return t, nil
}

// ListTests returns all tests, newest first.
func (s *SQLite) ListTests(ctx context.Context) ([]model.TestDefinition, error) {
	return s.queryTests(ctx, `SELECT doc FROM tests ORDER BY created_at DESC`)
}

// ListTestsByCreator returns a recruiter's tests, newest first.
func (s *SQLite) ListTestsByCreator(ctx context.Context, createdBy string) ([]model.TestDefinition, error) {
	return s.queryTests(ctx, `SELECT doc FROM tests WHERE created_by = ? ORDER BY created_at DESC`, createdBy)
}

func (s *SQLite) queryTests(ctx context.Context, query string, args ...any) ([]model.TestDefinition, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tests []model.TestDefinition
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var t model.TestDefinition
		if err := json.Unmarshal([]byte(doc), &t); err != nil {
			return nil, fmt.Errorf("decode test: %w", err)
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

// CreateSubmission stores a submission. A second submission by the same
// student for the same test fails with ErrDuplicate.
func (s *SQLite) CreateSubmission(ctx context.Context, sub model.Submission) (string, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	doc, err := json.Marshal(sub)
	if err != nil {
		return "", fmt.Errorf("marshal submission: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, test_id, student_id, student_name, student_email, submitted_at, evaluated, doc)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.TestID, sub.StudentID, sub.StudentName, sub.StudentEmail, sub.SubmittedAt, sub.Evaluated, string(doc),
	)
	if isUniqueViolation(err) {
		return "", ErrDuplicate
	}
	if err != nil {
		return "", err
	}
	return sub.ID, nil
}

// GetSubmission returns a submission by ID.
func (s *SQLite) GetSubmission(ctx context.Context, id string) (model.Submission, error) {
	return s.getSubmission(ctx, s.db, `SELECT doc FROM submissions WHERE id = ?`, id)
}

// GetSubmissionFor returns a student's submission for a test.
func (s *SQLite) GetSubmissionFor(ctx context.Context, testID, studentID string) (model.Submission, error) {
	return s.getSubmission(ctx, s.db, `SELECT doc FROM submissions WHERE test_id = ? AND student_id = ?`, testID, studentID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLite) getSubmission(ctx context.Context, q queryRower, query string, args ...any) (model.Submission, error) {
	var doc string
	err := q.QueryRowContext(ctx, query, args...).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Submission{}, ErrNotFound
	}
	if err != nil {
		return model.Submission{}, err
	}
	var sub model.Submission
	if err := json.Unmarshal([]byte(doc), &sub); err != nil {
		return model.Submission{}, fmt.Errorf("decode submission: %w", err)
	}
	return sub, nil
}

// ListSubmissionsByTest returns a test's submissions, newest first.
func (s *SQLite) ListSubmissionsByTest(ctx context.Context, testID string) ([]model.Submission, error) {
	return s.querySubmissions(ctx, `SELECT doc FROM submissions WHERE test_id = ? ORDER BY submitted_at DESC`, testID)
}

// ListSubmissionsByStudent returns a student's submissions, newest first.
func (s *SQLite) ListSubmissionsByStudent(ctx context.Context, studentID string) ([]model.Submission, error) {
	return s.querySubmissions(ctx, `SELECT doc FROM submissions WHERE student_id = ? ORDER BY submitted_at DESC`, studentID)
}

// ListPendingSubmissions returns unevaluated submissions, oldest first.
func (s *SQLite) ListPendingSubmissions(ctx context.Context, testID string) ([]model.Submission, error) {
	query := `SELECT doc FROM submissions WHERE evaluated = 0`
	var args []any
	if testID != "" {
		query += ` AND test_id = ?`
		args = append(args, testID)
	}
	query += ` ORDER BY submitted_at`
	return s.querySubmissions(ctx, query, args...)
}

// SearchSubmissions matches student name or email (case-insensitive
// substring) across the tests created by createdBy.
func (s *SQLite) SearchSubmissions(ctx context.Context, createdBy, query string) ([]model.Submission, error) {
	pattern := "%" + escapeLike(query) + "%"
	return s.querySubmissions(ctx,
		`SELECT s.doc FROM submissions s JOIN tests t ON s.test_id = t.id
		 WHERE t.created_by = ?
		   AND (s.student_name LIKE ? ESCAPE '\' OR s.student_email LIKE ? ESCAPE '\')
		 ORDER BY s.submitted_at DESC`,
		createdBy, pattern, pattern,
	)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *SQLite) querySubmissions(ctx context.Context, query string, args ...any) ([]model.Submission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []model.Submission
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var sub model.Submission
		if err := json.Unmarshal([]byte(doc), &sub); err != nil {
			return nil, fmt.Errorf("decode submission: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// UpdateSubmissionEvaluation copies the evaluation fields of sub onto the
// stored document if it is still pending. Answers and identity fields are
// left untouched.
func (s *SQLite) UpdateSubmissionEvaluation(ctx context.Context, sub model.Submission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cur, err := s.getSubmission(ctx, tx, `SELECT doc FROM submissions WHERE id = ?`, sub.ID)
	if err != nil {
		return err
	}
	if cur.Evaluated {
		return ErrAlreadyEvaluated
	}
	cur.Evaluations = sub.Evaluations
	cur.TotalScore = sub.TotalScore
	cur.OverallFeedback = sub.OverallFeedback
	cur.Evaluated = sub.Evaluated
	cur.EvaluatedAt = sub.EvaluatedAt
	cur.EvaluatedBy = sub.EvaluatedBy

	doc, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE submissions SET evaluated = ?, doc = ? WHERE id = ? AND evaluated = 0`,
		cur.Evaluated, string(doc), cur.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrAlreadyEvaluated
	}
	return tx.Commit()
}
