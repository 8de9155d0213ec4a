package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/hiretest/internal/model"
)

var (
	// ErrNotFound is returned when a test or submission does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("already exists")
	// ErrAlreadyEvaluated is returned when an evaluation is saved over one
	// that another caller stored first.
	ErrAlreadyEvaluated = errors.New("submission already evaluated")
)

// Store persists tests, submissions, users and auth sessions. Every write is
// atomic per document; nothing spans documents.
type Store interface {
	Close() error

	CreateTest(ctx context.Context, t model.TestDefinition) (string, error)
	GetTest(ctx context.Context, id string) (model.TestDefinition, error)
	ListTests(ctx context.Context) ([]model.TestDefinition, error)
	ListTestsByCreator(ctx context.Context, createdBy string) ([]model.TestDefinition, error)

	CreateSubmission(ctx context.Context, s model.Submission) (string, error)
	GetSubmission(ctx context.Context, id string) (model.Submission, error)
	GetSubmissionFor(ctx context.Context, testID, studentID string) (model.Submission, error)
	ListSubmissionsByTest(ctx context.Context, testID string) ([]model.Submission, error)
	ListSubmissionsByStudent(ctx context.Context, studentID string) ([]model.Submission, error)
	// ListPendingSubmissions returns unevaluated submissions; an empty testID
	// means all tests.
	ListPendingSubmissions(ctx context.Context, testID string) ([]model.Submission, error)
	// UpdateSubmissionEvaluation writes only the evaluation fields of s, and
	// only while the stored submission is still pending; otherwise it returns
	// ErrAlreadyEvaluated and leaves the stored evaluation alone.
	UpdateSubmissionEvaluation(ctx context.Context, s model.Submission) error
	SearchSubmissions(ctx context.Context, createdBy, query string) ([]model.Submission, error)

	// StartAttempt records when a student opened a test. Only the first call
	// for a (test, student) pair is stored; every call returns that time.
	StartAttempt(ctx context.Context, testID, studentID string, at time.Time) (time.Time, error)
	// GetAttemptStart returns the recorded start, or nil if there is none.
	GetAttemptStart(ctx context.Context, testID, studentID string) (*time.Time, error)

	CreateUser(ctx context.Context, u model.User) (string, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	ToggleUserActive(ctx context.Context, id string) error
	UserCount(ctx context.Context) (int, error)

	CreateAuthSession(ctx context.Context, userID string, ttl time.Duration) (model.AuthSession, error)
	GetAuthSession(ctx context.Context, id string) (*model.AuthSession, error)
	DeleteAuthSession(ctx context.Context, id string) error
	CleanupExpiredSessions(ctx context.Context) (int64, error)

	GetImportedFileHash(ctx context.Context, path string) (string, error)
	SetImportedFileHash(ctx context.Context, path, hash string) error
}

// Open connects to the backend named by driver ("sqlite" or "mongo").
func Open(ctx context.Context, driver, dsn, database string) (Store, error) {
	switch driver {
	case "", "sqlite":
		return New(dsn)
	case "mongo", "mongodb":
		return NewMongo(ctx, dsn, database)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}
