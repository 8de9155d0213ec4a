package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent takes tests.
	UserRoleStudent UserRole = "student"
	// UserRoleRecruiter generates tests and reviews submissions.
	UserRoleRecruiter UserRole = "recruiter"
	// UserRoleAdmin manages accounts.
	UserRoleAdmin UserRole = "admin"
)

// ValidRole reports whether r is a known role.
func ValidRole(r UserRole) bool {
	switch r {
	case UserRoleStudent, UserRoleRecruiter, UserRoleAdmin:
		return true
	}
	return false
}

// User represents a system user.
type User struct {
	ID           string    `json:"id" bson:"_id"`
	Username     string    `json:"username" bson:"username"`
	DisplayName  string    `json:"display_name" bson:"display_name"`
	Email        string    `json:"email" bson:"email"`
	PasswordHash string    `json:"-" bson:"password_hash"`
	Role         UserRole  `json:"role" bson:"role"`
	Active       bool      `json:"active" bson:"active"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
}

// AuthSession represents an authentication session. Its ID is carried as the
// token's jti claim so that deleting the session revokes the token.
type AuthSession struct {
	ID        string    `json:"id" bson:"_id"`
	UserID    string    `json:"user_id" bson:"user_id"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at"`
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

type sessionCtxKey struct{}

// ContextWithSessionID stores the auth session ID in context.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, id)
}

// SessionIDFromContext retrieves the auth session ID (empty string if not set).
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionCtxKey{}).(string)
	return id
}

// Difficulty represents test difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ValidDifficulty reports whether d is a known difficulty.
func ValidDifficulty(d Difficulty) bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// ServiceConfig holds runtime parameters set via CLI flags.
type ServiceConfig struct {
	AutoEvaluate  bool   // evaluate submissions as soon as they arrive
	PromptVariant string // grading prompt variant (strict, standard, lenient)
	SecureHeaders bool
	Development   bool
	TokenTTL      time.Duration
	JWTSecret     []byte
}
