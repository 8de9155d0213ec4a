package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/pavelanni/hiretest/internal/i18n"
	"github.com/pavelanni/hiretest/internal/model"
	"github.com/pavelanni/hiretest/internal/store"
)

const minPasswordLength = 8

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      model.User `json:"user"`
}

type registerRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// issueToken signs a token whose jti is the auth session ID.
func (h *Handler) issueToken(sess model.AuthSession) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        sess.ID,
		Subject:   sess.UserID,
		IssuedAt:  jwt.NewNumericDate(sess.CreatedAt),
		ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.config.JWTSecret)
}

func (h *Handler) parseToken(header string) (*jwt.RegisteredClaims, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, errors.New("missing bearer token")
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return h.config.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, errors.New("token without session")
	}
	return claims, nil
}

// requireAuth is middleware that checks for a valid bearer token backed by
// a live auth session.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := h.parseToken(r.Header.Get("Authorization"))
		if err != nil {
			slog.Debug("rejected token", "error", err)
			writeError(w, r, http.StatusUnauthorized, "ErrUnauthorized", nil)
			return
		}

		authSess, err := h.store.GetAuthSession(r.Context(), claims.ID)
		if err != nil {
			slog.Error("failed to get auth session", "error", err)
			writeError(w, r, http.StatusUnauthorized, "ErrUnauthorized", nil)
			return
		}
		if authSess == nil || authSess.UserID != claims.Subject {
			writeError(w, r, http.StatusUnauthorized, "ErrUnauthorized", nil)
			return
		}

		user, err := h.store.GetUserByID(r.Context(), authSess.UserID)
		if err != nil || user == nil || !user.Active {
			writeError(w, r, http.StatusUnauthorized, "ErrUnauthorized", nil)
			return
		}

		ctx := model.ContextWithUser(r.Context(), user)
		ctx = model.ContextWithSessionID(ctx, authSess.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				writeError(w, r, http.StatusUnauthorized, "ErrUnauthorized", nil)
				return
			}
			for _, role := range allowed {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, r, http.StatusForbidden, "ErrForbidden", nil)
		})
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		slog.Error("failed to get user", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", nil)
		return
	}
	if user == nil {
		writeError(w, r, http.StatusUnauthorized, "ErrInvalidCredentials", nil)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		writeError(w, r, http.StatusUnauthorized, "ErrInvalidCredentials", nil)
		return
	}
	if !user.Active {
		writeError(w, r, http.StatusForbidden, "ErrAccountDisabled", nil)
		return
	}

	sess, err := h.store.CreateAuthSession(r.Context(), user.ID, h.config.TokenTTL)
	if err != nil {
		slog.Error("failed to create auth session", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", nil)
		return
	}
	token, err := h.issueToken(sess)
	if err != nil {
		slog.Error("failed to sign token", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", nil)
		return
	}
	slog.Info("user logged in", "username", user.Username, "role", user.Role)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: sess.ExpiresAt, User: *user})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id := model.SessionIDFromContext(r.Context()); id != "" {
		if err := h.store.DeleteAuthSession(r.Context(), id); err != nil {
			slog.Error("failed to delete auth session", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: appI18n.T(r.Context(), "MsgLoggedOut")})
}

// handleRegister creates a student account.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, ok := h.newUser(w, r, req.Username, req.Password, req.DisplayName, req.Email, model.UserRoleStudent)
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// newUser validates, hashes and stores a user, writing the error response
// itself on failure.
func (h *Handler) newUser(w http.ResponseWriter, r *http.Request, username, password, displayName, email string, role model.UserRole) (model.User, bool) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", map[string]any{"Detail": "username and password required"})
		return model.User{}, false
	}
	if len(password) < minPasswordLength {
		writeError(w, r, http.StatusBadRequest, "ErrPasswordTooShort", map[string]any{"Min": minPasswordLength})
		return model.User{}, false
	}
	if !model.ValidRole(role) {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRole", map[string]any{"Role": role})
		return model.User{}, false
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", nil)
		return model.User{}, false
	}
	if displayName == "" {
		displayName = username
	}

	u := model.User{
		Username:     username,
		DisplayName:  displayName,
		Email:        strings.TrimSpace(email),
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	id, err := h.store.CreateUser(r.Context(), u)
	if errors.Is(err, store.ErrDuplicate) {
		writeError(w, r, http.StatusConflict, "ErrUsernameTaken", nil)
		return model.User{}, false
	}
	if err != nil {
		slog.Error("failed to create user", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", nil)
		return model.User{}, false
	}
	u.ID = id
	slog.Info("user created", "username", u.Username, "role", u.Role)
	return u, true
}
