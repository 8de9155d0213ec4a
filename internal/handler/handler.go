package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/unrolled/secure"

	"github.com/pavelanni/hiretest/internal/exam"
	appI18n "github.com/pavelanni/hiretest/internal/i18n"
	"github.com/pavelanni/hiretest/internal/model"
	"github.com/pavelanni/hiretest/internal/store"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  store.Store
	svc    *exam.Service
	config model.ServiceConfig
}

// New creates a new Handler.
func New(s store.Store, svc *exam.Service, cfg model.ServiceConfig) (*Handler, error) {
	if len(cfg.JWTSecret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &Handler{store: s, svc: svc, config: cfg}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	if h.config.SecureHeaders {
		sm := secure.New(secure.Options{
			FrameDeny:          true,
			ContentTypeNosniff: true,
			BrowserXssFilter:   true,
			ReferrerPolicy:     "no-referrer",
			IsDevelopment:      h.config.Development,
		})
		r.Use(sm.Handler)
	}

	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.handleLogin)
		r.Post("/register", h.handleRegister)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Post("/logout", h.handleLogout)

			r.Get("/tests", h.handleListTests)
			r.Get("/tests/{testID}", h.handleGetTest)
			r.Get("/submissions/{subID}", h.handleGetSubmission)
			r.Get("/submissions/{subID}/analysis", h.handleAnalysis)

			r.Group(func(r chi.Router) {
				r.Use(requireRole(model.UserRoleRecruiter, model.UserRoleAdmin))
				r.Post("/tests", h.handleCreateTest)
				r.Post("/tests/import", h.handleImportTest)
				r.Get("/tests/{testID}/share", h.handleShareTest)
				r.Get("/tests/{testID}/submissions", h.handleTestSubmissions)
				r.Post("/tests/{testID}/evaluate", h.handleBatchEvaluate)
				r.Get("/tests/{testID}/analytics", h.handleAnalytics)
				r.Get("/tests/{testID}/report.csv", h.handleResponsesCSV)
				r.Get("/tests/{testID}/questions.csv", h.handleQuestionsCSV)
				r.Get("/tests/{testID}/report.xlsx", h.handleReportXLSX)
				r.Get("/submissions/search", h.handleSearchSubmissions)
				r.Post("/submissions/{subID}/evaluate", h.handleEvaluateSubmission)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireRole(model.UserRoleStudent))
				r.Post("/tests/{testID}/start", h.handleStartTest)
				r.Post("/tests/{testID}/submissions", h.handleSubmit)
				r.Get("/submissions/mine", h.handleMySubmissions)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin))
				r.Get("/users", h.handleListUsers)
				r.Post("/users", h.handleCreateUser)
				r.Post("/users/{userID}/toggle", h.handleToggleUserActive)
			})
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := h.store.UserCount(ctx); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// writeError writes a localized error message.
func writeError(w http.ResponseWriter, r *http.Request, status int, msgID string, data map[string]any) {
	msg := appI18n.Td(r.Context(), msgID, data)
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON reads a JSON body into v, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		slog.Debug("bad request body", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest", nil)
		return false
	}
	return true
}

// handleError maps service and store errors to HTTP responses.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var genErr *exam.GenerationError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		slog.Error("request timed out", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusGatewayTimeout, "ErrInternal", nil)
	case errors.As(err, &genErr):
		slog.Warn("test generation failed", "reason", genErr.Reason, "error", genErr.Err, "raw", genErr.Raw)
		writeError(w, r, http.StatusBadGateway, "ErrGenerationFailed", map[string]any{"Reason": genErr.Reason})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "ErrNotFound", nil)
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, r, http.StatusConflict, "ErrConflict", nil)
	case errors.Is(err, exam.ErrInvalidShareCode):
		writeError(w, r, http.StatusBadRequest, "ErrInvalidShareCode", nil)
	case errors.Is(err, exam.ErrInvalidRequest),
		errors.Is(err, exam.ErrUnknownQuestion),
		errors.Is(err, exam.ErrInvalidAnswer),
		errors.Is(err, exam.ErrInvalidTest):
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", map[string]any{"Detail": err.Error()})
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", nil)
	}
}
