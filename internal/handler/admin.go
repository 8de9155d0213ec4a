package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/hiretest/internal/model"
	"github.com/pavelanni/hiretest/internal/store"
)

type createUserRequest struct {
	Username    string         `json:"username"`
	Password    string         `json:"password"`
	DisplayName string         `json:"display_name"`
	Email       string         `json:"email"`
	Role        model.UserRole `json:"role"`
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		slog.Error("failed to list users", "error", err)
		h.handleError(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Role == "" {
		req.Role = model.UserRoleRecruiter
	}
	user, ok := h.newUser(w, r, req.Username, req.Password, req.DisplayName, req.Email, req.Role)
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userID")
	if me := model.UserFromContext(r.Context()); me != nil && me.ID == id {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", map[string]any{"Detail": "cannot deactivate your own account"})
		return
	}

	if err := h.store.ToggleUserActive(r.Context(), id); err != nil {
		slog.Error("failed to toggle user active", "id", id, "error", err)
		h.handleError(w, r, err)
		return
	}
	user, err := h.store.GetUserByID(r.Context(), id)
	if err == nil && user == nil {
		err = store.ErrNotFound
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	slog.Info("user active state changed", "username", user.Username, "active", user.Active)
	writeJSON(w, http.StatusOK, user)
}
