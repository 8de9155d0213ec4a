package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/hiretest/internal/model"
	"github.com/pavelanni/hiretest/internal/store"
)

type submitRequest struct {
	Answers map[string]model.Answer `json:"answers"`
}

// studentView hides grading internals a student should not see before
// evaluation. Evaluated submissions are shown in full.
func studentView(s model.Submission) model.Submission {
	if !s.Evaluated {
		s.Evaluations = nil
		s.OverallFeedback = ""
	}
	return s
}

// loadSubmission loads the URL's submission if the user may see it: its
// student, or someone who manages its test.
func (h *Handler) loadSubmission(w http.ResponseWriter, r *http.Request) (model.Submission, bool) {
	sub, err := h.store.GetSubmission(r.Context(), chi.URLParam(r, "subID"))
	if err != nil {
		h.handleError(w, r, err)
		return model.Submission{}, false
	}
	user := model.UserFromContext(r.Context())
	if user.Role == model.UserRoleStudent {
		if sub.StudentID != user.ID {
			writeError(w, r, http.StatusForbidden, "ErrForbidden", nil)
			return model.Submission{}, false
		}
		return sub, true
	}
	t, err := h.store.GetTest(r.Context(), sub.TestID)
	if err != nil {
		h.handleError(w, r, err)
		return model.Submission{}, false
	}
	if !canManage(user, t) {
		writeError(w, r, http.StatusForbidden, "ErrForbidden", nil)
		return model.Submission{}, false
	}
	return sub, true
}

// handleStartTest opens a timed attempt and returns its deadline.
func (h *Handler) handleStartTest(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	att, err := h.svc.StartTest(r.Context(), chi.URLParam(r, "testID"), *user)
	if errors.Is(err, store.ErrDuplicate) {
		writeError(w, r, http.StatusConflict, "ErrAlreadySubmitted", nil)
		return
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, att)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user := model.UserFromContext(r.Context())
	sub, err := h.svc.Submit(r.Context(), chi.URLParam(r, "testID"), *user, req.Answers)
	if errors.Is(err, store.ErrDuplicate) {
		writeError(w, r, http.StatusConflict, "ErrAlreadySubmitted", nil)
		return
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, studentView(sub))
}

func (h *Handler) handleMySubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.store.ListSubmissionsByStudent(r.Context(), model.UserFromContext(r.Context()).ID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	out := make([]model.Submission, 0, len(subs))
	for _, s := range subs {
		out = append(out, studentView(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.loadSubmission(w, r)
	if !ok {
		return
	}
	if model.UserFromContext(r.Context()).Role == model.UserRoleStudent {
		sub = studentView(sub)
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.loadSubmission(w, r)
	if !ok {
		return
	}
	if !sub.Evaluated {
		writeError(w, r, http.StatusConflict, "ErrNotEvaluated", nil)
		return
	}
	p, err := h.svc.Analyze(r.Context(), sub.ID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleEvaluateSubmission(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.loadSubmission(w, r)
	if !ok {
		return
	}
	out, err := h.svc.EvaluateSubmission(r.Context(), sub.ID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSearchSubmissions searches submissions to the recruiter's own
// tests by student name or email.
func (h *Handler) handleSearchSubmissions(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", map[string]any{"Detail": "query parameter q is required"})
		return
	}
	subs, err := h.store.SearchSubmissions(r.Context(), model.UserFromContext(r.Context()).ID, q)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(subs))
}
