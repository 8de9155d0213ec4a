package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/hiretest/internal/exam"
	appI18n "github.com/pavelanni/hiretest/internal/i18n"
	"github.com/pavelanni/hiretest/internal/model"
)

type shareResponse struct {
	Code string `json:"code"`
}

type importRequest struct {
	Code string `json:"code"`
}

type batchResponse struct {
	exam.BatchResult
	Message string `json:"message"`
}

// canManage reports whether u may see answer keys and results of t.
func canManage(u *model.User, t model.TestDefinition) bool {
	return u.Role == model.UserRoleAdmin || (u.Role == model.UserRoleRecruiter && t.CreatedBy == u.ID)
}

func (h *Handler) loadTest(w http.ResponseWriter, r *http.Request) (model.TestDefinition, bool) {
	t, err := h.store.GetTest(r.Context(), chi.URLParam(r, "testID"))
	if err != nil {
		h.handleError(w, r, err)
		return model.TestDefinition{}, false
	}
	return t, true
}

// managedTest loads the URL's test and checks the user may manage it.
func (h *Handler) managedTest(w http.ResponseWriter, r *http.Request) (model.TestDefinition, bool) {
	t, ok := h.loadTest(w, r)
	if !ok {
		return t, false
	}
	if !canManage(model.UserFromContext(r.Context()), t) {
		writeError(w, r, http.StatusForbidden, "ErrForbidden", nil)
		return model.TestDefinition{}, false
	}
	return t, true
}

// handleListTests lists a recruiter's own tests, or every test for admins
// and students.
func (h *Handler) handleListTests(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	var (
		tests []model.TestDefinition
		err   error
	)
	if user.Role == model.UserRoleRecruiter {
		tests, err = h.store.ListTestsByCreator(r.Context(), user.ID)
	} else {
		tests, err = h.store.ListTests(r.Context())
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	out := make([]model.TestSummary, 0, len(tests))
	for _, t := range tests {
		out = append(out, t.Summary())
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetTest returns the full test to those who manage it and a copy
// without answer keys to everyone else.
func (h *Handler) handleGetTest(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTest(w, r)
	if !ok {
		return
	}
	user := model.UserFromContext(r.Context())
	if canManage(user, t) {
		writeJSON(w, http.StatusOK, t)
		return
	}
	if user.Role != model.UserRoleStudent {
		writeError(w, r, http.StatusForbidden, "ErrForbidden", nil)
		return
	}
	writeJSON(w, http.StatusOK, t.Redacted())
}

func (h *Handler) handleCreateTest(w http.ResponseWriter, r *http.Request) {
	var req exam.GenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.CreatedBy = model.UserFromContext(r.Context()).ID
	t, err := h.svc.CreateTest(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) handleImportTest(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := h.svc.ImportShareCode(r.Context(), req.Code, model.UserFromContext(r.Context()).ID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) handleShareTest(w http.ResponseWriter, r *http.Request) {
	t, ok := h.managedTest(w, r)
	if !ok {
		return
	}
	code, err := exam.EncodeShareCode(t)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shareResponse{Code: code})
}

func (h *Handler) handleTestSubmissions(w http.ResponseWriter, r *http.Request) {
	t, ok := h.managedTest(w, r)
	if !ok {
		return
	}
	subs, err := h.store.ListSubmissionsByTest(r.Context(), t.ID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(subs))
}

func (h *Handler) handleBatchEvaluate(w http.ResponseWriter, r *http.Request) {
	t, ok := h.managedTest(w, r)
	if !ok {
		return
	}
	res, err := h.svc.BatchEvaluate(r.Context(), t.ID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{
		BatchResult: res,
		Message:     appI18n.Tp(r.Context(), "SubmissionsEvaluated", res.Evaluated),
	})
}

func nonNil(subs []model.Submission) []model.Submission {
	if subs == nil {
		return []model.Submission{}
	}
	return subs
}
