package handler

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pavelanni/hiretest/internal/model"
	"github.com/pavelanni/hiretest/internal/report"
)

// testResults loads a managed test with all its submissions.
func (h *Handler) testResults(w http.ResponseWriter, r *http.Request) (model.TestDefinition, []model.Submission, bool) {
	t, ok := h.managedTest(w, r)
	if !ok {
		return t, nil, false
	}
	subs, err := h.store.ListSubmissionsByTest(r.Context(), t.ID)
	if err != nil {
		h.handleError(w, r, err)
		return t, nil, false
	}
	return t, subs, true
}

func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	t, subs, ok := h.testResults(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report.Compute(t, subs))
}

func (h *Handler) handleResponsesCSV(w http.ResponseWriter, r *http.Request) {
	t, subs, ok := h.testResults(w, r)
	if !ok {
		return
	}
	h.sendFile(w, r, "text/csv; charset=utf-8", fmt.Sprintf("test_report_%s.csv", t.ID), func(buf *bytes.Buffer) error {
		return report.WriteResponsesCSV(buf, t, subs)
	})
}

func (h *Handler) handleQuestionsCSV(w http.ResponseWriter, r *http.Request) {
	t, subs, ok := h.testResults(w, r)
	if !ok {
		return
	}
	h.sendFile(w, r, "text/csv; charset=utf-8", fmt.Sprintf("question_analysis_%s.csv", t.ID), func(buf *bytes.Buffer) error {
		return report.WriteQuestionsCSV(buf, report.Compute(t, subs))
	})
}

func (h *Handler) handleReportXLSX(w http.ResponseWriter, r *http.Request) {
	t, subs, ok := h.testResults(w, r)
	if !ok {
		return
	}
	const xlsxType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	h.sendFile(w, r, xlsxType, fmt.Sprintf("test_report_%s.xlsx", t.ID), func(buf *bytes.Buffer) error {
		return report.WriteXLSX(buf, t, subs)
	})
}

// sendFile renders into a buffer first so a failed export still gets a
// proper error response.
func (h *Handler) sendFile(w http.ResponseWriter, r *http.Request, contentType, filename string, render func(*bytes.Buffer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if _, err := buf.WriteTo(w); err != nil {
		slog.Error("write export", "file", filename, "error", err)
	}
}
