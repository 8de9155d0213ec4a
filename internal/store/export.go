package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/hiretest/internal/model"
)

// ExportTest builds an export-ready result set for every submission to a test.
func ExportTest(ctx context.Context, s Store, testID, variant string) (model.TestExport, error) {
	t, err := s.GetTest(ctx, testID)
	if err != nil {
		return model.TestExport{}, fmt.Errorf("get test %s: %w", testID, err)
	}
	subs, err := s.ListSubmissionsByTest(ctx, testID)
	if err != nil {
		return model.TestExport{}, fmt.Errorf("list submissions: %w", err)
	}

	exp := model.TestExport{
		TestID:        t.ID,
		Title:         t.Title,
		Role:          t.Role,
		PromptVariant: variant,
		NumQuestions:  t.Mix().Total(),
		TotalMarks:    t.TotalMarks(),
		ExportedAt:    time.Now().UTC(),
		Results:       make([]model.StudentResult, 0, len(subs)),
	}
	for _, sub := range subs {
		exp.Results = append(exp.Results, model.NewStudentResult(t, sub))
	}
	return exp, nil
}
