package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/hiretest/internal/model"
	"github.com/pavelanni/hiretest/internal/store"
)

// Notifier is told about finished evaluations.
type Notifier interface {
	SubmissionEvaluated(ctx context.Context, t model.TestDefinition, sub model.Submission) error
}

// Service ties the builder and evaluator to the store.
type Service struct {
	store        store.Store
	builder      *Builder
	evaluator    *Evaluator
	notifier     Notifier
	autoEvaluate bool
}

// NewService creates a Service. notifier may be nil.
func NewService(st store.Store, b *Builder, e *Evaluator, n Notifier, autoEvaluate bool) *Service {
	return &Service{store: st, builder: b, evaluator: e, notifier: n, autoEvaluate: autoEvaluate}
}

// CreateTest generates a test and stores it.
func (s *Service) CreateTest(ctx context.Context, req GenerateRequest) (model.TestDefinition, error) {
	t, err := s.builder.Build(ctx, req)
	if err != nil {
		return model.TestDefinition{}, err
	}
	id, err := s.store.CreateTest(ctx, t)
	if err != nil {
		return model.TestDefinition{}, fmt.Errorf("store test: %w", err)
	}
	t.ID = id
	slog.Info("created test", "id", id, "title", t.Title, "questions", t.Mix().Total())
	return t, nil
}

// ImportTest normalizes and stores a test that did not come from the
// builder.
func (s *Service) ImportTest(ctx context.Context, t model.TestDefinition) (model.TestDefinition, error) {
	if err := Normalize(&t); err != nil {
		return model.TestDefinition{}, err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	id, err := s.store.CreateTest(ctx, t)
	if err != nil {
		return model.TestDefinition{}, fmt.Errorf("store test: %w", err)
	}
	t.ID = id
	slog.Info("imported test", "id", id, "title", t.Title)
	return t, nil
}

// ImportShareCode stores the test packed in a share code under createdBy.
func (s *Service) ImportShareCode(ctx context.Context, code, createdBy string) (model.TestDefinition, error) {
	t, err := DecodeShareCode(code, createdBy)
	if err != nil {
		return model.TestDefinition{}, err
	}
	return s.ImportTest(ctx, t)
}

// AttemptGrace is how long after the deadline a submission still counts as
// on time.
const AttemptGrace = time.Minute

// StartTest records that student opened the test and returns the attempt
// with its deadline. Starting again returns the first attempt; starting a
// test already submitted fails with store.ErrDuplicate.
func (s *Service) StartTest(ctx context.Context, testID string, student model.User) (model.Attempt, error) {
	t, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return model.Attempt{}, err
	}
	if _, err := s.store.GetSubmissionFor(ctx, testID, student.ID); err == nil {
		return model.Attempt{}, store.ErrDuplicate
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.Attempt{}, err
	}
	start, err := s.store.StartAttempt(ctx, testID, student.ID, time.Now().UTC())
	if err != nil {
		return model.Attempt{}, fmt.Errorf("start attempt: %w", err)
	}
	return model.Attempt{
		TestID:    testID,
		StartedAt: start,
		Deadline:  start.Add(time.Duration(t.DurationMinutes) * time.Minute),
	}, nil
}

// Submit records a student's answers. With auto-evaluation on, the
// submission is evaluated before returning; an evaluation error is logged
// and the unevaluated submission is returned. A submission arriving more
// than AttemptGrace after the attempt's deadline is kept but marked late.
func (s *Service) Submit(ctx context.Context, testID string, student model.User, answers map[string]model.Answer) (model.Submission, error) {
	t, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return model.Submission{}, err
	}
	if err := ValidateAnswers(t, answers); err != nil {
		return model.Submission{}, err
	}
	sub := model.Submission{
		TestID:       testID,
		StudentID:    student.ID,
		StudentName:  student.DisplayName,
		StudentEmail: student.Email,
		Answers:      answers,
		SubmittedAt:  time.Now().UTC(),
	}
	if sub.StudentName == "" {
		sub.StudentName = student.Username
	}
	start, err := s.store.GetAttemptStart(ctx, testID, student.ID)
	if err != nil {
		return model.Submission{}, fmt.Errorf("get attempt start: %w", err)
	}
	if start != nil {
		sub.StartedAt = start
		deadline := start.Add(time.Duration(t.DurationMinutes)*time.Minute + AttemptGrace)
		sub.Late = sub.SubmittedAt.After(deadline)
	}
	id, err := s.store.CreateSubmission(ctx, sub)
	if err != nil {
		return model.Submission{}, err
	}
	sub.ID = id
	slog.Info("submission received", "id", id, "test", testID, "student", student.Username, "answers", len(answers), "late", sub.Late)

	if !s.autoEvaluate {
		return sub, nil
	}
	evaluated, err := s.evaluate(ctx, sub, t)
	if err != nil {
		slog.Error("auto-evaluation failed", "submission", id, "error", err)
		return sub, nil
	}
	return evaluated, nil
}

// EvaluateSubmission evaluates a stored submission and saves the result.
// Evaluating an evaluated submission returns it unchanged.
func (s *Service) EvaluateSubmission(ctx context.Context, id string) (model.Submission, error) {
	sub, err := s.store.GetSubmission(ctx, id)
	if err != nil {
		return model.Submission{}, err
	}
	if sub.Evaluated {
		return sub, nil
	}
	t, err := s.store.GetTest(ctx, sub.TestID)
	if err != nil {
		return model.Submission{}, fmt.Errorf("get test %s: %w", sub.TestID, err)
	}
	return s.evaluate(ctx, sub, t)
}

func (s *Service) evaluate(ctx context.Context, sub model.Submission, t model.TestDefinition) (model.Submission, error) {
	out, err := s.evaluator.Evaluate(ctx, sub, t)
	if err != nil {
		return model.Submission{}, err
	}
	if err := s.store.UpdateSubmissionEvaluation(ctx, out); errors.Is(err, store.ErrAlreadyEvaluated) {
		// Another caller stored its evaluation first.
		slog.Info("submission evaluated concurrently, keeping stored result", "id", out.ID)
		return s.store.GetSubmission(ctx, out.ID)
	} else if err != nil {
		return model.Submission{}, fmt.Errorf("save evaluation: %w", err)
	}
	slog.Info("submission evaluated", "id", out.ID, "test", t.ID, "score", out.TotalScore, "total", t.TotalMarks())
	if s.notifier != nil {
		if err := s.notifier.SubmissionEvaluated(ctx, t, out); err != nil {
			slog.Warn("evaluation notification failed", "submission", out.ID, "error", err)
		}
	}
	return out, nil
}

// BatchResult counts the outcome of a batch evaluation.
type BatchResult struct {
	Evaluated     int `json:"evaluated"`
	Failed        int `json:"failed"`
	FailedAnswers int `json:"failed_answers"`
}

// BatchEvaluate evaluates every pending submission of a test, or of all
// tests when testID is empty. One submission's failure does not stop the
// batch; a cancelled context does.
func (s *Service) BatchEvaluate(ctx context.Context, testID string) (BatchResult, error) {
	var res BatchResult
	if testID != "" {
		if _, err := s.store.GetTest(ctx, testID); err != nil {
			return res, err
		}
	}
	pending, err := s.store.ListPendingSubmissions(ctx, testID)
	if err != nil {
		return res, fmt.Errorf("list pending submissions: %w", err)
	}
	tests := make(map[string]model.TestDefinition)
	for _, sub := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		t, ok := tests[sub.TestID]
		if !ok {
			t, err = s.store.GetTest(ctx, sub.TestID)
			if err != nil {
				slog.Error("batch evaluation: get test", "test", sub.TestID, "error", err)
				res.Failed++
				continue
			}
			tests[sub.TestID] = t
		}
		out, err := s.evaluate(ctx, sub, t)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			slog.Error("batch evaluation failed", "submission", sub.ID, "error", err)
			res.Failed++
			continue
		}
		res.Evaluated++
		for _, ev := range out.Evaluations {
			if ev.Failed {
				res.FailedAnswers++
			}
		}
	}
	if len(pending) > 0 {
		slog.Info("batch evaluation done", "test", testID, "evaluated", res.Evaluated, "failed", res.Failed)
	}
	return res, nil
}

// Analyze returns the performance analysis of an evaluated submission.
func (s *Service) Analyze(ctx context.Context, subID string) (Performance, error) {
	sub, err := s.store.GetSubmission(ctx, subID)
	if err != nil {
		return Performance{}, err
	}
	t, err := s.store.GetTest(ctx, sub.TestID)
	if err != nil {
		return Performance{}, fmt.Errorf("get test %s: %w", sub.TestID, err)
	}
	return s.evaluator.Analyze(ctx, sub, t)
}
