package exam

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/hiretest/internal/llm"
	"github.com/pavelanni/hiretest/internal/llm/prompts"
	"github.com/pavelanni/hiretest/internal/model"
	"github.com/pavelanni/hiretest/internal/store"
)

type recordingNotifier struct {
	events []string
	err    error
}

func (n *recordingNotifier) SubmissionEvaluated(_ context.Context, _ model.TestDefinition, sub model.Submission) error {
	n.events = append(n.events, sub.ID)
	return n.err
}

func newTestService(t *testing.T, g *fakeGrader, n Notifier, auto bool) (*Service, store.Store) {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	svc := NewService(st, NewBuilder(&fakeGenerator{}), NewEvaluator(g, ""), n, auto)
	if _, err := st.CreateTest(context.Background(), sampleTest()); err != nil {
		t.Fatalf("create test: %v", err)
	}
	return svc, st
}

func student(id string) model.User {
	return model.User{ID: id, Username: id, Email: id + "@example.com", Role: model.UserRoleStudent}
}

func TestServiceCreateTest(t *testing.T) {
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	gen := &fakeGenerator{raw: generatedJSON(t, mcqSection(5))}
	svc := NewService(st, NewBuilder(gen), NewEvaluator(&fakeGrader{}, ""), nil, false)

	req := validRequest()
	req.CreatedBy = "rec-1"
	created, err := svc.CreateTest(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateTest: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected an assigned ID")
	}
	got, err := st.GetTest(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetTest: %v", err)
	}
	if got.CreatedBy != "rec-1" || got.Mix().MCQ != 5 {
		t.Errorf("stored test = %+v", got.Summary())
	}
}

func TestServiceSubmit(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, &fakeGrader{}, nil, false)

	_, err := svc.Submit(ctx, "t1", student("alice"), map[string]model.Answer{"q9": {Text: "x"}})
	if !errors.Is(err, ErrUnknownQuestion) {
		t.Errorf("expected ErrUnknownQuestion, got %v", err)
	}
	_, err = svc.Submit(ctx, "t1", student("alice"), map[string]model.Answer{"q1": {ChoiceIndex: intPtr(7)}})
	if !errors.Is(err, ErrInvalidAnswer) {
		t.Errorf("expected ErrInvalidAnswer, got %v", err)
	}
	_, err = svc.Submit(ctx, "missing", student("alice"), nil)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	sub, err := svc.Submit(ctx, "t1", student("alice"), map[string]model.Answer{"q1": {ChoiceIndex: intPtr(1)}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.ID == "" || sub.Evaluated {
		t.Errorf("unexpected submission: %+v", sub)
	}
	if sub.StudentName != "alice" {
		t.Errorf("student name = %q, want username fallback", sub.StudentName)
	}

	_, err = svc.Submit(ctx, "t1", student("alice"), nil)
	if !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate on second submission, got %v", err)
	}
}

func TestServiceSubmitAutoEvaluates(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{}
	svc, st := newTestService(t, &fakeGrader{}, n, true)

	sub, err := svc.Submit(ctx, "t1", student("bob"), map[string]model.Answer{
		"q1": {ChoiceIndex: intPtr(1)},
		"q4": {Text: "B-trees"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !sub.Evaluated || sub.TotalScore != 3.5 {
		t.Errorf("expected evaluated 3.5, got evaluated=%v score=%v", sub.Evaluated, sub.TotalScore)
	}
	stored, err := st.GetSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if !stored.Evaluated || stored.TotalScore != 3.5 {
		t.Errorf("evaluation not persisted: %+v", stored)
	}
	if len(n.events) != 1 || n.events[0] != sub.ID {
		t.Errorf("notifier events = %v", n.events)
	}
}

func TestServiceEvaluateSubmission(t *testing.T) {
	ctx := context.Background()
	g := &fakeGrader{}
	n := &recordingNotifier{err: errors.New("webhook down")}
	svc, _ := newTestService(t, g, n, false)

	sub, err := svc.Submit(ctx, "t1", student("carol"), map[string]model.Answer{"q3": {Text: "return s[::-1]"}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	first, err := svc.EvaluateSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("EvaluateSubmission: %v", err)
	}
	if first.TotalScore != 5 {
		t.Errorf("score = %v, want 5", first.TotalScore)
	}
	second, err := svc.EvaluateSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("second EvaluateSubmission: %v", err)
	}
	if g.calls != 1 || second.TotalScore != first.TotalScore {
		t.Errorf("re-evaluation changed state: calls=%d score=%v", g.calls, second.TotalScore)
	}
	if len(n.events) != 1 {
		t.Errorf("notifier should fire once, got %d", len(n.events))
	}

	if _, err := svc.EvaluateSubmission(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestServiceBatchEvaluate(t *testing.T) {
	ctx := context.Background()
	g := &fakeGrader{grade: func(q model.Question, answer string, _ int) (*llm.GradeResult, error) {
		if answer == "broken" {
			return nil, llm.ErrMalformed
		}
		return &llm.GradeResult{Score: 1, Feedback: "ok"}, nil
	}}
	svc, _ := newTestService(t, g, nil, false)

	answers := []map[string]model.Answer{
		{"q1": {ChoiceIndex: intPtr(1)}},
		{"q4": {Text: "fine"}},
		{"q4": {Text: "broken"}},
	}
	for i, a := range answers {
		if _, err := svc.Submit(ctx, "t1", student(string(rune('a'+i))), a); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}

	res, err := svc.BatchEvaluate(ctx, "t1")
	if err != nil {
		t.Fatalf("BatchEvaluate: %v", err)
	}
	want := BatchResult{Evaluated: 3, Failed: 0, FailedAnswers: 1}
	if res != want {
		t.Errorf("result = %+v, want %+v", res, want)
	}

	res, err = svc.BatchEvaluate(ctx, "")
	if err != nil {
		t.Fatalf("second BatchEvaluate: %v", err)
	}
	if res.Evaluated != 0 {
		t.Errorf("nothing should be pending, evaluated %d", res.Evaluated)
	}

	if _, err := svc.BatchEvaluate(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestServiceBatchEvaluateCancelled(t *testing.T) {
	svc, _ := newTestService(t, &fakeGrader{}, nil, false)
	if _, err := svc.Submit(context.Background(), "t1", student("dave"), map[string]model.Answer{"q4": {Text: "x"}}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.BatchEvaluate(ctx, ""); err == nil {
		t.Error("expected an error from a cancelled batch")
	}
}

func TestServiceImportShareCode(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t, &fakeGrader{}, nil, false)

	code, err := EncodeShareCode(sampleTest())
	if err != nil {
		t.Fatalf("EncodeShareCode: %v", err)
	}
	imported, err := svc.ImportShareCode(ctx, code, "rec-2")
	if err != nil {
		t.Fatalf("ImportShareCode: %v", err)
	}
	if imported.ID == "" || imported.ID == "t1" {
		t.Errorf("imported test should get a new ID, got %q", imported.ID)
	}
	mine, err := st.ListTestsByCreator(ctx, "rec-2")
	if err != nil {
		t.Fatalf("ListTestsByCreator: %v", err)
	}
	if len(mine) != 1 || mine[0].TotalMarks() != sampleTest().TotalMarks() {
		t.Errorf("imported tests = %+v", mine)
	}

	if _, err := svc.ImportShareCode(ctx, "!!!", "rec-2"); !errors.Is(err, ErrInvalidShareCode) {
		t.Errorf("expected ErrInvalidShareCode, got %v", err)
	}
}

func TestServiceAnalyze(t *testing.T) {
	ctx := context.Background()
	g := &fakeGrader{analysis: &llm.Analysis{Summary: "Promising", Recommendations: []string{"Practice SQL"}}}
	svc, _ := newTestService(t, g, nil, true)

	sub, err := svc.Submit(ctx, "t1", student("erin"), map[string]model.Answer{"q1": {ChoiceIndex: intPtr(1)}, "q2": {ChoiceIndex: intPtr(0)}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	p, err := svc.Analyze(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if p.Analysis == nil || p.Analysis.Summary != "Promising" {
		t.Errorf("analysis = %+v", p.Analysis)
	}
	if len(p.Strengths) != 1 || p.Strengths[0] != "Multiple Choice" {
		t.Errorf("strengths = %v", p.Strengths)
	}
}

// gatedGrader holds the first two grading calls until both have arrived,
// so two evaluations of one submission overlap.
type gatedGrader struct {
	mu      sync.Mutex
	calls   int
	arrived sync.WaitGroup
}

func newGatedGrader() *gatedGrader {
	g := &gatedGrader{}
	g.arrived.Add(2)
	return g
}

func (g *gatedGrader) GradeAnswer(_ context.Context, _ prompts.PromptVariant, q model.Question, _ string) (*llm.GradeResult, string, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()
	if n <= 2 {
		g.arrived.Done()
	}
	done := make(chan struct{})
	go func() {
		g.arrived.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	return &llm.GradeResult{Score: float64(3 - n), Feedback: fmt.Sprintf("call %d", n)}, "{}", nil
}

func (g *gatedGrader) AnalyzePerformance(context.Context, prompts.AnalysisData) (*llm.Analysis, error) {
	return nil, errors.New("not used")
}

func TestServiceEvaluateSubmissionConcurrent(t *testing.T) {
	ctx := context.Background()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	if _, err := st.CreateTest(ctx, sampleTest()); err != nil {
		t.Fatalf("create test: %v", err)
	}
	n := &recordingNotifier{}
	svc := NewService(st, NewBuilder(&fakeGenerator{}), NewEvaluator(newGatedGrader(), ""), n, false)

	sub, err := svc.Submit(ctx, "t1", student("dave"), map[string]model.Answer{"q3": {Text: "code"}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]model.Submission, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.EvaluateSubmission(ctx, sub.ID)
		}()
	}
	wg.Wait()

	stored, err := st.GetSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if !stored.Evaluated {
		t.Fatal("submission not evaluated")
	}
	for i := range 2 {
		if errs[i] != nil {
			t.Errorf("evaluation %d: %v", i, errs[i])
			continue
		}
		if results[i].TotalScore != stored.TotalScore {
			t.Errorf("evaluation %d returned score %v, stored %v", i, results[i].TotalScore, stored.TotalScore)
		}
	}
	if len(n.events) != 1 {
		t.Errorf("notifier fired %d times, want 1", len(n.events))
	}
}

func TestServiceStartTest(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, &fakeGrader{}, nil, false)

	first, err := svc.StartTest(ctx, "t1", student("erin"))
	if err != nil {
		t.Fatalf("StartTest: %v", err)
	}
	if first.TestID != "t1" || first.StartedAt.IsZero() || first.Deadline.Before(first.StartedAt) {
		t.Errorf("attempt = %+v", first)
	}
	again, err := svc.StartTest(ctx, "t1", student("erin"))
	if err != nil {
		t.Fatalf("StartTest again: %v", err)
	}
	if !again.StartedAt.Equal(first.StartedAt) {
		t.Errorf("restart moved the start from %v to %v", first.StartedAt, again.StartedAt)
	}

	sub, err := svc.Submit(ctx, "t1", student("erin"), map[string]model.Answer{"q1": {ChoiceIndex: intPtr(0)}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.StartedAt == nil || !sub.StartedAt.Equal(first.StartedAt) {
		t.Errorf("submission start = %v, want %v", sub.StartedAt, first.StartedAt)
	}
	if sub.Late {
		t.Error("submission within the grace period marked late")
	}
	if _, ok := sub.TimeTaken(); !ok {
		t.Error("expected a known time taken")
	}

	if _, err := svc.StartTest(ctx, "t1", student("erin")); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate after submitting, got %v", err)
	}
	if _, err := svc.StartTest(ctx, "missing", student("erin")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestServiceSubmitLate(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t, &fakeGrader{}, nil, false)

	tests := []struct {
		name     string
		student  string
		started  time.Duration
		wantLate bool
		wantTime bool
	}{
		{"no attempt", "fay", 0, false, false},
		{"on time", "gus", -30 * time.Second, false, true},
		{"past deadline", "hal", -2 * time.Hour, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.started != 0 {
				if _, err := st.StartAttempt(ctx, "t1", tt.student, time.Now().UTC().Add(tt.started)); err != nil {
					t.Fatalf("StartAttempt: %v", err)
				}
			}
			sub, err := svc.Submit(ctx, "t1", student(tt.student), map[string]model.Answer{"q1": {ChoiceIndex: intPtr(0)}})
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if sub.Late != tt.wantLate {
				t.Errorf("late = %v, want %v", sub.Late, tt.wantLate)
			}
			if _, ok := sub.TimeTaken(); ok != tt.wantTime {
				t.Errorf("time taken known = %v, want %v", ok, tt.wantTime)
			}
			stored, err := st.GetSubmission(ctx, sub.ID)
			if err != nil {
				t.Fatalf("GetSubmission: %v", err)
			}
			if stored.Late != tt.wantLate {
				t.Errorf("stored late = %v, want %v", stored.Late, tt.wantLate)
			}
		})
	}
}
