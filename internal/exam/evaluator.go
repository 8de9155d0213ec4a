package exam

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/pavelanni/hiretest/internal/i18n"
	"github.com/pavelanni/hiretest/internal/llm"
	"github.com/pavelanni/hiretest/internal/llm/prompts"
	"github.com/pavelanni/hiretest/internal/model"
)

// EvaluatedByLLM marks submissions scored by the automatic evaluator.
const EvaluatedByLLM = "llm"

// gradeAttempts is the number of grading calls per answer before the
// answer is recorded as failed.
const gradeAttempts = 2

// Grader scores free-form answers and writes performance analyses.
type Grader interface {
	GradeAnswer(ctx context.Context, variant prompts.PromptVariant, q model.Question, answer string) (*llm.GradeResult, string, error)
	AnalyzePerformance(ctx context.Context, data prompts.AnalysisData) (*llm.Analysis, error)
}

// Evaluator scores submissions against their tests.
type Evaluator struct {
	grader  Grader
	variant prompts.PromptVariant
	now     func() time.Time
}

// NewEvaluator creates an Evaluator using the given grading prompt variant.
func NewEvaluator(g Grader, variant prompts.PromptVariant) *Evaluator {
	if variant == "" {
		variant = prompts.PromptStandard
	}
	return &Evaluator{grader: g, variant: variant, now: func() time.Time { return time.Now().UTC() }}
}

// Evaluate scores every answered question of sub. MCQ answers are scored
// locally; code and subjective answers go to the LLM. A submission that is
// already evaluated is returned unchanged. The input is not modified.
//
// An answer whose grading still fails after a retry scores 0 with Failed
// set; only a cancelled context aborts the evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, sub model.Submission, t model.TestDefinition) (model.Submission, error) {
	if sub.Evaluated {
		return sub, nil
	}
	if sub.TestID != t.ID {
		return sub, fmt.Errorf("%w: submission %s belongs to test %s, not %s", ErrInvalidRequest, sub.ID, sub.TestID, t.ID)
	}

	out := sub
	out.Evaluations = make(map[string]model.Evaluation, len(sub.Answers))
	var total float64
	for _, sec := range t.Sections {
		for _, q := range sec.Questions {
			ans, ok := sub.Answers[q.ID]
			if !ok || !answered(q, ans) {
				continue
			}
			var ev model.Evaluation
			if q.Kind == model.KindMCQ {
				ev = scoreMCQ(ctx, q, ans)
			} else {
				var err error
				ev, err = e.grade(ctx, q, ans.Text)
				if err != nil {
					return sub, err
				}
			}
			out.Evaluations[q.ID] = ev
			total += ev.Score
		}
	}

	now := e.now()
	out.TotalScore = total
	out.OverallFeedback = OverallFeedback(t.GradingRubric, total, t.TotalMarks())
	out.Evaluated = true
	out.EvaluatedAt = &now
	out.EvaluatedBy = EvaluatedByLLM
	return out, nil
}

func answered(q model.Question, a model.Answer) bool {
	if q.Kind == model.KindMCQ {
		return a.ChoiceIndex != nil
	}
	return strings.TrimSpace(a.Text) != ""
}

func scoreMCQ(ctx context.Context, q model.Question, a model.Answer) model.Evaluation {
	ev := model.Evaluation{QuestionID: q.ID}
	if q.CorrectIdx != nil && *a.ChoiceIndex == *q.CorrectIdx {
		ev.Score = q.MaxScore
		ev.Feedback = i18n.T(ctx, "FeedbackCorrect")
		return ev
	}
	ev.Feedback = i18n.T(ctx, "FeedbackIncorrect")
	if q.CorrectIdx != nil && *q.CorrectIdx < len(q.Choices) {
		ev.Feedback = i18n.Td(ctx, "FeedbackIncorrectAnswer", map[string]any{"Answer": q.Choices[*q.CorrectIdx]})
	}
	return ev
}

// grade asks the LLM to score one answer, retrying once. Failures other
// than context cancellation become a zero-score failed evaluation.
func (e *Evaluator) grade(ctx context.Context, q model.Question, answer string) (model.Evaluation, error) {
	var lastErr *EvaluationError
	for attempt := 1; attempt <= gradeAttempts; attempt++ {
		res, raw, err := e.grader.GradeAnswer(ctx, e.variant, q, answer)
		if err == nil {
			return model.Evaluation{
				QuestionID: q.ID,
				Score:      clamp(res.Score, q.MaxScore),
				Feedback:   res.Feedback,
			}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.Evaluation{}, ctxErr
		}
		lastErr = &EvaluationError{QuestionID: q.ID, Raw: raw, Err: err}
		slog.Warn("grading attempt failed", "question", q.ID, "attempt", attempt, "error", err)
	}
	slog.Error("grading failed, recording zero score", "error", lastErr, "raw", lastErr.Raw)
	return model.Evaluation{
		QuestionID: q.ID,
		Score:      0,
		Feedback:   i18n.Td(ctx, "FeedbackEvaluationFailed", map[string]any{"Error": lastErr.Err.Error()}),
		Failed:     true,
	}, nil
}

func clamp(score, limit float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > limit {
		return limit
	}
	return score
}

// SectionPerformance is a submission's result on one section.
type SectionPerformance struct {
	Name       string             `json:"name"`
	Kind       model.QuestionKind `json:"kind"`
	Score      float64            `json:"score"`
	MaxScore   float64            `json:"max_score"`
	Percentage float64            `json:"percentage"`
}

// Performance summarizes an evaluated submission by section.
type Performance struct {
	SubmissionID string               `json:"submission_id"`
	TotalScore   float64              `json:"total_score"`
	TotalMarks   float64              `json:"total_marks"`
	Percentage   float64              `json:"percentage"`
	Sections     []SectionPerformance `json:"sections"`
	Strengths    []string             `json:"strengths"`
	Weaknesses   []string             `json:"weaknesses"`
	Analysis     *llm.Analysis        `json:"analysis,omitempty"`
}

// Thresholds for calling a section a strength or a weakness.
const (
	StrengthPercent = 70
	WeaknessPercent = 50
)

// ComputePerformance derives section percentages, strengths (at least 70%)
// and weaknesses (below 50%) without calling the LLM.
func ComputePerformance(sub model.Submission, t model.TestDefinition) Performance {
	p := Performance{
		SubmissionID: sub.ID,
		TotalScore:   sub.TotalScore,
		TotalMarks:   t.TotalMarks(),
		Strengths:    []string{},
		Weaknesses:   []string{},
	}
	p.Percentage = Percentage(p.TotalScore, p.TotalMarks)
	for _, sec := range t.Sections {
		sp := SectionPerformance{Name: sec.Name, Kind: sec.Kind}
		for _, q := range sec.Questions {
			sp.MaxScore += q.MaxScore
			if ev, ok := sub.Evaluations[q.ID]; ok {
				sp.Score += ev.Score
			}
		}
		if sp.MaxScore <= 0 {
			continue
		}
		sp.Percentage = Percentage(sp.Score, sp.MaxScore)
		p.Sections = append(p.Sections, sp)
		switch {
		case sp.Percentage >= StrengthPercent:
			p.Strengths = append(p.Strengths, sp.Name)
		case sp.Percentage < WeaknessPercent:
			p.Weaknesses = append(p.Weaknesses, sp.Name)
		}
	}
	return p
}

// Analyze computes the submission's performance and asks the LLM for a
// written analysis of it. The submission must be evaluated.
func (e *Evaluator) Analyze(ctx context.Context, sub model.Submission, t model.TestDefinition) (Performance, error) {
	if !sub.Evaluated {
		return Performance{}, fmt.Errorf("%w: submission %s is not evaluated", ErrInvalidRequest, sub.ID)
	}
	p := ComputePerformance(sub, t)
	data := prompts.AnalysisData{
		TestTitle:  t.Title,
		Role:       t.Role,
		TotalScore: p.TotalScore,
		TotalMarks: p.TotalMarks,
		Percentage: p.Percentage,
		Strengths:  p.Strengths,
		Weaknesses: p.Weaknesses,
	}
	for _, s := range p.Sections {
		data.Sections = append(data.Sections, prompts.SectionScore{
			Name: s.Name, Score: s.Score, MaxScore: s.MaxScore, Percentage: s.Percentage,
		})
	}
	a, err := e.grader.AnalyzePerformance(ctx, data)
	if err != nil {
		return p, fmt.Errorf("analyze performance: %w", err)
	}
	p.Analysis = a
	return p, nil
}
