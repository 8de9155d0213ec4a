package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pavelanni/hiretest/internal/llm"
	"github.com/pavelanni/hiretest/internal/llm/prompts"
	"github.com/pavelanni/hiretest/internal/model"
)

// DefaultDurationMinutes is the test duration when none is requested.
const DefaultDurationMinutes = 60

// Generator produces a raw test definition from a prompt.
type Generator interface {
	GenerateTest(ctx context.Context, data prompts.GenerateData) (*llm.GeneratedTest, string, error)
}

// GenerateRequest is a recruiter's request for a new test.
type GenerateRequest struct {
	Title           string           `json:"title"`
	Role            string           `json:"role"`
	JobDescription  string           `json:"job_description"`
	RequiredSkills  []string         `json:"required_skills"`
	Mix             model.SectionMix `json:"mix"`
	Difficulty      model.Difficulty `json:"difficulty"`
	DurationMinutes int              `json:"duration_minutes"`
	CreatedBy       string           `json:"-"`
}

// Validate checks a request and fills defaults.
func (r *GenerateRequest) Validate() error {
	r.Title = strings.TrimSpace(r.Title)
	r.Role = strings.TrimSpace(r.Role)
	r.JobDescription = strings.TrimSpace(r.JobDescription)
	r.RequiredSkills = dedupeSkills(r.RequiredSkills)

	if r.JobDescription == "" {
		return fmt.Errorf("%w: job description is required", ErrInvalidRequest)
	}
	if len(r.RequiredSkills) == 0 {
		return fmt.Errorf("%w: at least one skill is required", ErrInvalidRequest)
	}
	if r.Mix.MCQ < 0 || r.Mix.Code < 0 || r.Mix.Subjective < 0 {
		return fmt.Errorf("%w: question counts must not be negative", ErrInvalidRequest)
	}
	if r.Mix.Total() == 0 {
		return fmt.Errorf("%w: at least one question is required", ErrInvalidRequest)
	}
	if r.Difficulty == "" {
		r.Difficulty = model.DifficultyMedium
	}
	if !model.ValidDifficulty(r.Difficulty) {
		return fmt.Errorf("%w: unknown difficulty %q", ErrInvalidRequest, r.Difficulty)
	}
	if r.DurationMinutes < 0 {
		return fmt.Errorf("%w: duration must not be negative", ErrInvalidRequest)
	}
	if r.DurationMinutes == 0 {
		r.DurationMinutes = DefaultDurationMinutes
	}
	return nil
}

// Builder turns generation requests into test definitions.
type Builder struct {
	gen Generator
	now func() time.Time
}

// NewBuilder creates a Builder.
func NewBuilder(gen Generator) *Builder {
	return &Builder{gen: gen, now: func() time.Time { return time.Now().UTC() }}
}

// Build validates req, asks the LLM for a test and normalizes the reply.
// The result has no ID; the store assigns one.
func (b *Builder) Build(ctx context.Context, req GenerateRequest) (model.TestDefinition, error) {
	if err := req.Validate(); err != nil {
		return model.TestDefinition{}, err
	}

	slog.Info("generating test",
		"role", req.Role,
		"skills", req.RequiredSkills,
		"mcq", req.Mix.MCQ, "code", req.Mix.Code, "subjective", req.Mix.Subjective,
	)
	gen, raw, err := b.gen.GenerateTest(ctx, prompts.GenerateData{
		Title:           req.Title,
		Role:            req.Role,
		JobDescription:  req.JobDescription,
		Skills:          req.RequiredSkills,
		Difficulty:      string(req.Difficulty),
		DurationMinutes: req.DurationMinutes,
		MCQ:             req.Mix.MCQ,
		Code:            req.Mix.Code,
		Subjective:      req.Mix.Subjective,
	})
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return model.TestDefinition{}, fmt.Errorf("generate test: %w", err)
	}
	if err != nil {
		reason := "LLM call failed"
		if errors.Is(err, llm.ErrMalformed) {
			reason = "response is not a valid test"
		}
		return model.TestDefinition{}, &GenerationError{Reason: reason, Raw: raw, Err: err}
	}

	t, err := b.assemble(gen, req)
	if err != nil {
		slog.Warn("generated test rejected", "error", err)
		return model.TestDefinition{}, &GenerationError{Reason: err.Error(), Raw: raw}
	}
	return t, nil
}

// assemble regroups generated questions into one section per kind, in kind
// order, and checks the per-kind counts against the request.
func (b *Builder) assemble(gen *llm.GeneratedTest, req GenerateRequest) (model.TestDefinition, error) {
	byKind := make(map[model.QuestionKind][]model.Question)
	instructions := make(map[model.QuestionKind]string)

	for si, sec := range gen.Sections {
		secKind := kindOf(sec.Type)
		if secKind == "" {
			secKind = kindOf(sec.Name)
		}
		for qi, gq := range sec.Questions {
			kind := kindOf(gq.Type)
			if kind == "" {
				kind = secKind
			}
			if kind == "" {
				return model.TestDefinition{}, fmt.Errorf("section %d question %d has unknown type %q", si+1, qi+1, gq.Type)
			}
			q, err := convertQuestion(gq, kind)
			if err != nil {
				return model.TestDefinition{}, fmt.Errorf("section %d question %d: %w", si+1, qi+1, err)
			}
			byKind[kind] = append(byKind[kind], q)
			if instructions[kind] == "" {
				instructions[kind] = strings.TrimSpace(sec.Instructions)
			}
		}
	}

	for _, k := range model.Kinds {
		if got, want := len(byKind[k]), req.Mix.Count(k); got != want {
			return model.TestDefinition{}, fmt.Errorf("expected %d %s questions, got %d", want, k, got)
		}
	}

	t := model.TestDefinition{
		Title:           firstNonEmpty(req.Title, strings.TrimSpace(gen.Title), defaultTitle(req.Role)),
		Role:            req.Role,
		JobDescription:  req.JobDescription,
		RequiredSkills:  req.RequiredSkills,
		Difficulty:      req.Difficulty,
		DurationMinutes: req.DurationMinutes,
		CreatedBy:       req.CreatedBy,
		CreatedAt:       b.now(),
	}
	n := 0
	for _, k := range model.Kinds {
		qs := byKind[k]
		if len(qs) == 0 {
			continue
		}
		for i := range qs {
			n++
			qs[i].ID = "q" + strconv.Itoa(n)
		}
		t.Sections = append(t.Sections, model.Section{
			Kind:         k,
			Name:         SectionName(k),
			Instructions: instructions[k],
			Questions:    qs,
		})
	}

	t.GradingRubric = parseRubric(gen.GradingRubric)
	if t.GradingRubric == nil {
		t.GradingRubric = DefaultRubric()
	}
	if err := Validate(t); err != nil {
		return model.TestDefinition{}, err
	}
	return t, nil
}

func convertQuestion(gq llm.GeneratedQuestion, kind model.QuestionKind) (model.Question, error) {
	q := model.Question{
		Kind:        kind,
		Prompt:      strings.TrimSpace(gq.Text),
		Explanation: strings.TrimSpace(string(gq.Explanation)),
	}
	if q.Prompt == "" {
		return q, errors.New("empty question text")
	}
	switch {
	case !gq.Marks.Set || gq.Marks.Value == 0:
		q.MaxScore = DefaultMaxScore(kind)
	case gq.Marks.Value < 0:
		return q, fmt.Errorf("negative marks %v", gq.Marks.Value)
	default:
		q.MaxScore = gq.Marks.Value
	}

	switch kind {
	case model.KindMCQ:
		for _, o := range gq.Options {
			q.Choices = append(q.Choices, strings.TrimSpace(string(o)))
		}
		if len(q.Choices) < 2 {
			return q, fmt.Errorf("multiple choice question needs at least 2 options, got %d", len(q.Choices))
		}
		for i, c := range q.Choices {
			if c == "" {
				return q, fmt.Errorf("option %d is empty", i+1)
			}
		}
		idx, err := correctIndex(gq, q.Choices)
		if err != nil {
			return q, err
		}
		q.CorrectIdx = &idx
	case model.KindCode:
		q.StarterCode = string(gq.StarterCode)
		for _, tc := range gq.TestCases {
			q.TestCases = append(q.TestCases, model.TestCase{Input: string(tc.Input), Output: string(tc.Output)})
		}
		q.Rubric = strings.TrimSpace(string(gq.Rubric))
	case model.KindSubjective:
		q.Rubric = firstNonEmpty(strings.TrimSpace(string(gq.Rubric)), strings.TrimSpace(string(gq.CorrectAnswer)))
	}
	return q, nil
}

var letterRegex = regexp.MustCompile(`^(?i)(?:option\s+)?([a-z])(?:[).:\s]|$)`)

// correctIndex resolves the correct choice from an explicit index, the
// option text, or an option letter ("B", "b)", "Option C").
func correctIndex(gq llm.GeneratedQuestion, choices []string) (int, error) {
	if gq.CorrectIndex.Set {
		v := gq.CorrectIndex.Value
		if v != math.Trunc(v) || v < 0 || int(v) >= len(choices) {
			return 0, fmt.Errorf("correct index %v out of range", v)
		}
		return int(v), nil
	}
	ans := strings.TrimSpace(string(gq.CorrectAnswer))
	if ans == "" {
		return 0, errors.New("multiple choice question has no correct answer")
	}
	for i, c := range choices {
		if strings.EqualFold(c, ans) {
			return i, nil
		}
	}
	if m := letterRegex.FindStringSubmatch(ans); m != nil {
		idx := int(strings.ToLower(m[1])[0] - 'a')
		if idx < len(choices) {
			rest := strings.TrimSpace(ans[len(m[0]):])
			if rest == "" || strings.EqualFold(rest, choices[idx]) {
				return idx, nil
			}
		}
	}
	return 0, fmt.Errorf("correct answer %q matches no option", ans)
}

// kindOf maps the LLM's free-form question or section type onto a kind.
func kindOf(s string) model.QuestionKind {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "":
		return ""
	case strings.Contains(s, "mcq"), strings.Contains(s, "multiple"), strings.Contains(s, "choice"):
		return model.KindMCQ
	case strings.Contains(s, "cod"), strings.Contains(s, "program"):
		return model.KindCode
	case strings.Contains(s, "subjective"), strings.Contains(s, "essay"),
		strings.Contains(s, "descriptive"), strings.Contains(s, "short"), strings.Contains(s, "theory"):
		return model.KindSubjective
	}
	return ""
}

func defaultTitle(role string) string {
	if role == "" {
		return "Technical Assessment"
	}
	return role + " Assessment"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
