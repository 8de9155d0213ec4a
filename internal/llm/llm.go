package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/hiretest/internal/llm/prompts"
	"github.com/pavelanni/hiretest/internal/model"
)

// Completer sends one system + user prompt pair to a model and returns the
// raw response text.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// GradeResult holds the LLM's assessment of a single answer.
type GradeResult struct {
	Score    float64
	Feedback string
}

// Analysis is an LLM-written summary of a candidate's performance.
type Analysis struct {
	Summary         string   `json:"summary"`
	Recommendations []string `json:"recommendations"`
}

// Client renders prompts, calls the completer and parses replies.
type Client struct {
	completer Completer
	timeout   time.Duration
}

// New creates a new LLM client. A zero timeout leaves the caller's deadline
// in charge.
func New(c Completer, timeout time.Duration) *Client {
	return &Client{completer: c, timeout: timeout}
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	start := time.Now()
	raw, err := c.completer.Complete(ctx, system, user)
	if err != nil {
		return "", err
	}
	slog.Debug("LLM response", "elapsed", time.Since(start), "raw", raw)
	return raw, nil
}

// GenerateTest asks the model for a test definition. The raw response is
// returned alongside parse errors so callers can report it.
func (c *Client) GenerateTest(ctx context.Context, data prompts.GenerateData) (*GeneratedTest, string, error) {
	prompt, err := prompts.BuildGeneratePrompt(data)
	if err != nil {
		return nil, "", fmt.Errorf("build generation prompt: %w", err)
	}
	raw, err := c.complete(ctx, prompts.GenerateSystem, prompt)
	if err != nil {
		return nil, "", fmt.Errorf("LLM generation call: %w", err)
	}
	gen, err := ParseGeneratedTest(raw)
	if err != nil {
		return nil, raw, err
	}
	return gen, raw, nil
}

// GradeAnswer asks the model to score one code or subjective answer.
func (c *Client) GradeAnswer(ctx context.Context, variant prompts.PromptVariant, q model.Question, answer string) (*GradeResult, string, error) {
	prompt, err := prompts.BuildGradePrompt(variant, q, answer)
	if err != nil {
		return nil, "", fmt.Errorf("build grading prompt: %w", err)
	}
	raw, err := c.complete(ctx, prompts.GradeSystem, prompt)
	if err != nil {
		return nil, "", fmt.Errorf("LLM grading call: %w", err)
	}
	res, err := ParseGrade(raw)
	if err != nil {
		return nil, raw, err
	}
	return res, raw, nil
}

// AnalyzePerformance asks the model for a written performance analysis.
func (c *Client) AnalyzePerformance(ctx context.Context, data prompts.AnalysisData) (*Analysis, error) {
	prompt, err := prompts.BuildAnalysisPrompt(data)
	if err != nil {
		return nil, fmt.Errorf("build analysis prompt: %w", err)
	}
	raw, err := c.complete(ctx, prompts.AnalyzeSystem, prompt)
	if err != nil {
		return nil, fmt.Errorf("LLM analysis call: %w", err)
	}
	return ParseAnalysis(raw)
}
