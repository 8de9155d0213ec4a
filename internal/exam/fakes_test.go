package exam

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/pavelanni/hiretest/internal/llm"
	"github.com/pavelanni/hiretest/internal/llm/prompts"
	"github.com/pavelanni/hiretest/internal/model"
)

// fakeGenerator replies with a fixed raw string, parsed the same way the
// real client parses it.
type fakeGenerator struct {
	raw   string
	err   error
	calls int
	last  prompts.GenerateData
}

func (f *fakeGenerator) GenerateTest(_ context.Context, data prompts.GenerateData) (*llm.GeneratedTest, string, error) {
	f.calls++
	f.last = data
	if f.err != nil {
		return nil, "", f.err
	}
	gen, err := llm.ParseGeneratedTest(f.raw)
	if err != nil {
		return nil, f.raw, err
	}
	return gen, f.raw, nil
}

// fakeGrader scores answers with a caller-supplied function.
type fakeGrader struct {
	grade    func(q model.Question, answer string, call int) (*llm.GradeResult, error)
	calls    int
	analysis *llm.Analysis
	lastData prompts.AnalysisData
}

func (f *fakeGrader) GradeAnswer(ctx context.Context, _ prompts.PromptVariant, q model.Question, answer string) (*llm.GradeResult, string, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if f.grade == nil {
		return &llm.GradeResult{Score: q.MaxScore / 2, Feedback: "half"}, "{}", nil
	}
	res, err := f.grade(q, answer, f.calls)
	return res, "raw reply", err
}

func (f *fakeGrader) AnalyzePerformance(_ context.Context, data prompts.AnalysisData) (*llm.Analysis, error) {
	f.lastData = data
	if f.analysis == nil {
		return nil, fmt.Errorf("no analysis configured")
	}
	return f.analysis, nil
}

type genQuestion map[string]any

// generatedJSON renders a generation reply with one section per entry.
func generatedJSON(t *testing.T, sections ...map[string]any) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"test_title": "Generated Test",
		"sections":   sections,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func mcqQuestion(text string) genQuestion {
	return genQuestion{
		"question_text":  text,
		"question_type":  "MCQ",
		"options":        []string{"A one", "B two", "C three", "D four"},
		"correct_answer": "B two",
		"marks":          1,
	}
}

func mcqSection(n int) map[string]any {
	qs := make([]genQuestion, n)
	for i := range qs {
		qs[i] = mcqQuestion(fmt.Sprintf("MCQ %d", i+1))
	}
	return map[string]any{"section_name": "Multiple Choice", "section_type": "mcq", "questions": qs}
}

func intPtr(i int) *int { return &i }

// sampleTest has two 1-mark MCQs, one 10-mark code question and one
// 5-mark subjective question.
func sampleTest() model.TestDefinition {
	return model.TestDefinition{
		ID:    "t1",
		Title: "Backend Engineer Assessment",
		Role:  "Backend Engineer",
		Sections: []model.Section{
			{Kind: model.KindMCQ, Name: "Multiple Choice", Questions: []model.Question{
				{ID: "q1", Kind: model.KindMCQ, Prompt: "2+2?", MaxScore: 1, Choices: []string{"3", "4"}, CorrectIdx: intPtr(1)},
				{ID: "q2", Kind: model.KindMCQ, Prompt: "SQL keyword?", MaxScore: 1, Choices: []string{"SELECT", "PRINT"}, CorrectIdx: intPtr(0)},
			}},
			{Kind: model.KindCode, Name: "Coding", Questions: []model.Question{
				{ID: "q3", Kind: model.KindCode, Prompt: "Reverse a string", MaxScore: 10,
					TestCases: []model.TestCase{{Input: "abc", Output: "cba"}}},
			}},
			{Kind: model.KindSubjective, Name: "Subjective", Questions: []model.Question{
				{ID: "q4", Kind: model.KindSubjective, Prompt: "Explain indexes", MaxScore: 5, Rubric: "B-trees"},
			}},
		},
		GradingRubric: DefaultRubric(),
	}
}
