package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrMalformed is returned when a model reply cannot be parsed.
var ErrMalformed = errors.New("malformed LLM response")

// CleanJSON strips markdown code fences and any text around the outermost
// JSON object.
func CleanJSON(s string) string {
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	} else if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	s = strings.TrimSpace(s)
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start > 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

// Number is a JSON number that also accepts a numeric string.
type Number struct {
	Value float64
	Set   bool
}

func (n *Number) UnmarshalJSON(b []byte) error {
	v, ok, err := numberOf(gjson.ParseBytes(b))
	if err != nil {
		return err
	}
	n.Value, n.Set = v, ok
	return nil
}

func numberOf(r gjson.Result) (float64, bool, error) {
	switch r.Type {
	case gjson.Null:
		return 0, false, nil
	case gjson.Number:
		return r.Float(), true, nil
	case gjson.String:
		s := strings.TrimSpace(r.Str)
		if s == "" {
			return 0, false, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, fmt.Errorf("not a number: %q", r.Str)
		}
		return v, true, nil
	default:
		return 0, false, fmt.Errorf("not a number: %s", r.Raw)
	}
}

// Text is a JSON scalar read as a string. Numbers, booleans and nested
// values keep their raw JSON form.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	r := gjson.ParseBytes(b)
	if r.Type == gjson.Null {
		*t = ""
		return nil
	}
	*t = Text(r.String())
	return nil
}

// GeneratedTest is the shape the generation prompt asks the model for.
type GeneratedTest struct {
	Title         string                   `json:"test_title"`
	Sections      []GeneratedSection       `json:"sections"`
	GradingRubric map[string]GeneratedBand `json:"grading_rubric"`
}

// GeneratedSection is one section of a generated test.
type GeneratedSection struct {
	Name         string              `json:"section_name"`
	Type         string              `json:"section_type"`
	Instructions string              `json:"section_instructions"`
	Questions    []GeneratedQuestion `json:"questions"`
}

// GeneratedQuestion is one question of a generated test.
type GeneratedQuestion struct {
	Text          string              `json:"question_text"`
	Type          string              `json:"question_type"`
	Options       []Text              `json:"options"`
	CorrectAnswer Text                `json:"correct_answer"`
	CorrectIndex  Number              `json:"correct_index"`
	Marks         Number              `json:"marks"`
	StarterCode   Text                `json:"starter_code"`
	TestCases     []GeneratedTestCase `json:"test_cases"`
	Rubric        Text                `json:"rubric"`
	Explanation   Text                `json:"explanation"`
}

// GeneratedTestCase is an input/output pair of a generated coding question.
type GeneratedTestCase struct {
	Input  Text `json:"input"`
	Output Text `json:"output"`
}

// GeneratedBand is one grading rubric level, e.g. {"score_range": "85-100"}.
type GeneratedBand struct {
	ScoreRange  Text `json:"score_range"`
	Description Text `json:"description"`
}

// ParseGeneratedTest decodes a generation reply.
func ParseGeneratedTest(raw string) (*GeneratedTest, error) {
	text := CleanJSON(raw)
	if !gjson.Valid(text) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	var gen GeneratedTest
	if err := json.Unmarshal([]byte(text), &gen); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &gen, nil
}

// ParseGrade extracts the score and feedback from a grading reply. The score
// may be named "score" or "marks" and may be a number or a numeric string.
func ParseGrade(raw string) (*GradeResult, error) {
	text := CleanJSON(raw)
	if !gjson.Valid(text) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	res := gjson.GetMany(text, "score", "marks", "feedback")
	field := res[0]
	if !field.Exists() {
		field = res[1]
	}
	if !field.Exists() {
		return nil, fmt.Errorf("%w: missing score", ErrMalformed)
	}
	score, ok, err := numberOf(field)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: empty score", ErrMalformed)
	}
	return &GradeResult{Score: score, Feedback: strings.TrimSpace(res[2].String())}, nil
}

// ParseAnalysis decodes an analysis reply. Plain text replies become the
// summary.
func ParseAnalysis(raw string) (*Analysis, error) {
	text := CleanJSON(raw)
	if !gjson.Valid(text) {
		summary := strings.TrimSpace(raw)
		if summary == "" {
			return nil, fmt.Errorf("%w: empty analysis", ErrMalformed)
		}
		return &Analysis{Summary: summary}, nil
	}
	a := &Analysis{Summary: gjson.Get(text, "summary").String()}
	for _, r := range gjson.Get(text, "recommendations").Array() {
		if s := strings.TrimSpace(r.String()); s != "" {
			a.Recommendations = append(a.Recommendations, s)
		}
	}
	if a.Summary == "" && len(a.Recommendations) == 0 {
		return nil, fmt.Errorf("%w: empty analysis", ErrMalformed)
	}
	return a, nil
}
