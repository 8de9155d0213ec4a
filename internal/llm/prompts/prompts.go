package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/hiretest/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// maxAnswerRunes caps the answer text sent to the grader.
const maxAnswerRunes = 10000

// NoAnswer replaces an answer that is empty after sanitizing.
const NoAnswer = "[No answer provided]"

// System prompts paired with the user prompts built below.
const (
	GenerateSystem = "You are an expert technical recruiter who writes fair, role-specific assessment tests. You always answer with a single valid JSON object."
	GradeSystem    = "You are an exam evaluator for technical hiring. You always answer with a single valid JSON object."
	AnalyzeSystem  = "You are a hiring analyst summarizing a candidate's test performance for a recruiter. You always answer with a single valid JSON object."
)

// PromptVariant represents a grading prompt variant.
type PromptVariant string

const (
	// PromptStrict deducts for every omission.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient rewards a correct approach.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

var funcs = template.FuncMap{"join": strings.Join}

var (
	loadOnce       sync.Once
	loadErr        error
	generateTmpl   *template.Template
	analyzeTmpl    *template.Template
	gradeTemplates map[PromptVariant]*template.Template
)

func load() error {
	loadOnce.Do(func() {
		generateTmpl, loadErr = template.New("generate.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/generate.tmpl")
		if loadErr != nil {
			return
		}
		analyzeTmpl, loadErr = template.New("analyze.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/analyze.tmpl")
		if loadErr != nil {
			return
		}
		gradeTemplates = make(map[PromptVariant]*template.Template)
		for _, v := range []PromptVariant{PromptStrict, PromptStandard, PromptLenient} {
			policy := "templates/policy_" + string(v) + ".tmpl"
			tmpl, err := template.New("grade.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/grade.tmpl", policy)
			if err != nil {
				loadErr = fmt.Errorf("parse grading template %s: %w", v, err)
				return
			}
			gradeTemplates[v] = tmpl
		}
	})
	return loadErr
}

// GenerateData holds template data for the test generation prompt.
type GenerateData struct {
	Title           string
	Role            string
	JobDescription  string
	Skills          []string
	Difficulty      string
	DurationMinutes int
	MCQ             int
	Code            int
	Subjective      int
}

// GradeData holds template data for grading prompts.
type GradeData struct {
	Kind         string
	QuestionText string
	MaxScore     float64
	Rubric       string
	StarterCode  string
	TestCases    []model.TestCase
	Answer       string
}

// SectionScore is one line of the performance analysis prompt.
type SectionScore struct {
	Name       string
	Score      float64
	MaxScore   float64
	Percentage float64
}

// AnalysisData holds template data for the performance analysis prompt.
type AnalysisData struct {
	TestTitle  string
	Role       string
	TotalScore float64
	TotalMarks float64
	Percentage float64
	Sections   []SectionScore
	Strengths  []string
	Weaknesses []string
}

// BuildGeneratePrompt renders the test generation prompt.
func BuildGeneratePrompt(data GenerateData) (string, error) {
	if err := load(); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	return execute(generateTmpl, data)
}

// BuildGradePrompt renders the grading prompt for one answer using the
// given variant. The answer is sanitized before it is embedded.
func BuildGradePrompt(variant PromptVariant, question model.Question, answer string) (string, error) {
	if err := load(); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	tmpl, ok := gradeTemplates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}
	data := GradeData{
		Kind:         string(question.Kind),
		QuestionText: question.Prompt,
		MaxScore:     question.MaxScore,
		Rubric:       question.Rubric,
		StarterCode:  question.StarterCode,
		TestCases:    question.TestCases,
		Answer:       SanitizeAnswer(answer),
	}
	return execute(tmpl, data)
}

// BuildAnalysisPrompt renders the performance analysis prompt.
func BuildAnalysisPrompt(data AnalysisData) (string, error) {
	if err := load(); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	return execute(analyzeTmpl, data)
}

func execute(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SanitizeAnswer strips prompt delimiter tags and caps the answer length.
func SanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return NoAnswer
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		runes = runes[:maxAnswerRunes]
		answer = string(runes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
