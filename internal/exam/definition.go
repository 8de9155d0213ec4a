package exam

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pavelanni/hiretest/internal/model"
)

// Default marks for a question whose max score was not given.
const (
	DefaultMCQMarks        = 1
	DefaultCodeMarks       = 10
	DefaultSubjectiveMarks = 5
)

// DefaultMaxScore returns the default marks for a question kind.
func DefaultMaxScore(k model.QuestionKind) float64 {
	switch k {
	case model.KindMCQ:
		return DefaultMCQMarks
	case model.KindCode:
		return DefaultCodeMarks
	default:
		return DefaultSubjectiveMarks
	}
}

// SectionName returns the display name used for a section of kind k.
func SectionName(k model.QuestionKind) string {
	switch k {
	case model.KindMCQ:
		return "Multiple Choice"
	case model.KindCode:
		return "Coding"
	default:
		return "Subjective"
	}
}

func validKind(k model.QuestionKind) bool {
	switch k {
	case model.KindMCQ, model.KindCode, model.KindSubjective:
		return true
	}
	return false
}

// Normalize fills in what an imported or shared test may leave out and then
// validates it. Questions are renumbered q1..qN when any ID is missing.
// Missing marks get the kind default and a missing rubric gets
// DefaultRubric.
func Normalize(t *model.TestDefinition) error {
	t.Title = strings.TrimSpace(t.Title)
	t.RequiredSkills = dedupeSkills(t.RequiredSkills)
	if t.Difficulty == "" {
		t.Difficulty = model.DifficultyMedium
	}
	if t.DurationMinutes <= 0 {
		t.DurationMinutes = DefaultDurationMinutes
	}

	renumber := false
	for i := range t.Sections {
		sec := &t.Sections[i]
		if sec.Kind == "" && len(sec.Questions) > 0 {
			sec.Kind = sec.Questions[0].Kind
		}
		if sec.Name == "" {
			sec.Name = SectionName(sec.Kind)
		}
		for j := range sec.Questions {
			q := &sec.Questions[j]
			if q.Kind == "" {
				q.Kind = sec.Kind
			}
			if q.MaxScore == 0 {
				q.MaxScore = DefaultMaxScore(q.Kind)
			}
			if strings.TrimSpace(q.ID) == "" {
				renumber = true
			}
		}
	}
	if renumber {
		n := 0
		for i := range t.Sections {
			for j := range t.Sections[i].Questions {
				n++
				t.Sections[i].Questions[j].ID = "q" + strconv.Itoa(n)
			}
		}
	}
	if len(t.GradingRubric) == 0 {
		t.GradingRubric = DefaultRubric()
	}
	return Validate(*t)
}

// Validate checks the structural rules of a test definition.
func Validate(t model.TestDefinition) error {
	if t.Title == "" {
		return fmt.Errorf("%w: title is empty", ErrInvalidTest)
	}
	seen := make(map[string]bool)
	total := 0
	for _, sec := range t.Sections {
		if !validKind(sec.Kind) {
			return fmt.Errorf("%w: section %q has unknown kind %q", ErrInvalidTest, sec.Name, sec.Kind)
		}
		for _, q := range sec.Questions {
			total++
			if seen[q.ID] {
				return fmt.Errorf("%w: duplicate question id %q", ErrInvalidTest, q.ID)
			}
			seen[q.ID] = true
			if err := validateQuestion(q, sec.Kind); err != nil {
				return err
			}
		}
	}
	if total == 0 {
		return fmt.Errorf("%w: no questions", ErrInvalidTest)
	}
	for _, b := range t.GradingRubric {
		if b.MinPercent < 0 || b.MaxPercent > 100 || b.MinPercent > b.MaxPercent {
			return fmt.Errorf("%w: rubric band %q has range %.0f-%.0f", ErrInvalidTest, b.Level, b.MinPercent, b.MaxPercent)
		}
	}
	return nil
}

func validateQuestion(q model.Question, sectionKind model.QuestionKind) error {
	if q.ID == "" {
		return fmt.Errorf("%w: question without id", ErrInvalidTest)
	}
	if q.Kind != sectionKind {
		return fmt.Errorf("%w: question %s is %q in a %q section", ErrInvalidTest, q.ID, q.Kind, sectionKind)
	}
	if strings.TrimSpace(q.Prompt) == "" {
		return fmt.Errorf("%w: question %s has an empty prompt", ErrInvalidTest, q.ID)
	}
	if q.MaxScore <= 0 {
		return fmt.Errorf("%w: question %s has max score %v", ErrInvalidTest, q.ID, q.MaxScore)
	}
	if q.Kind != model.KindMCQ {
		return nil
	}
	if len(q.Choices) < 2 {
		return fmt.Errorf("%w: question %s needs at least 2 choices", ErrInvalidTest, q.ID)
	}
	for i, c := range q.Choices {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("%w: question %s choice %d is empty", ErrInvalidTest, q.ID, i)
		}
	}
	if q.CorrectIdx == nil || *q.CorrectIdx < 0 || *q.CorrectIdx >= len(q.Choices) {
		return fmt.Errorf("%w: question %s has no valid correct choice", ErrInvalidTest, q.ID)
	}
	return nil
}

// dedupeSkills trims skills and drops blanks and case-insensitive
// duplicates, keeping the first spelling.
func dedupeSkills(skills []string) []string {
	seen := make(map[string]bool, len(skills))
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
