package model

import "time"

// QuestionKind is the kind of a question and of the section holding it.
type QuestionKind string

const (
	KindMCQ        QuestionKind = "mcq"
	KindCode       QuestionKind = "code"
	KindSubjective QuestionKind = "subjective"
)

// Kinds lists question kinds in section order.
var Kinds = []QuestionKind{KindMCQ, KindCode, KindSubjective}

// TestCase is an input/expected-output pair for a coding question.
type TestCase struct {
	Input  string `json:"input" bson:"input" yaml:"input"`
	Output string `json:"output" bson:"output" yaml:"output"`
}

// Question is a single test question. Kind-specific fields are left empty for
// other kinds.
type Question struct {
	ID          string       `json:"id" bson:"id" yaml:"id"`
	Kind        QuestionKind `json:"kind" bson:"kind" yaml:"kind"`
	Prompt      string       `json:"prompt" bson:"prompt" yaml:"prompt"`
	MaxScore    float64      `json:"max_score" bson:"max_score" yaml:"max_score"`
	Choices     []string     `json:"choices,omitempty" bson:"choices,omitempty" yaml:"choices,omitempty"`
	CorrectIdx  *int         `json:"correct_index,omitempty" bson:"correct_index,omitempty" yaml:"correct_index,omitempty"`
	StarterCode string       `json:"starter_code,omitempty" bson:"starter_code,omitempty" yaml:"starter_code,omitempty"`
	TestCases   []TestCase   `json:"test_cases,omitempty" bson:"test_cases,omitempty" yaml:"test_cases,omitempty"`
	Rubric      string       `json:"rubric,omitempty" bson:"rubric,omitempty" yaml:"rubric,omitempty"`
	Explanation string       `json:"explanation,omitempty" bson:"explanation,omitempty" yaml:"explanation,omitempty"`
}

// Section groups questions of one kind.
type Section struct {
	Kind         QuestionKind `json:"kind" bson:"kind" yaml:"kind"`
	Name         string       `json:"name" bson:"name" yaml:"name"`
	Instructions string       `json:"instructions,omitempty" bson:"instructions,omitempty" yaml:"instructions,omitempty"`
	Questions    []Question   `json:"questions" bson:"questions" yaml:"questions"`
}

// RubricBand maps a score percentage range to overall feedback.
type RubricBand struct {
	Level       string  `json:"level" bson:"level" yaml:"level"`
	MinPercent  float64 `json:"min_percent" bson:"min_percent" yaml:"min_percent"`
	MaxPercent  float64 `json:"max_percent" bson:"max_percent" yaml:"max_percent"`
	Description string  `json:"description" bson:"description" yaml:"description"`
}

// SectionMix is the number of questions requested per kind.
type SectionMix struct {
	MCQ        int `json:"mcq" bson:"mcq" yaml:"mcq"`
	Code       int `json:"code" bson:"code" yaml:"code"`
	Subjective int `json:"subjective" bson:"subjective" yaml:"subjective"`
}

// Count returns the count for a kind.
func (m SectionMix) Count(k QuestionKind) int {
	switch k {
	case KindMCQ:
		return m.MCQ
	case KindCode:
		return m.Code
	case KindSubjective:
		return m.Subjective
	}
	return 0
}

// Total returns the total number of questions.
func (m SectionMix) Total() int {
	return m.MCQ + m.Code + m.Subjective
}

// TestDefinition is a published test. It is never updated after creation.
type TestDefinition struct {
	ID              string       `json:"id" bson:"_id" yaml:"id"`
	Title           string       `json:"title" bson:"title" yaml:"title"`
	Role            string       `json:"role" bson:"role" yaml:"role"`
	JobDescription  string       `json:"job_description" bson:"job_description" yaml:"job_description"`
	RequiredSkills  []string     `json:"required_skills" bson:"required_skills" yaml:"required_skills"`
	Difficulty      Difficulty   `json:"difficulty" bson:"difficulty" yaml:"difficulty"`
	DurationMinutes int          `json:"duration_minutes" bson:"duration_minutes" yaml:"duration_minutes"`
	Sections        []Section    `json:"sections" bson:"sections" yaml:"sections"`
	GradingRubric   []RubricBand `json:"grading_rubric,omitempty" bson:"grading_rubric,omitempty" yaml:"grading_rubric,omitempty"`
	CreatedBy       string       `json:"created_by" bson:"created_by" yaml:"created_by"`
	CreatedAt       time.Time    `json:"created_at" bson:"created_at" yaml:"created_at"`
}

// TotalMarks returns the sum of all questions' max scores.
func (t TestDefinition) TotalMarks() float64 {
	var total float64
	for _, s := range t.Sections {
		for _, q := range s.Questions {
			total += q.MaxScore
		}
	}
	return total
}

// Question looks up a question by ID.
func (t TestDefinition) Question(id string) (Question, bool) {
	for _, s := range t.Sections {
		for _, q := range s.Questions {
			if q.ID == id {
				return q, true
			}
		}
	}
	return Question{}, false
}

// Mix counts the questions of each kind.
func (t TestDefinition) Mix() SectionMix {
	var m SectionMix
	for _, s := range t.Sections {
		for _, q := range s.Questions {
			switch q.Kind {
			case KindMCQ:
				m.MCQ++
			case KindCode:
				m.Code++
			case KindSubjective:
				m.Subjective++
			}
		}
	}
	return m
}

// Redacted returns a copy safe to show to students: answer keys, rubrics and
// explanations are removed.
func (t TestDefinition) Redacted() TestDefinition {
	out := t
	out.Sections = make([]Section, len(t.Sections))
	for i, s := range t.Sections {
		qs := make([]Question, len(s.Questions))
		for j, q := range s.Questions {
			q.CorrectIdx = nil
			q.Rubric = ""
			q.Explanation = ""
			qs[j] = q
		}
		s.Questions = qs
		out.Sections[i] = s
	}
	return out
}

// TestSummary is a lightweight listing entry.
type TestSummary struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Role            string    `json:"role"`
	DurationMinutes int       `json:"duration_minutes"`
	TotalMarks      float64   `json:"total_marks"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
}

// Summary builds a listing entry.
func (t TestDefinition) Summary() TestSummary {
	return TestSummary{
		ID:              t.ID,
		Title:           t.Title,
		Role:            t.Role,
		DurationMinutes: t.DurationMinutes,
		TotalMarks:      t.TotalMarks(),
		CreatedBy:       t.CreatedBy,
		CreatedAt:       t.CreatedAt,
	}
}

// Answer is a student's answer to one question. MCQ answers set ChoiceIndex;
// code and subjective answers set Text.
type Answer struct {
	ChoiceIndex *int   `json:"choice_index,omitempty" bson:"choice_index,omitempty"`
	Text        string `json:"text,omitempty" bson:"text,omitempty"`
}

// Evaluation is the score and feedback for one answered question.
type Evaluation struct {
	QuestionID string  `json:"question_id" bson:"question_id"`
	Score      float64 `json:"score" bson:"score"`
	Feedback   string  `json:"feedback" bson:"feedback"`
	Failed     bool    `json:"failed,omitempty" bson:"failed,omitempty"`
}

// Submission holds one student's answers to one test.
type Submission struct {
	ID              string                `json:"id" bson:"_id"`
	TestID          string                `json:"test_id" bson:"test_id"`
	StudentID       string                `json:"student_id" bson:"student_id"`
	StudentName     string                `json:"student_name" bson:"student_name"`
	StudentEmail    string                `json:"student_email" bson:"student_email"`
	Answers         map[string]Answer     `json:"answers" bson:"answers"`
	StartedAt       *time.Time            `json:"started_at,omitempty" bson:"started_at,omitempty"`
	SubmittedAt     time.Time             `json:"submitted_at" bson:"submitted_at"`
	Late            bool                  `json:"late,omitempty" bson:"late,omitempty"`
	Evaluations     map[string]Evaluation `json:"evaluations,omitempty" bson:"evaluations,omitempty"`
	TotalScore      float64               `json:"total_score" bson:"total_score"`
	OverallFeedback string                `json:"overall_feedback,omitempty" bson:"overall_feedback,omitempty"`
	Evaluated       bool                  `json:"evaluated" bson:"evaluated"`
	EvaluatedAt     *time.Time            `json:"evaluated_at,omitempty" bson:"evaluated_at,omitempty"`
	EvaluatedBy     string                `json:"evaluated_by,omitempty" bson:"evaluated_by,omitempty"`
}

// TimeTaken is the time between starting and submitting the test. ok is
// false when no start was recorded.
func (s Submission) TimeTaken() (d time.Duration, ok bool) {
	if s.StartedAt == nil || s.SubmittedAt.Before(*s.StartedAt) {
		return 0, false
	}
	return s.SubmittedAt.Sub(*s.StartedAt), true
}

// Attempt is a started test: answers are due by Deadline.
type Attempt struct {
	TestID    string    `json:"test_id"`
	StartedAt time.Time `json:"started_at"`
	Deadline  time.Time `json:"deadline"`
}
