package model

import "time"

// TestExport is the top-level JSON structure for result export.
type TestExport struct {
	TestID        string          `json:"test_id"`
	Title         string          `json:"title"`
	Role          string          `json:"role"`
	PromptVariant string          `json:"prompt_variant"`
	NumQuestions  int             `json:"num_questions"`
	TotalMarks    float64         `json:"total_marks"`
	ExportedAt    time.Time       `json:"exported_at"`
	Results       []StudentResult `json:"results"`
}

// StudentResult holds one student's submission data for export.
type StudentResult struct {
	SubmissionID    string           `json:"submission_id"`
	StudentName     string           `json:"student_name"`
	StudentEmail    string           `json:"student_email"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	SubmittedAt     time.Time        `json:"submitted_at"`
	Late            bool             `json:"late,omitempty"`
	Evaluated       bool             `json:"evaluated"`
	TotalScore      float64          `json:"total_score"`
	OverallFeedback string           `json:"overall_feedback,omitempty"`
	Questions       []QuestionResult `json:"questions"`
}

// QuestionResult holds per-question data for export.
type QuestionResult struct {
	QuestionID string       `json:"question_id"`
	Kind       QuestionKind `json:"kind"`
	Prompt     string       `json:"prompt"`
	MaxScore   float64      `json:"max_score"`
	Answer     *Answer      `json:"answer,omitempty"`
	Score      float64      `json:"score"`
	Feedback   string       `json:"feedback,omitempty"`
	Failed     bool         `json:"failed,omitempty"`
}

// NewStudentResult flattens a submission against its test.
func NewStudentResult(t TestDefinition, s Submission) StudentResult {
	res := StudentResult{
		SubmissionID:    s.ID,
		StudentName:     s.StudentName,
		StudentEmail:    s.StudentEmail,
		StartedAt:       s.StartedAt,
		SubmittedAt:     s.SubmittedAt,
		Late:            s.Late,
		Evaluated:       s.Evaluated,
		TotalScore:      s.TotalScore,
		OverallFeedback: s.OverallFeedback,
	}
	for _, sec := range t.Sections {
		for _, q := range sec.Questions {
			qr := QuestionResult{
				QuestionID: q.ID,
				Kind:       q.Kind,
				Prompt:     q.Prompt,
				MaxScore:   q.MaxScore,
			}
			if a, ok := s.Answers[q.ID]; ok {
				a := a
				qr.Answer = &a
			}
			if ev, ok := s.Evaluations[q.ID]; ok {
				qr.Score = ev.Score
				qr.Feedback = ev.Feedback
				qr.Failed = ev.Failed
			}
			res.Questions = append(res.Questions, qr)
		}
	}
	return res
}

// SharedTest is the portable subset of a test carried in a share code.
type SharedTest struct {
	Title           string       `json:"title"`
	Role            string       `json:"role,omitempty"`
	DurationMinutes int          `json:"duration_minutes"`
	TotalMarks      float64      `json:"total_marks"`
	Sections        []Section    `json:"sections"`
	GradingRubric   []RubricBand `json:"grading_rubric,omitempty"`
}
