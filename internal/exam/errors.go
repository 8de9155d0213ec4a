package exam

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned for a generation request that fails
	// validation. No LLM call is made.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnknownQuestion is returned when an answer references a question
	// that is not part of the test.
	ErrUnknownQuestion = errors.New("unknown question")
	// ErrInvalidAnswer is returned for an answer that does not fit its
	// question, such as an out-of-range choice.
	ErrInvalidAnswer = errors.New("invalid answer")
	// ErrInvalidShareCode is returned when a share code cannot be decoded
	// into a valid test.
	ErrInvalidShareCode = errors.New("invalid share code")
	// ErrInvalidTest is returned for a test definition that breaks a
	// structural rule.
	ErrInvalidTest = errors.New("invalid test definition")
)

// GenerationError reports an LLM response that could not be turned into a
// valid test definition.
type GenerationError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("test generation failed: %s: %v", e.Reason, e.Err)
	}
	return "test generation failed: " + e.Reason
}

func (e *GenerationError) Unwrap() error { return e.Err }

// EvaluationError reports an LLM grading response that could not be
// turned into a score.
type EvaluationError struct {
	QuestionID string
	Raw        string
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate question %s: %v", e.QuestionID, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
