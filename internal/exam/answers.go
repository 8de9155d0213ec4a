package exam

import (
	"fmt"

	"github.com/pavelanni/hiretest/internal/model"
)

// ValidateAnswers checks that every answer refers to a question of t and
// fits it. An empty answer set is valid.
func ValidateAnswers(t model.TestDefinition, answers map[string]model.Answer) error {
	for id, a := range answers {
		q, ok := t.Question(id)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownQuestion, id)
		}
		if q.Kind != model.KindMCQ {
			if a.ChoiceIndex != nil {
				return fmt.Errorf("%w: question %s takes a text answer", ErrInvalidAnswer, id)
			}
			continue
		}
		if a.ChoiceIndex == nil {
			continue
		}
		if i := *a.ChoiceIndex; i < 0 || i >= len(q.Choices) {
			return fmt.Errorf("%w: question %s has no choice %d", ErrInvalidAnswer, id, i)
		}
	}
	return nil
}
