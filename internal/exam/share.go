package exam

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pavelanni/hiretest/internal/model"
)

// EncodeShareCode packs the portable part of a test into a base64 code
// another recruiter can import.
func EncodeShareCode(t model.TestDefinition) (string, error) {
	b, err := json.Marshal(model.SharedTest{
		Title:           t.Title,
		Role:            t.Role,
		DurationMinutes: t.DurationMinutes,
		TotalMarks:      t.TotalMarks(),
		Sections:        t.Sections,
		GradingRubric:   t.GradingRubric,
	})
	if err != nil {
		return "", fmt.Errorf("marshal shared test: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeShareCode unpacks a share code into a new, unsaved test owned by
// createdBy.
func DecodeShareCode(code, createdBy string) (model.TestDefinition, error) {
	code = strings.Join(strings.Fields(code), "")
	if code == "" {
		return model.TestDefinition{}, fmt.Errorf("%w: empty code", ErrInvalidShareCode)
	}
	b, err := base64.StdEncoding.DecodeString(code)
	if err != nil {
		if b, err = base64.URLEncoding.DecodeString(code); err != nil {
			return model.TestDefinition{}, fmt.Errorf("%w: not base64", ErrInvalidShareCode)
		}
	}
	var shared model.SharedTest
	if err := json.Unmarshal(b, &shared); err != nil {
		return model.TestDefinition{}, fmt.Errorf("%w: %v", ErrInvalidShareCode, err)
	}
	if len(shared.Sections) == 0 {
		return model.TestDefinition{}, fmt.Errorf("%w: missing sections", ErrInvalidShareCode)
	}

	t := model.TestDefinition{
		Title:           shared.Title,
		Role:            shared.Role,
		DurationMinutes: shared.DurationMinutes,
		Sections:        shared.Sections,
		GradingRubric:   shared.GradingRubric,
		CreatedBy:       createdBy,
	}
	if err := Normalize(&t); err != nil {
		return model.TestDefinition{}, fmt.Errorf("%w: %v", ErrInvalidShareCode, err)
	}
	return t, nil
}
