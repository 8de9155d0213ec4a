package exam

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestShareCodeRoundTrip(t *testing.T) {
	orig := sampleTest()
	code, err := EncodeShareCode(orig)
	if err != nil {
		t.Fatalf("EncodeShareCode: %v", err)
	}

	// Codes pasted from chat often pick up line breaks.
	wrapped := code[:10] + "\n  " + code[10:]
	got, err := DecodeShareCode(wrapped, "rec-9")
	if err != nil {
		t.Fatalf("DecodeShareCode: %v", err)
	}
	if got.ID != "" {
		t.Errorf("decoded test should have no ID, got %q", got.ID)
	}
	if got.CreatedBy != "rec-9" {
		t.Errorf("created by = %q", got.CreatedBy)
	}
	if got.Title != orig.Title || got.TotalMarks() != orig.TotalMarks() {
		t.Errorf("decoded %q (%v marks), want %q (%v marks)", got.Title, got.TotalMarks(), orig.Title, orig.TotalMarks())
	}
	q, ok := got.Question("q1")
	if !ok || q.CorrectIdx == nil || *q.CorrectIdx != 1 {
		t.Errorf("answer key lost: %+v", q)
	}
}

func TestDecodeShareCodeURLEncoding(t *testing.T) {
	code, err := EncodeShareCode(sampleTest())
	if err != nil {
		t.Fatalf("EncodeShareCode: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(code)
	if _, err := DecodeShareCode(base64.URLEncoding.EncodeToString(raw), "rec"); err != nil {
		t.Errorf("URL-safe code rejected: %v", err)
	}
}

func TestDecodeShareCodeErrors(t *testing.T) {
	enc := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }
	tests := []struct {
		name string
		code string
		want string
	}{
		{"empty", "  ", "empty code"},
		{"not base64", "%%%", "not base64"},
		{"not json", enc("hello"), "invalid share code"},
		{"no sections", enc(`{"title":"T"}`), "missing sections"},
		{"invalid test", enc(`{"title":"","sections":[{"kind":"mcq","questions":[{"prompt":"p","choices":["a","b"],"correct_index":0}]}]}`), "title is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeShareCode(tt.code, "rec")
			if !errors.Is(err, ErrInvalidShareCode) {
				t.Fatalf("expected ErrInvalidShareCode, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should contain %q", err, tt.want)
			}
		})
	}
}
