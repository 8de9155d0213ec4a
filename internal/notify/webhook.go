// Package notify posts evaluation events to an external webhook.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/pavelanni/hiretest/internal/model"
)

// EventSubmissionEvaluated is sent when a submission has been scored.
const EventSubmissionEvaluated = "submission.evaluated"

// Event is the webhook payload.
type Event struct {
	Event        string    `json:"event"`
	TestID       string    `json:"test_id"`
	TestTitle    string    `json:"test_title"`
	SubmissionID string    `json:"submission_id"`
	StudentName  string    `json:"student_name"`
	StudentEmail string    `json:"student_email"`
	Score        float64   `json:"score"`
	Total        float64   `json:"total"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// Webhook posts events as JSON to a fixed URL.
type Webhook struct {
	url    string
	client *resty.Client
}

// NewWebhook creates a Webhook posting to url.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	c := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "hiretest-webhook")
	return &Webhook{url: url, client: c}
}

// SubmissionEvaluated posts an EventSubmissionEvaluated event.
func (w *Webhook) SubmissionEvaluated(ctx context.Context, t model.TestDefinition, sub model.Submission) error {
	ev := Event{
		Event:        EventSubmissionEvaluated,
		TestID:       t.ID,
		TestTitle:    t.Title,
		SubmissionID: sub.ID,
		StudentName:  sub.StudentName,
		StudentEmail: sub.StudentEmail,
		Score:        sub.TotalScore,
		Total:        t.TotalMarks(),
	}
	if sub.EvaluatedAt != nil {
		ev.EvaluatedAt = *sub.EvaluatedAt
	}
	resp, err := w.client.R().SetContext(ctx).SetBody(ev).Post(w.url)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned %s", resp.Status())
	}
	slog.Debug("webhook delivered", "event", ev.Event, "submission", sub.ID, "status", resp.StatusCode())
	return nil
}
