// Package advisory wraps the optional language-model integration.
//
// The advisory model is strictly a hint provider: classification falls
// back to it only when the rule table has no answer, and notification
// rendering falls back to plain templates when it is unavailable. Every
// method must degrade cleanly when the model errors or is not configured.
package advisory

import (
	"context"

	"github.com/kestrelhq/kestrel/internal/model"
)

// SeverityHint is the model's assessment of an unclassified failure.
type SeverityHint struct {
	Severity  model.Severity `json:"severity"`
	Rationale string         `json:"rationale,omitempty"`
}

// FixSuggestion is the model's remediation proposal for an issue.
type FixSuggestion struct {
	Summary    string            `json:"summary"`
	Actions    []model.FixAction `json:"actions,omitempty"`
	Confidence float64           `json:"confidence,omitempty"`
}

// Advisor is the model-backed hint surface.
type Advisor interface {
	// SuggestSeverity assesses an issue that no severity rule matched.
	SuggestSeverity(ctx context.Context, issue model.Issue) (SeverityHint, error)
	// SuggestFix proposes remediation steps for an issue.
	SuggestFix(ctx context.Context, issue model.Issue) (FixSuggestion, error)
	// RenderNotification writes the human-facing message body for an issue.
	RenderNotification(ctx context.Context, issue model.Issue, reminder bool) (string, error)
	// Close releases any resources held by the advisor.
	Close() error
}

// Noop is the advisor used when no API key is configured. All methods
// return ErrUnavailable so callers take their template fallbacks.
type Noop struct{}

func (Noop) SuggestSeverity(context.Context, model.Issue) (SeverityHint, error) {
	return SeverityHint{}, ErrUnavailable
}

func (Noop) SuggestFix(context.Context, model.Issue) (FixSuggestion, error) {
	return FixSuggestion{}, ErrUnavailable
}

func (Noop) RenderNotification(context.Context, model.Issue, bool) (string, error) {
	return "", ErrUnavailable
}

func (Noop) Close() error { return nil }
