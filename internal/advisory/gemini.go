package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/kestrelhq/kestrel/internal/model"
)

// ErrUnavailable means the advisor cannot serve requests; callers must
// fall back to their rule-based or template paths.
var ErrUnavailable = errors.New("advisory: unavailable")

// Gemini is the Google Gemini-backed Advisor.
type Gemini struct {
	client    *genai.Client
	modelName string
}

// NewGemini creates an Advisor backed by the Gemini API.
func NewGemini(ctx context.Context, apiKey, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("advisory: API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("advisory: create client: %w", err)
	}
	return &Gemini{client: client, modelName: modelName}, nil
}

// SuggestSeverity implements Advisor.
func (g *Gemini) SuggestSeverity(ctx context.Context, issue model.Issue) (SeverityHint, error) {
	prompt := fmt.Sprintf(
		`Assess the severity of this CI/CD issue. Respond with JSON: {"severity": "low"|"medium"|"high"|"critical", "rationale": "..."}.

Issue type: %s
Title: %s
Description: %s`,
		issue.Type, issue.Title, issue.Description)

	raw, err := g.generateJSON(ctx, prompt)
	if err != nil {
		return SeverityHint{}, err
	}

	var hint SeverityHint
	if err := json.Unmarshal([]byte(raw), &hint); err != nil {
		return SeverityHint{}, fmt.Errorf("advisory: decode severity hint: %w", err)
	}
	if hint.Severity.Rank() < 0 {
		return SeverityHint{}, fmt.Errorf("advisory: unknown severity %q", hint.Severity)
	}
	return hint, nil
}

// SuggestFix implements Advisor.
func (g *Gemini) SuggestFix(ctx context.Context, issue model.Issue) (FixSuggestion, error) {
	prompt := fmt.Sprintf(
		`Suggest remediation for this CI/CD issue. Respond with JSON:
{"summary": "...", "actions": [{"description": "...", "command": "..."}], "confidence": 0.0-1.0}.

Issue type: %s
Severity: %s
Title: %s
Description: %s`,
		issue.Type, issue.Severity, issue.Title, issue.Description)

	raw, err := g.generateJSON(ctx, prompt)
	if err != nil {
		return FixSuggestion{}, err
	}

	var fix FixSuggestion
	if err := json.Unmarshal([]byte(raw), &fix); err != nil {
		return FixSuggestion{}, fmt.Errorf("advisory: decode fix suggestion: %w", err)
	}
	return fix, nil
}

// RenderNotification implements Advisor.
func (g *Gemini) RenderNotification(ctx context.Context, issue model.Issue, reminder bool) (string, error) {
	kind := "alert"
	if reminder {
		kind = "reminder about a still-open issue"
	}
	prompt := fmt.Sprintf(
		`Write a short, factual %s message for an engineering channel. Plain text, no markdown headers, at most 6 lines.

Issue type: %s
Severity: %s
Title: %s
Description: %s`,
		kind, issue.Type, issue.Severity, issue.Title, issue.Description)

	gm := g.client.GenerativeModel(g.modelName)
	gm.SetTemperature(0.3)
	resp, err := gm.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("advisory: generate notification: %w", err)
	}
	return extractText(resp)
}

// Close implements Advisor.
func (g *Gemini) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *Gemini) generateJSON(ctx context.Context, prompt string) (string, error) {
	gm := g.client.GenerativeModel(g.modelName)
	gm.SetTemperature(0.1)
	gm.ResponseMIMEType = "application/json"

	resp, err := gm.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("advisory: generate content: %w", err)
	}
	text, err := extractText(resp)
	if err != nil {
		return "", err
	}
	return cleanJSONBlock(text), nil
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("advisory: empty response")
	}
	candidate := resp.Candidates[0]
	// Safety-blocked generations come back with a candidate but no content.
	if candidate.Content == nil {
		return "", fmt.Errorf("advisory: no content in response")
	}
	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("advisory: no text in response")
	}
	return sb.String(), nil
}

// cleanJSONBlock strips markdown code fences some models wrap JSON in.
func cleanJSONBlock(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
