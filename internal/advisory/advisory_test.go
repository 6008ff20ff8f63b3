package advisory

import (
	"context"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/kestrel/internal/model"
)

func TestNoopReturnsUnavailable(t *testing.T) {
	ctx := context.Background()
	issue := model.NewIssue(model.IssuePipelineFailure, model.SeverityLow, "Pipeline failure in CI")

	_, err := Noop{}.SuggestSeverity(ctx, issue)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = Noop{}.SuggestFix(ctx, issue)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = Noop{}.RenderNotification(ctx, issue, false)
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.NoError(t, Noop{}.Close())
}

func TestExtractText(t *testing.T) {
	_, err := extractText(nil)
	require.Error(t, err)

	_, err = extractText(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: nil}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no content")

	text, err := extractText(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"severity":"high"}`)}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"severity":"high"}`, text)
}

func TestCleanJSONBlock(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"severity":"high"}`, `{"severity":"high"}`},
		{"```json\n{\"severity\":\"high\"}\n```", `{"severity":"high"}`},
		{"```\n{}\n```", `{}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanJSONBlock(tt.in))
	}
}
