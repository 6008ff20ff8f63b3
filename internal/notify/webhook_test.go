package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/kestrel/internal/model"
)

func TestSlackSinkPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
	}))
	defer srv.Close()

	sink := NewSlackSink(srv.URL)
	err := sink.Send(context.Background(), Message{
		Subject:  "[URGENT] Pipeline failure in CI",
		Body:     "Pipeline run 42 failed",
		Severity: model.SeverityCritical,
		Urgent:   true,
	})
	require.NoError(t, err)

	attachments, ok := got["attachments"].([]any)
	require.True(t, ok)
	require.Len(t, attachments, 1)
	att := attachments[0].(map[string]any)
	assert.Equal(t, "#ff0000", att["color"])
	assert.Equal(t, "[URGENT] Pipeline failure in CI", att["title"])
}

func TestSlackSinkStandardColor(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
	}))
	defer srv.Close()

	sink := NewSlackSink(srv.URL)
	require.NoError(t, sink.Send(context.Background(), Message{
		Subject:  "[ALERT] Long running job: test",
		Severity: model.SeverityMedium,
	}))

	att := got["attachments"].([]any)[0].(map[string]any)
	assert.Equal(t, "#ffa500", att["color"])
}

func TestTeamsSinkPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
	}))
	defer srv.Close()

	sink := NewTeamsSink(srv.URL)
	require.NoError(t, sink.Send(context.Background(), Message{
		Subject:  "[URGENT] Deployment failure: api",
		Body:     "Deployment api failed",
		Severity: model.SeverityHigh,
		Urgent:   true,
	}))

	assert.Equal(t, "MessageCard", got["@type"])
	assert.Equal(t, "FF0000", got["themeColor"])
	sections := got["sections"].([]any)
	require.Len(t, sections, 1)
	assert.Equal(t, "Severity: HIGH", sections[0].(map[string]any)["activitySubtitle"])
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	sink := NewSlackSink(srv.URL + "/services/T000/B000/secrettoken")
	err := sink.Send(context.Background(), Message{Subject: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.NotContains(t, err.Error(), "secrettoken", "webhook secrets never reach error text")
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://hooks.slack.com/...",
		redactURL("https://hooks.slack.com/services/T000/B000/secret"))
	assert.Equal(t, "<invalid url>", redactURL("://not-a-url"))
}
