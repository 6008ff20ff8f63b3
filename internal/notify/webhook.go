package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kestrelhq/kestrel/internal/model"
)

const webhookTimeout = 10 * time.Second

// SlackSink posts attachment-style messages to a Slack incoming webhook.
type SlackSink struct {
	url    string
	client *http.Client
}

// NewSlackSink builds a Slack sink for the given webhook URL.
func NewSlackSink(webhookURL string) *SlackSink {
	return &SlackSink{
		url:    webhookURL,
		client: &http.Client{Timeout: webhookTimeout},
	}
}

// Channel implements Sink.
func (s *SlackSink) Channel() model.ChannelType { return model.ChannelSlack }

// Send implements Sink.
func (s *SlackSink) Send(ctx context.Context, msg Message) error {
	color := "#ffa500"
	if msg.Urgent {
		color = "#ff0000"
	}
	payload := map[string]any{
		"attachments": []map[string]any{{
			"color": color,
			"title": msg.Subject,
			"text":  msg.Body,
			"fields": []map[string]any{
				{"title": "Severity", "value": strings.ToUpper(string(msg.Severity)), "short": true},
			},
			"footer": "Kestrel Monitoring",
			"ts":     time.Now().Unix(),
		}},
	}
	return postJSON(ctx, s.client, s.url, payload)
}

// TeamsSink posts MessageCard payloads to a Microsoft Teams webhook.
type TeamsSink struct {
	url    string
	client *http.Client
}

// NewTeamsSink builds a Teams sink for the given webhook URL.
func NewTeamsSink(webhookURL string) *TeamsSink {
	return &TeamsSink{
		url:    webhookURL,
		client: &http.Client{Timeout: webhookTimeout},
	}
}

// Channel implements Sink.
func (t *TeamsSink) Channel() model.ChannelType { return model.ChannelTeams }

// Send implements Sink.
func (t *TeamsSink) Send(ctx context.Context, msg Message) error {
	themeColor := "FFA500"
	if msg.Urgent {
		themeColor = "FF0000"
	}
	payload := map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": themeColor,
		"summary":    msg.Subject,
		"sections": []map[string]any{{
			"activityTitle":    msg.Subject,
			"activitySubtitle": "Severity: " + strings.ToUpper(string(msg.Severity)),
			"text":             msg.Body,
		}},
	}
	return postJSON(ctx, t.client, t.url, payload)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post to %s: %w", redactURL(url), err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: %s returned status %d", redactURL(url), resp.StatusCode)
	}
	return nil
}
