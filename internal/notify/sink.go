// Package notify delivers issue alerts to external channels and enforces
// the throttling rules: a 1h dedup window per issue, urgent fan-out to
// every channel, a single channel for standard alerts, and a separately
// cooled-down reminder pass for long-open issues.
package notify

import (
	"context"
	"net/url"

	"github.com/kestrelhq/kestrel/internal/model"
)

// Message is a rendered notification ready for delivery.
type Message struct {
	Subject  string
	Body     string
	Severity model.Severity
	Urgent   bool
	Reminder bool
}

// Sink is one delivery channel. Implementations deliver synchronously;
// the dispatcher owns retry policy (none within a pass) and audit rows.
type Sink interface {
	// Channel identifies the sink for records and channel-priority rules.
	Channel() model.ChannelType
	// Send delivers one message.
	Send(ctx context.Context, msg Message) error
}

// redactURL strips query strings and path tails from webhook URLs before
// they reach a log line. Slack and Teams webhook paths embed secrets.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Scheme + "://" + u.Host + "/..."
}
