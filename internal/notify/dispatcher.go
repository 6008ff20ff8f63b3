package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kestrelhq/kestrel/internal/advisory"
	"github.com/kestrelhq/kestrel/internal/model"
	"github.com/kestrelhq/kestrel/internal/telemetry"
)

// Store is the persistence surface the dispatcher needs.
type Store interface {
	ListActiveIssues(ctx context.Context) ([]model.Issue, error)
	LastAlertAt(ctx context.Context, issueID int64) (*time.Time, error)
	LastReminderAt(ctx context.Context, issueID int64) (*time.Time, error)
	CreateNotification(ctx context.Context, n model.NotificationRecord) (model.NotificationRecord, error)
}

// Options are the dispatcher's timing rules.
type Options struct {
	DedupWindow      time.Duration // Minimum gap between ordinary alerts per issue.
	ReminderAfter    time.Duration // Issue age before reminders start.
	ReminderCooldown time.Duration // Minimum gap between reminders per issue.
	RatePerMinute    int           // Global outbound send budget.
}

// Dispatcher walks the active issues and sends throttled alerts and
// reminders. One Dispatch call is one pass; there are no in-pass retries,
// failed deliveries get another chance on the next cycle once the dedup
// window allows it.
type Dispatcher struct {
	store   Store
	sinks   []Sink
	advisor advisory.Advisor
	limiter *rate.Limiter
	metrics *telemetry.Metrics
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

// NewDispatcher builds a dispatcher. Sink order is the standard-alert
// priority order (Slack before Teams before email). Metrics may be nil.
func NewDispatcher(store Store, sinks []Sink, advisor advisory.Advisor, metrics *telemetry.Metrics, opts Options, logger *slog.Logger) *Dispatcher {
	perMinute := opts.RatePerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	return &Dispatcher{
		store:   store,
		sinks:   sinks,
		advisor: advisor,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		metrics: metrics,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// Dispatch runs one alert pass followed by one reminder pass and returns
// every notification record written.
func (d *Dispatcher) Dispatch(ctx context.Context) ([]model.NotificationRecord, error) {
	issues, err := d.store.ListActiveIssues(ctx)
	if err != nil {
		return nil, fmt.Errorf("notify: list active issues: %w", err)
	}

	var records []model.NotificationRecord
	for _, issue := range issues {
		sent, err := d.alertIssue(ctx, issue)
		if err != nil {
			d.logger.Error("notify: alert pass", "issue_id", issue.ID, "error", err)
			continue
		}
		records = append(records, sent...)
	}

	for _, issue := range issues {
		sent, err := d.remindIssue(ctx, issue)
		if err != nil {
			d.logger.Error("notify: reminder pass", "issue_id", issue.ID, "error", err)
			continue
		}
		records = append(records, sent...)
	}

	return records, nil
}

// alertIssue sends the ordinary alert for one issue, honoring the dedup
// window. Urgent issues fan out to every sink; standard issues use the
// first configured of Slack then email.
func (d *Dispatcher) alertIssue(ctx context.Context, issue model.Issue) ([]model.NotificationRecord, error) {
	last, err := d.store.LastAlertAt(ctx, issue.ID)
	if err != nil {
		return nil, err
	}
	if last != nil && d.now().Sub(*last) < d.opts.DedupWindow {
		d.logger.Debug("notify: within dedup window, skipping", "issue_id", issue.ID)
		return nil, nil
	}

	urgent := issue.Severity.Urgent()
	msg := d.render(ctx, issue, urgent, false)

	var targets []Sink
	if urgent {
		targets = d.sinks
	} else if s := d.standardSink(); s != nil {
		targets = []Sink{s}
	}

	var records []model.NotificationRecord
	for _, sink := range targets {
		records = append(records, d.deliver(ctx, sink, issue, msg))
	}
	return records, nil
}

// remindIssue sends at most one reminder for an issue open longer than
// ReminderAfter, honoring the reminder cooldown. Reminders go to the
// single highest-priority configured sink.
func (d *Dispatcher) remindIssue(ctx context.Context, issue model.Issue) ([]model.NotificationRecord, error) {
	if d.now().Sub(issue.DetectedAt) < d.opts.ReminderAfter {
		return nil, nil
	}
	last, err := d.store.LastReminderAt(ctx, issue.ID)
	if err != nil {
		return nil, err
	}
	if last != nil && d.now().Sub(*last) < d.opts.ReminderCooldown {
		return nil, nil
	}
	if len(d.sinks) == 0 {
		return nil, nil
	}

	msg := d.render(ctx, issue, issue.Severity.Urgent(), true)
	rec := d.deliver(ctx, d.sinks[0], issue, msg)
	return []model.NotificationRecord{rec}, nil
}

// deliver attempts one send and always writes exactly one audit row.
func (d *Dispatcher) deliver(ctx context.Context, sink Sink, issue model.Issue, msg Message) model.NotificationRecord {
	rec := model.NotificationRecord{
		IssueID:   issue.ID,
		Channel:   sink.Channel(),
		Subject:   msg.Subject,
		Body:      msg.Body,
		Reminder:  msg.Reminder,
		CreatedAt: d.now().UTC(),
	}

	var sendErr error
	if !d.limiter.Allow() {
		sendErr = errors.New("notify: send rate limit exceeded")
	} else {
		sendErr = sink.Send(ctx, msg)
	}

	d.metrics.RecordNotification(ctx, string(sink.Channel()), sendErr == nil)

	if sendErr != nil {
		rec.Status = model.DeliveryFailed
		rec.Error = sendErr.Error()
		d.logger.Error("notify: delivery failed",
			"issue_id", issue.ID, "channel", sink.Channel(), "error", sendErr)
	} else {
		now := d.now().UTC()
		rec.Status = model.DeliverySent
		rec.SentAt = &now
		d.logger.Info("notify: delivered",
			"issue_id", issue.ID, "channel", sink.Channel(), "reminder", msg.Reminder)
	}

	saved, err := d.store.CreateNotification(ctx, rec)
	if err != nil {
		d.logger.Error("notify: persist notification record",
			"issue_id", issue.ID, "channel", sink.Channel(), "error", err)
		return rec
	}
	return saved
}

// render produces the message, preferring advisory phrasing and falling
// back to a fixed template. Narrative failure never blocks delivery.
func (d *Dispatcher) render(ctx context.Context, issue model.Issue, urgent, reminder bool) Message {
	subject := "[ALERT] " + issue.Title
	if urgent {
		subject = "[URGENT] " + issue.Title
	}
	if reminder {
		subject = "REMINDER: " + issue.Title
	}

	body, err := d.advisor.RenderNotification(ctx, issue, reminder)
	if err != nil {
		if !errors.Is(err, advisory.ErrUnavailable) {
			d.logger.Warn("notify: advisory rendering", "issue_id", issue.ID, "error", err)
		}
		body = templateBody(issue, reminder)
	}

	return Message{
		Subject:  subject,
		Body:     body,
		Severity: issue.Severity,
		Urgent:   urgent,
		Reminder: reminder,
	}
}

// standardSink picks the channel for low/medium alerts: Slack if
// configured, else email. Teams is urgent-only.
func (d *Dispatcher) standardSink() Sink {
	for _, s := range d.sinks {
		if s.Channel() == model.ChannelSlack {
			return s
		}
	}
	for _, s := range d.sinks {
		if s.Channel() == model.ChannelEmail {
			return s
		}
	}
	return nil
}

func templateBody(issue model.Issue, reminder bool) string {
	var sb strings.Builder
	if reminder {
		sb.WriteString("REMINDER: This issue has been open for more than 24 hours.\n\n")
	}
	fmt.Fprintf(&sb, "Issue: %s\n", issue.Title)
	fmt.Fprintf(&sb, "Description: %s\n", issue.Description)
	fmt.Fprintf(&sb, "Severity: %s\n", strings.ToUpper(string(issue.Severity)))
	fmt.Fprintf(&sb, "Status: %s\n", strings.ToUpper(string(issue.Status)))
	sb.WriteString("\nPlease review this issue and take appropriate action.")
	return sb.String()
}
