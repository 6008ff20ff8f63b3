package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/kestrelhq/kestrel/internal/model"
)

// EmailSink delivers alerts over SMTP with STARTTLS.
type EmailSink struct {
	host     string
	port     int
	user     string
	password string
	from     string
	to       string
}

// NewEmailSink builds an SMTP sink.
func NewEmailSink(host string, port int, user, password, from, to string) *EmailSink {
	return &EmailSink{host: host, port: port, user: user, password: password, from: from, to: to}
}

// Channel implements Sink.
func (e *EmailSink) Channel() model.ChannelType { return model.ChannelEmail }

// Send implements Sink. net/smtp has no context support, so cancellation
// is checked before the dial and the SMTP exchange runs to completion.
func (e *EmailSink) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", e.from)
	fmt.Fprintf(&sb, "To: %s\r\n", e.to)
	fmt.Fprintf(&sb, "Subject: %s\r\n", msg.Subject)
	sb.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	sb.WriteString(msg.Body)
	sb.WriteString("\r\n")

	addr := fmt.Sprintf("%s:%d", e.host, e.port)
	var auth smtp.Auth
	if e.user != "" {
		auth = smtp.PlainAuth("", e.user, e.password, e.host)
	}
	if err := smtp.SendMail(addr, auth, e.from, []string{e.to}, []byte(sb.String())); err != nil {
		return fmt.Errorf("notify: send mail via %s: %w", e.host, err)
	}
	return nil
}
