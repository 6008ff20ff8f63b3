package model

import "time"

// ChannelType names a delivery channel.
type ChannelType string

const (
	ChannelSlack ChannelType = "slack"
	ChannelTeams ChannelType = "teams"
	ChannelEmail ChannelType = "email"
)

// DeliveryStatus records the outcome of one send attempt.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// NotificationRecord is the persisted audit row for one message sent (or
// attempted) on one channel. The throttle window and reminder cooldown are
// both evaluated against these rows.
type NotificationRecord struct {
	ID        int64          `json:"id"`
	IssueID   int64          `json:"issue_id"`
	Channel   ChannelType    `json:"channel"`
	Subject   string         `json:"subject"`
	Body      string         `json:"body,omitempty"`
	Status    DeliveryStatus `json:"status"`
	Error     string         `json:"error,omitempty"`
	Reminder  bool           `json:"reminder"`
	SentAt    *time.Time     `json:"sent_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
