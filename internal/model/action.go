package model

import "time"

// ActionType categorizes an audit entry.
type ActionType string

const (
	ActionMonitoring     ActionType = "monitoring"
	ActionIssueDetection ActionType = "issue_detection"
	ActionNotification   ActionType = "notification"
	ActionRetention      ActionType = "retention"
)

// ActionStatus is the outcome of the recorded action.
type ActionStatus string

const (
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
)

// AgentAction is one audit-trail row. Data carries the action's structured
// result (counters, cycle id, error text) as free-form JSON.
type AgentAction struct {
	ID          int64          `json:"id"`
	Type        ActionType     `json:"type"`
	Status      ActionStatus   `json:"status"`
	Description string         `json:"description"`
	IssueID     *int64         `json:"issue_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewAgentAction builds an unsaved audit row stamped with the current time.
func NewAgentAction(t ActionType, status ActionStatus, desc string, data map[string]any) AgentAction {
	return AgentAction{
		Type:        t,
		Status:      status,
		Description: desc,
		Data:        data,
		CreatedAt:   time.Now().UTC(),
	}
}
