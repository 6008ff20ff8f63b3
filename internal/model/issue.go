package model

import "time"

// IssueType identifies the class of problem a detector found.
type IssueType string

const (
	IssuePipelineFailure       IssueType = "pipeline_failure"
	IssueLongRunningJob        IssueType = "long_running_job"
	IssueSecurityVulnerability IssueType = "security_vulnerability"
	IssuePipelinePerformance   IssueType = "pipeline_performance"
	IssueDeploymentFailure     IssueType = "deployment_failure"
	IssueScaling               IssueType = "scaling_issue"
	IssueResourceConfiguration IssueType = "resource_configuration"
	IssueHealthCheckMissing    IssueType = "health_check_missing"
)

// Severity orders issues from low to critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the numeric ordering of a severity; unknown values rank
// below low.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Urgent reports whether the severity requires fan-out to every channel.
func (s Severity) Urgent() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// IssueStatus is the lifecycle state of an issue. Issues in open or
// investigating are "active": they are eligible for notifications and are
// never swept by retention.
type IssueStatus string

const (
	IssueOpen          IssueStatus = "open"
	IssueInvestigating IssueStatus = "investigating"
	IssueResolved      IssueStatus = "resolved"
	IssueFalsePositive IssueStatus = "false_positive"
)

// Active reports whether the issue still needs attention.
func (s IssueStatus) Active() bool {
	return s == IssueOpen || s == IssueInvestigating
}

// EntityKind names the unit an affected-entity reference points at.
type EntityKind string

const (
	EntityJob        EntityKind = "job"
	EntityContainer  EntityKind = "container"
	EntityDeployment EntityKind = "deployment"
)

// AffectedEntity is one structured reference from an issue to a job,
// container, or deployment involved in the problem.
type AffectedEntity struct {
	Kind      EntityKind `json:"kind"`
	Name      string     `json:"name"`
	Namespace string     `json:"namespace,omitempty"`
	Detail    string     `json:"detail,omitempty"`
}

// FixAction is one concrete step of a suggested fix.
type FixAction struct {
	Description string `json:"description"`
	Command     string `json:"command,omitempty"`
}

// SuggestedFix is remediation guidance attached to an issue, either from
// the advisory model or from a detector's built-in playbook.
type SuggestedFix struct {
	Summary    string      `json:"summary"`
	Actions    []FixAction `json:"actions,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`
	Source     string      `json:"source,omitempty"` // detector name or "advisory"
}

// Issue is one detected problem, persisted once by the classification
// engine and advanced through its lifecycle states afterwards. Severity
// and status are always set; ResolvedAt is non-nil exactly when the
// status is resolved or false_positive.
type Issue struct {
	ID           int64            `json:"id"`
	Type         IssueType        `json:"type"`
	Severity     Severity         `json:"severity"`
	Status       IssueStatus      `json:"status"`
	Title        string           `json:"title"`
	Description  string           `json:"description,omitempty"`
	RunID        *int64           `json:"run_id,omitempty"`
	DeploymentID *int64           `json:"deployment_id,omitempty"`
	Affected     []AffectedEntity `json:"affected,omitempty"`
	Raw          map[string]any   `json:"raw,omitempty"`
	Narrative    string           `json:"narrative,omitempty"`
	Fix          *SuggestedFix    `json:"fix,omitempty"`
	DetectedAt   time.Time        `json:"detected_at"`
	ResolvedAt   *time.Time       `json:"resolved_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// NewIssue builds an unsaved open issue with detection time set to now.
func NewIssue(t IssueType, sev Severity, title string) Issue {
	now := time.Now().UTC()
	return Issue{
		Type:       t,
		Severity:   sev,
		Status:     IssueOpen,
		Title:      title,
		DetectedAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
