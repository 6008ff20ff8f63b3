// Package model defines the core domain types for Kestrel.
//
// All types correspond directly to database tables or to the normalized
// snapshots delivered by source adapters. Types use strong typing (enums,
// time.Time, explicit payload structs) and avoid interface{} wherever
// possible.
package model

import "time"

// RunConclusion is the terminal outcome reported by the CI provider.
type RunConclusion string

const (
	ConclusionSuccess   RunConclusion = "success"
	ConclusionFailure   RunConclusion = "failure"
	ConclusionCancelled RunConclusion = "cancelled"
	ConclusionSkipped   RunConclusion = "skipped"
)

// StepOutcome is one step within a pipeline job.
type StepOutcome struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	Number     int    `json:"number"`
}

// JobOutcome is the result of a single pipeline job, including its steps.
type JobOutcome struct {
	ExternalID      int64         `json:"external_id"`
	Name            string        `json:"name"`
	Status          string        `json:"status"`
	Conclusion      RunConclusion `json:"conclusion"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	DurationSeconds *float64      `json:"duration_seconds,omitempty"`
	Steps           []StepOutcome `json:"steps,omitempty"`
}

// Failed reports whether the job concluded with a failure.
func (j JobOutcome) Failed() bool {
	return j.Conclusion == ConclusionFailure
}

// ArtifactRef describes one artifact produced by a pipeline run.
type ArtifactRef struct {
	ExternalID  int64      `json:"external_id"`
	Name        string     `json:"name"`
	SizeBytes   int64      `json:"size_bytes"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// RunSnapshot is a normalized point-in-time read of one pipeline execution,
// as delivered by a source adapter.
type RunSnapshot struct {
	ExternalID      string        `json:"external_id"`
	WorkflowName    string        `json:"workflow_name"`
	Status          string        `json:"status"`
	Conclusion      RunConclusion `json:"conclusion"`
	CreatedAt       *time.Time    `json:"created_at,omitempty"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	DurationSeconds *float64      `json:"duration_seconds,omitempty"`
	Branch          string        `json:"branch"`
	CommitSHA       string        `json:"commit_sha"`
	CommitMessage   string        `json:"commit_message"`
	Actor           string        `json:"actor"`
	Jobs            []JobOutcome  `json:"jobs,omitempty"`
	Artifacts       []ArtifactRef `json:"artifacts,omitempty"`
}

// FailedJobs returns the jobs that concluded with a failure, in order.
func (s RunSnapshot) FailedJobs() []JobOutcome {
	var failed []JobOutcome
	for _, j := range s.Jobs {
		if j.Failed() {
			failed = append(failed, j)
		}
	}
	return failed
}

// RunRecord is a persisted pipeline execution. Created at most once per
// external run id; later observations of the same id are skipped.
type RunRecord struct {
	ID              int64         `json:"id"`
	ExternalID      string        `json:"external_id"`
	WorkflowName    string        `json:"workflow_name"`
	Status          string        `json:"status"`
	Conclusion      RunConclusion `json:"conclusion"`
	RunCreatedAt    *time.Time    `json:"run_created_at,omitempty"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	DurationSeconds *float64      `json:"duration_seconds,omitempty"`
	Branch          string        `json:"branch"`
	CommitSHA       string        `json:"commit_sha"`
	CommitMessage   string        `json:"commit_message"`
	Actor           string        `json:"actor"`
	Jobs            []JobOutcome  `json:"jobs,omitempty"`
	Artifacts       []ArtifactRef `json:"artifacts,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// NewRunRecord builds an unsaved RunRecord from a snapshot.
func NewRunRecord(s RunSnapshot) RunRecord {
	now := time.Now().UTC()
	return RunRecord{
		ExternalID:      s.ExternalID,
		WorkflowName:    s.WorkflowName,
		Status:          s.Status,
		Conclusion:      s.Conclusion,
		RunCreatedAt:    s.CreatedAt,
		StartedAt:       s.StartedAt,
		CompletedAt:     s.CompletedAt,
		DurationSeconds: s.DurationSeconds,
		Branch:          s.Branch,
		CommitSHA:       s.CommitSHA,
		CommitMessage:   s.CommitMessage,
		Actor:           s.Actor,
		Jobs:            s.Jobs,
		Artifacts:       s.Artifacts,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// FailedJobs returns the jobs that concluded with a failure, in order.
func (r RunRecord) FailedJobs() []JobOutcome {
	var failed []JobOutcome
	for _, j := range r.Jobs {
		if j.Failed() {
			failed = append(failed, j)
		}
	}
	return failed
}
