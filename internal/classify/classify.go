// Package classify turns persisted run and deployment records into issues.
//
// Detection is an ordered set of independent checks: each detector emits
// zero or more candidates and never short-circuits its siblings, so one
// record can yield several issue types in the same pass. Mechanical
// threshold checks carry fixed severities; only failure analysis consults
// the advisory model, and only when the severity rule table has no answer.
package classify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kestrelhq/kestrel/internal/advisory"
	"github.com/kestrelhq/kestrel/internal/model"
)

// Store is the persistence surface the engine needs.
type Store interface {
	CreateIssue(ctx context.Context, issue model.Issue) (model.Issue, error)
	HasActiveIssue(ctx context.Context, t model.IssueType, runID, deploymentID *int64) (bool, error)
	RecordAction(ctx context.Context, a model.AgentAction) (model.AgentAction, error)
}

// candidate is an unsaved issue plus the flags that steer enrichment.
type candidate struct {
	issue         model.Issue
	severityKnown bool // fixed by the detector or the rule table
	wantAdvisory  bool // request narrative and suggested fix
	detectorName  string
}

// Engine runs the detector sets and persists what they find.
type Engine struct {
	store   Store
	advisor advisory.Advisor
	logger  *slog.Logger
}

// New builds a classification engine.
func New(store Store, advisor advisory.Advisor, logger *slog.Logger) *Engine {
	return &Engine{store: store, advisor: advisor, logger: logger}
}

// ClassifyRun inspects one pipeline run and persists any issues found.
// Candidates are independent: a failure on one never blocks the rest.
func (e *Engine) ClassifyRun(ctx context.Context, run model.RunRecord) []model.Issue {
	var candidates []candidate
	for _, d := range runDetectors {
		candidates = append(candidates, d.detect(run)...)
	}
	return e.persist(ctx, candidates)
}

// ClassifyDeployment inspects one deployment's current state and persists
// any issues found. Called on every poll, so duplicate suppression against
// still-active issues matters here.
func (e *Engine) ClassifyDeployment(ctx context.Context, d model.DeploymentRecord) []model.Issue {
	var candidates []candidate
	for _, det := range deploymentDetectors {
		candidates = append(candidates, det.detect(d)...)
	}
	return e.persist(ctx, candidates)
}

func (e *Engine) persist(ctx context.Context, candidates []candidate) []model.Issue {
	var created []model.Issue
	for _, c := range candidates {
		exists, err := e.store.HasActiveIssue(ctx, c.issue.Type, c.issue.RunID, c.issue.DeploymentID)
		if err != nil {
			e.logger.Error("classify: check existing issue", "type", c.issue.Type, "error", err)
			continue
		}
		if exists {
			e.logger.Debug("classify: active issue already filed, skipping",
				"type", c.issue.Type, "title", c.issue.Title)
			continue
		}

		issue := e.enrich(ctx, c)

		saved, err := e.store.CreateIssue(ctx, issue)
		if err != nil {
			e.logger.Error("classify: persist issue", "type", issue.Type, "error", err)
			continue
		}

		action := model.NewAgentAction(model.ActionIssueDetection, model.ActionCompleted,
			"issue detected by "+c.detectorName, map[string]any{
				"issue_type": string(saved.Type),
				"severity":   string(saved.Severity),
				"detector":   c.detectorName,
			})
		action.IssueID = &saved.ID
		if _, err := e.store.RecordAction(ctx, action); err != nil {
			e.logger.Warn("classify: record detection action", "issue_id", saved.ID, "error", err)
		}

		created = append(created, saved)
	}
	return created
}

// enrich settles severity and, when requested, asks the advisory model for
// a narrative and suggested fix. Advisory failures degrade to safe
// defaults and never block the issue.
func (e *Engine) enrich(ctx context.Context, c candidate) model.Issue {
	issue := c.issue

	if !c.severityKnown {
		hint, err := e.advisor.SuggestSeverity(ctx, issue)
		if err != nil {
			if !errors.Is(err, advisory.ErrUnavailable) {
				e.logger.Warn("classify: advisory severity hint", "type", issue.Type, "error", err)
			}
			issue.Severity = model.SeverityMedium
		} else {
			issue.Severity = hint.Severity
			if hint.Rationale != "" && issue.Narrative == "" {
				issue.Narrative = hint.Rationale
			}
		}
	}

	if c.wantAdvisory {
		if fix, err := e.advisor.SuggestFix(ctx, issue); err == nil {
			issue.Fix = &model.SuggestedFix{
				Summary:    fix.Summary,
				Actions:    fix.Actions,
				Confidence: fix.Confidence,
				Source:     "advisory",
			}
		} else if !errors.Is(err, advisory.ErrUnavailable) {
			e.logger.Warn("classify: advisory fix suggestion", "type", issue.Type, "error", err)
		}
	}

	return issue
}
