package orchestrator

import (
	"context"

	"github.com/kestrelhq/kestrel/internal/classify"
	"github.com/kestrelhq/kestrel/internal/ingest"
	"github.com/kestrelhq/kestrel/internal/notify"
)

// Outcome is the structured result of one capability pass, recorded in the
// audit trail.
type Outcome struct {
	Summary map[string]any
}

// Capability is one unit of work the orchestrator fans out each cycle.
// Run errors are isolated per capability: they reach the health snapshot
// and the audit trail, never the sibling capabilities.
type Capability interface {
	Name() string
	// Enabled reports whether the capability has the configuration it
	// needs. Disabled capabilities are omitted from the cycle, which is
	// not an error.
	Enabled() bool
	Run(ctx context.Context) (Outcome, error)
}

// PipelineCapability ingests the run feed and classifies newly recorded
// runs. Classification only sees runs created this pass: an already-known
// external id was analyzed when it was first recorded.
type PipelineCapability struct {
	ingest   *ingest.Engine
	classify *classify.Engine
	enabled  bool
}

// NewPipelineCapability builds the run monitoring capability.
func NewPipelineCapability(ing *ingest.Engine, cls *classify.Engine, enabled bool) *PipelineCapability {
	return &PipelineCapability{ingest: ing, classify: cls, enabled: enabled}
}

func (p *PipelineCapability) Name() string  { return "pipeline" }
func (p *PipelineCapability) Enabled() bool { return p.enabled }

func (p *PipelineCapability) Run(ctx context.Context) (Outcome, error) {
	res, err := p.ingest.IngestRuns(ctx)
	if err != nil {
		return Outcome{}, err
	}

	issues := 0
	for _, run := range res.Created {
		issues += len(p.classify.ClassifyRun(ctx, run))
	}

	return Outcome{Summary: map[string]any{
		"fetched":      res.Fetched,
		"created":      len(res.Created),
		"skipped":      res.Skipped,
		"failed":       res.Failed,
		"issues_found": issues,
	}}, nil
}

// DeploymentCapability ingests the deployment feed and classifies every
// stored record. Unlike runs, deployments are re-evaluated on each poll
// because their health is live state.
type DeploymentCapability struct {
	ingest   *ingest.Engine
	classify *classify.Engine
	enabled  bool
}

// NewDeploymentCapability builds the deployment monitoring capability.
func NewDeploymentCapability(ing *ingest.Engine, cls *classify.Engine, enabled bool) *DeploymentCapability {
	return &DeploymentCapability{ingest: ing, classify: cls, enabled: enabled}
}

func (d *DeploymentCapability) Name() string  { return "deployment" }
func (d *DeploymentCapability) Enabled() bool { return d.enabled }

func (d *DeploymentCapability) Run(ctx context.Context) (Outcome, error) {
	res, err := d.ingest.IngestDeployments(ctx)
	if err != nil {
		return Outcome{}, err
	}

	issues := 0
	for _, dep := range res.Stored {
		issues += len(d.classify.ClassifyDeployment(ctx, dep))
	}

	return Outcome{Summary: map[string]any{
		"fetched":      res.Fetched,
		"stored":       len(res.Stored),
		"failed":       res.Failed,
		"issues_found": issues,
	}}, nil
}

// NotificationCapability runs one dispatch pass over the active issues.
type NotificationCapability struct {
	dispatcher *notify.Dispatcher
	enabled    bool
}

// NewNotificationCapability builds the notification dispatch capability.
func NewNotificationCapability(d *notify.Dispatcher, enabled bool) *NotificationCapability {
	return &NotificationCapability{dispatcher: d, enabled: enabled}
}

func (n *NotificationCapability) Name() string  { return "notification" }
func (n *NotificationCapability) Enabled() bool { return n.enabled }

func (n *NotificationCapability) Run(ctx context.Context) (Outcome, error) {
	records, err := n.dispatcher.Dispatch(ctx)
	if err != nil {
		return Outcome{}, err
	}

	sent, failed := 0, 0
	for _, r := range records {
		if r.SentAt != nil {
			sent++
		} else {
			failed++
		}
	}

	return Outcome{Summary: map[string]any{
		"sent":   sent,
		"failed": failed,
	}}, nil
}
