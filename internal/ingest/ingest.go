// Package ingest persists normalized snapshots from source adapters.
//
// Runs and deployments have deliberately different write semantics: a run
// is an immutable historical fact recorded at most once per external id,
// while a deployment row is the current state of a (name, namespace) pair
// and is overwritten on every poll.
package ingest

import (
	"context"
	"log/slog"

	"github.com/kestrelhq/kestrel/internal/model"
	"github.com/kestrelhq/kestrel/internal/source"
)

// Store is the persistence surface the engine needs.
type Store interface {
	CreateRun(ctx context.Context, run model.RunRecord) (model.RunRecord, bool, error)
	UpsertDeployment(ctx context.Context, d model.DeploymentRecord) (model.DeploymentRecord, error)
}

// RunResult summarizes one run-ingestion pass.
type RunResult struct {
	Fetched int
	Created []model.RunRecord // Runs recorded for the first time this pass.
	Skipped int               // Already-known external ids.
	Failed  int               // Snapshots that could not be persisted.
}

// DeploymentResult summarizes one deployment-ingestion pass.
type DeploymentResult struct {
	Fetched int
	Stored  []model.DeploymentRecord // Current state after this pass, one per pair.
	Failed  int
}

// Engine reads from the sources and writes through the store.
type Engine struct {
	store   Store
	runs    source.RunSource
	deploys source.DeploymentSource
	logger  *slog.Logger
}

// New builds an ingestion engine.
func New(store Store, runs source.RunSource, deploys source.DeploymentSource, logger *slog.Logger) *Engine {
	return &Engine{store: store, runs: runs, deploys: deploys, logger: logger}
}

// IngestRuns fetches the run feed and records unseen runs. A failure to
// persist one snapshot is counted and logged but never aborts the pass;
// only a feed-level fetch error is returned.
func (e *Engine) IngestRuns(ctx context.Context) (RunResult, error) {
	snapshots, err := e.runs.FetchRuns(ctx)
	if err != nil {
		return RunResult{}, err
	}

	res := RunResult{Fetched: len(snapshots)}
	for _, snap := range snapshots {
		if snap.ExternalID == "" {
			res.Failed++
			e.logger.Warn("ingest: run snapshot missing external id", "workflow", snap.WorkflowName)
			continue
		}
		run, created, err := e.store.CreateRun(ctx, model.NewRunRecord(snap))
		if err != nil {
			res.Failed++
			e.logger.Error("ingest: persist run", "external_id", snap.ExternalID, "error", err)
			continue
		}
		if !created {
			res.Skipped++
			continue
		}
		res.Created = append(res.Created, run)
	}
	return res, nil
}

// IngestDeployments fetches the deployment feed and upserts every
// observation. Every stored record is returned for classification:
// deployment state is re-evaluated each poll, not only on first sight.
func (e *Engine) IngestDeployments(ctx context.Context) (DeploymentResult, error) {
	snapshots, err := e.deploys.FetchDeployments(ctx)
	if err != nil {
		return DeploymentResult{}, err
	}

	res := DeploymentResult{Fetched: len(snapshots)}
	for _, snap := range snapshots {
		if snap.Name == "" {
			res.Failed++
			e.logger.Warn("ingest: deployment snapshot missing name", "namespace", snap.Namespace)
			continue
		}
		stored, err := e.store.UpsertDeployment(ctx, model.NewDeploymentRecord(snap))
		if err != nil {
			res.Failed++
			e.logger.Error("ingest: persist deployment",
				"name", snap.Name, "namespace", snap.Namespace, "error", err)
			continue
		}
		res.Stored = append(res.Stored, stored)
	}
	return res, nil
}
