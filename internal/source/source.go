// Package source defines the adapters that read pipeline runs and
// deployments from external providers and normalize them into model
// snapshots. The rest of the system only sees snapshots; provider wire
// formats stop here.
package source

import (
	"context"

	"github.com/kestrelhq/kestrel/internal/model"
)

// RunSource lists recent pipeline executions in normalized form.
type RunSource interface {
	FetchRuns(ctx context.Context) ([]model.RunSnapshot, error)
}

// DeploymentSource lists the current deployments in normalized form.
type DeploymentSource interface {
	FetchDeployments(ctx context.Context) ([]model.DeploymentSnapshot, error)
}
