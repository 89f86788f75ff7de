package orchestrator

import (
	"context"

	"cloudjade-ide/internal/domain"
)

// Orchestrator launches isolated, single-use execution jobs. Submit returns
// as soon as the job is accepted; it never waits for the job to finish.
type Orchestrator interface {
	Submit(ctx context.Context, spec domain.JobSpec) (domain.JobHandle, error)
}
