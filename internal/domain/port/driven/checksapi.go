package driven

import (
	"context"

	"github.com/ericfisherdev/checkpulse/internal/domain/model"
)

// ChecksAPI defines the driven port for reading CI check state from a forge.
// Implementations handle authentication and pagination.
type ChecksAPI interface {
	// ListCheckRuns returns all check runs for the given ref (branch or commit SHA).
	// Returns model.ErrRefNotFound (wrapped) if the ref has no commit on the remote.
	ListCheckRuns(ctx context.Context, repoFullName string, ref string) (*model.CheckRunList, error)
	// ListCheckSuites returns the check suites registered for the given ref.
	ListCheckSuites(ctx context.Context, repoFullName string, ref string) (*model.CheckSuiteList, error)
}
