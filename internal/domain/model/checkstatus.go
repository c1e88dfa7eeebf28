package model

import "time"

// Check run conclusions the aggregator distinguishes. Other values reported
// by the Checks API (neutral, skipped, cancelled, timed_out, ...) count as
// non-failing once the run has completed.
const (
	ConclusionSuccess        = "success"
	ConclusionFailure        = "failure"
	ConclusionActionRequired = "action_required"
)

// CheckRun represents one unit of CI work (a single job) from the GitHub Checks API.
type CheckRun struct {
	ID          int64     // GitHub check run ID, unique within a suite.
	Name        string    // Display name (e.g., "build", "lint").
	Status      string    // queued, in_progress, completed, waiting, requested, pending.
	Conclusion  string    // Empty while the run is still in progress.
	HeadSHA     string    // Commit the run was triggered for.
	DetailsURL  string    // URL to the check run details page.
	Summary     string    // Markdown output summary, may be empty.
	StartedAt   time.Time // Zero if the run has not started.
	CompletedAt time.Time // Zero while the run is still running.
}

// CheckRunList is one listing of check runs for a ref.
type CheckRunList struct {
	TotalCount int
	Runs       []CheckRun
}

// CheckSuiteList is one listing of check suites for a ref. Only the count is
// consumed: it separates "no CI configured" from "CI not reported yet".
type CheckSuiteList struct {
	TotalCount int
}

// ChecksStatus is the aggregate of all check runs for a ref.
// A nil *ChecksStatus means no checks exist for the ref.
type ChecksStatus struct {
	StartedAt    time.Time `json:"started_at"` // Earliest run start; zero while nothing has started.
	Completed    bool      `json:"completed"`
	Success      bool      `json:"success"`
	FailedChecks []string  `json:"failed_checks"`
	HeadSHA      string    `json:"head_sha,omitempty"`
}

// Age returns how long ago the suite started. The second return value is
// false when no run has started yet.
func (s *ChecksStatus) Age(now time.Time) (time.Duration, bool) {
	if s == nil || s.StartedAt.IsZero() {
		return 0, false
	}
	return now.Sub(s.StartedAt), true
}

// CIStatus maps the aggregate to the badge state shown next to a branch.
// Priority: failing > pending > passing. A nil status is unknown.
func (s *ChecksStatus) CIStatus() CIStatus {
	switch {
	case s == nil:
		return CIStatusUnknown
	case len(s.FailedChecks) > 0:
		return CIStatusFailing
	case !s.Completed:
		return CIStatusPending
	case s.Success:
		return CIStatusPassing
	default:
		// Completed without failures but blocked on action_required runs.
		return CIStatusFailing
	}
}

// ObservedStatus is the value published to status subscribers.
type ObservedStatus struct {
	// Status is the last known aggregate; nil means no checks exist.
	Status *ChecksStatus
	// Resolved is false until a value has been read from cache or the forge.
	Resolved bool
	// FromCache marks a value loaded from the status cache rather than fetched.
	FromCache bool
}

// StatusKey returns the cache and session key for a ref in a repository.
func StatusKey(repoFullName, ref string) string {
	return repoFullName + "@" + ref
}
