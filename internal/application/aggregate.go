package application

import "github.com/ericfisherdev/checkpulse/internal/domain/model"

// AggregateCheckRuns reduces the check runs of one suite into a single status.
// Returns nil when there are no runs (no checks exist yet).
//
// A single failed run completes the aggregate immediately, even while sibling
// runs are still in progress, so failures surface without waiting on slow jobs.
// Success requires every run to have completed with no failure and no run
// waiting on action_required.
func AggregateCheckRuns(runs []model.CheckRun) *model.ChecksStatus {
	if len(runs) == 0 {
		return nil
	}

	status := &model.ChecksStatus{
		FailedChecks: []string{},
	}

	allCompleted := true
	var actionRequired int

	for _, run := range runs {
		if !run.StartedAt.IsZero() && (status.StartedAt.IsZero() || run.StartedAt.Before(status.StartedAt)) {
			status.StartedAt = run.StartedAt
		}
		if run.CompletedAt.IsZero() {
			allCompleted = false
		}
		if status.HeadSHA == "" {
			status.HeadSHA = run.HeadSHA
		}

		switch run.Conclusion {
		case model.ConclusionFailure:
			status.FailedChecks = append(status.FailedChecks, run.Name)
		case model.ConclusionActionRequired:
			actionRequired++
		}
	}

	status.Completed = len(status.FailedChecks) > 0 || allCompleted
	status.Success = status.Completed && len(status.FailedChecks) == 0 && actionRequired == 0

	return status
}
