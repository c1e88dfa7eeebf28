package model

// CIStatus represents the badge state of a ref's CI checks.
type CIStatus string

const (
	CIStatusPassing CIStatus = "passing"
	CIStatusFailing CIStatus = "failing"
	CIStatusPending CIStatus = "pending"
	CIStatusUnknown CIStatus = "unknown"
)

// SuiteState records whether a ref has ever had any CI activity.
type SuiteState string

const (
	SuiteStateUnknown SuiteState = "unknown"
	SuiteStatePresent SuiteState = "present" // At least one check suite exists.
	SuiteStateAbsent  SuiteState = "absent"  // No check runs and no check suites.
)

// MonitorState is the polling state of a checks monitor session.
type MonitorState string

const (
	MonitorStateIdle     MonitorState = "idle"
	MonitorStatePolling  MonitorState = "polling"
	MonitorStateSettled  MonitorState = "settled"   // Completed and older than the settle threshold.
	MonitorStateNoChecks MonitorState = "no_checks" // No CI configured for the ref.
)

// Terminal reports whether polling has stopped on its own for this state.
func (s MonitorState) Terminal() bool {
	return s == MonitorStateSettled || s == MonitorStateNoChecks
}
