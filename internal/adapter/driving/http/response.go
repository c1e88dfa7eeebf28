package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/checkpulse/internal/application"
	"github.com/ericfisherdev/checkpulse/internal/domain/model"
)

// Values of ChecksResponse.Source.
const (
	sourceSession = "session"
	sourceCache   = "cache"
	sourceNone    = "none"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// ChecksResponse is the JSON representation of a ref's check status.
//
// Source tells where it came from: a live polling session, the persisted
// cache, or nowhere. Resolved is false while nothing is known yet; a resolved
// response with ci_status "unknown" and no checks means the ref has no CI.
type ChecksResponse struct {
	Repository   string             `json:"repository"`
	Ref          string             `json:"ref"`
	Source       string             `json:"source"`
	State        string             `json:"state"`
	Resolved     bool               `json:"resolved"`
	FromCache    bool               `json:"from_cache"`
	Loading      bool               `json:"loading"`
	Error        string             `json:"error,omitempty"`
	CIStatus     string             `json:"ci_status"`
	StartedAt    string             `json:"started_at,omitempty"`
	Completed    bool               `json:"completed"`
	Success      bool               `json:"success"`
	FailedChecks []string           `json:"failed_checks"`
	HeadSHA      string             `json:"head_sha,omitempty"`
	Checks       []CheckRunResponse `json:"checks"`
}

// CheckRunResponse is the JSON representation of an individual check run.
type CheckRunResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Conclusion  string `json:"conclusion"`
	DetailsURL  string `json:"details_url"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	SummaryHTML string `json:"summary_html,omitempty"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Time     string `json:"time"`
	Sessions int    `json:"sessions"`
}

// HeadRequest is the JSON body for the head-change endpoint.
type HeadRequest struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// HeadResponse reports whether a head change restarted the session.
type HeadResponse struct {
	Restarted bool `json:"restarted"`
}

// toSessionResponse converts a live monitor snapshot.
func toSessionResponse(snap application.MonitorSnapshot) ChecksResponse {
	resp := newChecksResponse(snap.RepoFullName, snap.Ref, sourceSession)
	resp.State = string(snap.State)
	resp.Resolved = snap.Observed.Resolved
	resp.FromCache = snap.Observed.FromCache
	resp.Loading = snap.Loading
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	applyStatus(&resp, snap.Observed.Status)

	for _, run := range snap.Runs {
		resp.Checks = append(resp.Checks, toCheckRunResponse(run))
	}
	return resp
}

// toCachedResponse converts a persisted status. A nil status yields source "none".
func toCachedResponse(repoFullName, ref string, status *model.ChecksStatus) ChecksResponse {
	if status == nil {
		return newChecksResponse(repoFullName, ref, sourceNone)
	}

	resp := newChecksResponse(repoFullName, ref, sourceCache)
	resp.Resolved = true
	resp.FromCache = true
	applyStatus(&resp, status)
	return resp
}

func newChecksResponse(repoFullName, ref, source string) ChecksResponse {
	return ChecksResponse{
		Repository:   repoFullName,
		Ref:          ref,
		Source:       source,
		State:        string(model.MonitorStateIdle),
		CIStatus:     string(model.CIStatusUnknown),
		FailedChecks: []string{},
		Checks:       []CheckRunResponse{},
	}
}

func applyStatus(resp *ChecksResponse, status *model.ChecksStatus) {
	resp.CIStatus = string(status.CIStatus())
	if status == nil {
		return
	}
	resp.StartedAt = formatTime(status.StartedAt)
	resp.Completed = status.Completed
	resp.Success = status.Success
	resp.HeadSHA = status.HeadSHA
	if status.FailedChecks != nil {
		resp.FailedChecks = status.FailedChecks
	}
}

// toCheckRunResponse converts a domain CheckRun, rendering its summary.
func toCheckRunResponse(cr model.CheckRun) CheckRunResponse {
	return CheckRunResponse{
		ID:          cr.ID,
		Name:        cr.Name,
		Status:      cr.Status,
		Conclusion:  cr.Conclusion,
		DetailsURL:  cr.DetailsURL,
		StartedAt:   formatTime(cr.StartedAt),
		CompletedAt: formatTime(cr.CompletedAt),
		SummaryHTML: RenderMarkdown(cr.Summary),
	}
}

// formatTime renders t as RFC 3339 in UTC, or "" for the zero time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
