// Package github implements the ChecksAPI port using the go-github library.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/ericfisherdev/checkpulse/internal/domain/model"
	"github.com/ericfisherdev/checkpulse/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ChecksAPI = (*Client)(nil)

// Client implements the driven.ChecksAPI port using the go-github library.
type Client struct {
	gh *gh.Client
}

// NewClient creates a new GitHub API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching; 304s do not count
//     against the primary rate limit, which keeps tight polling cheap)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
//
// apiURL selects a GitHub Enterprise Server instance; empty means github.com.
func NewClient(token, apiURL string) (*Client, error) {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	if apiURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(apiURL, apiURL)
		if err != nil {
			return nil, fmt.Errorf("configuring github api url %q: %w", apiURL, err)
		}
	}

	return &Client{gh: client}, nil
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, token string) (*Client, error) {
	client := gh.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return &Client{gh: client}, nil
}

// ListCheckRuns retrieves all check runs for the given ref (commit SHA or branch).
// It handles pagination automatically and maps go-github types to domain model types.
func (c *Client) ListCheckRuns(ctx context.Context, repoFullName string, ref string) (*model.CheckRunList, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.ListCheckRunsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	list := &model.CheckRunList{Runs: []model.CheckRun{}}

	for {
		result, resp, err := c.gh.Checks.ListCheckRunsForRef(ctx, owner, repo, ref, opts)
		if err != nil {
			return nil, fmt.Errorf("listing check runs for %s@%s (page %d): %w", repoFullName, ref, opts.Page, mapError(err))
		}

		logRateLimit(resp, repoFullName+"/check-runs", opts.Page, len(result.CheckRuns))

		list.TotalCount = result.GetTotal()
		for _, cr := range result.CheckRuns {
			list.Runs = append(list.Runs, mapCheckRun(cr))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return list, nil
}

// ListCheckSuites reports how many check suites exist for ref. Only the
// count is used, so a single page of one suite is requested.
func (c *Client) ListCheckSuites(ctx context.Context, repoFullName string, ref string) (*model.CheckSuiteList, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.ListCheckSuiteOptions{
		ListOptions: gh.ListOptions{PerPage: 1},
	}

	result, resp, err := c.gh.Checks.ListCheckSuitesForRef(ctx, owner, repo, ref, opts)
	if err != nil {
		return nil, fmt.Errorf("listing check suites for %s@%s: %w", repoFullName, ref, mapError(err))
	}

	logRateLimit(resp, repoFullName+"/check-suites", 0, len(result.CheckSuites))

	return &model.CheckSuiteList{TotalCount: result.GetTotal()}, nil
}

// mapError translates the responses GitHub gives for a ref it does not know
// (yet) into model.ErrRefNotFound. Right after a push the branch may not be
// visible, answering 404, and an unknown SHA answers 422 "No commit found".
func mapError(err error) error {
	var ghErr *gh.ErrorResponse
	if !errors.As(err, &ghErr) || ghErr.Response == nil {
		return err
	}

	switch ghErr.Response.StatusCode {
	case http.StatusNotFound:
		// A bare "Not Found" also covers a missing repo or a token without
		// access; only a 404 that names the ref is a missing ref.
		if refMissing(ghErr) {
			return fmt.Errorf("%w: %s", model.ErrRefNotFound, ghErr.Message)
		}
	case http.StatusUnprocessableEntity:
		if strings.Contains(strings.ToLower(ghErr.Message), "no commit found") {
			return fmt.Errorf("%w: %s", model.ErrRefNotFound, ghErr.Message)
		}
	}
	return err
}

func refMissing(ghErr *gh.ErrorResponse) bool {
	msg := strings.ToLower(ghErr.Message)
	for _, hint := range []string{"no commit found", "branch not found", "reference does not exist", "ref not found"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return strings.Contains(ghErr.DocumentationURL, "/git/refs")
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// mapCheckRun converts a go-github CheckRun to a domain model CheckRun.
func mapCheckRun(cr *gh.CheckRun) model.CheckRun {
	var startedAt, completedAt time.Time
	if cr.StartedAt != nil {
		startedAt = cr.GetStartedAt().Time
	}
	if cr.CompletedAt != nil {
		completedAt = cr.GetCompletedAt().Time
	}

	return model.CheckRun{
		ID:          cr.GetID(),
		Name:        cr.GetName(),
		Status:      cr.GetStatus(),
		Conclusion:  cr.GetConclusion(),
		HeadSHA:     cr.GetHeadSHA(),
		DetailsURL:  cr.GetDetailsURL(),
		Summary:     cr.GetOutput().GetSummary(),
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}
}

func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
