package application

import (
	"context"
	"sync"

	"github.com/ericfisherdev/checkpulse/internal/domain/model"
	"github.com/ericfisherdev/checkpulse/internal/domain/port/driven"
)

// ChecksClientProvider enables runtime hot-swap of the forge client. It
// implements driven.ChecksAPI itself, so monitors hold the provider and pick
// up a replaced client on their next poll.
type ChecksClientProvider struct {
	mu     sync.RWMutex
	client driven.ChecksAPI
}

var _ driven.ChecksAPI = (*ChecksClientProvider)(nil)

// NewChecksClientProvider creates a provider with the given initial client.
// client may be nil if no credentials are available at startup.
func NewChecksClientProvider(client driven.ChecksAPI) *ChecksClientProvider {
	return &ChecksClientProvider{client: client}
}

// Get returns the current client, or nil.
func (p *ChecksClientProvider) Get() driven.ChecksAPI {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client
}

// Replace swaps the current client. In-flight calls finish on the old one.
func (p *ChecksClientProvider) Replace(client driven.ChecksAPI) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = client
}

// HasClient returns true if a non-nil client is currently held.
func (p *ChecksClientProvider) HasClient() bool {
	return p.Get() != nil
}

// ListCheckRuns delegates to the current client.
func (p *ChecksClientProvider) ListCheckRuns(ctx context.Context, repoFullName, ref string) (*model.CheckRunList, error) {
	client := p.Get()
	if client == nil {
		return nil, model.ErrNoForgeClient
	}
	return client.ListCheckRuns(ctx, repoFullName, ref)
}

// ListCheckSuites delegates to the current client.
func (p *ChecksClientProvider) ListCheckSuites(ctx context.Context, repoFullName, ref string) (*model.CheckSuiteList, error) {
	client := p.Get()
	if client == nil {
		return nil, model.ErrNoForgeClient
	}
	return client.ListCheckSuites(ctx, repoFullName, ref)
}
