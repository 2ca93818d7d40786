package gmail

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/sync/semaphore"
)

// Provider hands out the API handle bound to the current session
// credential. Sync and query operations call Current on every use, so a
// credential pushed after startup is picked up without a restart.
type Provider interface {
	// Current returns the cached handle, building it if needed.
	Current(ctx context.Context) (API, error)
	// Refresh rebuilds the handle from the current credential.
	Refresh(ctx context.Context) (API, error)
	// Invalidate drops the handle and the credential behind it.
	Invalidate()
}

// Credentials is the session credential source a SessionProvider builds
// clients from. *credential.Source satisfies it.
type Credentials interface {
	oauth2.TokenSource
	Credential(ctx context.Context) (string, error)
	Invalidate()
}

// SessionProvider is the production Provider. Every client it builds shares
// one expensive-call gate and one quota limiter, so rebuilding the handle
// never raises the concurrency cap.
type SessionProvider struct {
	creds Credentials
	opts  []ClientOption

	mu  sync.RWMutex
	api API
}

// NewSessionProvider returns a provider that builds clients from creds.
func NewSessionProvider(creds Credentials, opts ...ClientOption) *SessionProvider {
	shared := []ClientOption{
		WithQuota(NewQuotaLimiter(DefaultQuotaUnitsPerSecond)),
		WithTransportOptions(WithExpensiveGate(semaphore.NewWeighted(DefaultExpensiveConcurrency))),
	}
	return &SessionProvider{
		creds: creds,
		opts:  append(shared, opts...),
	}
}

var _ Provider = (*SessionProvider)(nil)

// Current implements Provider.
func (p *SessionProvider) Current(ctx context.Context) (API, error) {
	p.mu.RLock()
	api := p.api
	p.mu.RUnlock()
	if api != nil {
		return api, nil
	}
	return p.Refresh(ctx)
}

// Refresh implements Provider.
func (p *SessionProvider) Refresh(ctx context.Context) (API, error) {
	if _, err := p.creds.Credential(ctx); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	api := NewClient(p.creds, p.opts...)

	p.mu.Lock()
	p.api = api
	p.mu.Unlock()
	return api, nil
}

// Invalidate implements Provider.
func (p *SessionProvider) Invalidate() {
	p.mu.Lock()
	p.api = nil
	p.mu.Unlock()
	p.creds.Invalidate()
}
