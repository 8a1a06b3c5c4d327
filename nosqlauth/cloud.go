package nosqlauth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// TokenSource is the signing backend a CloudProvider delegates to (an IAM
// or OAuth client credential exchange). It is intentionally narrow so test
// doubles are trivial to write.
type TokenSource interface {
	RequestToken(ctx context.Context, audience string) (token string, expiresAt time.Time, err error)
}

// refreshBuffer mirrors the teacher's SessionRefreshBuffer: proactively
// refresh this long before the cached token's reported expiry rather than
// waiting for a request to observe it as stale.
const refreshBuffer = 1 * time.Minute

// CloudProvider is the cloud (hosted service) AuthorizationProvider: it
// exchanges for a bearer token via TokenSource and caches it until shortly
// before expiry. An AuthenticationException from the server is terminal for
// this provider — it does not implement OnPremProvider.
type CloudProvider struct {
	audience string
	source   TokenSource

	mu         sync.RWMutex
	cached     string
	cacheUntil time.Time
}

func NewCloudProvider(audience string, source TokenSource) *CloudProvider {
	return &CloudProvider{audience: audience, source: source}
}

func (p *CloudProvider) GetAuthorizationString(ctx context.Context, _ RequestInfo) (string, error) {
	p.mu.RLock()
	cached, until := p.cached, p.cacheUntil
	p.mu.RUnlock()

	if cached != "" && time.Now().Add(refreshBuffer).Before(until) {
		return cached, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Double-check: another goroutine may have refreshed while we waited
	// for the write lock.
	if p.cached != "" && time.Now().Add(refreshBuffer).Before(p.cacheUntil) {
		return p.cached, nil
	}

	token, expiresAt, err := p.source.RequestToken(ctx, p.audience)
	if err != nil {
		return "", fmt.Errorf("nosqlauth: failed to acquire token: %w", err)
	}
	p.cached = "Bearer " + token
	p.cacheUntil = expiresAt
	return p.cached, nil
}

// InvalidateToken drops the cached token; the next GetAuthorizationString
// call re-acquires one. The engine does not call it: a cloud
// AuthenticationException is returned to the caller as is.
func (p *CloudProvider) InvalidateToken() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = ""
	p.cacheUntil = time.Time{}
}

func (p *CloudProvider) ValidateAuthString(authString string) error {
	if authString == "" {
		return fmt.Errorf("nosqlauth: empty authorization string")
	}
	return nil
}

func (p *CloudProvider) SetRequiredHeaders(authString string, info RequestInfo, headers http.Header) error {
	headers.Set("Authorization", authString)
	if info.Compartment != "" {
		headers.Set("x-nosql-compartment-id", info.Compartment)
	}
	return nil
}

func (p *CloudProvider) Close() error { return nil }
