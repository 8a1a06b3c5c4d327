package nosqlauth

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

type stubTokenSource struct {
	calls int32
	token string
	ttl   time.Duration
	err   error
}

func (s *stubTokenSource) RequestToken(ctx context.Context, audience string) (string, time.Time, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return "", time.Time{}, s.err
	}
	return s.token, time.Now().Add(s.ttl), nil
}

func TestCloudProvider_CachesTokenUntilRefreshBuffer(t *testing.T) {
	source := &stubTokenSource{token: "tok-1", ttl: time.Hour}
	p := NewCloudProvider("aud", source)

	auth1, err := p.GetAuthorizationString(context.Background(), RequestInfo{})
	if err != nil {
		t.Fatalf("GetAuthorizationString: %v", err)
	}
	auth2, err := p.GetAuthorizationString(context.Background(), RequestInfo{})
	if err != nil {
		t.Fatalf("GetAuthorizationString: %v", err)
	}
	if auth1 != auth2 || auth1 != "Bearer tok-1" {
		t.Fatalf("auth1=%q auth2=%q, want both Bearer tok-1", auth1, auth2)
	}
	if source.calls != 1 {
		t.Fatalf("token source called %d times, want 1 (cached)", source.calls)
	}
}

func TestCloudProvider_RefreshesNearExpiry(t *testing.T) {
	source := &stubTokenSource{token: "tok-1", ttl: 30 * time.Second} // within the 1-minute refresh buffer
	p := NewCloudProvider("aud", source)

	if _, err := p.GetAuthorizationString(context.Background(), RequestInfo{}); err != nil {
		t.Fatalf("GetAuthorizationString: %v", err)
	}
	if _, err := p.GetAuthorizationString(context.Background(), RequestInfo{}); err != nil {
		t.Fatalf("GetAuthorizationString: %v", err)
	}
	if source.calls < 2 {
		t.Fatalf("token source called %d times, want at least 2 (near-expiry refresh)", source.calls)
	}
}

func TestCloudProvider_InvalidateTokenForcesRefresh(t *testing.T) {
	source := &stubTokenSource{token: "tok-1", ttl: time.Hour}
	p := NewCloudProvider("aud", source)

	if _, err := p.GetAuthorizationString(context.Background(), RequestInfo{}); err != nil {
		t.Fatalf("GetAuthorizationString: %v", err)
	}
	p.InvalidateToken()
	if _, err := p.GetAuthorizationString(context.Background(), RequestInfo{}); err != nil {
		t.Fatalf("GetAuthorizationString: %v", err)
	}
	if source.calls != 2 {
		t.Fatalf("token source called %d times, want 2 (one before, one after invalidation)", source.calls)
	}
}

func TestCloudProvider_SetRequiredHeadersIncludesCompartment(t *testing.T) {
	p := NewCloudProvider("aud", &stubTokenSource{token: "t", ttl: time.Hour})
	headers := make(http.Header)
	if err := p.SetRequiredHeaders("Bearer t", RequestInfo{Compartment: "c1"}, headers); err != nil {
		t.Fatalf("SetRequiredHeaders: %v", err)
	}
	if got := headers.Get("x-nosql-compartment-id"); got != "c1" {
		t.Fatalf("compartment header = %q, want c1", got)
	}
	if got := headers.Get("Authorization"); got != "Bearer t" {
		t.Fatalf("Authorization header = %q, want Bearer t", got)
	}
}

func TestCloudProvider_ValidateAuthStringRejectsEmpty(t *testing.T) {
	p := NewCloudProvider("aud", &stubTokenSource{})
	if err := p.ValidateAuthString(""); err == nil {
		t.Fatal("expected an error for an empty auth string")
	}
}
