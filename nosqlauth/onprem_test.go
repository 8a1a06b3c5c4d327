package nosqlauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func issueToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	claims := loginClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Roles: []string{"reader"},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

func TestOnPremLoginProvider_BootstrapLoginAndGetAuthorizationString(t *testing.T) {
	token := issueToken(t, time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Username, Password string }
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding login body: %v", err)
		}
		if body.Username != "alice" {
			t.Fatalf("username = %q, want alice", body.Username)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	}))
	defer srv.Close()

	p := NewOnPremLoginProvider(srv.URL, "alice", "hunter2")

	auth, err := p.GetAuthorizationString(context.Background(), RequestInfo{})
	if err != nil {
		t.Fatalf("GetAuthorizationString: %v", err)
	}
	if auth != "Bearer "+token {
		t.Fatalf("auth = %q, want Bearer <token>", auth)
	}
}

func TestOnPremLoginProvider_CachesTokenUntilExpiry(t *testing.T) {
	token := issueToken(t, time.Hour)
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	}))
	defer srv.Close()

	p := NewOnPremLoginProvider(srv.URL, "alice", "hunter2")
	if _, err := p.GetAuthorizationString(context.Background(), RequestInfo{}); err != nil {
		t.Fatalf("GetAuthorizationString (1): %v", err)
	}
	if _, err := p.GetAuthorizationString(context.Background(), RequestInfo{}); err != nil {
		t.Fatalf("GetAuthorizationString (2): %v", err)
	}
	if calls != 1 {
		t.Fatalf("login endpoint called %d times, want 1 (cached)", calls)
	}
}

func TestOnPremLoginProvider_BootstrapLoginFailureSurfacesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewOnPremLoginProvider(srv.URL, "alice", "wrong")
	if err := p.BootstrapLogin(context.Background()); err == nil {
		t.Fatal("expected an error from a 401 login response")
	}
}

func TestOnPremLoginProvider_ValidateAuthStringRejectsEmpty(t *testing.T) {
	p := NewOnPremLoginProvider("http://example.invalid", "alice", "pw")
	if err := p.ValidateAuthString(""); err == nil {
		t.Fatal("expected an error for an empty auth string")
	}
	if err := p.ValidateAuthString("Bearer x"); err != nil {
		t.Fatalf("ValidateAuthString: %v", err)
	}
}

func TestOnPremLoginProvider_CloseClearsToken(t *testing.T) {
	token := issueToken(t, time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	}))
	defer srv.Close()

	p := NewOnPremLoginProvider(srv.URL, "alice", "hunter2")
	if err := p.BootstrapLogin(context.Background()); err != nil {
		t.Fatalf("BootstrapLogin: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	p.mu.RLock()
	tok := p.token
	p.mu.RUnlock()
	if tok != "" {
		t.Fatal("expected token cleared after Close")
	}
}
