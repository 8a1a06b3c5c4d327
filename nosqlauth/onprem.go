package nosqlauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/zalando/go-keyring"
)

const keyringService = "com.kvstore-labs.nosql-go-sdk.onprem"

// loginClaims is the payload of the session token the on-prem server
// issues on a successful bootstrap login.
type loginClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// OnPremLoginProvider is the on-prem AuthorizationProvider: it bootstraps a
// session token via a login endpoint, caches it (in-memory and, when
// available, in the OS keychain), and re-bootstraps on demand when the
// engine classifies an AuthenticationException as recoverable.
type OnPremLoginProvider struct {
	loginURL   string
	username   string
	password   string
	httpClient *http.Client

	mu          sync.RWMutex
	token       string
	tokenExpiry time.Time
}

func NewOnPremLoginProvider(loginURL, username, password string) *OnPremLoginProvider {
	p := &OnPremLoginProvider{
		loginURL:   loginURL,
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	if cached, err := keyring.Get(keyringService, username); err == nil && cached != "" {
		if claims, expiry, ok := parseUnverifiedExpiry(cached); ok && time.Now().Before(expiry) {
			p.token = cached
			p.tokenExpiry = expiry
			_ = claims
		}
	}
	return p
}

func parseUnverifiedExpiry(token string) (*loginClaims, time.Time, bool) {
	parser := jwt.NewParser()
	claims := &loginClaims{}
	_, _, err := parser.ParseUnverified(token, claims)
	if err != nil || claims.ExpiresAt == nil {
		return nil, time.Time{}, false
	}
	return claims, claims.ExpiresAt.Time, true
}

// BootstrapLogin performs (or re-performs) the login handshake and caches
// the resulting session token. Safe to call concurrently; only one login
// request is in flight at a time.
func (p *OnPremLoginProvider) BootstrapLogin(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	body, _ := json.Marshal(map[string]string{"username": p.username, "password": p.password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.loginURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("nosqlauth: building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("nosqlauth: login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nosqlauth: login failed with status %d", resp.StatusCode)
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return fmt.Errorf("nosqlauth: decoding login response: %w", err)
	}

	claims, expiry, ok := parseUnverifiedExpiry(loginResp.Token)
	if !ok {
		return fmt.Errorf("nosqlauth: login response token has no expiry claim")
	}
	_ = claims

	p.token = loginResp.Token
	p.tokenExpiry = expiry

	if err := keyring.Set(keyringService, p.username, p.token); err != nil {
		log.Debug().Err(err).Str("user", p.username).Msg("nosqlauth: keyring unavailable, session token kept in-memory only")
	}

	return nil
}

func (p *OnPremLoginProvider) GetAuthorizationString(ctx context.Context, _ RequestInfo) (string, error) {
	p.mu.RLock()
	token, expiry := p.token, p.tokenExpiry
	p.mu.RUnlock()

	if token == "" || time.Now().After(expiry) {
		if err := p.BootstrapLogin(ctx); err != nil {
			return "", err
		}
		p.mu.RLock()
		token = p.token
		p.mu.RUnlock()
	}
	return "Bearer " + token, nil
}

func (p *OnPremLoginProvider) ValidateAuthString(authString string) error {
	if authString == "" {
		return fmt.Errorf("nosqlauth: empty authorization string")
	}
	return nil
}

func (p *OnPremLoginProvider) SetRequiredHeaders(authString string, info RequestInfo, headers http.Header) error {
	headers.Set("Authorization", authString)
	return nil
}

func (p *OnPremLoginProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
	return nil
}
