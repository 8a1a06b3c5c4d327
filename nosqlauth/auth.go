// Package nosqlauth provides the AuthorizationProvider collaborator: it
// produces the auth header the execution engine stamps on every request,
// and (for on-prem deployments) knows how to bootstrap a fresh login when
// the server rejects the current one.
package nosqlauth

import (
	"context"
	"net/http"
)

// RequestInfo is the subset of a Request an AuthorizationProvider needs to
// produce or validate an auth string: just enough to scope the header, not
// the whole request object (keeps this package independent of nosqldb).
type RequestInfo struct {
	TableName   string
	Compartment string
}

// AuthorizationProvider is the engine's authorization collaborator.
type AuthorizationProvider interface {
	// GetAuthorizationString returns the auth header value for info. The
	// engine calls this once per loop iteration, so implementations should
	// cache whatever is safe to cache (a bearer token) and refresh lazily.
	GetAuthorizationString(ctx context.Context, info RequestInfo) (string, error)

	// ValidateAuthString checks a string previously returned by
	// GetAuthorizationString is still well-formed before it is sent.
	ValidateAuthString(authString string) error

	// SetRequiredHeaders stamps authString and any other auth-related
	// headers (tenant/compartment headers, etc.) onto the outbound request.
	SetRequiredHeaders(authString string, info RequestInfo, headers http.Header) error

	Close() error
}

// OnPremProvider additionally knows how to bootstrap a login from scratch,
// which the engine calls when an AuthenticationException is classified as
// recoverable for on-prem deployments (cloud providers are terminal on
// that exception and do not implement this).
type OnPremProvider interface {
	AuthorizationProvider
	BootstrapLogin(ctx context.Context) error
}
