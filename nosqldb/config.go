package nosqldb

import (
	"crypto/tls"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"

	"github.com/kvstore-labs/nosql-go-sdk/internal/retry"
	"github.com/kvstore-labs/nosql-go-sdk/nosqlauth"
)

// defaultRLDurationSeconds is the rate limiter map's burst horizon. It is
// overridable in tests via the NOSQL_TEST_RL_DURATION_SECS environment
// variable (the Go equivalent of the Java driver's test.rldurationsecs
// system property).
const defaultRLDurationSeconds = 30

// envTunables holds the handful of knobs that are read from the
// environment rather than set programmatically.
type envTunables struct {
	RLDurationSecondsOverride int `env:"NOSQL_TEST_RL_DURATION_SECS"`
}

func loadEnvTunables() envTunables {
	var t envTunables
	// Parsing errors (malformed int, etc.) are not fatal: an unparsable
	// override just leaves the field at its zero value and the hardcoded
	// default applies.
	_ = env.Parse(&t)
	return t
}

// Config holds client-wide, caller-supplied settings. It is built with
// New and customized with Option functions.
type Config struct {
	ServiceURL string
	TLSConfig  *tls.Config // required when ServiceURL's scheme is https

	ThreadCount        int
	ConnectionPoolSize int
	MaxPending         int
	MaxContentLength   int
	MaxChunkSize       int

	ProxyHost string
	ProxyPort int

	AuthProvider nosqlauth.AuthorizationProvider
	// CloudAuth distinguishes cloud (IAM/token) authentication, where an
	// AuthenticationException is terminal, from on-prem authentication,
	// where the engine may re-bootstrap the login and retry.
	CloudAuth bool

	RateLimitingEnabled       bool
	DefaultRateLimiterPercent float64
	RLDurationSeconds         int

	DefaultCompartment string

	RetryHandler retry.Handler

	DefaultRequestTimeoutMs int

	Logger zerolog.Logger
}

// Option customizes a Config during construction.
type Option func(*Config)

func WithAuthProvider(p nosqlauth.AuthorizationProvider, cloud bool) Option {
	return func(c *Config) {
		c.AuthProvider = p
		c.CloudAuth = cloud
	}
}

func WithRateLimiting(enabled bool, defaultPercent float64) Option {
	return func(c *Config) {
		c.RateLimitingEnabled = enabled
		c.DefaultRateLimiterPercent = defaultPercent
	}
}

func WithDefaultCompartment(compartment string) Option {
	return func(c *Config) { c.DefaultCompartment = compartment }
}

func WithRetryHandler(h retry.Handler) Option {
	return func(c *Config) { c.RetryHandler = h }
}

func WithProxy(host string, port int) Option {
	return func(c *Config) {
		c.ProxyHost = host
		c.ProxyPort = port
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func WithDefaultRequestTimeout(d time.Duration) Option {
	return func(c *Config) { c.DefaultRequestTimeoutMs = int(d.Milliseconds()) }
}

// New builds a Config for serviceURL with defaults (5s request timeout, a
// connection pool of 2, 32 MiB max content length, rate limiting off),
// then applies opts. It fails with ErrMissingAuthProvider when no
// AuthProvider was set.
func New(serviceURL string, opts ...Option) (*Config, error) {
	tunables := loadEnvTunables()
	rlDuration := defaultRLDurationSeconds
	if tunables.RLDurationSecondsOverride > 0 {
		rlDuration = tunables.RLDurationSecondsOverride
	}

	cfg := &Config{
		ServiceURL:                serviceURL,
		ThreadCount:               4,
		ConnectionPoolSize:        2,
		MaxPending:                3,
		MaxContentLength:          32 * 1024 * 1024,
		MaxChunkSize:              16 * 1024,
		RateLimitingEnabled:       false,
		DefaultRateLimiterPercent: 100,
		RLDurationSeconds:         rlDuration,
		DefaultRequestTimeoutMs:   5000,
		Logger:                    zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Str("component", "nosqldb").Logger(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.AuthProvider == nil {
		return nil, ErrMissingAuthProvider
	}
	return cfg, nil
}
