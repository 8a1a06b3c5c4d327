// Package nosqldb is the client-side request execution core: it takes a
// Request, runs it through the retry-and-rate-limited Client loop, and
// returns a Result. See Client.Execute.
package nosqldb

import (
	"sync"

	"github.com/kvstore-labs/nosql-go-sdk/internal/codec"
	"github.com/kvstore-labs/nosql-go-sdk/internal/ratelimiter"
	"github.com/kvstore-labs/nosql-go-sdk/nosqlerr"
)

// OpCode identifies the kind of operation a Request carries.
type OpCode int

const (
	OpGet OpCode = iota
	OpPut
	OpDelete
	OpQuery
	OpPrepare
	OpGetTable
)

// Request is implemented by every operation the engine can execute.
// SetDefaults and Validate are called exactly once per Execute call, before
// the main loop starts; Validate must guarantee TimeoutMs() > 0 and a
// well-formed table name on return.
type Request interface {
	OpCode() OpCode
	TableName() string
	SetDefaults(cfg *Config)
	Validate() error

	DoesReads() bool
	DoesWrites() bool
	IsQueryRequest() bool

	TimeoutMs() int
	Compartment() string

	StartTimeMs() int64
	SetStartTimeMs(ms int64)

	RetryStats() *RetryStats
	ClearRetryStats()

	// RateLimitPercent is 0 (use the config default) or in [1,100].
	RateLimitPercent() int
	ReadLimiter() ratelimiter.RateLimiter
	WriteLimiter() ratelimiter.RateLimiter

	Serializer() codec.Serializer
	Deserializer() codec.Deserializer
}

// RetryStats accumulates retry bookkeeping for a single Execute call. It is
// copied onto the Result on success and embedded in the timeout error
// message on failure.
type RetryStats struct {
	mu             sync.Mutex
	NumRetries     int
	RetryDelayMs   int64
	ExceptionCount map[string]int
}

func NewRetryStats() *RetryStats {
	return &RetryStats{ExceptionCount: make(map[string]int)}
}

func (s *RetryStats) RecordRetry(exceptionKind string, delayMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NumRetries++
	s.RetryDelayMs += delayMs
	s.ExceptionCount[exceptionKind]++
}

func (s *RetryStats) Snapshot() RetryStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]int, len(s.ExceptionCount))
	for k, v := range s.ExceptionCount {
		cp[k] = v
	}
	return RetryStats{NumRetries: s.NumRetries, RetryDelayMs: s.RetryDelayMs, ExceptionCount: cp}
}

// BaseRequest holds the fields common to every operation and the default
// (no-op) defaulting/validation a concrete request embeds and overrides as
// needed. It is not a Request by itself: concrete types embed it and
// implement OpCode/DoesReads/DoesWrites/IsQueryRequest/Serializer/Deserializer.
type BaseRequest struct {
	Table            string
	TimeoutMillis    int
	CompartmentID    string
	PercentOfLimit   int
	ReqReadLimiter   ratelimiter.RateLimiter
	ReqWriteLimiter  ratelimiter.RateLimiter
	startTimeMs      int64
	retryStats       *RetryStats
}

func (r *BaseRequest) TableName() string { return r.Table }

func (r *BaseRequest) TimeoutMs() int { return r.TimeoutMillis }

func (r *BaseRequest) Compartment() string { return r.CompartmentID }

func (r *BaseRequest) StartTimeMs() int64 { return r.startTimeMs }

func (r *BaseRequest) SetStartTimeMs(ms int64) { r.startTimeMs = ms }

func (r *BaseRequest) RetryStats() *RetryStats {
	if r.retryStats == nil {
		r.retryStats = NewRetryStats()
	}
	return r.retryStats
}

func (r *BaseRequest) ClearRetryStats() { r.retryStats = NewRetryStats() }

func (r *BaseRequest) RateLimitPercent() int { return r.PercentOfLimit }

func (r *BaseRequest) ReadLimiter() ratelimiter.RateLimiter { return r.ReqReadLimiter }

func (r *BaseRequest) WriteLimiter() ratelimiter.RateLimiter { return r.ReqWriteLimiter }

// SetDefaultsFromConfig applies config-level defaults shared by every
// request kind: a zero timeout takes the config default, and an empty
// compartment takes the config's default compartment. A zero percentage is
// left at 0; the engine substitutes the config's default rate-limiter
// percentage when it clamps a query's maxReadKB.
func (r *BaseRequest) SetDefaultsFromConfig(cfg *Config) {
	if r.TimeoutMillis <= 0 {
		r.TimeoutMillis = cfg.DefaultRequestTimeoutMs
	}
	if r.CompartmentID == "" {
		r.CompartmentID = cfg.DefaultCompartment
	}
}

// ValidateCommon enforces the shared Request invariants: timeout > 0, table
// name is empty or a syntactically valid identifier, percentage is 0 or in
// [1,100].
func (r *BaseRequest) ValidateCommon() error {
	if r.TimeoutMillis <= 0 {
		return nosqlerr.NewIllegalArgumentException("timeout must be > 0, got %d", r.TimeoutMillis)
	}
	if r.Table != "" && !isValidIdentifier(r.Table) {
		return nosqlerr.NewIllegalArgumentException("invalid table name: %q", r.Table)
	}
	if r.PercentOfLimit != 0 && (r.PercentOfLimit < 1 || r.PercentOfLimit > 100) {
		return nosqlerr.NewIllegalArgumentException("rate limiter percent must be 0 or in [1,100], got %d", r.PercentOfLimit)
	}
	return nil
}

func isValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9' && i > 0:
		case c == '.' && i > 0 && i < len(s)-1:
		default:
			return false
		}
	}
	return true
}

// GetTableRequest fetches the current TableLimits for a table. It is the
// request the limiter map's background worker issues on cache miss, and a
// request any caller can issue directly.
type GetTableRequest struct {
	BaseRequest
}

func NewGetTableRequest(table string) *GetTableRequest {
	return &GetTableRequest{BaseRequest: BaseRequest{Table: table}}
}

func (r *GetTableRequest) OpCode() OpCode       { return OpGetTable }
func (r *GetTableRequest) DoesReads() bool      { return false }
func (r *GetTableRequest) DoesWrites() bool     { return false }
func (r *GetTableRequest) IsQueryRequest() bool { return false }

func (r *GetTableRequest) SetDefaults(cfg *Config) { r.SetDefaultsFromConfig(cfg) }

func (r *GetTableRequest) Validate() error {
	if r.Table == "" {
		return nosqlerr.NewIllegalArgumentException("GetTableRequest requires a table name")
	}
	return r.ValidateCommon()
}

func (r *GetTableRequest) Serializer() codec.Serializer     { return codec.GetTableSerializer{Table: r.Table} }
func (r *GetTableRequest) Deserializer() codec.Deserializer { return codec.GetTableDeserializer{} }
