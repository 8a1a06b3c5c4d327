// Package retry implements the retry/backoff policy consulted by the
// execution engine on every retryable failure. The engine owns
// classification (which exceptions are retryable at all); this package only
// decides, for an exception already judged retryable, whether to keep
// trying and how long to wait first.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Handler is the retry policy collaborator. DoRetry decides whether another
// attempt should be made; Delay blocks the caller for the computed backoff
// and must itself respect ctx's deadline.
type Handler interface {
	DoRetry(ctx context.Context, numRetries int, cause error) bool
	Delay(ctx context.Context, numRetries int, cause error) error
}

// ExponentialBackoffHandler is the default Handler: capped exponential
// backoff with jitter, built on cenkalti/backoff, bounded by MaxRetries.
type ExponentialBackoffHandler struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
}

func NewExponentialBackoffHandler(maxRetries int, baseDelay, maxDelay time.Duration) *ExponentialBackoffHandler {
	return &ExponentialBackoffHandler{MaxRetries: maxRetries, BaseDelay: baseDelay, MaxDelay: maxDelay}
}

func (h *ExponentialBackoffHandler) DoRetry(ctx context.Context, numRetries int, cause error) bool {
	if ctx.Err() != nil {
		return false
	}
	return numRetries < h.MaxRetries
}

func (h *ExponentialBackoffHandler) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.BaseDelay
	b.MaxInterval = h.MaxDelay
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	return b
}

// Delay sleeps for the numRetries-th backoff interval, or until ctx is
// done, whichever comes first. Returning ctx.Err() lets the engine treat an
// expired deadline mid-sleep as "break", same as any other timeout.
func (h *ExponentialBackoffHandler) Delay(ctx context.Context, numRetries int, cause error) error {
	b := h.newBackoff()
	var d time.Duration
	for i := 0; i <= numRetries; i++ {
		d = b.NextBackOff()
	}
	if d == backoff.Stop {
		d = h.MaxDelay
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
