// Package limitermap implements the client-side rate limiter map: a
// concurrent table -> (read limiter, write limiter) index plus the
// single-flight, single-threaded background refresh protocol described in
// spec §4.3.
package limitermap

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kvstore-labs/nosql-go-sdk/internal/ratelimiter"
)

// refreshInterval is how long a table stays "refresh not needed" after a
// background fetch is submitted; a failed fetch shortens it to retryBackoff
// (LIMITER_REFRESH_NANOS in spec §4.3).
const refreshInterval = 10 * time.Minute

// retryBackoff is how soon a failed background fetch is retried.
const retryBackoff = 100 * time.Millisecond

// entry is the (read, write) limiter pair for one table.
type entry struct {
	read  *ratelimiter.TokenBucket
	write *ratelimiter.TokenBucket
}

// RefreshFunc fetches a table's current provisioned capacity off the
// caller's critical path. It is, in practice, Client.Execute bound to a
// GetTableRequest — injected here rather than imported directly so this
// package never depends on the engine package (the engine depends on this
// one).
type RefreshFunc func(ctx context.Context, table string) (readUnitsPerSecond, writeUnitsPerSecond, durationSeconds int, err error)

// Map is the rate limiter map. Presence of a refresh deadline for a table
// is orthogonal to presence of a limiter entry: a table can be "refresh
// pending" before it has any limiters at all.
type Map struct {
	mu      sync.RWMutex
	entries map[string]*entry

	refreshMu       sync.Mutex
	refreshDeadline map[string]time.Time

	refresh  RefreshFunc
	worker   *worker
	logger   zerolog.Logger
	rlDurationSeconds int
}

func New(refresh RefreshFunc, rlDurationSeconds int, logger zerolog.Logger) *Map {
	m := &Map{
		entries:           make(map[string]*entry),
		refreshDeadline:   make(map[string]time.Time),
		refresh:           refresh,
		rlDurationSeconds: rlDurationSeconds,
		logger:            logger,
	}
	m.worker = newWorker(1)
	return m
}

// GetReadLimiter returns the table's read limiter, or nil if none is cached.
func (m *Map) GetReadLimiter(table string) ratelimiter.RateLimiter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.entries[table]; ok && e.read != nil {
		return e.read
	}
	return nil
}

// GetWriteLimiter returns the table's write limiter, or nil if none is cached.
func (m *Map) GetWriteLimiter(table string) ratelimiter.RateLimiter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.entries[table]; ok && e.write != nil {
		return e.write
	}
	return nil
}

// Update creates or mutates table's entry from freshly observed
// TableLimits. A zero limit on a direction removes that direction's
// limiter (and the whole entry, if both are zero) instead of creating a
// zero-capacity bucket that could never admit a request.
func (m *Map) Update(table string, readUnitsPerSecond, writeUnitsPerSecond, durationSeconds int) {
	if durationSeconds <= 0 {
		durationSeconds = m.rlDurationSeconds
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if readUnitsPerSecond <= 0 && writeUnitsPerSecond <= 0 {
		delete(m.entries, table)
		return
	}

	e, ok := m.entries[table]
	if !ok {
		e = &entry{}
		m.entries[table] = e
	}

	if readUnitsPerSecond > 0 {
		if e.read != nil {
			e.read.Update(float64(readUnitsPerSecond), float64(durationSeconds))
		} else {
			e.read = ratelimiter.NewTokenBucket(float64(readUnitsPerSecond), float64(durationSeconds))
		}
	} else {
		e.read = nil
	}

	if writeUnitsPerSecond > 0 {
		if e.write != nil {
			e.write.Update(float64(writeUnitsPerSecond), float64(durationSeconds))
		} else {
			e.write = ratelimiter.NewTokenBucket(float64(writeUnitsPerSecond), float64(durationSeconds))
		}
	} else {
		e.write = nil
	}
}

func (m *Map) Remove(table string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, table)
}

func (m *Map) Reset(table string) {
	m.Remove(table)
	m.refreshMu.Lock()
	delete(m.refreshDeadline, table)
	m.refreshMu.Unlock()
}

func (m *Map) Clear() {
	m.mu.Lock()
	m.entries = make(map[string]*entry)
	m.mu.Unlock()
	m.refreshMu.Lock()
	m.refreshDeadline = make(map[string]time.Time)
	m.refreshMu.Unlock()
}

// BackgroundUpdateLimiters fetches table's current TableLimits off the
// caller's critical path if (and only if) no refresh is already pending or
// in flight. At most one GetTable request is ever in flight per table: the
// "in progress" marker is set synchronously, under refreshMu, before the
// task is handed to the single worker goroutine.
func (m *Map) BackgroundUpdateLimiters(table string) {
	m.refreshMu.Lock()
	if !m.tableNeedsRefreshLocked(table) {
		m.refreshMu.Unlock()
		return
	}
	m.refreshDeadline[table] = time.Now().Add(refreshInterval)
	m.refreshMu.Unlock()

	accepted := m.worker.submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		read, write, duration, err := m.refresh(ctx, table)
		if err != nil {
			m.logger.Debug().Err(err).Str("table", table).Msg("background table-limits refresh failed, retrying soon")
			m.refreshMu.Lock()
			m.refreshDeadline[table] = time.Now().Add(retryBackoff)
			m.refreshMu.Unlock()
			return
		}
		m.Update(table, read, write, duration)
	})

	if !accepted {
		// Worker queue is full: let the next foreground call try again
		// immediately instead of waiting out the interval we just set.
		m.refreshMu.Lock()
		delete(m.refreshDeadline, table)
		m.refreshMu.Unlock()
	}
}

func (m *Map) tableNeedsRefreshLocked(table string) bool {
	deadline, ok := m.refreshDeadline[table]
	return !ok || !time.Now().Before(deadline)
}

// Shutdown stops the background worker. In-flight refreshes are allowed to
// finish.
func (m *Map) Shutdown() {
	m.worker.stop()
}
