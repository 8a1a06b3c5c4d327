package limitermap

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestMap(refresh RefreshFunc) *Map {
	return New(refresh, 30, zerolog.Nop())
}

func TestMap_UpdateCreatesAndRemovesLimiters(t *testing.T) {
	m := newTestMap(nil)
	m.Update("t1", 100, 50, 30)

	if m.GetReadLimiter("t1") == nil {
		t.Fatal("expected a read limiter after Update")
	}
	if m.GetWriteLimiter("t1") == nil {
		t.Fatal("expected a write limiter after Update")
	}

	// Both directions zero removes the entry entirely.
	m.Update("t1", 0, 0, 30)
	if m.GetReadLimiter("t1") != nil || m.GetWriteLimiter("t1") != nil {
		t.Fatal("expected no limiters after a zero-zero Update")
	}
}

func TestMap_UpdateOneDirectionOnly(t *testing.T) {
	m := newTestMap(nil)
	m.Update("t1", 100, 0, 30)
	if m.GetReadLimiter("t1") == nil {
		t.Fatal("expected a read limiter")
	}
	if m.GetWriteLimiter("t1") != nil {
		t.Fatal("expected no write limiter when writeUnitsPerSecond is 0")
	}
}

func TestMap_ResetAndClear(t *testing.T) {
	m := newTestMap(nil)
	m.Update("t1", 100, 50, 30)
	m.Update("t2", 100, 50, 30)

	m.Reset("t1")
	if m.GetReadLimiter("t1") != nil {
		t.Fatal("expected t1's limiter removed by Reset")
	}
	if m.GetReadLimiter("t2") == nil {
		t.Fatal("t2's limiter should be unaffected by resetting t1")
	}

	m.Clear()
	if m.GetReadLimiter("t2") != nil {
		t.Fatal("expected all limiters removed by Clear")
	}
}

// TestMap_SingleFlightRefresh exercises invariant 5 / boundary scenario S5:
// at most one background GetTable refresh is in flight per table at any
// time. Calling BackgroundUpdateLimiters repeatedly while a refresh for the
// same table is outstanding must not launch a second one.
func TestMap_SingleFlightRefresh(t *testing.T) {
	var inFlight int32
	var maxConcurrent int32
	var calls int32
	release := make(chan struct{})

	refresh := func(ctx context.Context, table string) (int, int, int, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&maxConcurrent)
			if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
				break
			}
		}
		atomic.AddInt32(&calls, 1)
		<-release
		atomic.AddInt32(&inFlight, -1)
		return 1000, 500, 30, nil
	}

	m := newTestMap(refresh)
	defer m.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.BackgroundUpdateLimiters("orders")
		}()
	}
	wg.Wait()

	// Give the single worker goroutine a moment to have picked up the one
	// accepted job (or not, if it was still mid-dispatch).
	time.Sleep(20 * time.Millisecond)
	close(release)
	time.Sleep(20 * time.Millisecond)

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("refresh called %d times, want exactly 1 (single-flight per table)", got)
	}
	if got := atomic.LoadInt32(&maxConcurrent); got > 1 {
		t.Fatalf("max concurrent refreshes = %d, want at most 1", got)
	}
}

func TestMap_BackgroundUpdateLimitersAppliesResult(t *testing.T) {
	done := make(chan struct{})
	refresh := func(ctx context.Context, table string) (int, int, int, error) {
		defer close(done)
		return 200, 100, 30, nil
	}
	m := newTestMap(refresh)
	defer m.Shutdown()

	m.BackgroundUpdateLimiters("orders")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresh was never invoked")
	}
	// Allow Update to run after refresh returns.
	time.Sleep(20 * time.Millisecond)

	rl := m.GetReadLimiter("orders")
	if rl == nil {
		t.Fatal("expected a read limiter to be populated from the refresh result")
	}
	if rl.GetLimitPerSecond() != 200 {
		t.Fatalf("GetLimitPerSecond() = %v, want 200", rl.GetLimitPerSecond())
	}
}

func TestMap_BackgroundUpdateLimitersRetriesOnError(t *testing.T) {
	var calls int32
	refresh := func(ctx context.Context, table string) (int, int, int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, 0, 0, context.DeadlineExceeded
	}
	m := newTestMap(refresh)
	defer m.Shutdown()

	m.BackgroundUpdateLimiters("orders")
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	// A failed refresh schedules a short retry backoff rather than the full
	// refresh interval, so a call soon after should be allowed to retry.
	time.Sleep(150 * time.Millisecond)
	m.BackgroundUpdateLimiters("orders")
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got < 2 {
		t.Fatalf("calls = %d, want at least 2 (expected a retry after the backoff)", got)
	}
}
