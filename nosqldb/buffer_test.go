package nosqldb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/kvstore-labs/nosql-go-sdk/nosqlerr"
)

// snapshotBufferCounters returns the process-wide acquire/release counts so
// a test can assert on the delta it itself produced, independent of any
// buffer traffic from other tests in the package.
func snapshotBufferCounters() (acquired, released int64) {
	return atomic.LoadInt64(&acquiredBuffers), atomic.LoadInt64(&releasedBuffers)
}

// TestOutboundBuffer_BalancesAcrossExitPaths is invariant 2: every iteration
// of the engine loop acquires exactly one buffer and releases exactly one
// buffer, whether it exits via success, a retried failure, or a pre-dispatch
// throw. acquireBuffer/release are exercised indirectly through Client,
// since that is the only caller in the engine.
func TestOutboundBuffer_BalancesAcrossExitPaths(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		if atomic.AddInt32(&calls, 1) == 1 {
			writeErrorBody(w, nosqlerr.CodeWriteLimitExceeded, "write limit exceeded")
			return
		}
		writeTableResultBody(w, 0, 0, 30)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3, 1<<20)
	defer client.Shutdown()

	acquiredBefore, releasedBefore := snapshotBufferCounters()

	if _, err := client.GetTable(context.Background(), NewGetTableRequest("myTable")); err != nil {
		t.Fatalf("GetTable failed: %v", err)
	}

	acquiredAfter, releasedAfter := snapshotBufferCounters()
	gotAcquired := acquiredAfter - acquiredBefore
	gotReleased := releasedAfter - releasedBefore

	// Two iterations ran (throttled, then success), so two buffers should
	// have been acquired and released, never leaked or double-released.
	if gotAcquired != 2 {
		t.Fatalf("acquired %d buffers across 2 iterations, want 2", gotAcquired)
	}
	if gotReleased != gotAcquired {
		t.Fatalf("released %d buffers, want it to match the %d acquired (invariant 2 violated)", gotReleased, gotAcquired)
	}
}

// TestOutboundBuffer_BalancesOnPreDispatchThrow covers the oversized-request
// path: attemptOnce acquires a buffer, discovers the encoded size exceeds
// the limit, and must still release it before returning
// RequestSizeLimitException.
func TestOutboundBuffer_BalancesOnPreDispatchThrow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3, 8)
	defer client.Shutdown()

	acquiredBefore, releasedBefore := snapshotBufferCounters()

	_, err := client.GetTable(context.Background(), NewGetTableRequest("aTableNameLongerThanTheTinyCloudLimit"))
	var sizeErr *nosqlerr.RequestSizeLimitException
	if !errors.As(err, &sizeErr) {
		t.Fatalf("expected RequestSizeLimitException, got %v (%T)", err, err)
	}

	acquiredAfter, releasedAfter := snapshotBufferCounters()
	if acquiredAfter-acquiredBefore != 1 {
		t.Fatalf("acquired %d buffers, want 1", acquiredAfter-acquiredBefore)
	}
	if releasedAfter-releasedBefore != 1 {
		t.Fatalf("released %d buffers, want 1 (buffer must be released even on a pre-dispatch throw)", releasedAfter-releasedBefore)
	}
}

func TestOutboundBuffer_ReleaseIsIdempotent(t *testing.T) {
	b := acquireBuffer()
	_, releasedBefore := snapshotBufferCounters()
	b.release()
	b.release() // a second release must not double-count the pool checkin
	_, releasedAfter := snapshotBufferCounters()
	if releasedAfter-releasedBefore != 1 {
		t.Fatalf("release() counted %d times, want exactly 1 despite being called twice", releasedAfter-releasedBefore)
	}
}
