package nosqldb

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// outboundBuffer models the direct buffer the real driver allocates from
// the channel's allocator and retains once per request. Go has no manual
// refcounting, but the same ownership discipline is worth preserving: the
// buffer is acquired exactly once per iteration and must be released
// exactly once on every exit path (success, retry, or throw). refs tracks
// that balance so tests can assert it never leaks.
type outboundBuffer struct {
	buf  *bytes.Buffer
	refs int32
}

var bufferPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// acquiredBuffers / releasedBuffers are process-wide counters used only by
// tests to assert invariant 2 (every iteration balances its buffer).
var acquiredBuffers int64
var releasedBuffers int64

func acquireBuffer() *outboundBuffer {
	b := bufferPool.Get().(*bytes.Buffer)
	b.Reset()
	atomic.AddInt64(&acquiredBuffers, 1)
	return &outboundBuffer{buf: b, refs: 1}
}

// release drops the buffer's single reference and returns it to the pool.
// Calling it more than once is a programmer error (it would double-count
// the pool checkin) and is guarded against defensively since every call
// site is expected to call it via a single defer.
func (b *outboundBuffer) release() {
	if b == nil || b.refs == 0 {
		return
	}
	b.refs = 0
	bufferPool.Put(b.buf)
	atomic.AddInt64(&releasedBuffers, 1)
}
