// Package ring provides the two fixed-capacity exchanges between a worker
// slot and the rest of the system: the FrameRing carrying produced audio
// blocks toward the real-time consumer, and the CommandQueue carrying
// control messages toward the worker.
package ring

import (
	"sync/atomic"

	"github.com/sunfall-audio/tandem/internal/audio"
)

// FrameRing is a fixed-capacity single-producer/single-consumer ring of
// audio blocks. Both ends are non-blocking: a full ring rejects the push,
// an empty ring returns nothing. Exactly one goroutine may push and exactly
// one may pop; that contract is the caller's to uphold, not runtime-checked.
//
// head and tail are free-running counters, only masked when indexing the
// buffer. The emptiness check head == tail relies on both counters sharing
// the same domain.
type FrameRing struct {
	buf  []*audio.Block
	mask uint64

	head atomic.Uint64 // next read position
	tail atomic.Uint64 // next write position
}

// NewFrameRing creates a ring with at least the given capacity, rounded up
// to a power of two for mask indexing.
func NewFrameRing(capacity int) *FrameRing {
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &FrameRing{
		buf:  make([]*audio.Block, size),
		mask: uint64(size - 1),
	}
}

// Cap returns the ring capacity.
func (r *FrameRing) Cap() int {
	return len(r.buf)
}

// Len returns the number of ready blocks.
func (r *FrameRing) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// TryPush appends a block. Returns false if the ring is full; the caller
// must count that as an overflow, nothing is dropped silently.
func (r *FrameRing) TryPush(b *audio.Block) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() >= uint64(len(r.buf)) {
		return false
	}
	r.buf[tail&r.mask] = b
	r.tail.Store(tail + 1)
	return true
}

// TryPop removes the oldest block. Returns false if no block is ready,
// which the consumer treats as a transient underrun, not an error.
func (r *FrameRing) TryPop() (*audio.Block, bool) {
	head := r.head.Load()
	if head == r.tail.Load() {
		return nil, false
	}
	b := r.buf[head&r.mask]
	r.buf[head&r.mask] = nil
	r.head.Store(head + 1)
	return b, true
}
