// Package stream provides the monitor outputs: a fan-out of the consumer's
// 20ms frames to any number of HTTP/WebRTC listeners. Monitoring taps the
// audible output; it never feeds back into the production path.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// Broadcaster fans out monitor frames from the real-time consumer to N
// listeners. A slow listener loses frames rather than slowing anyone down.
type Broadcaster struct {
	frames atomic.Uint64

	mu        sync.RWMutex
	listeners map[*Listener]struct{}
}

// Listener receives monitor frames from the broadcaster.
type Listener struct {
	C    chan []int16 // buffered channel of 20ms frames
	done chan struct{}
}

// NewBroadcaster creates a broadcaster with no listeners.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a new listener.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, 50), // ~1 second of buffer at 20ms/frame
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	close(l.done)
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// FrameCount returns the number of frames broadcast so far.
func (b *Broadcaster) FrameCount() uint64 {
	return b.frames.Load()
}

// Run reads frames from source and fans out to all listeners. Returns when
// ctx is cancelled or the source closes.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.frames.Add(1)
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- frame:
				default:
					// listener too slow, drop frame to keep broadcast moving
				}
			}
			b.mu.RUnlock()
		}
	}
}
