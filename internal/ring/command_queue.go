package ring

import (
	"sync"

	"github.com/sunfall-audio/tandem/internal/command"
)

// CommandQueue is a fixed-capacity queue of control messages for one worker
// slot. The supervisor pushes from its control-ingestion path; the slot's
// forwarding loop drains it once per cycle. Push never blocks: a full queue
// rejects the command, which the caller counts and may drop or resync later.
type CommandQueue struct {
	mu  sync.Mutex
	buf []command.Command
	cap int
}

// NewCommandQueue creates a queue holding at most capacity commands.
func NewCommandQueue(capacity int) *CommandQueue {
	return &CommandQueue{
		buf: make([]command.Command, 0, capacity),
		cap: capacity,
	}
}

// Push enqueues a command. Returns false on overflow; previously queued
// entries are untouched.
func (q *CommandQueue) Push(c command.Command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) >= q.cap {
		return false
	}
	q.buf = append(q.buf, c)
	return true
}

// DrainAll removes and returns every queued command in enqueue order.
// Returns nil when empty. The take is atomic: the drainer applies the whole
// batch before any of it, never a partial view.
func (q *CommandQueue) DrainAll() []command.Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return nil
	}
	out := q.buf
	q.buf = make([]command.Command, 0, q.cap)
	return out
}

// Len returns the number of queued commands.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Reset empties the queue without applying pending entries. Mandatory
// whenever a fresh worker instance takes over a slot: commands queued for a
// now-dead worker are stale and must not replay against its replacement.
func (q *CommandQueue) Reset() {
	q.mu.Lock()
	q.buf = q.buf[:0]
	q.mu.Unlock()
}
