package supervisor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sunfall-audio/tandem/internal/proc"
	"github.com/sunfall-audio/tandem/internal/ring"
	"github.com/sunfall-audio/tandem/internal/worker"
)

// Slot is one of the two worker roles. The role (primary/standby) follows
// the active pointer; the instance filling the slot changes on respawn.
// A slot owns its FrameRing and CommandQueue; ownership of a ring never
// transfers between instances, respawn allocates a fresh one.
type Slot struct {
	index int

	mu   sync.Mutex
	id   string // instance uuid
	pr   proc.Process
	gen  uint64 // instance generation; stale per-instance goroutines exit on mismatch

	frames atomic.Pointer[ring.FrameRing]
	queue  *ring.CommandQueue
	notify chan struct{} // wakes the forward loop after a queue push

	state      atomic.Value // worker.State
	stateGen   atomic.Uint64
	lastBeat   atomic.Int64 // unix nanos
	misses     atomic.Uint64
	alive      atomic.Bool
	respawning atomic.Bool
}

func newSlot(index, queueCap int) *Slot {
	s := &Slot{
		index:  index,
		queue:  ring.NewCommandQueue(queueCap),
		notify: make(chan struct{}, 1),
	}
	s.state.Store(worker.Terminated)
	return s
}

// State returns the last state the worker instance reported.
func (s *Slot) State() worker.State {
	return s.state.Load().(worker.State)
}

// HeartbeatAge returns the time since the last heartbeat.
func (s *Slot) HeartbeatAge() time.Duration {
	return time.Duration(time.Now().UnixNano() - s.lastBeat.Load())
}

// Ring returns the current instance's frame ring.
func (s *Slot) Ring() *ring.FrameRing {
	return s.frames.Load()
}

// process returns the current instance handle and generation.
func (s *Slot) process() (proc.Process, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pr, s.gen
}

// pid returns the current instance's process id, 0 if none.
func (s *Slot) pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pr == nil {
		return 0
	}
	return s.pr.ID()
}

// instanceID returns the current instance uuid.
func (s *Slot) instanceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// wake nudges the forward loop.
func (s *Slot) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
