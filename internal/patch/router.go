// Package patch implements the graph-replacement protocol: build a new
// processing graph against the standby slot, prime it, and atomically swap
// which slot is audible. One session may be in flight at a time.
package patch

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sunfall-audio/tandem/internal/dsp"
)

// Caller errors. All are returned synchronously and never disturb the
// currently audible path.
var (
	ErrNoSession = errors.New("patch: no session in flight")
	ErrBusy      = errors.New("patch: commit in progress")
)

// SessionState is the router's protocol state.
type SessionState string

const (
	Idle     SessionState = "idle"
	Building SessionState = "building"
	Priming  SessionState = "priming"
)

// Swapper is the supervisor capability the router drives: materialize a
// graph in the standby slot, prime it, flip on success.
type Swapper interface {
	SwapGraph(spec dsp.GraphSpec, timeout time.Duration) error
}

// Router accumulates a pending patch and commits or aborts it.
type Router struct {
	sup          Swapper
	primeTimeout time.Duration

	mu     sync.Mutex
	state  SessionState
	stages []dsp.StageSpec
	index  map[string]int
	conns  []dsp.ConnSpec
}

// NewRouter creates an idle router committing through sup.
func NewRouter(sup Swapper, primeTimeout time.Duration) *Router {
	return &Router{
		sup:          sup,
		primeTimeout: primeTimeout,
		state:        Idle,
		index:        make(map[string]int),
	}
}

// State returns the current session state.
func (r *Router) State() SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Pending returns a copy of the accumulated graph description.
func (r *Router) Pending() dsp.GraphSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingLocked()
}

func (r *Router) pendingLocked() dsp.GraphSpec {
	spec := dsp.GraphSpec{
		Stages: make([]dsp.StageSpec, len(r.stages)),
		Conns:  make([]dsp.ConnSpec, len(r.conns)),
	}
	copy(spec.Stages, r.stages)
	copy(spec.Conns, r.conns)
	return spec
}

// Create adds a stage instance to the pending patch, implicitly opening a
// session when idle. Duplicate ids and unknown types are rejected.
func (r *Router) Create(stageID, typ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Priming {
		return ErrBusy
	}
	if _, dup := r.index[stageID]; dup {
		return fmt.Errorf("%w: %q", dsp.ErrDuplicateStage, stageID)
	}
	if !dsp.KnownType(typ) {
		return fmt.Errorf("%w: %q", dsp.ErrUnknownType, typ)
	}
	r.state = Building
	r.index[stageID] = len(r.stages)
	r.stages = append(r.stages, dsp.StageSpec{ID: stageID, Type: typ})
	return nil
}

// Connect declares a signal connection inside the pending patch. Both ids
// must already exist in it and self-loops are rejected.
func (r *Router) Connect(src, dst string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Priming {
		return ErrBusy
	}
	if _, ok := r.index[src]; !ok {
		return fmt.Errorf("%w: %q", dsp.ErrUnknownStage, src)
	}
	if _, ok := r.index[dst]; !ok {
		return fmt.Errorf("%w: %q", dsp.ErrUnknownStage, dst)
	}
	if src == dst {
		return fmt.Errorf("%w: %q", dsp.ErrSelfLoop, src)
	}
	r.state = Building
	r.conns = append(r.conns, dsp.ConnSpec{Src: src, Dst: dst})
	return nil
}

// Commit materializes the pending patch into the standby slot, waits for
// priming, and swaps the active role. Whatever the outcome, the session
// ends: on success the new graph is audible, on failure (including priming
// timeout) the previous graph kept playing and the patch is discarded.
func (r *Router) Commit() error {
	r.mu.Lock()
	if r.state == Priming {
		r.mu.Unlock()
		return ErrBusy
	}
	if r.state != Building {
		r.mu.Unlock()
		return ErrNoSession
	}
	spec := r.pendingLocked()

	// Validate the whole description before touching any slot.
	if _, err := dsp.NewGraph(spec); err != nil {
		r.resetLocked()
		r.mu.Unlock()
		return err
	}
	r.state = Priming
	r.mu.Unlock()

	err := r.sup.SwapGraph(spec, r.primeTimeout)

	r.mu.Lock()
	r.resetLocked()
	r.mu.Unlock()
	return err
}

// Abort discards the pending patch without touching either running slot.
func (r *Router) Abort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Priming {
		return ErrBusy
	}
	if r.state != Building {
		return ErrNoSession
	}
	r.resetLocked()
	return nil
}

func (r *Router) resetLocked() {
	r.state = Idle
	r.stages = nil
	r.conns = nil
	r.index = make(map[string]int)
}
