package patch

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sunfall-audio/tandem/internal/dsp"
)

// fakeSwapper records the spec handed to it and returns a scripted error.
type fakeSwapper struct {
	mu      sync.Mutex
	specs   []dsp.GraphSpec
	err     error
	block   chan struct{} // when set, SwapGraph waits on it
	entered chan struct{} // closed when SwapGraph is reached
}

func (f *fakeSwapper) SwapGraph(spec dsp.GraphSpec, timeout time.Duration) error {
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	entered := f.entered
	block := f.block
	err := f.err
	f.mu.Unlock()
	if entered != nil {
		close(entered)
	}
	if block != nil {
		<-block
	}
	return err
}

func (f *fakeSwapper) committed() []dsp.GraphSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.specs
}

func buildSession(t *testing.T, r *Router) {
	t.Helper()
	if err := r.Create("osc1", "osc"); err != nil {
		t.Fatalf("Create osc1: %v", err)
	}
	if err := r.Create("out", "gain"); err != nil {
		t.Fatalf("Create out: %v", err)
	}
	if err := r.Connect("osc1", "out"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func TestCreateOpensSessionImplicitly(t *testing.T) {
	r := NewRouter(&fakeSwapper{}, time.Second)
	if r.State() != Idle {
		t.Fatalf("Fresh router state = %q, want idle", r.State())
	}
	if err := r.Create("osc1", "osc"); err != nil {
		t.Fatal(err)
	}
	if r.State() != Building {
		t.Errorf("State after Create = %q, want building", r.State())
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	r := NewRouter(&fakeSwapper{}, time.Second)
	if err := r.Create("x", "theremin"); !errors.Is(err, dsp.ErrUnknownType) {
		t.Errorf("Unknown type error = %v, want ErrUnknownType", err)
	}
	if err := r.Create("x", "osc"); err != nil {
		t.Fatal(err)
	}
	if err := r.Create("x", "gain"); !errors.Is(err, dsp.ErrDuplicateStage) {
		t.Errorf("Duplicate id error = %v, want ErrDuplicateStage", err)
	}
}

func TestConnectRejectsBadInput(t *testing.T) {
	r := NewRouter(&fakeSwapper{}, time.Second)
	r.Create("a", "osc")

	if err := r.Connect("ghost", "a"); !errors.Is(err, dsp.ErrUnknownStage) {
		t.Errorf("Unknown src error = %v, want ErrUnknownStage", err)
	}
	if err := r.Connect("a", "ghost"); !errors.Is(err, dsp.ErrUnknownStage) {
		t.Errorf("Unknown dst error = %v, want ErrUnknownStage", err)
	}
	if err := r.Connect("a", "a"); !errors.Is(err, dsp.ErrSelfLoop) {
		t.Errorf("Self-loop error = %v, want ErrSelfLoop", err)
	}
}

func TestCommitHandsSpecToSwapper(t *testing.T) {
	sw := &fakeSwapper{}
	r := NewRouter(sw, time.Second)
	buildSession(t, r)

	if err := r.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	specs := sw.committed()
	if len(specs) != 1 {
		t.Fatalf("Swapper saw %d commits, want 1", len(specs))
	}
	spec := specs[0]
	if len(spec.Stages) != 2 || len(spec.Conns) != 1 {
		t.Fatalf("Committed spec = %+v", spec)
	}
	if spec.Stages[0].ID != "osc1" || spec.Conns[0].Dst != "out" {
		t.Errorf("Committed spec content = %+v", spec)
	}

	// Session is over; the next commit has nothing to commit.
	if r.State() != Idle {
		t.Errorf("State after commit = %q, want idle", r.State())
	}
	if err := r.Commit(); !errors.Is(err, ErrNoSession) {
		t.Errorf("Commit after commit = %v, want ErrNoSession", err)
	}
}

func TestCommitWithoutSession(t *testing.T) {
	r := NewRouter(&fakeSwapper{}, time.Second)
	if err := r.Commit(); !errors.Is(err, ErrNoSession) {
		t.Errorf("Commit with no session = %v, want ErrNoSession", err)
	}
}

func TestCommitSpecIsBuildable(t *testing.T) {
	// Whatever reaches the swapper must already have passed full graph
	// validation; a worker must never reject a committed patch.
	sw := &fakeSwapper{}
	r := NewRouter(sw, time.Second)
	r.Create("a", "env")
	r.Create("b", "gain")
	r.Connect("a", "b")
	if err := r.Commit(); err != nil {
		t.Fatalf("Valid commit rejected: %v", err)
	}
	specs := sw.committed()
	if len(specs) != 1 {
		t.Fatal("Swapper not reached for valid spec")
	}
	if _, err := dsp.NewGraph(specs[0]); err != nil {
		t.Errorf("Committed spec does not build: %v", err)
	}
}

func TestCommitSurfacesSwapError(t *testing.T) {
	boom := errors.New("standby gone")
	sw := &fakeSwapper{err: boom}
	r := NewRouter(sw, time.Second)
	buildSession(t, r)

	if err := r.Commit(); !errors.Is(err, boom) {
		t.Errorf("Commit error = %v, want %v", err, boom)
	}
	// Failure still ends the session.
	if r.State() != Idle {
		t.Errorf("State after failed commit = %q, want idle", r.State())
	}
}

func TestSessionBusyWhilePriming(t *testing.T) {
	sw := &fakeSwapper{
		block:   make(chan struct{}),
		entered: make(chan struct{}),
	}
	r := NewRouter(sw, time.Second)
	buildSession(t, r)

	done := make(chan error, 1)
	go func() { done <- r.Commit() }()
	<-sw.entered

	if r.State() != Priming {
		t.Errorf("State during swap = %q, want priming", r.State())
	}
	if err := r.Create("late", "osc"); !errors.Is(err, ErrBusy) {
		t.Errorf("Create while priming = %v, want ErrBusy", err)
	}
	if err := r.Connect("osc1", "out"); !errors.Is(err, ErrBusy) {
		t.Errorf("Connect while priming = %v, want ErrBusy", err)
	}
	if err := r.Abort(); !errors.Is(err, ErrBusy) {
		t.Errorf("Abort while priming = %v, want ErrBusy", err)
	}
	if err := r.Commit(); !errors.Is(err, ErrBusy) {
		t.Errorf("Commit while priming = %v, want ErrBusy", err)
	}

	close(sw.block)
	if err := <-done; err != nil {
		t.Fatalf("Blocked commit finished with %v", err)
	}
	if r.State() != Idle {
		t.Errorf("State after commit = %q, want idle", r.State())
	}
}

func TestAbortDiscardsPending(t *testing.T) {
	sw := &fakeSwapper{}
	r := NewRouter(sw, time.Second)
	buildSession(t, r)

	if err := r.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if r.State() != Idle {
		t.Errorf("State after abort = %q, want idle", r.State())
	}
	if got := r.Pending(); len(got.Stages) != 0 || len(got.Conns) != 0 {
		t.Errorf("Pending after abort = %+v, want empty", got)
	}
	if len(sw.committed()) != 0 {
		t.Error("Abort reached the swapper")
	}

	// Stage ids are free again after an abort.
	if err := r.Create("osc1", "osc"); err != nil {
		t.Errorf("Create after abort: %v", err)
	}
}

func TestAbortWithoutSession(t *testing.T) {
	r := NewRouter(&fakeSwapper{}, time.Second)
	if err := r.Abort(); !errors.Is(err, ErrNoSession) {
		t.Errorf("Abort with no session = %v, want ErrNoSession", err)
	}
}

func TestPendingReturnsCopy(t *testing.T) {
	r := NewRouter(&fakeSwapper{}, time.Second)
	buildSession(t, r)

	p := r.Pending()
	p.Stages[0].ID = "mangled"
	if got := r.Pending(); got.Stages[0].ID != "osc1" {
		t.Error("Pending exposed internal state")
	}
}
