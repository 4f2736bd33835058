// Package supervisor owns the redundancy pair: two worker slots, the
// active-slot pointer the real-time consumer follows, liveness monitoring,
// promotion, respawn, and synchronized command fan-out.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sunfall-audio/tandem/internal/command"
	"github.com/sunfall-audio/tandem/internal/dsp"
	"github.com/sunfall-audio/tandem/internal/proc"
	"github.com/sunfall-audio/tandem/internal/ring"
	"github.com/sunfall-audio/tandem/internal/worker"
)

var (
	// ErrNoStandby means no live standby slot exists to build a patch in.
	ErrNoStandby = errors.New("supervisor: no live standby slot")
	// ErrPrimingTimeout means a fresh graph did not reach steady state in time.
	ErrPrimingTimeout = errors.New("supervisor: priming timed out")
)

// Config tunes the supervisory loops.
type Config struct {
	RingCapacity     int           // frame ring per slot, a handful of blocks
	QueueCapacity    int           // command queue per slot
	HeartbeatTimeout time.Duration // staleness after which a worker is dead
	PollInterval     time.Duration // liveness poll cadence
	StartTimeout     time.Duration // bound on a fresh instance reaching Steady
	PrimeTimeout     time.Duration // bound on patch-commit priming
	RespawnAttempts  int           // spawn failures before the service degrades
	RespawnBackoff   time.Duration
}

// DefaultConfig matches the timing targets: failover detection within a few
// heartbeat periods, flip latency in low single-digit milliseconds.
func DefaultConfig() Config {
	return Config{
		RingCapacity:     8,
		QueueCapacity:    64,
		HeartbeatTimeout: 25 * time.Millisecond,
		PollInterval:     2 * time.Millisecond,
		StartTimeout:     3 * time.Second,
		PrimeTimeout:     500 * time.Millisecond,
		RespawnAttempts:  3,
		RespawnBackoff:   50 * time.Millisecond,
	}
}

// Supervisor maintains exactly two slots and the single active pointer.
// All cross-slot mutation funnels through here; nothing else flips roles.
type Supervisor struct {
	cfg     Config
	spawn   proc.Spawner
	metrics *Metrics

	slots    [2]*Slot
	active   atomic.Int32
	degraded atomic.Bool

	// swapMu serializes respawns and patch swaps against each other.
	// swapping marks a patch commit in flight for the liveness loop.
	swapMu   sync.Mutex
	swapping atomic.Bool

	// mu is the fan-out serialization point: it guards the control-state
	// shadow and is held across both slots' queue pushes, so the slots see
	// every command in the same relative order and a respawn's
	// snapshot+reset cannot interleave with a concurrent Apply.
	mu     sync.Mutex
	spec   dsp.GraphSpec
	params map[string]map[string]float64
	gates  map[string]bool
}

// New creates a supervisor that will run both slots on the given boot graph.
func New(cfg Config, spawn proc.Spawner, spec dsp.GraphSpec) *Supervisor {
	s := &Supervisor{
		cfg:     cfg,
		spawn:   spawn,
		metrics: NewMetrics(),
		spec:    spec,
		params:  make(map[string]map[string]float64),
		gates:   make(map[string]bool),
	}
	for i := range s.slots {
		s.slots[i] = newSlot(i, cfg.QueueCapacity)
	}
	return s
}

// Metrics exposes the counters for the consumer and status reporting.
func (s *Supervisor) Metrics() *Metrics {
	return s.metrics
}

// ActiveIndex returns the slot the consumer must read next. Written only
// here, only at block boundaries from the consumer's point of view: the
// consumer samples it once per period.
func (s *Supervisor) ActiveIndex() int {
	return int(s.active.Load())
}

// Start spawns both slots, waits for them to reach steady state, and
// launches the liveness monitor. On ctx cancellation workers are shut down
// cooperatively, then killed.
func (s *Supervisor) Start(ctx context.Context) error {
	for _, sl := range s.slots {
		sinceGen := sl.stateGen.Load()
		if err := s.startInstance(sl); err != nil {
			return fmt.Errorf("spawn slot %d: %w", sl.index, err)
		}
		if err := s.waitSteady(sl, sinceGen, time.Now().Add(s.cfg.StartTimeout)); err != nil {
			return fmt.Errorf("slot %d never reached steady: %w", sl.index, err)
		}
	}
	log.Printf("Both slots steady, slot %d active", s.ActiveIndex())
	go s.superviseLoop(ctx)
	return nil
}

// startInstance replaces the slot's worker instance: fresh process, fresh
// ring, reset queue, graph first, then the state replay. The old ring is
// abandoned, never reused; its prior producer may have died mid-write.
//
// The snapshot, queue reset, and replay all happen under mu, so a command
// applied concurrently ends up either in the snapshot or in the reset
// queue, never in neither.
func (s *Supervisor) startInstance(sl *Slot) error {
	p, err := s.spawn()
	if err != nil {
		return err
	}

	s.mu.Lock()
	spec, replay := s.replaySnapshotLocked()
	sl.mu.Lock()
	sl.gen++
	gen := sl.gen
	sl.id = uuid.NewString()
	sl.pr = p
	sl.frames.Store(ring.NewFrameRing(s.cfg.RingCapacity))
	sl.queue.Reset()
	sl.lastBeat.Store(time.Now().UnixNano())
	sl.misses.Store(0)
	if err := p.Send(proc.Envelope{Type: proc.TypePatch, Patch: &spec}); err != nil {
		sl.mu.Unlock()
		s.mu.Unlock()
		p.Kill()
		return fmt.Errorf("send boot patch: %w", err)
	}
	for _, c := range replay {
		sl.queue.Push(c)
	}
	sl.mu.Unlock()
	s.mu.Unlock()

	sl.alive.Store(true)
	sl.wake()
	go s.recvLoop(sl, p, gen)
	go s.forwardLoop(sl, p, gen)
	return nil
}

// recvLoop moves one instance's envelopes into the slot: blocks into the
// ring, heartbeats and states into the slot's observations. It exits when
// the instance dies or the slot has moved on to a newer generation.
func (s *Supervisor) recvLoop(sl *Slot, p proc.Process, gen uint64) {
	for {
		env, err := p.Recv()
		if err != nil {
			return
		}
		sl.mu.Lock()
		stale := sl.gen != gen
		sl.mu.Unlock()
		if stale {
			return
		}
		switch env.Type {
		case proc.TypeBlock:
			if env.Block != nil {
				if !sl.frames.Load().TryPush(env.Block) {
					s.metrics.ringOverflows.Add(1)
				}
			}
		case proc.TypeHeartbeat:
			sl.lastBeat.Store(env.Beat)
			sl.misses.Store(env.Misses)
		case proc.TypeState:
			sl.state.Store(worker.State(env.State))
			sl.stateGen.Add(1)
		}
	}
}

// forwardLoop drains the slot's command queue toward its worker instance,
// preserving enqueue order. Drains run under the slot lock so a respawn's
// generation bump, queue reset, and state replay are atomic against it.
func (s *Supervisor) forwardLoop(sl *Slot, p proc.Process, gen uint64) {
	for {
		select {
		case <-p.Done():
			return
		case <-sl.notify:
			sl.mu.Lock()
			if sl.gen != gen {
				sl.mu.Unlock()
				return
			}
			cmds := sl.queue.DrainAll()
			sl.mu.Unlock()
			for i := range cmds {
				if err := p.Send(proc.Envelope{Type: proc.TypeCommand, Cmd: &cmds[i]}); err != nil {
					return
				}
			}
		}
	}
}

// Apply fans a command out to the targeted slots' queues and records it in
// the state shadow used for replay. Fire-and-forget: overflow is counted,
// never surfaced to the caller.
func (s *Supervisor) Apply(c command.Command, target command.Target) {
	s.metrics.commandsApplied.Add(1)

	// Shadow update and queue pushes happen under the same lock, so a
	// command is always in the replay shadow by the time it is queued,
	// and concurrent applies land in the same relative order on both
	// slots.
	s.mu.Lock()
	if target == command.TargetAll {
		switch c.Kind {
		case command.SetParam:
			m := s.params[c.Stage]
			if m == nil {
				m = make(map[string]float64)
				s.params[c.Stage] = m
			}
			m[c.Param] = c.Value
		case command.Gate:
			s.gates[c.Stage] = c.On
		}
	}

	act := s.active.Load()
	for i, sl := range s.slots {
		if target == command.TargetActive && int32(i) != act {
			continue
		}
		if !sl.queue.Push(c) {
			s.metrics.commandDrops.Add(1)
		}
		sl.wake()
	}
	s.mu.Unlock()
}

// replaySnapshot builds the full current control state (every parameter,
// not a delta) in deterministic order, for synchronizing a fresh instance.
func (s *Supervisor) replaySnapshot() (dsp.GraphSpec, []command.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaySnapshotLocked()
}

// replaySnapshotLocked is replaySnapshot for callers already holding mu.
func (s *Supervisor) replaySnapshotLocked() (dsp.GraphSpec, []command.Command) {
	stages := make([]string, 0, len(s.params))
	for id := range s.params {
		stages = append(stages, id)
	}
	sort.Strings(stages)

	var replay []command.Command
	for _, id := range stages {
		params := make([]string, 0, len(s.params[id]))
		for p := range s.params[id] {
			params = append(params, p)
		}
		sort.Strings(params)
		for _, p := range params {
			replay = append(replay, command.Param(id, p, s.params[id][p]))
		}
	}

	gates := make([]string, 0, len(s.gates))
	for id := range s.gates {
		gates = append(gates, id)
	}
	sort.Strings(gates)
	for _, id := range gates {
		replay = append(replay, command.GateOn(id, s.gates[id]))
	}

	return s.spec, replay
}

// superviseLoop is the liveness monitor: a tight poll checking both slots'
// process existence and heartbeat freshness.
func (s *Supervisor) superviseLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdownAll()
			return
		case <-ticker.C:
			s.checkSlots()
		}
	}
}

func (s *Supervisor) checkSlots() {
	for i, sl := range s.slots {
		if !sl.alive.Load() || sl.respawning.Load() {
			continue
		}
		p, _ := sl.process()
		dead := false
		select {
		case <-p.Done():
			dead = true
		default:
			dead = sl.HeartbeatAge() > s.cfg.HeartbeatTimeout
		}
		if !dead {
			continue
		}

		detected := time.Now()
		sl.alive.Store(false)
		s.metrics.crashes.Add(1)
		p.Kill() // reap a zombie that still exists but stopped heartbeating

		if int32(i) == s.active.Load() {
			if s.swapping.Load() {
				// The standby is priming a new graph for an in-flight
				// commit and must not become audible before it steadies.
				// The commit's own flip takes over.
				log.Printf("Active slot %d died during patch swap, promotion deferred to commit", i)
			} else {
				other := int32(1 - i)
				// The flip is the entire failover: one atomic pointer update.
				// The consumer samples it at its next block boundary.
				s.active.Store(other)
				elapsed := time.Since(detected)
				s.metrics.RecordFailover(elapsed)
				log.Printf("Failover: slot %d -> %d in %s", i, other, elapsed)
			}
		} else {
			log.Printf("Standby slot %d died", i)
		}

		s.metrics.retiredMisses.Add(sl.misses.Load())
		sl.respawning.Store(true)
		go s.respawnSlot(sl)
	}
}

// respawnSlot brings a fresh instance into the slot role and synchronizes
// it: reset queue, current graph, full parameter replay, then Starting ->
// Warming -> Steady. Repeated failure degrades the service: production
// continues on the surviving slot but nothing protects a further crash.
func (s *Supervisor) respawnSlot(sl *Slot) {
	defer sl.respawning.Store(false)

	s.swapMu.Lock()
	defer s.swapMu.Unlock()

	for attempt := 1; attempt <= s.cfg.RespawnAttempts; attempt++ {
		sinceGen := sl.stateGen.Load()
		if err := s.startInstance(sl); err != nil {
			log.Printf("Respawn slot %d attempt %d: %v", sl.index, attempt, err)
			time.Sleep(s.cfg.RespawnBackoff)
			continue
		}
		if err := s.waitSteady(sl, sinceGen, time.Now().Add(s.cfg.StartTimeout)); err != nil {
			log.Printf("Respawn slot %d attempt %d never steadied: %v", sl.index, attempt, err)
			if p, _ := sl.process(); p != nil {
				p.Kill()
			}
			sl.alive.Store(false)
			time.Sleep(s.cfg.RespawnBackoff)
			continue
		}
		s.degraded.Store(false)
		log.Printf("Slot %d respawned and steady (pid %d)", sl.index, sl.pid())
		return
	}

	s.degraded.Store(true)
	log.Printf("SERVICE DEGRADED: slot %d could not be respawned after %d attempts, no standby remains", sl.index, s.cfg.RespawnAttempts)
}

// SwapGraph builds spec in the standby slot, waits for priming, then flips
// the active pointer and repurposes the old active slot as the new standby
// on the same graph. On priming timeout the running slot is untouched and
// the standby is re-armed with the prior graph.
func (s *Supervisor) SwapGraph(spec dsp.GraphSpec, timeout time.Duration) error {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()
	s.swapping.Store(true)
	defer s.swapping.Store(false)

	act := s.active.Load()
	standby := s.slots[1-act]
	if !standby.alive.Load() || standby.respawning.Load() {
		return ErrNoStandby
	}

	p, _ := standby.process()
	sinceGen := standby.stateGen.Load()
	if err := p.Send(proc.Envelope{Type: proc.TypePatch, Patch: &spec}); err != nil {
		return fmt.Errorf("send patch to standby: %w", err)
	}

	if err := s.waitSteady(standby, sinceGen, time.Now().Add(timeout)); err != nil {
		// Abandon: the active slot kept playing throughout. Rebuild the
		// prior graph in the standby so the pair stays symmetric.
		prior, _ := s.replaySnapshot()
		p.Send(proc.Envelope{Type: proc.TypePatch, Patch: &prior})
		return ErrPrimingTimeout
	}

	s.active.Store(1 - act)
	s.metrics.patchSwaps.Add(1)
	log.Printf("Patch committed: slot %d now active", 1-act)

	// Old graph's control state is meaningless against the new graph.
	s.mu.Lock()
	s.spec = spec
	s.params = make(map[string]map[string]float64)
	s.gates = make(map[string]bool)
	s.mu.Unlock()

	old := s.slots[act]
	if op, _ := old.process(); op != nil {
		if err := op.Send(proc.Envelope{Type: proc.TypePatch, Patch: &spec}); err != nil {
			log.Printf("Repurpose slot %d failed, killing for respawn: %v", act, err)
			op.Kill()
		}
	}
	return nil
}

// waitSteady polls until the slot reports Steady with at least one state
// transition after sinceGen, or the deadline passes.
func (s *Supervisor) waitSteady(sl *Slot, sinceGen uint64, deadline time.Time) error {
	for time.Now().Before(deadline) {
		if sl.stateGen.Load() > sinceGen && sl.State() == worker.Steady {
			return nil
		}
		time.Sleep(s.cfg.PollInterval)
	}
	return ErrPrimingTimeout
}

// CurrentSpec returns the graph both slots are (or converge to) running.
func (s *Supervisor) CurrentSpec() dsp.GraphSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}

func (s *Supervisor) shutdownAll() {
	for _, sl := range s.slots {
		p, _ := sl.process()
		if p == nil {
			continue
		}
		p.Send(proc.Envelope{Type: proc.TypeShutdown})
		select {
		case <-p.Done():
		case <-time.After(100 * time.Millisecond):
			p.Kill()
		}
	}
	log.Println("Workers shut down")
}

// SlotStatus is one slot's point-in-time view.
type SlotStatus struct {
	Role           string  `json:"role"`
	PID            int     `json:"pid"`
	InstanceID     string  `json:"instance_id"`
	State          string  `json:"state"`
	Alive          bool    `json:"alive"`
	HeartbeatAgeMS float64 `json:"heartbeat_age_ms"`
	RingLen        int     `json:"ring_len"`
	QueueLen       int     `json:"queue_len"`
}

// Status is the read-only snapshot served to external callers.
type Status struct {
	Active   int             `json:"active_slot"`
	Degraded bool            `json:"degraded"`
	Slots    [2]SlotStatus   `json:"slots"`
	Metrics  MetricsSnapshot `json:"metrics"`
	Graph    dsp.GraphSpec   `json:"graph"`
}

// Status assembles the snapshot.
func (s *Supervisor) Status() Status {
	act := s.ActiveIndex()
	var st Status
	st.Active = act
	st.Degraded = s.degraded.Load()

	var liveMisses uint64
	for i, sl := range s.slots {
		role := "standby"
		if i == act {
			role = "primary"
		}
		ringLen := 0
		if r := sl.Ring(); r != nil {
			ringLen = r.Len()
		}
		st.Slots[i] = SlotStatus{
			Role:           role,
			PID:            sl.pid(),
			InstanceID:     sl.instanceID(),
			State:          string(sl.State()),
			Alive:          sl.alive.Load(),
			HeartbeatAgeMS: float64(sl.HeartbeatAge()) / float64(time.Millisecond),
			RingLen:        ringLen,
			QueueLen:       sl.queue.Len(),
		}
		liveMisses += sl.misses.Load()
	}
	st.Metrics = s.metrics.Snapshot(liveMisses)
	st.Graph = s.CurrentSpec()
	return st
}
