// Package worker implements the strict per-period production loop that runs
// inside each worker instance. The same loop serves a spawned child process
// (over stdin/stdout) and an in-process pipe worker; both speak the proc
// envelope protocol.
package worker

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/sunfall-audio/tandem/internal/audio"
	"github.com/sunfall-audio/tandem/internal/command"
	"github.com/sunfall-audio/tandem/internal/dsp"
	"github.com/sunfall-audio/tandem/internal/proc"
	"github.com/sunfall-audio/tandem/internal/ring"
)

// State is the worker lifecycle state machine.
type State string

const (
	Starting   State = "starting"
	Warming    State = "warming"
	Steady     State = "steady"
	Draining   State = "draining"
	Terminated State = "terminated"
)

// Config sets the loop's timing.
type Config struct {
	Period       time.Duration // production cadence, one block per period
	WarmupBlocks int           // blocks produced in Warming before Steady
	QueueCap     int           // pending-command capacity
}

// DefaultConfig matches the block constants in internal/audio.
func DefaultConfig() Config {
	return Config{
		Period:       audio.BlockDuration,
		WarmupBlocks: 16,
		QueueCap:     64,
	}
}

// ServeFunc adapts Serve to the proc.ServeFunc shape for in-process workers.
func ServeFunc(cfg Config) proc.ServeFunc {
	return func(ctx context.Context, r io.Reader, w io.Writer) error {
		return Serve(ctx, r, w, cfg)
	}
}

type engine struct {
	cfg   Config
	conn  *proc.Conn
	queue *ring.CommandQueue
	graph *dsp.Graph
	state State

	seq    uint64
	misses uint64

	patchCh  chan dsp.GraphSpec
	shutdown chan struct{}
}

// Serve runs the production loop until shutdown, transport death, or ctx
// cancellation. It owns the write side of w exclusively; worker logging
// must go elsewhere (stderr).
func Serve(ctx context.Context, r io.Reader, w io.Writer, cfg Config) error {
	e := &engine{
		cfg:      cfg,
		conn:     proc.NewConn(r, w),
		queue:    ring.NewCommandQueue(cfg.QueueCap),
		patchCh:  make(chan dsp.GraphSpec, 1),
		shutdown: make(chan struct{}),
	}
	go e.readLoop()
	return e.run(ctx)
}

// readLoop moves inbound envelopes off the transport: commands into the
// queue (drained once per period, never mid-period), patches and shutdown
// into their channels. A dead transport counts as shutdown.
func (e *engine) readLoop() {
	for {
		env, err := e.conn.Recv()
		if err != nil {
			e.signalShutdown()
			return
		}
		switch env.Type {
		case proc.TypeCommand:
			if env.Cmd != nil && !e.queue.Push(*env.Cmd) {
				log.Printf("worker: command queue full, dropped %s/%s", env.Cmd.Stage, env.Cmd.Param)
			}
		case proc.TypePatch:
			if env.Patch != nil {
				select {
				case e.patchCh <- *env.Patch:
				default:
					// a newer patch supersedes an unconsumed one
					select {
					case <-e.patchCh:
					default:
					}
					e.patchCh <- *env.Patch
				}
			}
		case proc.TypeShutdown:
			e.signalShutdown()
			return
		}
	}
}

func (e *engine) signalShutdown() {
	select {
	case <-e.shutdown:
	default:
		close(e.shutdown)
	}
}

func (e *engine) setState(s State) {
	e.state = s
	e.conn.Send(proc.Envelope{Type: proc.TypeState, State: string(s)})
}

func (e *engine) run(ctx context.Context) error {
	e.setState(Starting)
	e.heartbeat()

	// The first envelope a fresh worker acts on is its graph.
	select {
	case <-ctx.Done():
		e.setState(Terminated)
		return ctx.Err()
	case <-e.shutdown:
		e.setState(Terminated)
		return nil
	case spec := <-e.patchCh:
		if err := e.buildGraph(spec); err != nil {
			e.setState(Terminated)
			return err
		}
	}

	ticker := time.NewTicker(e.cfg.Period)
	defer ticker.Stop()

	warmLeft := e.cfg.WarmupBlocks
	e.setState(Warming)

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()
		case <-e.shutdown:
			e.drain()
			return nil
		case spec := <-e.patchCh:
			// Repurposed slot: rebuild and settle the new graph before
			// it can be heard again.
			if err := e.buildGraph(spec); err != nil {
				log.Printf("worker: patch rejected: %v", err)
				continue
			}
			warmLeft = e.cfg.WarmupBlocks
			e.setState(Warming)
		case <-ticker.C:
			e.period()
			if e.state == Warming {
				warmLeft--
				if warmLeft <= 0 {
					e.setState(Steady)
				}
			}
		}
	}
}

func (e *engine) buildGraph(spec dsp.GraphSpec) error {
	g, err := dsp.NewGraph(spec)
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}
	e.graph = g
	return nil
}

// period is one production cycle. The order is a correctness requirement:
// drain and apply every pending command, produce exactly one block, emit
// it, heartbeat. A cycle that overruns the period is counted as a miss and
// the next cycle stays on the ticker's schedule; Go tickers drop ticks
// rather than bursting, so there is no catch-up.
func (e *engine) period() {
	start := time.Now()

	for _, c := range e.queue.DrainAll() {
		e.apply(c)
	}

	blk := &audio.Block{
		Seq:     e.seq,
		Samples: make([]int16, audio.BlockSize),
	}
	e.graph.Produce(blk.Samples)
	e.seq++

	e.conn.Send(proc.Envelope{Type: proc.TypeBlock, Block: blk})
	if time.Since(start) > e.cfg.Period {
		e.misses++
	}
	e.heartbeat()
}

func (e *engine) apply(c command.Command) {
	var err error
	switch c.Kind {
	case command.SetParam:
		err = e.graph.Apply(c.Stage, c.Param, c.Value)
	case command.Gate:
		err = e.graph.Gate(c.Stage, c.On)
	}
	if err != nil {
		log.Printf("worker: command ignored: %v", err)
	}
}

func (e *engine) heartbeat() {
	e.conn.Send(proc.Envelope{
		Type:   proc.TypeHeartbeat,
		Beat:   time.Now().UnixNano(),
		Misses: e.misses,
	})
}

// drain is the cooperative exit: no block may be pushed after it begins.
func (e *engine) drain() {
	e.setState(Draining)
	e.setState(Terminated)
}
