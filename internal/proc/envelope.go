// Package proc carries the supervisor/worker boundary: the msgpack envelope
// protocol spoken over a worker's pipes, and the process primitive used to
// spawn, observe, and kill worker instances.
package proc

import (
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/sunfall-audio/tandem/internal/audio"
	"github.com/sunfall-audio/tandem/internal/command"
	"github.com/sunfall-audio/tandem/internal/dsp"
)

// Envelope types. Supervisor to worker: command, patch, shutdown.
// Worker to supervisor: block, heartbeat, state.
const (
	TypeCommand   = "command"
	TypePatch     = "patch"
	TypeShutdown  = "shutdown"
	TypeBlock     = "block"
	TypeHeartbeat = "heartbeat"
	TypeState     = "state"
)

// Envelope is one message on a worker pipe. Exactly the field matching
// Type is populated.
type Envelope struct {
	Type string `msgpack:"type"`

	Cmd   *command.Command `msgpack:"cmd,omitempty"`
	Patch *dsp.GraphSpec   `msgpack:"patch,omitempty"`
	Block *audio.Block     `msgpack:"block,omitempty"`

	// Heartbeat payload: worker clock in unix nanos plus cumulative
	// period-miss count.
	Beat   int64  `msgpack:"beat,omitempty"`
	Misses uint64 `msgpack:"misses,omitempty"`

	// State payload: the worker state name.
	State string `msgpack:"state,omitempty"`
}

// Conn frames envelopes over a reader/writer pair. Sends are serialized;
// Recv must be called from a single goroutine.
type Conn struct {
	mu  sync.Mutex
	enc *msgpack.Encoder
	dec *msgpack.Decoder
	w   io.Writer
}

// NewConn wraps a transport. r carries inbound envelopes, w outbound.
func NewConn(r io.Reader, w io.Writer) *Conn {
	return &Conn{
		enc: msgpack.NewEncoder(w),
		dec: msgpack.NewDecoder(r),
		w:   w,
	}
}

// Send encodes one envelope. Safe for concurrent use.
func (c *Conn) Send(e Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(&e)
}

// Recv decodes the next envelope. Blocks until one arrives or the
// transport fails; a closed transport surfaces as an error.
func (c *Conn) Recv() (Envelope, error) {
	var e Envelope
	err := c.dec.Decode(&e)
	return e, err
}
