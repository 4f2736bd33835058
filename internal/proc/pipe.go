package proc

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// ErrKilled is the close error pipes report after a forced in-process kill.
var ErrKilled = errors.New("proc: worker killed")

// ServeFunc is a worker main loop: read envelopes from r, write to w,
// return when the transport dies or ctx is cancelled.
type ServeFunc func(ctx context.Context, r io.Reader, w io.Writer) error

var pipeID atomic.Int32

// PipeProcess runs a worker loop in-process over io.Pipe pairs, speaking
// the same envelope codec as a spawned child. Used by tests and by the
// single-process deployment mode. Kill severs the pipes abruptly, which is
// as close to a hard kill as an in-process worker gets.
type PipeProcess struct {
	id   int
	conn *Conn
	done chan struct{}

	cancel   context.CancelFunc
	toWorker *io.PipeWriter
	toSuper  *io.PipeWriter
	fromW    *io.PipeReader
	fromS    *io.PipeReader

	killOnce sync.Once
}

// NewPipeProcess starts serve in a goroutine and returns its handle.
func NewPipeProcess(serve ServeFunc) *PipeProcess {
	fromSuper, toWorker := io.Pipe() // supervisor writes, worker reads
	fromWorker, toSuper := io.Pipe() // worker writes, supervisor reads

	ctx, cancel := context.WithCancel(context.Background())
	p := &PipeProcess{
		id:       -int(pipeID.Add(1)),
		conn:     NewConn(fromWorker, toWorker),
		done:     make(chan struct{}),
		cancel:   cancel,
		toWorker: toWorker,
		toSuper:  toSuper,
		fromW:    fromWorker,
		fromS:    fromSuper,
	}
	go func() {
		serve(ctx, fromSuper, toSuper)
		toSuper.Close()
		close(p.done)
	}()
	return p
}

// PipeSpawner returns a Spawner running serve in-process.
func PipeSpawner(serve ServeFunc) Spawner {
	return func() (Process, error) {
		return NewPipeProcess(serve), nil
	}
}

func (p *PipeProcess) ID() int                 { return p.id }
func (p *PipeProcess) Send(e Envelope) error   { return p.conn.Send(e) }
func (p *PipeProcess) Recv() (Envelope, error) { return p.conn.Recv() }
func (p *PipeProcess) Done() <-chan struct{}   { return p.done }

// Kill cancels the worker and severs both pipes mid-stream.
func (p *PipeProcess) Kill() {
	p.killOnce.Do(func() {
		p.cancel()
		p.fromS.CloseWithError(ErrKilled)
		p.toWorker.CloseWithError(ErrKilled)
		p.fromW.CloseWithError(ErrKilled)
		p.toSuper.CloseWithError(ErrKilled)
	})
}
