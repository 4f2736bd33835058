package proc

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// ExecProcess runs a worker as a child OS process, envelopes over its
// stdin/stdout. A hard kill of the child cannot corrupt the supervisor;
// it just surfaces as Done closing and Recv failing.
type ExecProcess struct {
	cmd  *exec.Cmd
	conn *Conn
	done chan struct{}

	killOnce sync.Once
}

// SpawnExec starts bin with the given args and wires its pipes.
func SpawnExec(bin string, args ...string) (*ExecProcess, error) {
	cmd := exec.Command(bin, args...)
	cmd.Stderr = os.Stderr // worker logs pass through

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	p := &ExecProcess{
		cmd:  cmd,
		conn: NewConn(stdout, stdin),
		done: make(chan struct{}),
	}
	go func() {
		cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// ExecSpawner returns a Spawner that re-executes the current binary with
// the given args (the `worker` subcommand).
func ExecSpawner(args ...string) Spawner {
	return func() (Process, error) {
		bin, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate own binary: %w", err)
		}
		return SpawnExec(bin, args...)
	}
}

func (p *ExecProcess) ID() int                 { return p.cmd.Process.Pid }
func (p *ExecProcess) Send(e Envelope) error   { return p.conn.Send(e) }
func (p *ExecProcess) Recv() (Envelope, error) { return p.conn.Recv() }
func (p *ExecProcess) Done() <-chan struct{}   { return p.done }

// Kill forcibly terminates the child. The Wait goroutine closes Done.
func (p *ExecProcess) Kill() {
	p.killOnce.Do(func() {
		p.cmd.Process.Kill()
	})
}
