package proc

// Process is one live worker execution unit as the supervisor sees it:
// an envelope channel in each direction, a kill switch, and an exit signal.
type Process interface {
	// ID identifies the underlying execution unit (OS pid for spawned
	// processes, a synthetic negative id for in-process workers).
	ID() int

	// Send delivers an envelope to the worker. Safe for concurrent use.
	// Fails once the worker is gone.
	Send(Envelope) error

	// Recv blocks for the worker's next envelope. Single-reader.
	// Returns an error once the worker is gone.
	Recv() (Envelope, error)

	// Kill forcibly terminates the worker. Idempotent.
	Kill()

	// Done is closed when the worker has exited, however it exited.
	Done() <-chan struct{}
}

// Spawner starts a fresh worker instance. The supervisor holds one and
// calls it at startup and on every respawn.
type Spawner func() (Process, error)
