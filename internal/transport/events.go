package transport

// EventKind enumerates the channel's observable surface. Keeping the set
// closed makes every consumer auditable: there is no open-ended emitter to
// subscribe to.
type EventKind int

const (
	// EventLine carries one complete stdout line (without the newline).
	EventLine EventKind = iota
	// EventStderr carries one line of worker stderr output.
	EventStderr
	// EventExit reports process termination; it is the final event before
	// the channel closes.
	EventExit
)

// Event is a single occurrence on the transport.
type Event struct {
	Kind     EventKind
	Line     []byte
	Stderr   string
	ExitCode int
	Signal   string
}
