package supervisor

import "fmt"

// State is the authoritative daemon lifecycle state.
type State string

const (
	// StateStopped means no worker process and no pending startup.
	StateStopped State = "stopped"
	// StateStarting means a start attempt is in flight.
	StateStarting State = "starting"
	// StateRunning means the worker passed its handshake and serves requests.
	StateRunning State = "running"
	// StateStopping means an orderly shutdown is in progress.
	StateStopping State = "stopping"
	// StateCrashed means the worker exited unexpectedly while running.
	StateCrashed State = "crashed"
	// StateFailedStartup means the last start attempt failed.
	StateFailedStartup State = "failed_startup"
	// StateDegraded means the recovery budget is exhausted; only an explicit
	// manual reset leaves this state.
	StateDegraded State = "degraded"
)

// legalTransitions is the closed edge set. Anything not listed is an
// invariant violation.
//
// Scheduled recovery retries from failed_startup pass through stopped (there
// is deliberately no failed_startup→starting edge), while crash recovery
// restarts directly. crashed→stopping covers an administrative stop of an
// already-dead worker. degraded has exactly one exit: the manual reset to
// stopped.
var legalTransitions = map[State][]State{
	StateStopped:       {StateStarting},
	StateStarting:      {StateRunning, StateFailedStartup},
	StateRunning:       {StateStopping, StateCrashed},
	StateStopping:      {StateStopped},
	StateCrashed:       {StateStarting, StateStopping},
	StateFailedStartup: {StateStopped, StateDegraded},
	StateDegraded:      {StateStopped},
}

// CanTransition reports whether the edge from→to is legal.
func CanTransition(from, to State) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports an attempted illegal state change.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid daemon state transition %s -> %s", e.From, e.To)
}
