// Package supervisor owns the memory worker's lifecycle for one workspace.
//
// It spawns the worker through a transport channel, health-checks it with a
// readiness handshake, multiplexes concurrent requests over the single stdio
// connection with correlation ids, recovers from startup failures with
// exponentially backed-off restart attempts, and degrades permanently once
// the restart budget is spent. Every failure it surfaces carries a closed
// reason code and an attempt id, and every start attempt settles within the
// configured startup deadline: callers are never left waiting on a state
// that cannot progress.
//
// One Supervisor is constructed per workspace by the composition root and
// passed by reference to everything that needs it; the package keeps no
// global instance.
package supervisor
