package supervisor

import (
	"fmt"

	"mnemo/internal/lock"
)

// Report is a point-in-time diagnostic snapshot. Producing one reads state
// and never mutates it.
type Report struct {
	State           State            `json:"state"`
	Healthy         bool             `json:"healthy"`
	DaemonEnabled   bool             `json:"daemon_enabled"`
	IdleSuspended   bool             `json:"idle_suspended"`
	WorkerPID       int              `json:"worker_pid,omitempty"`
	PendingRequests int              `json:"pending_requests"`
	Recovery        RecoverySnapshot `json:"recovery"`
	LastFailure     *Failure         `json:"last_failure,omitempty"`
	Lock            lock.State       `json:"lock"`
	LogPath         string           `json:"log_path"`
	StderrTail      []string         `json:"stderr_tail,omitempty"`
	StderrTruncated bool             `json:"stderr_truncated,omitempty"`
	Hints           []string         `json:"hints,omitempty"`
}

// Diagnostics assembles a snapshot of the daemon for status surfaces. It is
// safe to call in any state, including degraded, and performs no I/O.
func (s *Supervisor) Diagnostics() Report {
	s.mu.Lock()
	report := Report{
		State:           s.state,
		Healthy:         s.state == StateRunning,
		DaemonEnabled:   s.cfg.Daemon.Enabled,
		IdleSuspended:   s.suspended,
		WorkerPID:       s.workerPID,
		PendingRequests: s.router.pendingCount(),
		Recovery:        s.recovery.snapshot(s.cfg.Recovery.MaxAttempts),
		LastFailure:     s.lastFailure,
		LogPath:         s.cfg.LogPath(),
		StderrTail:      s.stderr.Lines(),
		StderrTruncated: s.stderr.Truncated(),
	}
	report.Lock = s.lck.CurrentState()
	if report.Lock.Owner == nil {
		// Remember the foreign owner observed during the last failed acquire.
		report.Lock.Owner = s.lockOwner
	}
	s.mu.Unlock()

	report.Hints = remediationHints(report)
	return report
}

// remediationHints maps the snapshot to operator guidance. Hints name the
// action to take, not the internal mechanism that produced the state.
func remediationHints(r Report) []string {
	var hints []string

	if !r.DaemonEnabled {
		hints = append(hints, "the daemon is disabled in configuration; set daemon.enabled = true to use memory features")
		return hints
	}

	switch r.State {
	case StateDegraded:
		hints = append(hints, fmt.Sprintf("automatic restarts stopped after %d failed attempts; fix the underlying problem, then start a new session", r.Recovery.MaxAttempts))
	case StateFailedStartup:
		if r.Recovery.Active {
			hints = append(hints, fmt.Sprintf("a restart is scheduled in %s", r.Recovery.NextRetryIn.Round(1e7)))
		}
	case StateCrashed:
		hints = append(hints, "the worker exited unexpectedly; a restart is scheduled")
	case StateStopped:
		if r.IdleSuspended {
			hints = append(hints, "the worker was stopped after an idle period; it restarts on the next request")
		} else if r.LastFailure == nil {
			hints = append(hints, "the worker is stopped; it starts on the next memory command")
		}
	}

	if r.LastFailure != nil {
		switch r.LastFailure.Reason {
		case ReasonLockHeld:
			hint := "another editor window owns this workspace's worker"
			if r.Lock.Owner != nil {
				hint = fmt.Sprintf("%s (pid %d on %s)", hint, r.Lock.Owner.PID, r.Lock.Owner.Hostname)
			}
			hints = append(hints, hint+"; memory requests are served by that window")
		case ReasonSpawnFailed:
			hints = append(hints, "the worker binary could not be launched; check daemon.worker_binary in the configuration")
		case ReasonStartupHung, ReasonStartupTimeout:
			hints = append(hints, "the worker started but never became ready; check "+r.LogPath+" and the captured stderr below")
		case ReasonProtocolError:
			hints = append(hints, "the worker speaks an incompatible protocol version; upgrade mnemo and the worker together")
		}
	}

	if len(r.StderrTail) > 0 {
		hints = append(hints, fmt.Sprintf("the worker wrote %d stderr line(s); see stderr_tail", len(r.StderrTail)))
	}
	return hints
}
