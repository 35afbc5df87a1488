package supervisor

import (
	"errors"
	"fmt"
	"time"
)

// Reason is a closed, machine-readable failure classification. Every failure
// the supervisor surfaces carries exactly one.
type Reason string

const (
	// Startup-phase reasons.
	ReasonStartupTimeout        Reason = "STARTUP_TIMEOUT"
	ReasonStartupHung           Reason = "STARTUP_HUNG"
	ReasonSpawnFailed           Reason = "SPAWN_FAILED"
	ReasonStdioUnavailable      Reason = "STDIO_UNAVAILABLE"
	ReasonHandshakeFailed       Reason = "HANDSHAKE_FAILED"
	ReasonProtocolError         Reason = "PROTOCOL_ERROR"
	ReasonImmediateExit         Reason = "IMMEDIATE_EXIT"
	ReasonLockHeld              Reason = "LOCK_HELD"
	ReasonLockAcquisitionFailed Reason = "LOCK_ACQUISITION_FAILED"
	ReasonStartupInProgress     Reason = "STARTUP_IN_PROGRESS"

	// Policy reasons.
	ReasonVenvMutationBlocked     Reason = "VENV_MUTATION_BLOCKED"
	ReasonDaemonDisabled          Reason = "DAEMON_DISABLED"
	ReasonRecoveryBudgetExhausted Reason = "RECOVERY_BUDGET_EXHAUSTED"

	// Request-phase reasons.
	ReasonProcessNotAvailable Reason = "PROCESS_NOT_AVAILABLE"
	ReasonRequestTimeout      Reason = "REQUEST_TIMEOUT"
)

// Retryable reports whether the recovery coordinator may schedule another
// start attempt for this reason. Lock contention is excluded: another window
// legitimately owns the worker and hammering the lock will not change that.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonStartupTimeout, ReasonStartupHung, ReasonSpawnFailed,
		ReasonStdioUnavailable, ReasonHandshakeFailed, ReasonProtocolError,
		ReasonImmediateExit, ReasonProcessNotAvailable:
		return true
	}
	return false
}

// Failure is the structured error for every supervision fault. AttemptID
// correlates the failure with the start attempt's log lines.
type Failure struct {
	Reason    Reason
	AttemptID string
	Message   string
	Details   map[string]any
	At        time.Time
}

func (f *Failure) Error() string {
	if f.Message == "" {
		return string(f.Reason)
	}
	return fmt.Sprintf("%s: %s", f.Reason, f.Message)
}

// Unwrap exposes a wrapped cause when the details carry one.
func (f *Failure) Unwrap() error {
	if cause, ok := f.Details["cause"].(error); ok {
		return cause
	}
	return nil
}

func newFailure(reason Reason, attemptID, message string) *Failure {
	return &Failure{
		Reason:    reason,
		AttemptID: attemptID,
		Message:   message,
		Details:   map[string]any{},
		At:        time.Now().UTC(),
	}
}

func (f *Failure) withDetail(key string, value any) *Failure {
	f.Details[key] = value
	return f
}

// FailureReason extracts the reason code from an error chain.
func FailureReason(err error) (Reason, bool) {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Reason, true
	}
	return "", false
}
