package supervisor

import (
	"math"
	"math/rand"
	"time"

	"mnemo/internal/config"
)

// recoveryState tracks the automatic restart budget. It is guarded by the
// supervisor mutex, never by its own.
type recoveryState struct {
	attempts  int
	active    bool
	nextRetry time.Time
	timer     *time.Timer
}

// RecoverySnapshot is the read-only view exposed through diagnostics.
type RecoverySnapshot struct {
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	Active      bool          `json:"active"`
	NextRetryIn time.Duration `json:"next_retry_in"`
}

func (r *recoveryState) snapshot(maxAttempts int) RecoverySnapshot {
	snap := RecoverySnapshot{
		Attempts:    r.attempts,
		MaxAttempts: maxAttempts,
		Active:      r.active,
	}
	if r.active {
		if remaining := time.Until(r.nextRetry); remaining > 0 {
			snap.NextRetryIn = remaining
		}
	}
	return snap
}

// reset clears the budget after a successful start or a manual reset.
func (r *recoveryState) reset() {
	r.attempts = 0
	r.cancel()
}

// cancel stops any scheduled retry without touching the attempt count.
func (r *recoveryState) cancel() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.active = false
	r.nextRetry = time.Time{}
}

// backoffDelay computes the wait before retry number attempt (0-based):
// base * multiplier^attempt, stretched by up to jitter_factor, capped at the
// configured maximum. With jitter disabled the sequence is monotonically
// non-decreasing up to the cap.
func backoffDelay(rc config.Recovery, attempt int) time.Duration {
	base := float64(rc.BackoffBaseMs) * math.Pow(rc.BackoffMultiplier, float64(attempt))
	if rc.JitterFactor > 0 {
		base *= 1 + rand.Float64()*rc.JitterFactor
	}
	capped := math.Min(base, float64(rc.BackoffMaxMs))
	return time.Duration(capped) * time.Millisecond
}
