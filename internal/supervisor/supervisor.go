package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mnemo/internal/config"
	"mnemo/internal/lock"
	"mnemo/internal/logging"
	"mnemo/internal/transport"
	"mnemo/internal/wire"
)

// TransportFactory builds the channel used to reach the worker. Production
// uses transport.NewProcess; tests substitute fakes.
type TransportFactory func(cmd transport.Command) transport.Channel

// Options carries optional construction seams.
type Options struct {
	TransportFactory TransportFactory
}

// startGate publishes the outcome of one start attempt to every caller that
// joined it. err is written before done closes.
type startGate struct {
	done chan struct{}
	err  error
}

// Supervisor owns one workspace's worker process end to end: spawn,
// handshake, request routing, crash recovery, and teardown.
type Supervisor struct {
	cfg        *config.Config
	logger     *slog.Logger
	newChannel TransportFactory
	router     *router
	lck        *lock.Lock

	mu           sync.Mutex
	state        State
	disposed     bool
	suspended    bool
	attemptID    string
	channel      transport.Channel
	workerPID    int
	stderr       *transport.StderrTail
	recovery     recoveryState
	lastFailure  *Failure
	lastActivity time.Time
	startGate    *startGate
	lockOwner    *lock.Owner

	idleDone chan struct{}
	idleOnce sync.Once
}

// New builds a supervisor for the configured workspace. The worker is not
// started; call Start or use SendEnsureStarted.
func New(cfg *config.Config, logger *slog.Logger, opts Options) *Supervisor {
	factory := opts.TransportFactory
	if factory == nil {
		factory = func(cmd transport.Command) transport.Channel {
			return transport.NewProcess(cmd, logger)
		}
	}
	s := &Supervisor{
		cfg:        cfg,
		logger:     logging.WithComponent(logger, "supervisor"),
		newChannel: factory,
		router:     newRouter(logger),
		lck:        lock.New(cfg.LockPath()),
		state:      StateStopped,
		stderr:     transport.NewStderrTail(cfg.Diagnostics.StderrMaxLines, cfg.Diagnostics.StderrMaxChars),
		idleDone:   make(chan struct{}),
	}
	if cfg.Daemon.Enabled && cfg.IdleTimeout() > 0 {
		go s.watchIdle()
	}
	return s
}

// GetState reports the current lifecycle state.
func (s *Supervisor) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Healthy reports whether the worker is running and handshaken.
func (s *Supervisor) Healthy() bool {
	return s.GetState() == StateRunning
}

// Start brings the worker up. It is single-flight: concurrent callers join
// the in-flight attempt and all observe the same outcome. With the daemon
// disabled it is a silent no-op. Every call settles within the configured
// startup deadline.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return errors.New("supervisor disposed")
	}
	if !s.cfg.Daemon.Enabled {
		s.mu.Unlock()
		s.logger.Debug("daemon disabled, start ignored")
		return nil
	}

	switch s.state {
	case StateRunning:
		s.mu.Unlock()
		return nil
	case StateDegraded:
		failure := newFailure(ReasonRecoveryBudgetExhausted, s.attemptID,
			"automatic restarts exhausted; run reset after fixing the underlying problem").
			withDetail("max_attempts", s.cfg.Recovery.MaxAttempts)
		s.mu.Unlock()
		return failure
	case StateStopping:
		s.mu.Unlock()
		return newFailure(ReasonProcessNotAvailable, "", "daemon is stopping; retry shortly")
	}

	if gate := s.startGate; gate != nil {
		s.mu.Unlock()
		select {
		case <-gate.done:
			return gate.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	gate, attemptID, err := s.launchLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.runAndSettle(attemptID, gate)
}

// launchLocked transitions into starting and installs the gate concurrent
// callers join. Caller holds s.mu and has excluded running, degraded,
// stopping, and an existing gate.
func (s *Supervisor) launchLocked() (*startGate, string, error) {
	// A manual start supersedes any scheduled retry.
	s.recovery.cancel()
	if s.state == StateFailedStartup {
		// failed_startup has no direct edge to starting.
		if err := s.transitionLocked(StateStopped); err != nil {
			return nil, "", err
		}
	}
	if err := s.transitionLocked(StateStarting); err != nil {
		return nil, "", err
	}
	gate := &startGate{done: make(chan struct{})}
	s.startGate = gate
	s.attemptID = uuid.NewString()
	s.suspended = false
	return gate, s.attemptID, nil
}

// runAndSettle executes one start attempt, records its outcome, and releases
// the gate.
func (s *Supervisor) runAndSettle(attemptID string, gate *startGate) error {
	begin := time.Now()
	s.logger.Info("starting worker",
		logging.Args(
			logging.String(logging.FieldAttemptID, attemptID),
			logging.String("binary", s.cfg.Daemon.WorkerBinary),
		)...)

	failure := s.runAttempt(attemptID)

	if failure == nil {
		s.mu.Lock()
		if s.channel == nil {
			// The worker answered the handshake and then died.
			s.mu.Unlock()
			failure = newFailure(ReasonImmediateExit, attemptID, "worker exited right after the handshake")
			s.settleFailedStart(attemptID, gate, failure)
			return failure
		}
		_ = s.transitionLocked(StateRunning)
		s.recovery.reset()
		s.lastActivity = time.Now()
		gate.err = nil
		s.startGate = nil
		pid := s.workerPID
		s.mu.Unlock()
		close(gate.done)
		s.logger.Info("worker ready",
			logging.Args(
				logging.String(logging.FieldAttemptID, attemptID),
				logging.Int("pid", pid),
				logging.Duration("startup", time.Since(begin)),
			)...)
		return nil
	}

	s.settleFailedStart(attemptID, gate, failure)
	return failure
}

// runAttempt performs lock acquisition, spawn, and handshake under the
// startup deadline. It returns nil on success.
func (s *Supervisor) runAttempt(attemptID string) *Failure {
	deadline := time.NewTimer(s.cfg.StartupDeadline())
	defer deadline.Stop()
	attemptStart := time.Now()

	if !s.lck.Held() {
		ok, err := s.lck.TryAcquire()
		if err != nil {
			return newFailure(ReasonLockAcquisitionFailed, attemptID, "could not acquire workspace lock").
				withDetail("cause", err).
				withDetail("lock_path", s.lck.Path())
		}
		if !ok {
			failure := newFailure(ReasonLockHeld, attemptID, "another window holds the workspace lock").
				withDetail("lock_path", s.lck.Path())
			if snap := s.lck.Snapshot(); snap.Owner != nil {
				failure.withDetail("owner_pid", snap.Owner.PID).
					withDetail("owner_host", snap.Owner.Hostname)
				s.mu.Lock()
				s.lockOwner = snap.Owner
				s.mu.Unlock()
			}
			return failure
		}
	}

	ch := s.newChannel(transport.Command{
		Path: s.cfg.Daemon.WorkerBinary,
		Args: s.cfg.Daemon.WorkerArgs,
	})
	if err := ch.Start(); err != nil {
		reason := ReasonSpawnFailed
		if errors.Is(err, transport.ErrStdio) {
			reason = ReasonStdioUnavailable
		}
		return newFailure(reason, attemptID, "could not launch worker").
			withDetail("cause", err).
			withDetail("binary", s.cfg.Daemon.WorkerBinary)
	}

	exitCh := make(chan transport.Event, 1)
	s.mu.Lock()
	s.channel = ch
	s.workerPID = ch.PID()
	s.stderr.Reset()
	s.mu.Unlock()
	go s.consumeEvents(ch, exitCh)

	// Handshake, bounded by its own timeout and by what remains of the
	// overall deadline.
	handshakeTimeout := s.cfg.HandshakeTimeout()
	if remaining := s.cfg.StartupDeadline() - time.Since(attemptStart); remaining < handshakeTimeout {
		handshakeTimeout = remaining
	}
	call := s.router.register(wire.MethodHandshake, handshakeTimeout, attemptID)
	req, err := wire.NewRequest(call.id, wire.MethodHandshake, wire.HandshakeParams{Client: "mnemo"})
	if err != nil {
		s.router.cancel(call.id)
		return newFailure(ReasonProtocolError, attemptID, "could not build handshake frame").withDetail("cause", err)
	}
	line, err := wire.EncodeLine(req)
	if err != nil {
		s.router.cancel(call.id)
		return newFailure(ReasonProtocolError, attemptID, "could not encode handshake frame").withDetail("cause", err)
	}
	if err := ch.Send(line); err != nil {
		s.router.cancel(call.id)
		// A dead process and a broken pipe are indistinguishable at the
		// write; prefer the exit event when it arrives promptly.
		select {
		case ev := <-exitCh:
			return newFailure(ReasonImmediateExit, attemptID, "worker exited before completing the handshake").
				withDetail("exit_code", ev.ExitCode).
				withDetail("signal", ev.Signal)
		case <-time.After(time.Second):
			return newFailure(ReasonStdioUnavailable, attemptID, "could not write handshake to worker").withDetail("cause", err)
		}
	}

	select {
	case res := <-call.done:
		return s.checkHandshake(attemptID, res)
	case ev := <-exitCh:
		s.router.cancel(call.id)
		return newFailure(ReasonImmediateExit, attemptID, "worker exited before completing the handshake").
			withDetail("exit_code", ev.ExitCode).
			withDetail("signal", ev.Signal)
	case <-deadline.C:
		s.router.cancel(call.id)
		return newFailure(ReasonStartupTimeout, attemptID, "start attempt exceeded the startup deadline").
			withDetail("deadline_ms", s.cfg.StartupDeadline().Milliseconds())
	}
}

// checkHandshake validates the worker's readiness reply.
func (s *Supervisor) checkHandshake(attemptID string, res callResult) *Failure {
	if res.err != nil {
		if reason, ok := FailureReason(res.err); ok && reason == ReasonRequestTimeout {
			return newFailure(ReasonStartupHung, attemptID, "worker spawned but never answered the handshake").
				withDetail("timeout_ms", s.cfg.HandshakeTimeout().Milliseconds())
		}
		var werr *wire.ErrorObject
		if errors.As(res.err, &werr) {
			return newFailure(ReasonHandshakeFailed, attemptID, "worker rejected the handshake").
				withDetail("worker_code", werr.Code).
				withDetail("worker_message", werr.Message)
		}
		return newFailure(ReasonHandshakeFailed, attemptID, "handshake failed").withDetail("cause", res.err)
	}

	var hs wire.HandshakeResult
	if err := json.Unmarshal(res.result, &hs); err != nil {
		return newFailure(ReasonProtocolError, attemptID, "handshake reply is not parseable").withDetail("cause", err)
	}
	if hs.Protocol != wire.ProtocolVersion {
		return newFailure(ReasonProtocolError, attemptID, "worker protocol version mismatch").
			withDetail("expected", wire.ProtocolVersion).
			withDetail("got", hs.Protocol)
	}
	return nil
}

// settleFailedStart tears down the attempt, records the failure, spends
// recovery budget, and schedules a retry when the reason allows one.
func (s *Supervisor) settleFailedStart(attemptID string, gate *startGate, failure *Failure) {
	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()
	if ch != nil {
		_ = ch.Kill(s.cfg.ShutdownGrace())
	}

	s.mu.Lock()
	s.channel = nil
	s.workerPID = 0
	_ = s.transitionLocked(StateFailedStartup)
	s.lastFailure = failure
	s.recovery.attempts++
	attempts := s.recovery.attempts
	_ = s.lck.Release()

	exhausted := attempts >= s.cfg.Recovery.MaxAttempts
	retryable := failure.Reason.Retryable() && !s.disposed

	var delay time.Duration
	switch {
	case retryable && exhausted:
		_ = s.transitionLocked(StateDegraded)
	case retryable:
		delay = backoffDelay(s.cfg.Recovery, attempts-1)
		s.scheduleRetryLocked(delay)
	}

	gate.err = failure
	s.startGate = nil
	s.mu.Unlock()
	close(gate.done)

	attrs := []logging.Attr{
		logging.String(logging.FieldAttemptID, attemptID),
		logging.String(logging.FieldReason, string(failure.Reason)),
		logging.Int("attempts", attempts),
		logging.Error(failure),
	}
	switch {
	case retryable && exhausted:
		s.logger.Error("worker start failed, restart budget exhausted",
			logging.Args(append(attrs,
				logging.String(logging.FieldEventType, "daemon_degraded"),
				logging.String(logging.FieldImpact, "memory features stay unavailable until a manual reset"),
				logging.String(logging.FieldErrorHint, "fix the failure below, then run reset"),
			)...)...)
	case retryable:
		s.logger.Warn("worker start failed, retry scheduled",
			logging.Args(append(attrs, logging.Duration("retry_in", delay))...)...)
	default:
		s.logger.Warn("worker start failed, no retry for this reason",
			logging.Args(attrs...)...)
	}
}

// scheduleRetryLocked arms the recovery timer. Caller holds s.mu.
func (s *Supervisor) scheduleRetryLocked(delay time.Duration) {
	s.recovery.cancel()
	s.recovery.active = true
	s.recovery.nextRetry = time.Now().Add(delay)
	s.recovery.timer = time.AfterFunc(delay, s.recoveryFire)
}

// recoveryFire runs a scheduled restart attempt. It gives up silently when
// the daemon moved on (manual stop, dispose, concurrent manual start).
func (s *Supervisor) recoveryFire() {
	s.mu.Lock()
	s.recovery.active = false
	s.recovery.timer = nil
	if s.disposed || s.startGate != nil ||
		(s.state != StateFailedStartup && s.state != StateCrashed) {
		s.mu.Unlock()
		return
	}
	gate, attemptID, err := s.launchLocked()
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("scheduled restart could not begin", logging.Args(logging.Error(err))...)
		return
	}
	_ = s.runAndSettle(attemptID, gate)
}

// consumeEvents pumps one channel's events into the router, the stderr tail,
// and exit handling. It runs until the channel closes.
func (s *Supervisor) consumeEvents(ch transport.Channel, exitCh chan transport.Event) {
	for ev := range ch.Events() {
		switch ev.Kind {
		case transport.EventLine:
			s.router.dispatch(ev.Line)
		case transport.EventStderr:
			s.mu.Lock()
			if s.channel == ch {
				s.stderr.Append(ev.Stderr)
			}
			s.mu.Unlock()
		case transport.EventExit:
			select {
			case exitCh <- ev:
			default:
			}
			s.onExit(ch, ev)
		}
	}
}

// onExit reacts to the worker process ending. An exit while running is a
// crash: pending requests fail immediately and a restart is scheduled.
func (s *Supervisor) onExit(ch transport.Channel, ev transport.Event) {
	s.mu.Lock()
	if s.channel != ch {
		// A later attempt already replaced this channel.
		s.mu.Unlock()
		return
	}
	s.channel = nil
	pid := s.workerPID
	s.workerPID = 0

	if s.state != StateRunning {
		// starting: the attempt observes exitCh; stopping: Stop owns cleanup.
		s.mu.Unlock()
		return
	}

	failure := newFailure(ReasonProcessNotAvailable, s.attemptID, "worker exited unexpectedly").
		withDetail("phase", "running").
		withDetail("exit_code", ev.ExitCode).
		withDetail("signal", ev.Signal)
	s.lastFailure = failure
	_ = s.transitionLocked(StateCrashed)
	failed := s.router.failAll(failure)

	// Crash restarts do not spend the budget; a failing restart attempt does.
	delay := backoffDelay(s.cfg.Recovery, s.recovery.attempts)
	if !s.disposed {
		s.scheduleRetryLocked(delay)
	}
	s.mu.Unlock()

	s.logger.Error("worker crashed",
		logging.Args(
			logging.Int("pid", pid),
			logging.Int("exit_code", ev.ExitCode),
			logging.String("signal", ev.Signal),
			logging.Int("failed_requests", failed),
			logging.Duration("restart_in", delay),
			logging.String(logging.FieldEventType, "worker_crash"),
			logging.String(logging.FieldImpact, "in-flight memory requests failed"),
		)...)
}

// Stop shuts the worker down and releases the workspace lock. It is a no-op
// when nothing is running and never touches a degraded daemon.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateStopped, StateDegraded:
		s.mu.Unlock()
		return nil
	case StateFailedStartup:
		s.recovery.cancel()
		_ = s.transitionLocked(StateStopped)
		_ = s.lck.Release()
		s.mu.Unlock()
		return nil
	case StateCrashed:
		s.recovery.cancel()
		_ = s.transitionLocked(StateStopping)
		_ = s.transitionLocked(StateStopped)
		_ = s.lck.Release()
		s.mu.Unlock()
		return nil
	case StateStarting:
		gate := s.startGate
		s.mu.Unlock()
		if gate != nil {
			select {
			case <-gate.done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return s.Stop(ctx)
	case StateStopping:
		s.mu.Unlock()
		return nil
	}

	// running
	_ = s.transitionLocked(StateStopping)
	ch := s.channel
	s.mu.Unlock()

	s.router.failAll(newFailure(ReasonProcessNotAvailable, "", "daemon is stopping"))
	if ch != nil {
		_ = ch.Kill(s.cfg.ShutdownGrace())
	}

	s.mu.Lock()
	if s.channel == ch {
		s.channel = nil
		s.workerPID = 0
	}
	_ = s.transitionLocked(StateStopped)
	s.recovery.cancel()
	_ = s.lck.Release()
	s.mu.Unlock()

	s.logger.Info("worker stopped")
	return nil
}

// Send issues one request to a running worker and waits for its reply, the
// request timeout, or context cancellation. It never triggers a start; use
// SendEnsureStarted for that.
func (s *Supervisor) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, errors.New("supervisor disposed")
	}
	if !s.cfg.Daemon.Enabled {
		s.mu.Unlock()
		return nil, newFailure(ReasonDaemonDisabled, "", "daemon is disabled in configuration")
	}
	switch s.state {
	case StateRunning:
	case StateStarting:
		s.mu.Unlock()
		return nil, newFailure(ReasonStartupInProgress, s.attemptID, "a start attempt is in flight; wait for it to settle")
	default:
		state := s.state
		s.mu.Unlock()
		return nil, newFailure(ReasonProcessNotAvailable, s.attemptID, "worker is not running").
			withDetail("state", string(state))
	}
	ch := s.channel
	attemptID := s.attemptID
	s.mu.Unlock()
	if ch == nil {
		return nil, newFailure(ReasonProcessNotAvailable, attemptID, "worker is not running")
	}

	call := s.router.register(method, s.cfg.RequestTimeout(), attemptID)
	req, err := wire.NewRequest(call.id, method, params)
	if err != nil {
		s.router.cancel(call.id)
		return nil, err
	}
	line, err := wire.EncodeLine(req)
	if err != nil {
		s.router.cancel(call.id)
		return nil, err
	}
	if err := ch.Send(line); err != nil {
		s.router.cancel(call.id)
		return nil, newFailure(ReasonProcessNotAvailable, attemptID, "could not write to worker").
			withDetail("cause", err)
	}

	select {
	case res := <-call.done:
		s.mu.Lock()
		s.lastActivity = time.Now()
		s.mu.Unlock()
		return res.result, res.err
	case <-ctx.Done():
		s.router.cancel(call.id)
		return nil, ctx.Err()
	}
}

// SendEnsureStarted starts the worker if needed, then sends. With the daemon
// disabled the send fails with DAEMON_DISABLED.
func (s *Supervisor) SendEnsureStarted(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if s.GetState() != StateRunning {
		if err := s.Start(ctx); err != nil {
			return nil, err
		}
	}
	return s.Send(ctx, method, params)
}

// ResetDegraded is the manual escape from degraded: it restores the budget
// and returns the daemon to stopped so the next start may proceed.
func (s *Supervisor) ResetDegraded() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateDegraded {
		return fmt.Errorf("daemon is %s, not degraded", s.state)
	}
	if err := s.transitionLocked(StateStopped); err != nil {
		return err
	}
	s.recovery.reset()
	s.logger.Info("degraded state reset, restarts permitted again")
	return nil
}

// PrepareEnvironmentMutation stops the worker so the caller may mutate its
// runtime environment, keeping the workspace lock held. It refuses while
// requests are in flight or a start attempt is running.
func (s *Supervisor) PrepareEnvironmentMutation(ctx context.Context) error {
	s.mu.Lock()
	pending := s.router.pendingCount()
	if pending > 0 || s.state == StateStarting {
		failure := newFailure(ReasonVenvMutationBlocked, s.attemptID,
			"worker has operations in flight; retry when idle").
			withDetail("pending_requests", pending).
			withDetail("state", string(s.state))
		s.mu.Unlock()
		return failure
	}
	s.mu.Unlock()

	if err := s.Stop(ctx); err != nil {
		return err
	}
	ok, err := s.lck.TryAcquire()
	if err != nil {
		return newFailure(ReasonLockAcquisitionFailed, "", "could not re-acquire workspace lock").
			withDetail("cause", err)
	}
	if !ok {
		return newFailure(ReasonLockHeld, "", "another window took the workspace lock")
	}
	return nil
}

// ReleaseEnvironmentMutation drops the lock held for an environment mutation.
func (s *Supervisor) ReleaseEnvironmentMutation() error {
	return s.lck.Release()
}

// Dispose tears the supervisor down permanently. Idempotent; every
// subsequent call returns immediately.
func (s *Supervisor) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	s.recovery.cancel()
	gate := s.startGate
	s.mu.Unlock()

	s.idleOnce.Do(func() { close(s.idleDone) })

	if gate != nil {
		<-gate.done
	}

	s.router.failAll(newFailure(ReasonProcessNotAvailable, "", "supervisor disposed"))

	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()
	if ch != nil {
		_ = ch.Kill(s.cfg.ShutdownGrace())
	}

	s.mu.Lock()
	s.channel = nil
	s.workerPID = 0
	s.forceStopLocked()
	s.recovery.cancel()
	_ = s.lck.Release()
	s.mu.Unlock()

	s.logger.Debug("supervisor disposed")
	return nil
}

// forceStopLocked walks legal edges from any state to stopped.
func (s *Supervisor) forceStopLocked() {
	switch s.state {
	case StateStopped:
	case StateStarting:
		_ = s.transitionLocked(StateFailedStartup)
		_ = s.transitionLocked(StateStopped)
	case StateRunning, StateCrashed:
		_ = s.transitionLocked(StateStopping)
		_ = s.transitionLocked(StateStopped)
	case StateStopping, StateFailedStartup, StateDegraded:
		_ = s.transitionLocked(StateStopped)
	}
}

// transitionLocked applies a state change, enforcing the legal edge set.
// Caller holds s.mu.
func (s *Supervisor) transitionLocked(to State) error {
	if !CanTransition(s.state, to) {
		err := &InvalidTransitionError{From: s.state, To: to}
		s.logger.Error("refusing illegal state transition",
			logging.Args(
				logging.String(logging.FieldEventType, "invariant_violation"),
				logging.Error(err),
			)...)
		return err
	}
	from := s.state
	s.state = to
	s.logger.Debug("state transition",
		logging.Args(
			logging.String("from", string(from)),
			logging.String(logging.FieldState, string(to)),
		)...)
	return nil
}

// watchIdle stops the worker after a quiet period with no in-flight
// requests. The next request starts it again.
func (s *Supervisor) watchIdle() {
	idle := s.cfg.IdleTimeout()
	interval := idle / 4
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.idleDone:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		quiet := s.state == StateRunning &&
			s.router.pendingCount() == 0 &&
			time.Since(s.lastActivity) >= idle
		if quiet {
			s.suspended = true
		}
		s.mu.Unlock()

		if quiet {
			s.logger.Info("stopping idle worker",
				logging.Args(logging.Duration("idle_timeout", idle))...)
			_ = s.Stop(context.Background())
		}
	}
}
