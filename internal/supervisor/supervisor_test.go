package supervisor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mnemo/internal/config"
	"mnemo/internal/lock"
	"mnemo/internal/logging"
	"mnemo/internal/supervisor"
	"mnemo/internal/testsupport"
	"mnemo/internal/wire"
)

func newTestSupervisor(t *testing.T, factory *fakeFactory, opts ...testsupport.ConfigOption) (*supervisor.Supervisor, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	return buildSupervisor(t, cfg, factory), cfg
}

func buildSupervisor(t *testing.T, cfg *config.Config, factory *fakeFactory) *supervisor.Supervisor {
	t.Helper()
	sup := supervisor.New(cfg, logging.NewNop(), supervisor.Options{TransportFactory: factory.new})
	t.Cleanup(func() { _ = sup.Dispose() })
	return sup
}

func waitForState(t *testing.T, sup *supervisor.Supervisor, want supervisor.State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if sup.GetState() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %s, still %s", want, sup.GetState())
}

func requireReason(t *testing.T, err error, want supervisor.Reason) {
	t.Helper()
	reason, ok := supervisor.FailureReason(err)
	if !ok {
		t.Fatalf("expected failure with reason %s, got %v", want, err)
	}
	if reason != want {
		t.Fatalf("reason = %s, want %s", reason, want)
	}
}

func TestStartHandshakesAndRuns(t *testing.T) {
	factory := &fakeFactory{onSend: echoWorker}
	sup, _ := newTestSupervisor(t, factory)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !sup.Healthy() || sup.GetState() != supervisor.StateRunning {
		t.Fatalf("expected healthy running daemon, state=%s", sup.GetState())
	}
	if factory.count() != 1 {
		t.Fatalf("spawned %d workers, want 1", factory.count())
	}

	report := sup.Diagnostics()
	if report.WorkerPID != 4242 || !report.Lock.Held {
		t.Fatalf("unexpected diagnostics: pid=%d lock_held=%v", report.WorkerPID, report.Lock.Held)
	}

	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sup.GetState() != supervisor.StateStopped {
		t.Fatalf("state after stop = %s", sup.GetState())
	}
	if sup.Diagnostics().Lock.Held {
		t.Fatal("stop must release the workspace lock")
	}
}

func TestStartIsSingleFlight(t *testing.T) {
	// A slow handshake keeps the attempt open long enough for all callers
	// to pile in.
	slow := func(c *fakeChannel, line []byte) {
		time.Sleep(100 * time.Millisecond)
		echoWorker(c, line)
	}
	factory := &fakeFactory{onSend: slow}
	sup, _ := newTestSupervisor(t, factory)

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = sup.Start(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if factory.count() != 1 {
		t.Fatalf("concurrent starts spawned %d workers, want 1", factory.count())
	}
}

func TestStartSpawnFailure(t *testing.T) {
	factory := &fakeFactory{startErr: errors.New("no such file or directory")}
	sup, cfg := newTestSupervisor(t, factory)
	// Park the retry far in the future so the failed state is observable.
	cfg.Recovery.BackoffBaseMs = 60000

	err := sup.Start(context.Background())
	requireReason(t, err, supervisor.ReasonSpawnFailed)
	if sup.GetState() != supervisor.StateFailedStartup {
		t.Fatalf("state = %s, want failed_startup", sup.GetState())
	}

	report := sup.Diagnostics()
	if report.LastFailure == nil || report.LastFailure.Reason != supervisor.ReasonSpawnFailed {
		t.Fatalf("last failure = %+v", report.LastFailure)
	}
	if report.LastFailure.AttemptID == "" {
		t.Fatal("failures must carry an attempt id")
	}
	if !report.Recovery.Active || report.Recovery.Attempts != 1 {
		t.Fatalf("expected one spent attempt with a scheduled retry, got %+v", report.Recovery)
	}
}

func TestStartupHungWorkerFailsWithinDeadline(t *testing.T) {
	factory := &fakeFactory{onSend: silentWorker}
	sup, cfg := newTestSupervisor(t, factory)
	cfg.Daemon.HandshakeTimeoutSeconds = 1
	cfg.Recovery.BackoffBaseMs = 60000

	begin := time.Now()
	err := sup.Start(context.Background())
	elapsed := time.Since(begin)

	requireReason(t, err, supervisor.ReasonStartupHung)
	if elapsed >= cfg.StartupDeadline() {
		t.Fatalf("start took %s, must settle before the %s deadline", elapsed, cfg.StartupDeadline())
	}
	if ch := factory.channel(0); ch != nil {
		ch.mu.Lock()
		exited := ch.exited
		ch.mu.Unlock()
		if !exited {
			t.Fatal("hung worker must be killed after the failed handshake")
		}
	}
}

func TestHandshakeRejectedByWorker(t *testing.T) {
	rejecting := func(c *fakeChannel, line []byte) {
		req, err := wire.DecodeRequest(line)
		if err != nil {
			return
		}
		replyError(c, req.ID, wire.CodeInternalError, "store is corrupt")
	}
	factory := &fakeFactory{onSend: rejecting}
	sup, cfg := newTestSupervisor(t, factory)
	cfg.Recovery.BackoffBaseMs = 60000

	err := sup.Start(context.Background())
	requireReason(t, err, supervisor.ReasonHandshakeFailed)
}

func TestHandshakeProtocolMismatch(t *testing.T) {
	wrongVersion := func(c *fakeChannel, line []byte) {
		req, err := wire.DecodeRequest(line)
		if err != nil {
			return
		}
		reply(c, req.ID, wire.HandshakeResult{Protocol: "999", Worker: "fake"})
	}
	factory := &fakeFactory{onSend: wrongVersion}
	sup, cfg := newTestSupervisor(t, factory)
	cfg.Recovery.BackoffBaseMs = 60000

	err := sup.Start(context.Background())
	requireReason(t, err, supervisor.ReasonProtocolError)
}

func TestImmediateExitDuringStartup(t *testing.T) {
	dying := func(c *fakeChannel, _ []byte) {
		c.emitStderr("fatal: cannot open store")
		c.exit(3, "")
	}
	factory := &fakeFactory{onSend: dying}
	sup, cfg := newTestSupervisor(t, factory)
	cfg.Recovery.BackoffBaseMs = 60000

	err := sup.Start(context.Background())
	requireReason(t, err, supervisor.ReasonImmediateExit)

	report := sup.Diagnostics()
	if report.LastFailure.Details["exit_code"] != 3 {
		t.Fatalf("exit code detail = %v, want 3", report.LastFailure.Details["exit_code"])
	}
}

func TestDisabledDaemonIsInert(t *testing.T) {
	factory := &fakeFactory{onSend: echoWorker}
	sup, _ := newTestSupervisor(t, factory, testsupport.WithDaemonDisabled())

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start with disabled daemon must be a no-op, got %v", err)
	}
	if sup.GetState() != supervisor.StateStopped {
		t.Fatalf("state = %s, want stopped", sup.GetState())
	}
	if factory.count() != 0 {
		t.Fatal("disabled daemon must never spawn a worker")
	}

	_, err := sup.Send(context.Background(), wire.MethodPing, nil)
	requireReason(t, err, supervisor.ReasonDaemonDisabled)
}

func TestLockHeldByAnotherWindow(t *testing.T) {
	factory := &fakeFactory{onSend: echoWorker}
	sup, cfg := newTestSupervisor(t, factory)

	other := lock.New(cfg.LockPath())
	ok, err := other.TryAcquire()
	if err != nil || !ok {
		t.Fatalf("pre-acquire lock: ok=%v err=%v", ok, err)
	}
	defer other.Release()

	startErr := sup.Start(context.Background())
	requireReason(t, startErr, supervisor.ReasonLockHeld)
	if sup.GetState() != supervisor.StateFailedStartup {
		t.Fatalf("state = %s, want failed_startup", sup.GetState())
	}
	if factory.count() != 0 {
		t.Fatal("no worker may be spawned without the lock")
	}
	if sup.Diagnostics().Recovery.Active {
		t.Fatal("lock contention must not schedule automatic retries")
	}
}

func TestCrashFailsPendingRequestsAndRestarts(t *testing.T) {
	factory := &fakeFactory{onSend: handshakeOnlyWorker}
	sup, _ := newTestSupervisor(t, factory)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sendErr := make(chan error, 1)
	go func() {
		_, err := sup.Send(context.Background(), wire.MethodStats, nil)
		sendErr <- err
	}()

	// Wait until the request is actually in flight, then crash the worker.
	deadline := time.Now().Add(2 * time.Second)
	for sup.Diagnostics().PendingRequests == 0 {
		if time.Now().After(deadline) {
			t.Fatal("request never became pending")
		}
		time.Sleep(5 * time.Millisecond)
	}
	factory.channel(0).exit(9, "")

	select {
	case err := <-sendErr:
		requireReason(t, err, supervisor.ReasonProcessNotAvailable)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request must fail promptly on crash, not wait for its timeout")
	}

	// The recovery coordinator restarts the worker on its own.
	waitForState(t, sup, supervisor.StateRunning, 3*time.Second)
	if factory.count() != 2 {
		t.Fatalf("expected a fresh worker after the crash, spawned=%d", factory.count())
	}
}

func TestDegradedAfterBudgetExhausted(t *testing.T) {
	factory := &fakeFactory{startErr: errors.New("exec format error")}
	sup, _ := newTestSupervisor(t, factory, testsupport.WithMaxAttempts(3))

	err := sup.Start(context.Background())
	requireReason(t, err, supervisor.ReasonSpawnFailed)

	// Scheduled retries burn the remaining budget.
	waitForState(t, sup, supervisor.StateDegraded, 5*time.Second)
	if got := sup.Diagnostics().Recovery.Attempts; got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}

	startErr := sup.Start(context.Background())
	requireReason(t, startErr, supervisor.ReasonRecoveryBudgetExhausted)

	_, sendErr := sup.Send(context.Background(), wire.MethodPing, nil)
	requireReason(t, sendErr, supervisor.ReasonProcessNotAvailable)

	if err := sup.ResetDegraded(); err != nil {
		t.Fatalf("ResetDegraded: %v", err)
	}
	if sup.GetState() != supervisor.StateStopped {
		t.Fatalf("state after reset = %s, want stopped", sup.GetState())
	}

	// With the underlying problem fixed, the daemon starts cleanly again.
	factory.setStartErr(nil)
	factory.setOnSend(echoWorker)
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start after reset: %v", err)
	}
	if !sup.Healthy() {
		t.Fatal("daemon should be healthy after reset and restart")
	}
}

func TestResetRequiresDegradedState(t *testing.T) {
	factory := &fakeFactory{onSend: echoWorker}
	sup, _ := newTestSupervisor(t, factory)
	if err := sup.ResetDegraded(); err == nil {
		t.Fatal("reset outside degraded must fail")
	}
}

func TestRequestTimeout(t *testing.T) {
	factory := &fakeFactory{onSend: handshakeOnlyWorker}
	sup, cfg := newTestSupervisor(t, factory)
	cfg.Daemon.RequestTimeoutSeconds = 1

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	begin := time.Now()
	_, err := sup.Send(context.Background(), wire.MethodPing, nil)
	requireReason(t, err, supervisor.ReasonRequestTimeout)
	if elapsed := time.Since(begin); elapsed < time.Second || elapsed > 3*time.Second {
		t.Fatalf("timeout fired after %s, want about 1s", elapsed)
	}
	if sup.GetState() != supervisor.StateRunning {
		t.Fatal("a request timeout must not change daemon state")
	}
}

func TestSendWhileStartingFailsFast(t *testing.T) {
	slow := func(c *fakeChannel, line []byte) {
		time.Sleep(300 * time.Millisecond)
		echoWorker(c, line)
	}
	factory := &fakeFactory{onSend: slow}
	sup, _ := newTestSupervisor(t, factory)

	go func() { _ = sup.Start(context.Background()) }()
	waitForState(t, sup, supervisor.StateStarting, 2*time.Second)

	_, err := sup.Send(context.Background(), wire.MethodPing, nil)
	requireReason(t, err, supervisor.ReasonStartupInProgress)

	waitForState(t, sup, supervisor.StateRunning, 2*time.Second)
}

func TestStopDuringStartWaitsForSettle(t *testing.T) {
	slow := func(c *fakeChannel, line []byte) {
		time.Sleep(200 * time.Millisecond)
		echoWorker(c, line)
	}
	factory := &fakeFactory{onSend: slow}
	sup, _ := newTestSupervisor(t, factory)

	go func() { _ = sup.Start(context.Background()) }()
	waitForState(t, sup, supervisor.StateStarting, 2*time.Second)

	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sup.GetState() != supervisor.StateStopped {
		t.Fatalf("state = %s, want stopped", sup.GetState())
	}
}

func TestIdleStopAndRestartOnDemand(t *testing.T) {
	factory := &fakeFactory{onSend: echoWorker}
	cfg := testsupport.NewConfig(t)
	cfg.Daemon.IdleTimeoutSeconds = 1
	sup := buildSupervisor(t, cfg, factory)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitForState(t, sup, supervisor.StateStopped, 4*time.Second)
	if !sup.Diagnostics().IdleSuspended {
		t.Fatal("idle stop must be reported as suspension, not a failure")
	}

	result, err := sup.SendEnsureStarted(context.Background(), wire.MethodPing, nil)
	if err != nil {
		t.Fatalf("SendEnsureStarted: %v", err)
	}
	if len(result) == 0 {
		t.Fatal("expected a result payload from the restarted worker")
	}
	if sup.GetState() != supervisor.StateRunning {
		t.Fatalf("state = %s, want running after on-demand restart", sup.GetState())
	}
}

func TestEnvironmentMutationGate(t *testing.T) {
	factory := &fakeFactory{onSend: handshakeOnlyWorker}
	sup, cfg := newTestSupervisor(t, factory)
	cfg.Daemon.RequestTimeoutSeconds = 1

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_, _ = sup.Send(context.Background(), wire.MethodStats, nil)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for sup.Diagnostics().PendingRequests == 0 {
		if time.Now().After(deadline) {
			t.Fatal("request never became pending")
		}
		time.Sleep(5 * time.Millisecond)
	}

	err := sup.PrepareEnvironmentMutation(context.Background())
	requireReason(t, err, supervisor.ReasonVenvMutationBlocked)

	<-done // request times out, daemon goes quiet

	if err := sup.PrepareEnvironmentMutation(context.Background()); err != nil {
		t.Fatalf("PrepareEnvironmentMutation on idle daemon: %v", err)
	}
	if sup.GetState() != supervisor.StateStopped {
		t.Fatalf("state = %s, want stopped for the mutation window", sup.GetState())
	}
	if !sup.Diagnostics().Lock.Held {
		t.Fatal("the workspace lock must stay held across the mutation")
	}
	if err := sup.ReleaseEnvironmentMutation(); err != nil {
		t.Fatalf("ReleaseEnvironmentMutation: %v", err)
	}
	if sup.Diagnostics().Lock.Held {
		t.Fatal("release must drop the lock")
	}
}

func TestStderrCapturedForDiagnostics(t *testing.T) {
	chatty := func(c *fakeChannel, line []byte) {
		c.emitStderr("loading model shards")
		echoWorker(c, line)
	}
	factory := &fakeFactory{onSend: chatty}
	sup, _ := newTestSupervisor(t, factory)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		tail := sup.Diagnostics().StderrTail
		if len(tail) > 0 {
			if tail[0] != "loading model shards" {
				t.Fatalf("unexpected stderr tail %q", tail)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("stderr line never reached diagnostics")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDisposeIsIdempotentAndTerminal(t *testing.T) {
	factory := &fakeFactory{onSend: echoWorker}
	sup, _ := newTestSupervisor(t, factory)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sup.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if err := sup.Dispose(); err != nil {
		t.Fatalf("second Dispose: %v", err)
	}
	if sup.GetState() != supervisor.StateStopped {
		t.Fatalf("state = %s, want stopped after dispose", sup.GetState())
	}
	if err := sup.Start(context.Background()); err == nil {
		t.Fatal("start after dispose must fail")
	}
	if _, err := sup.Send(context.Background(), wire.MethodPing, nil); err == nil {
		t.Fatal("send after dispose must fail")
	}
}

func TestDiagnosticsOnFreshSupervisor(t *testing.T) {
	factory := &fakeFactory{onSend: echoWorker}
	sup, cfg := newTestSupervisor(t, factory)

	report := sup.Diagnostics()
	if report.State != supervisor.StateStopped || report.Healthy {
		t.Fatalf("unexpected fresh report: state=%s healthy=%v", report.State, report.Healthy)
	}
	if !report.DaemonEnabled {
		t.Fatal("daemon should be enabled in the test config")
	}
	if report.LogPath != cfg.LogPath() {
		t.Fatalf("log path %q, want %q", report.LogPath, cfg.LogPath())
	}
	if report.LastFailure != nil || report.PendingRequests != 0 {
		t.Fatalf("fresh supervisor reports residue: %+v", report)
	}
}
