package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"mnemo/internal/logging"
)

// maxLineBytes bounds a single stdout/stderr line. A worker emitting longer
// lines is misbehaving; the scanner fails and the channel reports exit.
const maxLineBytes = 1 << 20

// ErrStdio marks a failure to wire the child's stdin/stdout/stderr pipes, as
// opposed to the exec itself failing.
var ErrStdio = errors.New("stdio unavailable")

// Command describes how to launch the worker.
type Command struct {
	Path string
	Args []string
	Env  []string
}

// Channel is the transport surface the supervisor consumes. Tests substitute
// a fake; Process is the real implementation.
type Channel interface {
	// Start spawns the process and begins pumping events. It fails fast on
	// spawn or stdio setup problems.
	Start() error
	// Send writes one framed line to the worker's stdin.
	Send(line []byte) error
	// Events delivers line/stderr/exit events in arrival order. The channel
	// closes after the exit event.
	Events() <-chan Event
	// Kill escalates: polite SIGTERM, then SIGKILL after the grace window.
	// It returns once the process has exited.
	Kill(grace time.Duration) error
	// PID reports the child's process id, 0 before Start.
	PID() int
}

// Process runs the worker as a child process over stdio pipes.
type Process struct {
	cmd    Command
	logger *slog.Logger

	mu      sync.Mutex
	proc    *exec.Cmd
	stdin   io.WriteCloser
	started bool

	events chan Event
	done   chan struct{}
	pumpWG sync.WaitGroup
}

// NewProcess prepares a process channel. Nothing is spawned until Start.
func NewProcess(cmd Command, logger *slog.Logger) *Process {
	return &Process{
		cmd:    cmd,
		logger: logging.WithComponent(logger, "transport"),
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
}

// Start spawns the worker and begins pumping stdout/stderr into events.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("transport already started")
	}

	proc := exec.Command(p.cmd.Path, p.cmd.Args...)
	if len(p.cmd.Env) > 0 {
		proc.Env = p.cmd.Env
	}
	// Own process group so kill escalation reaches worker subprocesses
	// without signalling the editor host.
	proc.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := proc.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %w", ErrStdio, err)
	}
	stdout, err := proc.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %w", ErrStdio, err)
	}
	stderr, err := proc.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: stderr pipe: %w", ErrStdio, err)
	}

	if err := proc.Start(); err != nil {
		return fmt.Errorf("spawn worker: %w", err)
	}

	p.proc = proc
	p.stdin = stdin
	p.started = true

	p.pumpWG.Add(2)
	go p.pumpStdout(stdout)
	go p.pumpStderr(stderr)
	go p.wait()

	p.logger.Debug("worker spawned", logging.Args(logging.Int("pid", proc.Process.Pid))...)
	return nil
}

// Send writes one framed line to the worker's stdin.
func (p *Process) Send(line []byte) error {
	p.mu.Lock()
	stdin := p.stdin
	started := p.started
	p.mu.Unlock()

	if !started || stdin == nil {
		return errors.New("transport not started")
	}
	select {
	case <-p.done:
		return errors.New("worker process has exited")
	default:
	}
	if _, err := stdin.Write(line); err != nil {
		return fmt.Errorf("write to worker: %w", err)
	}
	return nil
}

// Events delivers transport events until the process exits.
func (p *Process) Events() <-chan Event {
	return p.events
}

// PID reports the child's process id.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proc == nil || p.proc.Process == nil {
		return 0
	}
	return p.proc.Process.Pid
}

// Kill escalates from SIGTERM to SIGKILL after the grace window and waits
// for the process to exit.
func (p *Process) Kill(grace time.Duration) error {
	p.mu.Lock()
	proc := p.proc
	p.mu.Unlock()

	if proc == nil || proc.Process == nil {
		return nil
	}
	select {
	case <-p.done:
		return nil
	default:
	}

	pid := proc.Process.Pid
	// Negative pid signals the whole process group.
	_ = syscall.Kill(-pid, syscall.SIGTERM)

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	p.logger.Warn("worker ignored terminate, forcing kill",
		logging.Args(
			logging.Int("pid", pid),
			logging.String(logging.FieldEventType, "worker_force_kill"),
			logging.String(logging.FieldImpact, "in-flight worker state is lost"),
			logging.String(logging.FieldErrorHint, "check worker stderr in diagnostics for why shutdown hung"),
		)...)
	_ = syscall.Kill(-pid, syscall.SIGKILL)

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("worker pid %d did not exit after SIGKILL", pid)
	}
}

func (p *Process) pumpStdout(r io.Reader) {
	defer p.pumpWG.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		p.events <- Event{Kind: EventLine, Line: line}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Debug("stdout pump ended", logging.Args(logging.Error(err))...)
	}
}

func (p *Process) pumpStderr(r io.Reader) {
	defer p.pumpWG.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		p.events <- Event{Kind: EventStderr, Stderr: scanner.Text()}
	}
}

func (p *Process) wait() {
	// Drain both pipes before Wait so no buffered output is lost.
	p.pumpWG.Wait()
	err := p.proc.Wait()

	exitCode := 0
	signal := ""
	if state := p.proc.ProcessState; state != nil {
		exitCode = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			signal = ws.Signal().String()
		}
	} else if err != nil {
		exitCode = -1
	}

	p.mu.Lock()
	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	p.mu.Unlock()

	close(p.done)
	p.events <- Event{Kind: EventExit, ExitCode: exitCode, Signal: signal}
	close(p.events)
}

var _ Channel = (*Process)(nil)
