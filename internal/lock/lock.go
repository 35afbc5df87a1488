// Package lock provides the cross-window mutual exclusion for a workspace's
// worker process.
//
// Multiple editor windows may open the same workspace; only the window that
// holds the flock on the workspace lock file may own the worker process or
// mutate its runtime environment. Acquisition is acquire-or-fail, never a
// blocking wait. An owner sidecar file records who holds the lock so
// diagnostics can name the other window.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Owner identifies the process holding a workspace lock.
type Owner struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// State is a read-only snapshot for diagnostics.
type State struct {
	Held     bool
	LockPath string
	Owner    *Owner
}

// Lock guards a workspace's worker process across OS processes.
type Lock struct {
	mu        sync.Mutex
	path      string
	ownerPath string
	fl        *flock.Flock
	held      bool
	owner     *Owner
}

// New prepares a lock at the given path. Nothing is acquired yet.
func New(path string) *Lock {
	return &Lock{
		path:      path,
		ownerPath: path + ".owner",
		fl:        flock.New(path),
	}
}

// TryAcquire attempts to take the lock without blocking. It returns false
// with a nil error when another process holds the lock, and a non-nil error
// only for I/O problems.
func (l *Lock) TryAcquire() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return true, nil
	}
	if dir := filepath.Dir(l.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("ensure lock directory: %w", err)
		}
	}
	ok, err := l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return false, nil
	}
	l.held = true
	l.writeOwner()
	return true, nil
}

// Release drops the lock. Safe to call when not held.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}
	l.held = false
	l.owner = nil
	_ = os.Remove(l.ownerPath)
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Held reports whether this process currently holds the lock.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// CurrentState is the in-memory view: held flag, path, and this process's
// owner identity when it holds the lock. It performs no file reads, so
// diagnostics can call it freely.
func (l *Lock) CurrentState() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return State{Held: l.held, LockPath: l.path, Owner: l.owner}
}

// Snapshot returns the lock state including owner metadata when readable.
// The owner sidecar is advisory: it may describe another window's process.
func (l *Lock) Snapshot() State {
	l.mu.Lock()
	held := l.held
	l.mu.Unlock()

	state := State{Held: held, LockPath: l.path}
	if owner, err := readOwner(l.ownerPath); err == nil {
		state.Owner = owner
	}
	return state
}

func (l *Lock) writeOwner() {
	hostname, _ := os.Hostname()
	owner := Owner{PID: os.Getpid(), Hostname: hostname, AcquiredAt: time.Now().UTC()}
	l.owner = &owner
	data, err := json.Marshal(owner)
	if err != nil {
		return
	}
	// Best effort: the flock is authoritative, the sidecar is for humans.
	_ = os.WriteFile(l.ownerPath, append(data, '\n'), 0o644)
}

func readOwner(path string) (*Owner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("read lock owner: %w", err)
	}
	var owner Owner
	if err := json.Unmarshal(data, &owner); err != nil {
		return nil, fmt.Errorf("parse lock owner: %w", err)
	}
	return &owner, nil
}
