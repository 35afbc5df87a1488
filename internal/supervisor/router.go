package supervisor

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mnemo/internal/logging"
	"mnemo/internal/wire"
)

// callResult settles a pending request. Exactly one of result or err is set.
type callResult struct {
	result json.RawMessage
	err    error
}

type pendingCall struct {
	id      string
	method  string
	started time.Time
	timer   *time.Timer
	done    chan callResult
}

// router correlates responses read off the transport with in-flight requests
// by id, enforces per-request timeouts, and drops frames nothing is waiting
// for. It is safe for concurrent use.
type router struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingCall
}

func newRouter(logger *slog.Logger) *router {
	return &router{
		logger:  logging.WithComponent(logger, "router"),
		pending: make(map[string]*pendingCall),
	}
}

// register allocates a correlation id and arms the timeout timer. The timer
// settles the call with REQUEST_TIMEOUT; the worker may still answer later,
// in which case dispatch finds no pending entry and drops the frame.
func (r *router) register(method string, timeout time.Duration, attemptID string) *pendingCall {
	call := &pendingCall{
		id:      uuid.NewString(),
		method:  method,
		started: time.Now(),
		done:    make(chan callResult, 1),
	}

	r.mu.Lock()
	r.pending[call.id] = call
	r.mu.Unlock()

	call.timer = time.AfterFunc(timeout, func() {
		failure := newFailure(ReasonRequestTimeout, attemptID, "worker did not answer within the request timeout").
			withDetail("method", method).
			withDetail("timeout_ms", timeout.Milliseconds())
		if r.settle(call.id, callResult{err: failure}) {
			r.logger.Warn("request timed out",
				logging.Args(
					logging.String(logging.FieldRequestID, call.id),
					logging.String(logging.FieldMethod, method),
					logging.Duration("timeout", timeout),
					logging.String(logging.FieldErrorHint, "the worker may be overloaded or wedged; a late reply will be discarded"),
				)...)
		}
	})
	return call
}

// cancel removes a pending call without settling it, for callers that gave up
// on their own (context cancellation).
func (r *router) cancel(id string) {
	r.mu.Lock()
	call, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if ok && call.timer != nil {
		call.timer.Stop()
	}
}

// dispatch routes one stdout line to its pending call. It returns false when
// the line is not a routable response; such lines are logged and dropped,
// never fatal.
func (r *router) dispatch(line []byte) bool {
	resp, err := wire.DecodeResponse(line)
	if err != nil {
		r.logger.Warn("dropping unroutable worker output",
			logging.Args(
				logging.Error(err),
				logging.String("line_prefix", linePrefix(line)),
			)...)
		return false
	}

	result := callResult{result: resp.Result}
	if resp.Error != nil {
		result = callResult{err: resp.Error}
	}
	if !r.settle(resp.ID, result) {
		r.logger.Debug("dropping response with unknown correlation id",
			logging.Args(logging.String(logging.FieldRequestID, resp.ID))...)
		return false
	}
	return true
}

// failAll settles every pending call with the given error. Used when the
// worker exits with requests still in flight.
func (r *router) failAll(err error) int {
	r.mu.Lock()
	calls := make([]*pendingCall, 0, len(r.pending))
	for _, call := range r.pending {
		calls = append(calls, call)
	}
	r.pending = make(map[string]*pendingCall)
	r.mu.Unlock()

	for _, call := range calls {
		if call.timer != nil {
			call.timer.Stop()
		}
		call.done <- callResult{err: err}
	}
	return len(calls)
}

// pendingCount reports how many requests are in flight.
func (r *router) pendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *router) settle(id string, result callResult) bool {
	r.mu.Lock()
	call, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	if call.timer != nil {
		call.timer.Stop()
	}
	call.done <- result
	return true
}

func linePrefix(line []byte) string {
	const max = 120
	if len(line) > max {
		line = line[:max]
	}
	return string(line)
}
