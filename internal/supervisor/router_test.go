package supervisor

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"mnemo/internal/logging"
	"mnemo/internal/wire"
)

func TestRouterResolvesByCorrelationID(t *testing.T) {
	r := newRouter(logging.NewNop())

	call := r.register("memory.retrieve", time.Minute, "attempt-1")
	if r.pendingCount() != 1 {
		t.Fatalf("pending = %d, want 1", r.pendingCount())
	}

	line := []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"result":{"memories":[]}}`, call.id))
	if !r.dispatch(line) {
		t.Fatal("dispatch should route a matching response")
	}

	select {
	case res := <-call.done:
		if res.err != nil {
			t.Fatalf("unexpected error: %v", res.err)
		}
		var payload wire.RetrieveResult
		if err := json.Unmarshal(res.result, &payload); err != nil {
			t.Fatalf("result payload: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("call never settled")
	}
	if r.pendingCount() != 0 {
		t.Fatal("settled call still pending")
	}
}

func TestRouterSurfacesWorkerErrors(t *testing.T) {
	r := newRouter(logging.NewNop())
	call := r.register("memory.forget", time.Minute, "attempt-1")

	line := []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"error":{"code":-32602,"message":"missing id"}}`, call.id))
	if !r.dispatch(line) {
		t.Fatal("error frames must still route")
	}

	res := <-call.done
	var werr *wire.ErrorObject
	if !errors.As(res.err, &werr) || werr.Code != wire.CodeInvalidParams {
		t.Fatalf("expected invalid-params worker error, got %v", res.err)
	}
}

func TestRouterTimesOutAndDropsLateReply(t *testing.T) {
	r := newRouter(logging.NewNop())
	call := r.register("ping", 20*time.Millisecond, "attempt-1")

	select {
	case res := <-call.done:
		reason, ok := FailureReason(res.err)
		if !ok || reason != ReasonRequestTimeout {
			t.Fatalf("expected REQUEST_TIMEOUT, got %v", res.err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}

	// The late reply must be dropped, not crash or resettle.
	line := []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"result":{"status":"ok"}}`, call.id))
	if r.dispatch(line) {
		t.Fatal("late reply for a timed-out request must be dropped")
	}
}

func TestRouterDropsForeignAndMalformedLines(t *testing.T) {
	r := newRouter(logging.NewNop())

	if r.dispatch([]byte("not json at all")) {
		t.Fatal("malformed line must be dropped")
	}
	if r.dispatch([]byte(`{"jsonrpc":"2.0","id":"nobody-waiting","result":{}}`)) {
		t.Fatal("unknown correlation id must be dropped")
	}
	if r.dispatch([]byte(`{"jsonrpc":"2.0","result":{}}`)) {
		t.Fatal("response without id must be dropped")
	}
}

func TestRouterFailAll(t *testing.T) {
	r := newRouter(logging.NewNop())
	a := r.register("memory.ingest", time.Minute, "attempt-1")
	b := r.register("memory.stats", time.Minute, "attempt-1")

	cause := newFailure(ReasonProcessNotAvailable, "attempt-1", "worker exited unexpectedly")
	if n := r.failAll(cause); n != 2 {
		t.Fatalf("failAll settled %d calls, want 2", n)
	}

	for _, call := range []*pendingCall{a, b} {
		res := <-call.done
		reason, ok := FailureReason(res.err)
		if !ok || reason != ReasonProcessNotAvailable {
			t.Fatalf("expected PROCESS_NOT_AVAILABLE, got %v", res.err)
		}
	}
	if r.pendingCount() != 0 {
		t.Fatal("failAll left pending entries")
	}
}

func TestRouterCancelRemovesPending(t *testing.T) {
	r := newRouter(logging.NewNop())
	call := r.register("ping", time.Minute, "attempt-1")
	r.cancel(call.id)
	if r.pendingCount() != 0 {
		t.Fatal("cancel left the call pending")
	}
	select {
	case res := <-call.done:
		t.Fatalf("cancel must not settle the call, got %+v", res)
	default:
	}
}
