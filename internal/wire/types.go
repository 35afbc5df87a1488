package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ProtocolVersion is negotiated during the handshake. The supervisor refuses
// workers that report anything else.
const ProtocolVersion = "1"

// Version is the fixed JSON-RPC version marker carried by every frame.
const Version = "2.0"

// Method names served by the reference worker.
const (
	MethodHandshake = "handshake"
	MethodPing      = "ping"
	MethodIngest    = "memory.ingest"
	MethodRetrieve  = "memory.retrieve"
	MethodForget    = "memory.forget"
	MethodStats     = "memory.stats"
	MethodShutdown  = "shutdown"
)

// JSON-RPC error codes used by the worker.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32000
)

// Request is an outbound call frame.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is an inbound result frame. Exactly one of Result or Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject carries a structured worker-side failure.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorObject) Error() string {
	return fmt.Sprintf("worker error %d: %s", e.Code, e.Message)
}

// NewRequest builds a request frame, marshaling params when provided.
func NewRequest(id, method string, params any) (Request, error) {
	req := Request{JSONRPC: Version, ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return Request{}, fmt.Errorf("marshal params for %s: %w", method, err)
		}
		req.Params = raw
	}
	return req, nil
}

// EncodeLine marshals a frame and appends the newline terminator.
func EncodeLine(frame any) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeResponse parses a single line into a response frame. A line that is
// not a JSON object, or that carries no id, is rejected so the caller can
// drop it.
func DecodeResponse(line []byte) (Response, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return Response{}, fmt.Errorf("empty line")
	}
	var resp Response
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.ID == "" {
		return Response{}, fmt.Errorf("response missing id")
	}
	return resp, nil
}

// DecodeRequest parses a single line into a request frame.
func DecodeRequest(line []byte) (Request, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return Request{}, fmt.Errorf("empty line")
	}
	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	if req.Method == "" {
		return Request{}, fmt.Errorf("request missing method")
	}
	return req, nil
}

// HandshakeParams is sent by the supervisor when opening the channel.
type HandshakeParams struct {
	Client string `json:"client"`
}

// HandshakeResult confirms worker readiness.
type HandshakeResult struct {
	Protocol string `json:"protocol"`
	Worker   string `json:"worker"`
	PID      int    `json:"pid"`
}

// IngestParams stores one memory record.
type IngestParams struct {
	Text   string   `json:"text"`
	Tags   []string `json:"tags,omitempty"`
	Source string   `json:"source,omitempty"`
}

// IngestResult reports the stored record.
type IngestResult struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
}

// RetrieveParams queries stored memories.
type RetrieveParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// Memory is one retrieval hit.
type Memory struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Tags      []string `json:"tags,omitempty"`
	Source    string   `json:"source,omitempty"`
	Score     float64  `json:"score"`
	CreatedAt string   `json:"created_at"`
}

// RetrieveResult lists hits ordered by descending relevance.
type RetrieveResult struct {
	Memories []Memory `json:"memories"`
}

// ForgetParams removes one memory record by id.
type ForgetParams struct {
	ID string `json:"id"`
}

// ForgetResult reports whether a record was removed.
type ForgetResult struct {
	Removed bool `json:"removed"`
}

// StatsResult summarizes the store.
type StatsResult struct {
	Total  int    `json:"total"`
	Oldest string `json:"oldest,omitempty"`
	Newest string `json:"newest,omitempty"`
}

// PingResult answers a liveness probe.
type PingResult struct {
	Status string `json:"status"`
}

// ShutdownResult acknowledges a shutdown request before the worker exits.
type ShutdownResult struct {
	Stopping bool `json:"stopping"`
}
