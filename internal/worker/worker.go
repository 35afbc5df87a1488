// Package worker implements the reference memory worker: a line-oriented
// JSON-RPC server over stdio, backed by the memory store. The supervisor
// spawns one of these per workspace.
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"mnemo/internal/logging"
	"mnemo/internal/memstore"
	"mnemo/internal/wire"
)

// maxLineBytes mirrors the supervisor-side transport bound.
const maxLineBytes = 1 << 20

// Server answers wire protocol requests against one store.
type Server struct {
	store  *memstore.Store
	logger *slog.Logger

	writeMu sync.Mutex
}

// New builds a worker server around an open store.
func New(store *memstore.Store, logger *slog.Logger) *Server {
	return &Server{
		store:  store,
		logger: logging.WithComponent(logger, "worker"),
	}
}

// Serve reads newline-framed requests from r and writes responses to w until
// EOF, a shutdown request, or context cancellation. Malformed lines are
// logged and skipped; they never terminate the loop.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		req, err := wire.DecodeRequest(line)
		if err != nil {
			s.logger.Warn("skipping malformed request line", logging.Args(logging.Error(err))...)
			continue
		}

		resp, shutdown := s.handle(ctx, req)
		if err := s.write(w, resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		if shutdown {
			s.logger.Info("shutdown requested, exiting")
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	// stdin closed: the supervisor is gone, exit quietly.
	return nil
}

// handle dispatches one request. The second return is true for shutdown.
func (s *Server) handle(ctx context.Context, req wire.Request) (wire.Response, bool) {
	logAttrs := logging.Args(
		logging.String(logging.FieldRequestID, req.ID),
		logging.String(logging.FieldMethod, req.Method),
	)
	s.logger.Debug("handling request", logAttrs...)

	switch req.Method {
	case wire.MethodHandshake:
		return s.result(req.ID, wire.HandshakeResult{
			Protocol: wire.ProtocolVersion,
			Worker:   "mnemo-worker",
			PID:      os.Getpid(),
		}), false

	case wire.MethodPing:
		return s.result(req.ID, wire.PingResult{Status: "ok"}), false

	case wire.MethodIngest:
		return s.handleIngest(ctx, req), false

	case wire.MethodRetrieve:
		return s.handleRetrieve(ctx, req), false

	case wire.MethodForget:
		return s.handleForget(ctx, req), false

	case wire.MethodStats:
		return s.handleStats(ctx, req), false

	case wire.MethodShutdown:
		return s.result(req.ID, wire.ShutdownResult{Stopping: true}), true

	default:
		return s.failure(req.ID, wire.CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method)), false
	}
}

func (s *Server) handleIngest(ctx context.Context, req wire.Request) wire.Response {
	var params wire.IngestParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.failure(req.ID, wire.CodeInvalidParams, "ingest params: "+err.Error())
	}
	if params.Text == "" {
		return s.failure(req.ID, wire.CodeInvalidParams, "ingest requires non-empty text")
	}

	record, err := s.store.Ingest(ctx, params.Text, params.Tags, params.Source)
	if err != nil {
		return s.failure(req.ID, wire.CodeInternalError, err.Error())
	}
	return s.result(req.ID, wire.IngestResult{
		ID:        record.ID,
		CreatedAt: record.CreatedAt.Format(time.RFC3339Nano),
	})
}

func (s *Server) handleRetrieve(ctx context.Context, req wire.Request) wire.Response {
	var params wire.RetrieveParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.failure(req.ID, wire.CodeInvalidParams, "retrieve params: "+err.Error())
	}

	hits, err := s.store.Retrieve(ctx, params.Query, params.Limit)
	if err != nil {
		return s.failure(req.ID, wire.CodeInternalError, err.Error())
	}

	memories := make([]wire.Memory, 0, len(hits))
	for _, hit := range hits {
		memories = append(memories, wire.Memory{
			ID:        hit.ID,
			Text:      hit.Text,
			Tags:      hit.Tags,
			Source:    hit.Source,
			Score:     hit.Score,
			CreatedAt: hit.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	return s.result(req.ID, wire.RetrieveResult{Memories: memories})
}

func (s *Server) handleForget(ctx context.Context, req wire.Request) wire.Response {
	var params wire.ForgetParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.failure(req.ID, wire.CodeInvalidParams, "forget params: "+err.Error())
	}
	if params.ID == "" {
		return s.failure(req.ID, wire.CodeInvalidParams, "forget requires an id")
	}

	removed, err := s.store.Forget(ctx, params.ID)
	if err != nil {
		return s.failure(req.ID, wire.CodeInternalError, err.Error())
	}
	return s.result(req.ID, wire.ForgetResult{Removed: removed})
}

func (s *Server) handleStats(ctx context.Context, req wire.Request) wire.Response {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return s.failure(req.ID, wire.CodeInternalError, err.Error())
	}
	result := wire.StatsResult{Total: stats.Total}
	if !stats.Oldest.IsZero() {
		result.Oldest = stats.Oldest.Format(time.RFC3339Nano)
	}
	if !stats.Newest.IsZero() {
		result.Newest = stats.Newest.Format(time.RFC3339Nano)
	}
	return s.result(req.ID, result)
}

func (s *Server) result(id string, payload any) wire.Response {
	raw, err := json.Marshal(payload)
	if err != nil {
		return s.failure(id, wire.CodeInternalError, "encode result: "+err.Error())
	}
	return wire.Response{JSONRPC: wire.Version, ID: id, Result: raw}
}

func (s *Server) failure(id string, code int, message string) wire.Response {
	return wire.Response{
		JSONRPC: wire.Version,
		ID:      id,
		Error:   &wire.ErrorObject{Code: code, Message: message},
	}
}

func (s *Server) write(w io.Writer, resp wire.Response) error {
	line, err := wire.EncodeLine(resp)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = w.Write(line)
	return err
}
