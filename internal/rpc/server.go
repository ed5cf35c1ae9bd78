package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-agent/parley/internal/buildinfo"
	"github.com/parley-agent/parley/internal/capability"
	"github.com/parley-agent/parley/internal/events"
	"github.com/parley-agent/parley/internal/task"
)

// quiescencePollInterval is the fallback poll for task settlement when
// a bus event was dropped.
const quiescencePollInterval = 500 * time.Millisecond

// Server hosts the JSON-RPC endpoint, agent card, health check, and
// the operational WebSocket feed.
type Server struct {
	listen   string
	mgr      *task.Manager
	registry *capability.Registry
	bus      *events.Bus
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer creates a protocol server. listen is a host:port address.
func NewServer(listen string, mgr *task.Manager, registry *capability.Registry, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		listen:   listen,
		mgr:      mgr,
		registry: registry,
		bus:      bus,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /", s.handleRPC)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /.well-known/agent.json", s.handleAgentCard)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.listen,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: message/stream responses stay open for the
		// life of a task.
	}

	s.logger.Info("starting rpc server", "listen", s.listen)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "healthy"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, buildinfo.Info())
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	skills := make([]agentSkill, 0)
	for _, name := range s.registry.Names() {
		c := s.registry.Get(name)
		skills = append(skills, agentSkill{
			ID:          name,
			Name:        strings.ReplaceAll(name, "_", " "),
			Description: c.Description,
		})
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	s.writeJSON(w, agentCard{
		Name:               "Parley",
		Description:        "Conversational reasoning agent with web search, literature search, page fetch, and document retrieval.",
		URL:                fmt.Sprintf("%s://%s/", scheme, r.Host),
		Version:            buildinfo.Version,
		Capabilities:       agentCapabilities{Streaming: true},
		DefaultInputModes:  []string{"text", "text/plain"},
		DefaultOutputModes: []string{"text", "text/plain"},
		Skills:             skills,
	})
}

// handleRPC dispatches one JSON-RPC request. Protocol errors are
// rejected here; nothing malformed reaches the task manager.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, codeParseError, "parse error: "+err.Error())
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		s.writeError(w, req.ID, codeInvalidRequest, "invalid request")
		return
	}

	switch req.Method {
	case "message/send":
		s.handleSend(w, r, req)
	case "message/stream":
		s.handleStream(w, r, req)
	case "tasks/get":
		s.handleGet(w, req)
	case "tasks/cancel":
		s.handleCancel(w, req)
	default:
		s.writeError(w, req.ID, codeMethodNotFound, "method not found: "+req.Method)
	}
}

// parseSend validates send params and extracts the message text.
func parseSend(raw json.RawMessage) (sendParams, string, error) {
	var p sendParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, "", fmt.Errorf("invalid params: %w", err)
	}
	if p.Message.Role != "" && p.Message.Role != "user" {
		return p, "", fmt.Errorf("message role must be user")
	}

	var text string
	for _, part := range p.Message.Parts {
		if part.Kind == "text" || part.Kind == "" {
			text += part.Text
		}
	}
	if strings.TrimSpace(text) == "" {
		return p, "", fmt.Errorf("message must contain a non-empty text part")
	}
	return p, text, nil
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, req rpcRequest) {
	p, text, err := parseSend(req.Params)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}

	snap, err := s.mgr.Submit(p.ContextID, text)
	if err != nil {
		s.writeSubmitError(w, req.ID, err)
		return
	}

	final, err := s.waitQuiescent(r.Context(), snap.ID)
	if err != nil {
		s.writeError(w, req.ID, codeInternalError, err.Error())
		return
	}
	s.writeResult(w, req.ID, wireSnapshot(final, true))
}

// waitQuiescent blocks until the task settles: a terminal state or
// input-required. A poll backs up the event stream in case an event
// was dropped under load.
func (s *Server) waitQuiescent(ctx context.Context, taskID string) (task.Snapshot, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := s.mgr.Stream(ctx, taskID)
	if err != nil {
		return task.Snapshot{}, err
	}

	ticker := time.NewTicker(quiescencePollInterval)
	defer ticker.Stop()

	for {
		snap, err := s.mgr.Get(taskID)
		if err != nil {
			return task.Snapshot{}, err
		}
		if snap.State.Terminal() || snap.State == task.StateInputRequired {
			return snap, nil
		}

		select {
		case <-ctx.Done():
			return snap, nil
		case _, ok := <-ch:
			if !ok {
				return s.mgr.Get(taskID)
			}
		case <-ticker.C:
		}
	}
}

func (s *Server) handleGet(w http.ResponseWriter, req rpcRequest) {
	var p taskParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.ID == "" {
		s.writeError(w, req.ID, codeInvalidParams, "invalid params: task id is required")
		return
	}

	snap, err := s.mgr.Get(p.ID)
	if err != nil {
		s.writeError(w, req.ID, codeTaskNotFound, err.Error())
		return
	}

	wt := wireSnapshot(snap, true)
	if p.HistoryLength > 0 && len(wt.History) > p.HistoryLength {
		wt.History = wt.History[len(wt.History)-p.HistoryLength:]
	}
	s.writeResult(w, req.ID, wt)
}

func (s *Server) handleCancel(w http.ResponseWriter, req rpcRequest) {
	var p taskParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.ID == "" {
		s.writeError(w, req.ID, codeInvalidParams, "invalid params: task id is required")
		return
	}

	snap, err := s.mgr.Cancel(p.ID)
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		s.writeError(w, req.ID, codeTaskNotFound, err.Error())
		return
	case errors.Is(err, task.ErrNotCancelable):
		s.writeError(w, req.ID, codeNotCancelable, err.Error())
		return
	case err != nil:
		s.writeError(w, req.ID, codeInternalError, err.Error())
		return
	}
	s.writeResult(w, req.ID, wireSnapshot(snap, false))
}

func (s *Server) writeSubmitError(w http.ResponseWriter, id json.RawMessage, err error) {
	if errors.Is(err, task.ErrContextNotFound) {
		s.writeError(w, id, codeContextNotFound, err.Error())
		return
	}
	s.writeError(w, id, codeInvalidParams, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to encode response", "error", err)
	}
}

func (s *Server) writeResult(w http.ResponseWriter, id json.RawMessage, result any) {
	s.writeJSON(w, rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) writeError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	s.writeJSON(w, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	})
}

// handleEvents upgrades to WebSocket and forwards the operational
// event bus for dashboards and debugging.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(256)
	defer s.bus.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}
