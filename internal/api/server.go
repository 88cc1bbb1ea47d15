// Package api implements the Weekend Wizard HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/agent"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/buildinfo"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/connwatch"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/prefs"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/usage"
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 1 << 20

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	loop     *agent.Loop
	prefs    prefs.Store
	usage    *usage.Store
	health   *connwatch.Manager
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer creates a new API server.
func NewServer(address string, port int, loop *agent.Loop, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		loop:    loop,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// SetPreferences enables the preferences endpoints.
func (s *Server) SetPreferences(store prefs.Store) {
	s.prefs = store
}

// SetUsage enables the usage endpoint.
func (s *Server) SetUsage(store *usage.Store) {
	s.usage = store
}

// SetHealth adds provider reachability to the health endpoint.
func (s *Server) SetHealth(m *connwatch.Manager) {
	s.health = m
}

// Handler returns the routed handler with request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Agent
	mux.HandleFunc("POST /v1/run", s.handleRun)
	mux.HandleFunc("GET /v1/ws", s.handleWebSocket)
	mux.HandleFunc("GET /v1/tools", s.handleTools)

	// OpenAI-compatible endpoints
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.handleModels)

	// State
	mux.HandleFunc("GET /v1/preferences", s.handleGetPreferences)
	mux.HandleFunc("PUT /v1/preferences", s.handlePutPreferences)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It blocks until the server stops
// and returns nil after a graceful Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // a cycle runs several model calls
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
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

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Weekend Wizard",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.health == nil {
		writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
		return
	}

	// A degraded provider still returns 200; the process itself is up.
	status := "healthy"
	if !s.health.Ready() {
		status = "degraded"
	}
	writeJSON(w, map[string]any{
		"status":    status,
		"providers": s.health.Status(),
	}, s.logger)
}

// RunRequest is the body of POST /v1/run.
type RunRequest struct {
	Message string `json:"message"`
}

// RunResponse is the cycle result, optionally with the answer rendered
// as HTML.
type RunResponse struct {
	*agent.Result
	HTML string `json:"html,omitempty"`
}

// handleRun runs one cycle.
// POST /v1/run {"message": "plan a cozy saturday in Paris"}
// Add ?format=html to include the answer rendered as HTML.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.loop == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "agent not configured")
		return
	}
	var req RunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	res := s.loop.Run(r.Context(), req.Message)
	out := RunResponse{Result: res}
	if r.URL.Query().Get("format") == "html" {
		html, err := renderHTML(res.Answer)
		if err != nil {
			s.logger.Warn("render answer failed", "cycle_id", res.CycleID, "error", err)
		}
		out.HTML = html
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, out, s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if s.loop == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "agent not configured")
		return
	}
	list := s.loop.Tools().List()
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"tools": list,
		"count": len(list),
	}, s.logger)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	if s.prefs == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "preference store not configured")
		return
	}
	p, err := s.prefs.Load(r.Context())
	if err != nil {
		s.logger.Error("load preferences failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load preferences")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, p.Clone(), s.logger)
}

// handlePutPreferences replaces the stored preferences with the body,
// which must be a JSON object.
func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	if s.prefs == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "preference store not configured")
		return
	}
	var p prefs.Preferences
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&p); err != nil || p == nil {
		s.errorResponse(w, http.StatusBadRequest, "body must be a JSON object")
		return
	}
	if err := s.prefs.Save(r.Context(), p); err != nil {
		s.logger.Error("save preferences failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to save preferences")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, p, s.logger)
}

// handleUsage reports ledger totals for a period.
// GET /v1/usage?period=week&limit=10
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage ledger not configured")
		return
	}

	q := r.URL.Query()
	period := q.Get("period")
	start, end, err := usage.Window(period, time.Now())
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 20
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	ctx := r.Context()
	summary, err := s.usage.Summary(ctx, start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to read usage")
		return
	}
	counts, err := s.usage.ToolCounts(ctx, start, end)
	if err != nil {
		s.logger.Error("usage tool counts failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to read usage")
		return
	}
	recent, err := s.usage.Recent(ctx, limit)
	if err != nil {
		s.logger.Error("usage recent failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to read usage")
		return
	}

	if period == "" {
		period = "day"
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"period":  period,
		"start":   start.UTC().Format(time.RFC3339),
		"end":     end.UTC().Format(time.RFC3339),
		"summary": summary,
		"tools":   counts,
		"recent":  recent,
	}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
			"code":    code,
		},
	}, s.logger)
}
