// Package httpapi serves capabilities over plain HTTP for inspection from a
// browser or curl:
//
//	GET  /health         liveness
//	GET  /tools          tool names, descriptions and schemas
//	GET  /tools/{name}   one tool
//	POST /tools/{name}   invoke with a JSON object body
//
// This is a debugging surface over a live session, not a protocol transport.
package httpapi

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wagiedev/toolbridge-go/internal/adapter"
	"github.com/wagiedev/toolbridge-go/internal/errors"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 60 * time.Second

// maxBodySize bounds an invocation body.
const maxBodySize = 1 << 20

// Config configures the API.
type Config struct {
	// Token, when set, is required as "Authorization: Bearer <token>".
	Token string

	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Server routes HTTP requests to capabilities.
type Server struct {
	log    *slog.Logger
	cfg    Config
	set    *adapter.Set
	router *chi.Mux
}

// ToolInfo describes a tool in GET responses.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
}

// CallResponse is the body of a successful invocation.
type CallResponse struct {
	Tool string `json:"tool"`
	Text string `json:"text"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// New constructs a Server with middleware and routes configured.
func New(log *slog.Logger, caps []*adapter.Capability, cfg Config) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	s := &Server{
		log:    log.With("component", "httpapi"),
		cfg:    cfg,
		set:    adapter.NewSet(caps),
		router: chi.NewRouter(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.logRequests)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(cfg.Timeout))

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/tools", func(r chi.Router) {
		r.Use(s.auth)
		r.Get("/", s.handleListTools)
		r.Get("/{name}", s.handleGetTool)
		r.Post("/{name}", s.handleCall)
	})

	return s
}

// Router exposes the root HTTP handler.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.cfg.Token {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "tools": s.set.Len()})
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	tools := make([]ToolInfo, 0, s.set.Len())
	for _, c := range s.set.All() {
		tools = append(tools, info(c))
	}

	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	c, ok := s.set.Get(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown tool: " + name, Kind: string(errors.KindUnknownTool)})

		return
	}

	writeJSON(w, http.StatusOK, info(c))
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "read body: " + err.Error()})

		return
	}

	args := map[string]any{}

	if len(body) > 0 {
		if err := json.Unmarshal(body, &args); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "body must be a JSON object", Kind: string(errors.KindInvalidArguments)})

			return
		}
	}

	text, err := s.set.Invoke(r.Context(), name, args)
	if err != nil {
		status, kind := statusFor(err)

		s.log.Debug("Tool call failed", "tool", name, "kind", kind, "error", err)
		writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})

		return
	}

	writeJSON(w, http.StatusOK, CallResponse{Tool: name, Text: text})
}

// statusFor maps a failure kind to an HTTP status.
func statusFor(err error) (int, string) {
	kind, ok := errors.KindOf(err)
	if !ok {
		if stderrors.Is(err, errors.ErrSessionClosed) || stderrors.Is(err, errors.ErrSessionFailed) {
			return http.StatusServiceUnavailable, ""
		}

		return http.StatusInternalServerError, ""
	}

	switch kind {
	case errors.KindUnknownTool:
		return http.StatusNotFound, string(kind)
	case errors.KindInvalidArguments:
		return http.StatusBadRequest, string(kind)
	case errors.KindTimeout:
		return http.StatusGatewayTimeout, string(kind)
	case errors.KindSessionClosed, errors.KindTransportLost:
		return http.StatusServiceUnavailable, string(kind)
	default:
		return http.StatusBadGateway, string(kind)
	}
}

func info(c *adapter.Capability) ToolInfo {
	return ToolInfo{Name: c.Name(), Description: c.Description(), InputSchema: c.InputSchema()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
