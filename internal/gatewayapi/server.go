// Package gatewayapi implements the HTTP gateway API (spec.md §6): chat and
// streaming-chat endpoints for bearer-token-authenticated external callers,
// session listing, and token issuance.
//
// Grounded on the teacher's internal/gateway/http_server.go (ServeMux
// assembly, graceful net.Listener + http.Server shutdown) and
// internal/gateway/middleware.go (request auth), adapted from the teacher's
// gRPC+websocket gateway to spec.md §6's plain REST + SSE contract.
package gatewayapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starkrun/agentcore/internal/agentloop"
	"github.com/starkrun/agentcore/internal/broadcaster"
	"github.com/starkrun/agentcore/internal/chatsession"
	"github.com/starkrun/agentcore/internal/toolctx"
)

// Config wires a Server's dependencies.
type Config struct {
	Host string
	Port int

	Sessions    chatsession.Store
	Driver      *agentloop.Driver
	Tokens      *TokenStore
	Broadcaster *broadcaster.Broadcaster

	// AdminSecret gates POST /token/generate. A blank value disables the
	// endpoint entirely rather than accepting an empty bearer token.
	AdminSecret string

	// NewToolContext builds the per-turn toolctx.Context for channelID.
	// Supplied by process wiring, which owns the broadcaster, tx queue, and
	// wallet provider instances.
	NewToolContext func(channelID, sessionID string) *toolctx.Context

	Logger *slog.Logger
}

// Server serves spec.md §6's gateway HTTP API.
type Server struct {
	cfg Config
	log *slog.Logger

	mu           sync.Mutex
	sessionsByCh map[string][]*chatsession.Session

	httpServer *http.Server
	listener   net.Listener
}

// New constructs a Server from cfg. Logger defaults to slog.Default.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:          cfg,
		log:          logger,
		sessionsByCh: make(map[string][]*chatsession.Session),
	}
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("POST /api/gateway/chat", s.requireToken(s.handleChat))
	mux.HandleFunc("POST /api/gateway/chat/stream", s.requireToken(s.handleChatStream))
	mux.HandleFunc("GET /api/gateway/sessions", s.requireToken(s.handleListSessions))
	mux.HandleFunc("GET /api/gateway/sessions/{id}/messages", s.requireToken(s.handleSessionMessages))
	mux.HandleFunc("POST /api/gateway/sessions/new", s.requireToken(s.handleNewSession))
	mux.HandleFunc("POST /api/gateway/token/generate", s.handleGenerateToken)
	return mux
}

// Start begins serving in a background goroutine. Call Shutdown to stop it.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gatewayapi: listen: %w", err)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           s.mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpServer = server
	s.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("gatewayapi: server error", "error", err)
		}
	}()

	s.log.Info("gatewayapi: listening", "addr", addr)
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

// requireToken wraps h with spec.md §6's constant-time bearer auth, passing
// the resolved channel id through to h.
func (s *Server) requireToken(h func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		channelID, ok := s.cfg.Tokens.Validate(token)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "invalid or missing bearer token"})
			return
		}
		h(w, r, channelID)
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
