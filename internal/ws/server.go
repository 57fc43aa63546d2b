// Package ws serves the support chat over WebSocket: it upgrades HTTP
// requests with gobwas/ws, hands admitted connections to the support service,
// keeps them alive with heartbeats, and exposes the operator HTTP API.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/libnamic/support-chat/internal/chat"
	"github.com/libnamic/support-chat/internal/logging"
	"github.com/libnamic/support-chat/internal/metrics"
	"github.com/libnamic/support-chat/internal/support"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string // address to listen on, e.g. ":8080"
	MaxConnections int    // hard cap on open connections; zero means no cap
	Conn           ConnConfig
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		MaxConnections: 10000,
		Conn: ConnConfig{
			WriteTimeout:   10 * time.Second,
			MaxMessageSize: 16 << 10,
		},
		Heartbeat: DefaultHeartbeatConfig(),
	}
}

// Server accepts WebSocket connections and runs one goroutine per connection
// for as long as its session lasts.
type Server struct {
	config    ServerConfig
	svc       *support.Service
	conns     *ConnectionManager
	handler   http.Handler
	startedAt time.Time

	httpServer *http.Server

	// baseCtx outlives individual requests; cancelling it ends every session.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewServer creates a Server routing admitted connections through svc.
func NewServer(config ServerConfig, svc *support.Service) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:    config,
		svc:       svc,
		conns:     NewConnectionManager(),
		startedAt: time.Now(),
		baseCtx:   ctx,
		cancel:    cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleUpgrade)
	mux.HandleFunc("GET /ws/{room}", s.handleUpgrade)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	s.registerAdmin(mux)

	s.handler = logging.HTTPMiddleware(*logging.L())(mux)
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	return s
}

// Handler returns the server's HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Connections returns the connection manager.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// ListenAndServe starts the heartbeat and serves HTTP on the configured
// address until Shutdown is called.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("ws: listen %s: %w", s.config.ListenAddr, err)
	}
	return s.Serve(ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	go RunHeartbeat(s.baseCtx, s.conns, s.config.Heartbeat)

	logging.L().Info().
		Str("addr", ln.Addr().String()).
		Int("max_connections", s.config.MaxConnections).
		Msg("server listening")

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server: %w", err)
	}
	return nil
}

// handleUpgrade admits and upgrades one client. The request is rejected with
// 503 before the upgrade when the server is full; admission failures are
// reported after the upgrade as a close frame, so browsers can read the
// reason.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	log := logging.Ctx(r.Context())

	if s.config.MaxConnections > 0 && s.conns.Count() >= s.config.MaxConnections {
		metrics.AdmissionRejections.WithLabelValues("capacity").Inc()
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	room := r.PathValue("room")
	if room == "" {
		room = r.URL.Query().Get("room")
	}

	adm, admitErr := s.svc.Admit(r.Context(), requestToken(r), room)
	c := NewConnection(w, r, s.config.Conn)

	if admitErr != nil {
		code, reason, label := support.Rejection(admitErr)
		metrics.AdmissionRejections.WithLabelValues(label).Inc()
		log.Info().Err(admitErr).Str("reason", label).Msg("connection rejected")

		if err := c.Accept(r.Context()); err != nil {
			log.Debug().Err(err).Msg("upgrade failed")
			return
		}
		_ = c.Close(code, reason)
		return
	}

	s.conns.Add(c)
	defer s.conns.Remove(c.ID())

	if err := s.svc.Serve(s.baseCtx, adm, c); err != nil {
		log.Warn().Err(err).Str(logging.FieldConnID, c.ID()).Msg("session ended with error")
	}
}

// handleHealth reports liveness, connection and room counts, and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Rooms       int    `json:"rooms"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Rooms:       s.svc.Registry().Len(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}
	writeJSON(w, http.StatusOK, resp)
}

// Shutdown stops accepting connections, closes every live connection with
// 1001 and waits for their sessions to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.L().Info().Int("connections", s.conns.Count()).Msg("shutting down server")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("ws: http shutdown: %w", err))
	}

	s.cancel()
	s.svc.Registry().CloseAll(chat.CloseGoingAway, "server shutting down")
	// Connections still in the handshake or joining are not in a room yet.
	s.conns.CloseAll(chat.CloseGoingAway, "server shutting down")

	if err := s.svc.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("ws: waiting for sessions: %w", err))
	}

	logging.L().Info().Msg("server stopped")
	return errors.Join(errs...)
}

// requestToken returns the bearer token from the Authorization header or the
// token query parameter. Browsers cannot set headers on a WebSocket request,
// so the query parameter is the usual source for clients.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return r.URL.Query().Get("token")
}
