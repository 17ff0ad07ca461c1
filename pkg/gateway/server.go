package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/agerus/internal/observability"
	"github.com/harun/agerus/internal/tracing"
	"github.com/harun/agerus/pkg/agent"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Server publishes agent progress events over websocket and exposes
// /metrics and /healthz.
type Server struct {
	addr         string
	tickInterval time.Duration
	upgrader     websocket.Upgrader
	clients      *ClientRegistry
	authHandler  *AuthHandler
	broadcaster  *EventBroadcaster
	logger       zerolog.Logger

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	connWG         sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	// Addr is the listen address, e.g. 127.0.0.1:7420.
	Addr string
	// SharedSecret, when set, is required on every request.
	SharedSecret string
	// TickInterval spaces liveness events. Zero disables them.
	TickInterval time.Duration
	Logger       zerolog.Logger
}

// NewServer creates a new Gateway Server
func NewServer(cfg Config) (*Server, error) {
	observability.EnsureRegistered()

	if cfg.Addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		return nil, fmt.Errorf("invalid listen address %q: %w", cfg.Addr, err)
	}

	clients := NewClientRegistry()
	return &Server{
		addr:         cfg.Addr,
		tickInterval: cfg.TickInterval,
		clients:      clients,
		authHandler:  NewAuthHandler(cfg.SharedSecret),
		broadcaster:  NewEventBroadcaster(clients, cfg.Logger),
		logger:       cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleWebSocket)
	mux.Handle("/metrics", s.requireSecret(observability.MetricsHandler()))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "ok",
			"clients": s.clients.Count(),
		})
	})
	return mux
}

func (s *Server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authHandler.Authorize(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run serves until ctx is cancelled, then shuts down and closes every
// client connection.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Starting event gateway")

	tickCtx, stopTicks := context.WithCancel(ctx)
	var tickWG sync.WaitGroup
	if s.tickInterval > 0 {
		tickWG.Add(1)
		go func() {
			defer tickWG.Done()
			s.emitTicks(tickCtx)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	stopTicks()
	tickWG.Wait()

	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.broadcaster.Broadcast("server.shutdown", map[string]interface{}{
		"message": "Server is shutting down",
	})

	shutdownCtx, cancel := context.WithTimeout(tracing.Detach(ctx), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("failed to shutdown server: %w", err)
	}

	// Hijacked websocket connections are not closed by Shutdown.
	for _, client := range s.clients.GetAll() {
		if s.clients.Remove(client.ID) {
			_ = client.Conn.Close()
		}
	}
	s.connWG.Wait()

	if serveErr == nil {
		serveErr = <-errCh
	}
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}

	s.logger.Info().Msg("Event gateway stopped")
	return serveErr
}

func (s *Server) emitTicks(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcaster.Broadcast(string(agent.EventTick), map[string]interface{}{
				"status": "alive",
			})
		}
	}
}

// handleWebSocket registers a listener. Incoming frames are read and
// discarded; the read loop only detects disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	shuttingDown := s.isShuttingDown
	s.shutdownMu.RUnlock()
	if shuttingDown {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	if !s.authHandler.Authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  time.Now(),
		IPAddress:    r.RemoteAddr,
		Conversation: r.URL.Query().Get("conversation"),
	}
	s.clients.Add(client)
	s.connWG.Add(1)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Str("conversation", client.Conversation).
		Msg("Client connected")

	go s.handleClient(client)
}

func (s *Server) handleClient(client *Client) {
	defer s.connWG.Done()
	defer func() {
		if s.clients.Remove(client.ID) {
			_ = client.Conn.Close()
		}
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Str("clientId", client.ID).Msg("WebSocket closed")
			}
			return
		}
	}
}

// Broadcast sends an arbitrary event to all clients.
func (s *Server) Broadcast(event string, data interface{}) {
	s.broadcaster.Broadcast(event, data)
}

// Publish forwards one agent progress event.
func (s *Server) Publish(ev agent.Event) {
	data := map[string]interface{}{
		"text": ev.Text,
		"turn": ev.Turn,
	}
	if ev.Tool != "" {
		data["tool"] = ev.Tool
	}
	if ev.CallID != "" {
		data["call_id"] = ev.CallID
	}
	if ev.Err != nil {
		data["error"] = ev.ErrorText()
	}

	msg := EventMessage{
		Event:        string(ev.Kind),
		Data:         data,
		Conversation: ev.Conversation,
	}
	if !ev.Time.IsZero() {
		msg.Timestamp = ev.Time.UnixMilli()
	}
	s.broadcaster.BroadcastTyped(msg)
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}
