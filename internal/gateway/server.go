// Package gateway serves the HTTP API and the WebSocket push channel.
// It owns the listener; all domain work is delegated to the query,
// usage and notify services handed in at construction.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kaiwahq/kaiwa/internal/bus"
	"github.com/kaiwahq/kaiwa/internal/config"
	"github.com/kaiwahq/kaiwa/internal/corpus"
	"github.com/kaiwahq/kaiwa/internal/notify"
	"github.com/kaiwahq/kaiwa/internal/query"
	"github.com/kaiwahq/kaiwa/internal/usage"
	"github.com/kaiwahq/kaiwa/pkg/protocol"
)

// Server is the gateway server handling WebSocket and HTTP connections.
type Server struct {
	cfg      *config.Config
	eventPub bus.EventPublisher
	catalog  *corpus.Catalog
	engine   *query.Engine
	usage    *usage.Engine
	notifier *notify.Service
	version  string

	upgrader websocket.Upgrader
	clients  map[string]*Client
	mu       sync.RWMutex

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a gateway server over the assembled services.
func NewServer(cfg *config.Config, eventPub bus.EventPublisher, catalog *corpus.Catalog, engine *query.Engine, usageEngine *usage.Engine, notifier *notify.Service) *Server {
	s := &Server{
		cfg:      cfg,
		eventPub: eventPub,
		catalog:  catalog,
		engine:   engine,
		usage:    usageEngine,
		notifier: notifier,
		version:  "dev",
		clients:  make(map[string]*Client),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// SetVersion sets the version string reported by /api/health.
func (s *Server) SetVersion(v string) { s.version = v }

// checkOrigin validates WebSocket connection origin against the allowed
// origins whitelist. If no origins are configured, all origins are
// allowed. Empty Origin header (non-browser clients like the tail CLI)
// is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered.
// Call this before Start() if you need the mux for additional listeners
// (e.g. Tailscale).
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/ws/updates", s.handleWebSocket)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("HEAD /api/health", s.handleHealth)

	token := s.cfg.Gateway.Token
	NewQueryHandler(s.catalog, s.engine, s.usage, token).RegisterRoutes(mux)
	NewNotifyHandler(s.notifier, token).RegisterRoutes(mux)

	s.mux = mux
	return mux
}

// Start begins listening for WebSocket and HTTP connections.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// handleWebSocket upgrades HTTP to WebSocket and manages the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn)
	s.registerClient(client)

	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(r.Context())
}

// handleHealth returns a simple health check response. Not logged.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": s.version,
	})
}

// BroadcastEvent sends an event to every connected client that its
// filters admit.
func (s *Server) BroadcastEvent(event bus.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		client.SendEvent(event)
	}
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c

	// Each client gets its own bus subscription so filter checks run
	// per connection.
	s.eventPub.Subscribe(c.id, c.SendEvent)

	slog.Info("client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	s.eventPub.Unsubscribe(c.id)
	slog.Info("client disconnected", "id", c.id)
}

// Shutdown announces teardown to connected viewers and closes them.
func (s *Server) Shutdown() {
	s.BroadcastEvent(bus.Event{
		Name:    protocol.EventShutdown,
		Payload: protocol.Shutdown{Type: protocol.EventShutdown},
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		c.Close()
	}
}

// StartTestServer creates a listener on 127.0.0.1:0 and returns the
// actual address and a start function. Used for integration tests.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	mux := s.BuildMux()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: mux}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}

	return addr, start
}
