package bus

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sporket-dev/sporket/pkg/envelope"
)

// PasswordEnvVar is the environment variable holding the shared secret
//. Both server and client read it independently.
const PasswordEnvVar = "SPORKET_PASSWORD"

// Server is the authenticated WebSocket message bus. One
// Server owns exactly one upgrade path, one client Registry, and an
// HTTP listener that also exposes /healthz and /metrics.
type Server struct {
	config ServerConfig

	registry *Registry
	upgrader websocket.Upgrader
	pathRe   *regexp.Regexp

	router     chi.Router
	httpServer *http.Server

	logger *slog.Logger

	mu        sync.Mutex
	listening bool
	closed    bool
}

// New builds a Server from cfg, filling any zero-valued fields from
// DefaultServerConfig (mirroring New()'s defaulting pass).
func New(cfg ServerConfig) *Server {
	cfg = applyDefaults(cfg)

	logger := slog.Default().With("component", "bus")

	s := &Server{
		config:   cfg,
		registry: newRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.Session.ReadBufferSize,
			WriteBufferSize: cfg.Session.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		pathRe: regexp.MustCompile("^" + regexp.QuoteMeta(cfg.Path) + "/?$"),
		logger: logger,
	}
	s.registry.metrics = cfg.Metrics
	s.registry.tracer = cfg.Tracer

	r := chi.NewRouter()
	r.Get(cfg.Path, s.HandleWebSocket)
	if !strings.HasSuffix(cfg.Path, "/") {
		r.Get(cfg.Path+"/", s.HandleWebSocket)
	}
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	s.router = r

	return s
}

// password resolves the shared secret at call time: the explicit config
// value if set, otherwise SPORKET_PASSWORD.
func (s *Server) password() string {
	if s.config.Password != "" {
		return s.config.Password
	}
	return os.Getenv(PasswordEnvVar)
}

// Handler returns the server's http.Handler for mounting in an external
// router, or for passing directly to http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Registry exposes the client table for callers that need direct
// lookups beyond Send/Broadcast.
func (s *Server) Registry() *Registry {
	return s.registry
}

// OnClientConnect registers a callback fired once a client completes
// the handshake.
func (s *Server) OnClientConnect(fn func(*ServerClient)) {
	s.registry.onClientConnect = fn
}

// OnClientDisconnect registers a callback fired when a client
// disconnects, authenticated or not.
func (s *Server) OnClientDisconnect(fn func(*ServerClient)) {
	s.registry.onClientDisconnect = fn
}

// OnMessage registers a callback fired for every authenticated DATA
// frame received.
func (s *Server) OnMessage(fn func(*ServerClient, envelope.Payload)) {
	s.registry.onMessage = fn
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok","clients":` + itoa(s.registry.Len()) + `}`))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// HandleWebSocket upgrades a matching request and drives the connection
// for its lifetime.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.pathRe.MatchString(r.URL.Path) {
		http.NotFound(w, r)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("upgrade failed", "error", err)
		return
	}

	client := newServerClient(conn, s.config.Session, s.password, s.logger)
	client.audit = s.config.AuditSink
	client.metrics = s.config.Metrics
	client.tracer = s.config.Tracer
	if client.tracer != nil {
		_, client.upgradeSpan = client.tracer.Upgrade(r.Context(), client.UUID)
	}
	client.onMessage = s.registry.onMessage
	client.onDisconnect = func(c *ServerClient) {
		s.registry.remove(c)
		if s.config.Metrics != nil {
			s.config.Metrics.ConnectionClosed()
		}
		if s.registry.onClientDisconnect != nil {
			s.registry.onClientDisconnect(c)
		}
	}
	client.onAuthenticated = s.registry.onClientConnect

	s.registry.add(client)
	if s.config.Metrics != nil {
		s.config.Metrics.ConnectionOpened()
	}

	client.beginHandshake()
	client.ReadLoop()
}

// Send broadcasts payload to every authenticated client.
func (s *Server) Send(payload envelope.Payload) int {
	return s.registry.Broadcast(payload)
}

// SendTo sends payload to a single authenticated client by uuid.
func (s *Server) SendTo(uuid string, payload envelope.Payload) bool {
	return s.registry.SendTo(uuid, payload)
}

// ErrAlreadyListening is returned by Listen if called more than once.
func (s *Server) Listen() error {
	s.mu.Lock()
	if s.listening {
		s.mu.Unlock()
		return ErrAlreadyListening
	}
	s.listening = true
	addr := s.config.Hostname + ":" + itoa(s.config.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	s.mu.Unlock()

	s.logger.Info("listening", "addr", addr, "path", s.config.Path)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close performs the graceful shutdown sequence: notify
// every client with a TEAPOT, wait ShutdownGraceDelay, disconnect
// everyone, wait ShutdownCloseDelay, then stop accepting new
// connections.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	httpServer := s.httpServer
	s.mu.Unlock()

	s.registry.BroadcastEnvelope(envelope.TypeError, envelope.StatusTeapot, envelope.Payload{
		"message": "server shutting down",
	})
	time.Sleep(s.config.ShutdownGraceDelay)

	s.registry.DisconnectAll()
	time.Sleep(s.config.ShutdownCloseDelay)

	if httpServer != nil {
		return httpServer.Shutdown(ctx)
	}
	return nil
}
