// Package sporket implements the client-side counterpart of the
// Sporket protocol: it drives the handshake, verifies
// server replies, and — once authenticated — sends signed application
// payloads over an auto-reconnecting socket.Socket.
package sporket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sporket-dev/sporket/pkg/authkey"
	"github.com/sporket-dev/sporket/pkg/envelope"
	"github.com/sporket-dev/sporket/pkg/socket"
)

// Handlers are the events an application observes from a Sporket:
// connect, authenticated, message, disconnect, close.
type Handlers struct {
	OnConnect      func()
	OnAuthenticated func()
	OnMessage      func(envelope.Payload)
	OnDisconnect   func()
	OnClose        func()
}

// Config configures a Sporket client.
type Config struct {
	URL      string
	Password string // shared secret; if empty, read from SPORKET_PASSWORD at auth time
	Socket   socket.Config
}

// Sporket is the client-side session: it composes a socket.Socket for
// transport and auto-reconnect, and layers the envelope handshake and
// authenticated-send gate on top.
type Sporket struct {
	cfg      Config
	sock     *socket.Socket
	handlers Handlers
	logger   *slog.Logger

	mu              sync.Mutex
	uuid            string
	key             []byte
	isAuthenticated bool
}

// New creates a Sporket client. Call Connect to start the handshake.
func New(cfg Config, handlers Handlers) *Sporket {
	s := &Sporket{
		cfg:      cfg,
		handlers: handlers,
		logger:   slog.Default().With("component", "sporket"),
	}

	scfg := cfg.Socket
	if scfg == (socket.Config{}) {
		scfg = socket.DefaultConfig()
	}

	s.sock = socket.New(cfg.URL, scfg, socket.Handlers{
		OnConnect: func() {
			if s.handlers.OnConnect != nil {
				s.handlers.OnConnect()
			}
		},
		OnClose: func() {
			s.resetIdentity()
			if s.handlers.OnClose != nil {
				s.handlers.OnClose()
			}
		},
		OnDisconnect: func() {
			s.resetIdentity()
			if s.handlers.OnDisconnect != nil {
				s.handlers.OnDisconnect()
			}
		},
		HandleMessage: s.handleFrame,
	})
	s.sock.Header = http.Header{}

	return s
}

// resetIdentity clears uuid, key, and isAuthenticated. Called on close
// and disconnect: the session identity never survives a reconnect, so
// the next reconnect starts a fresh handshake.
func (s *Sporket) resetIdentity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uuid = ""
	s.key = nil
	s.isAuthenticated = false
}

// Connect opens the underlying socket. The handshake runs automatically
// as the server's first AUTH frame arrives.
func (s *Sporket) Connect() error {
	return s.sock.Connect()
}

// Disconnect closes the underlying socket and suppresses further
// reconnect attempts.
func (s *Sporket) Disconnect() {
	s.sock.Disconnect()
}

// IsAuthenticated reports whether the handshake has completed.
func (s *Sporket) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isAuthenticated
}

// UUID returns the session uuid assigned by the server, or "" before
// the server's first AUTH frame has been verified.
func (s *Sporket) UUID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uuid
}

// password resolves the shared secret: the configured value, or
// SPORKET_PASSWORD read fresh at call time.
func (s *Sporket) password() string {
	if s.cfg.Password != "" {
		return s.cfg.Password
	}
	return passwordFromEnv()
}

// Send builds, signs, and transmits an application payload. It returns
// false if the socket is not open, or if typ != AUTH and the session is
// not yet authenticated.
func (s *Sporket) Send(payload envelope.Payload, typ envelope.Type, status envelope.Status) bool {
	s.mu.Lock()
	authed := s.isAuthenticated
	key := s.key
	s.mu.Unlock()

	if typ != envelope.TypeAuth && (!authed || key == nil) {
		return false
	}

	m, err := envelope.Create(payload, typ, status)
	if err != nil {
		return false
	}
	if key != nil {
		envelope.Sign(m, key)
	}
	return s.sock.SendJSON(m) == nil
}

// SendData is a convenience wrapper for the common case: an authenticated
// DATA/OK send.
func (s *Sporket) SendData(payload envelope.Payload) bool {
	return s.Send(payload, envelope.TypeData, envelope.StatusOK)
}

// handleFrame is socket.Handlers.HandleMessage: it dispatches an
// inbound frame through the handshake or the authenticated fast path.
func (s *Sporket) handleFrame(raw []byte) {
	var m envelope.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		s.logger.Warn("malformed frame", "error", err)
		s.sock.Disconnect()
		return
	}
	payload := envelope.Parse(&m)

	// Step 2: AUTH frames carrying a uuid drive the handshake itself and
	// are not signature-checked against our (possibly absent) key yet.
	if m.Type == envelope.TypeAuth {
		if uid := payload.String("uuid"); uid != "" {
			s.runHandshakeStep(&m, uid)
			return
		}
	}

	// Step 3: everything else must verify under the current key.
	s.mu.Lock()
	key := s.key
	s.mu.Unlock()
	if !envelope.Verify(&m, key) {
		s.logger.Warn("signature verification failed, disconnecting")
		s.sock.Disconnect()
		return
	}

	switch m.Type {
	case envelope.TypeAuth:
		if payload.Bool("success") {
			s.mu.Lock()
			s.isAuthenticated = true
			s.mu.Unlock()
			if s.handlers.OnAuthenticated != nil {
				s.handlers.OnAuthenticated()
			}
		} else {
			s.sock.Disconnect()
		}
	case envelope.TypeError:
		// TEAPOT is the server's shutdown notice; a 401 before
		// authentication means the challenge was rejected.
		if m.Status == envelope.StatusTeapot ||
			(m.Status == envelope.StatusUnauthorized && !s.IsAuthenticated()) {
			s.sock.Disconnect()
		}
		// Other ERROR statuses are swallowed.
	default: // DATA, PING
		if s.handlers.OnMessage != nil {
			s.handlers.OnMessage(payload)
		}
	}
}

// runHandshakeStep derives the key from the server-issued uuid, verifies
// the server's AUTH signature, stores the
// uuid, and reply with the challenge.
func (s *Sporket) runHandshakeStep(m *envelope.Message, uid string) {
	key := authkey.Derive(uid)
	if !envelope.Verify(m, key) {
		s.logger.Warn("handshake signature verification failed, disconnecting")
		s.sock.Disconnect()
		return
	}

	s.mu.Lock()
	s.uuid = uid
	s.key = key
	s.mu.Unlock()

	challenge := authkey.Challenge(s.password(), uid)
	reply, err := envelope.Create(envelope.Payload{"challenge": challenge}, envelope.TypeAuth, envelope.StatusOK)
	if err != nil {
		s.sock.Disconnect()
		return
	}
	envelope.Sign(reply, key)
	if err := s.sock.SendJSON(reply); err != nil {
		s.sock.Disconnect()
	}
}

// Conn exposes the underlying WebSocket connection for diagnostics.
func (s *Sporket) Conn() *websocket.Conn {
	return s.sock.Conn()
}
