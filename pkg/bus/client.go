package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"

	"github.com/sporket-dev/sporket/pkg/authkey"
	"github.com/sporket-dev/sporket/pkg/bustrace"
	"github.com/sporket-dev/sporket/pkg/envelope"
)

// ServerClient is the server-side state machine for one accepted
// WebSocket connection. It performs the server half of the
// handshake, gates DATA frames on authentication, and exposes Send and
// Disconnect to the owning Server/registry.
type ServerClient struct {
	UUID      string
	CreatedAt time.Time

	conn   *websocket.Conn
	mu     sync.Mutex // guards writes and conn
	closed bool

	key             []byte
	isAuthenticated bool
	handshakeSent   bool
	authMu          sync.RWMutex

	password func() string
	config   SessionConfig
	logger   *slog.Logger

	done chan struct{} // closed once by Disconnect; exposed through Done

	// onAuthenticated/onMessage/onDisconnect bridge session events up to
	// the registry/Server.
	onAuthenticated func(*ServerClient)
	onMessage       func(*ServerClient, envelope.Payload)
	onDisconnect    func(*ServerClient)

	audit   AuditSink
	metrics Metrics
	tracer  *bustrace.Tracer

	handshakeSpan trace.Span
	upgradeSpan   trace.Span
}

// newServerClient creates a ServerClient wrapping an already-upgraded
// connection. uuid is freshly generated.
func newServerClient(conn *websocket.Conn, cfg SessionConfig, password func() string, logger *slog.Logger) *ServerClient {
	id := uuid.NewString()
	return &ServerClient{
		UUID:      id,
		CreatedAt: time.Now(),
		conn:      conn,
		password:  password,
		config:    cfg,
		logger:    logger.With("uuid", id),
		done:      make(chan struct{}),
	}
}

// IsAuthenticated reports whether the handshake has completed.
func (c *ServerClient) IsAuthenticated() bool {
	c.authMu.RLock()
	defer c.authMu.RUnlock()
	return c.isAuthenticated
}

func (c *ServerClient) setAuthenticated(v bool) {
	c.authMu.Lock()
	c.isAuthenticated = v
	c.authMu.Unlock()
}

// Send builds an envelope, signs it with the session key, and writes it.
// For the very first AUTH message of a session, id is set to the
// session uuid; every later send gets a fresh random
// uuid.
func (c *ServerClient) Send(typ envelope.Type, status envelope.Status, payload envelope.Payload) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.logger.Debug("send dropped", "error", &SessionError{UUID: c.UUID, Op: "send", Err: ErrSessionClosed})
		return false
	}
	if c.conn == nil {
		c.logger.Debug("send dropped", "error", &SessionError{UUID: c.UUID, Op: "send", Err: ErrNoConnection})
		return false
	}

	m, err := envelope.Create(payload, typ, status)
	if err != nil {
		return false
	}

	c.authMu.Lock()
	firstAuth := typ == envelope.TypeAuth && !c.handshakeSent
	if firstAuth {
		c.handshakeSent = true
	}
	key := c.key
	c.authMu.Unlock()

	if firstAuth {
		m.ID = c.UUID
	}
	if key != nil {
		envelope.Sign(m, key)
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	raw, err := json.Marshal(m)
	if err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		c.logger.Error("write error", "error", &SessionError{UUID: c.UUID, Op: "send", Err: err})
		return false
	}
	return true
}

// beginHandshake derives the session key from the uuid and sends the
// server's first AUTH message.
func (c *ServerClient) beginHandshake() {
	if c.tracer != nil {
		_, c.handshakeSpan = c.tracer.Handshake(context.Background(), c.UUID)
	}

	key := authkey.Derive(c.UUID)
	c.authMu.Lock()
	c.key = key
	c.authMu.Unlock()

	c.Send(envelope.TypeAuth, envelope.StatusOK, envelope.Payload{"uuid": c.UUID})
}

// ReadLoop reads frames until the connection closes or errors, then
// disconnects. It blocks; call it in its own goroutine.
func (c *ServerClient) ReadLoop() {
	defer c.Disconnect()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleFrame(msg)
	}
}

// handleFrame dispatches an inbound frame: verify signature, route AUTH
// to handleAuth, gate everything else on authentication.
func (c *ServerClient) handleFrame(raw []byte) {
	var m envelope.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		c.Send(envelope.TypeError, envelope.StatusBadRequest, envelope.Payload{"message": "Bad Request (invalid signature)"})
		return
	}

	c.authMu.RLock()
	key := c.key
	c.authMu.RUnlock()

	if !envelope.Verify(&m, key) {
		if c.metrics != nil {
			c.metrics.InvalidSignature()
		}
		c.Send(envelope.TypeError, envelope.StatusBadRequest, envelope.Payload{"message": "Bad Request (invalid signature)"})
		return
	}

	payload := envelope.Parse(&m)

	if m.Type == envelope.TypeAuth {
		c.handleAuth(payload)
		return
	}

	if !c.IsAuthenticated() {
		c.Send(envelope.TypeError, envelope.StatusUnauthorized, envelope.Payload{"message": "Unauthorized (respond to challenge)"})
		return
	}

	if c.metrics != nil {
		c.metrics.MessageReceived()
	}
	if c.onMessage != nil {
		c.onMessage(c, payload)
	}
}

// handleAuth recomputes the challenge from the locally-known password
// and uuid, compares to
// the client's claim, and transition to Authenticated on match.
func (c *ServerClient) handleAuth(payload envelope.Payload) {
	expected := authkey.Challenge(c.password(), c.UUID)
	got := payload.String("challenge")

	if got == "" || got != expected {
		if c.metrics != nil {
			c.metrics.AuthFailed()
		}
		if c.audit != nil {
			c.audit.RecordAuthFailure(context.Background(), c.UUID, "bad challenge")
		}
		if c.handshakeSpan != nil {
			bustrace.End(c.handshakeSpan, ErrNotAuthenticated)
		}
		c.Send(envelope.TypeError, envelope.StatusUnauthorized, envelope.Payload{"message": "Unauthorized (authentication failed)"})
		return
	}

	c.setAuthenticated(true)
	if c.metrics != nil {
		c.metrics.AuthSucceeded()
	}
	if c.audit != nil {
		c.audit.RecordConnect(context.Background(), c.UUID)
	}
	if c.handshakeSpan != nil {
		bustrace.End(c.handshakeSpan, nil)
	}
	c.Send(envelope.TypeAuth, envelope.StatusOK, envelope.Payload{"success": true})
	if c.onAuthenticated != nil {
		c.onAuthenticated(c)
	}
}

// Disconnect is idempotent: it closes done (see Done), closes the socket
// if open (which ends ReadLoop), clears isAuthenticated, and notifies the
// registry.
func (c *ServerClient) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.setAuthenticated(false)

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}

	if c.audit != nil {
		c.audit.RecordDisconnect(context.Background(), c.UUID)
	}
	if c.upgradeSpan != nil {
		bustrace.End(c.upgradeSpan, nil)
	}
	if c.onDisconnect != nil {
		c.onDisconnect(c)
	}
}

// Done returns a channel closed when the session has disconnected.
func (c *ServerClient) Done() <-chan struct{} {
	return c.done
}
