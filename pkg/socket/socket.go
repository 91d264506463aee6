// Package socket provides Socket, a reusable WebSocket base with
// bounded, linearly growing backoff auto-reconnect. It owns a
// single outbound connection and knows nothing about the message
// protocol layered on top of it; callers observe lifecycle transitions
// through the Handlers struct and override message handling the same
// way, rather than through subclassing.
package socket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is a Socket's position in the Idle -> Connecting -> Open ->
// Closed -> (Reconnecting | Terminal) state machine.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateReconnecting
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Config holds the static auto-reconnect configuration.
type Config struct {
	// AutoConnect, when false, disables scheduling a reconnect after a
	// close. Default: true.
	AutoConnect bool

	// MaxAttempts is the number of consecutive failed connections (the
	// initial dial included) after which no further reconnect is
	// scheduled. A successful open resets the count. 0 means no cap.
	// Default: 10.
	MaxAttempts int

	// MinWaitTime is the wait before the first reconnect attempt, and
	// the floor waitTime is reset to on a successful open. Default: 2s.
	MinWaitTime time.Duration

	// MaxWaitTime clamps backoff growth. Default: 10s.
	MaxWaitTime time.Duration

	// WaitExtend is added to waitTime after each failed attempt.
	// Default: 1s.
	WaitExtend time.Duration
}

// DefaultConfig returns the default backoff configuration.
func DefaultConfig() Config {
	return Config{
		AutoConnect: true,
		MaxAttempts: 10,
		MinWaitTime: 2 * time.Second,
		MaxWaitTime: 10 * time.Second,
		WaitExtend:  1 * time.Second,
	}
}

// Handlers are the observable lifecycle callbacks a caller registers.
// All are optional; a nil handler is simply not invoked. HandleMessage
// is the per-protocol override point — Socket itself does nothing with
// an inbound message beyond dispatching to it.
type Handlers struct {
	OnConnect    func()
	OnClose      func()
	OnDisconnect func()
	HandleMessage func([]byte)
}

// Socket maintains a single outbound WebSocket connection with
// auto-reconnect. It is safe for concurrent use.
type Socket struct {
	URL     string
	Header  http.Header
	Dialer  *websocket.Dialer
	Config  Config
	Logger  *slog.Logger
	Handlers Handlers

	mu        sync.Mutex
	conn      *websocket.Conn
	state     State
	waitTime  time.Duration
	attempts  int
	timer     *time.Timer
	closing   bool // set by Disconnect to suppress the reconnect path
	readDone  chan struct{}
}

// New creates a Socket. A zero Config is replaced with DefaultConfig().
func New(url string, cfg Config, handlers Handlers) *Socket {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	return &Socket{
		URL:      url,
		Dialer:   websocket.DefaultDialer,
		Config:   cfg,
		Logger:   slog.Default(),
		Handlers: handlers,
		waitTime: cfg.MinWaitTime,
	}
}

// State returns the socket's current state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect cancels any pending reconnect timer, tears down an existing
// connection if present, and opens a new WebSocket to s.URL.
func (s *Socket) Connect() error {
	s.mu.Lock()
	s.cancelTimerLocked()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.closing = false
	s.state = StateConnecting
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	url := s.URL
	header := s.Header
	s.mu.Unlock()

	conn, _, err := dialer.Dial(url, header)
	if err != nil {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		s.scheduleReconnect()
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateOpen
	s.waitTime = s.Config.MinWaitTime
	s.attempts = 0
	s.readDone = make(chan struct{})
	done := s.readDone
	s.mu.Unlock()

	if s.Handlers.OnConnect != nil {
		s.Handlers.OnConnect()
	}

	go s.readLoop(conn, done)
	return nil
}

// readLoop reads frames until the connection errors or closes, then
// drives the close/reconnect path.
func (s *Socket) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.handleClose()
			return
		}
		if s.Handlers.HandleMessage != nil {
			s.Handlers.HandleMessage(msg)
		}
	}
}

// handleClose runs the §4.2 "On close" transition: emit close, then
// either stop (attempts exhausted / autoConnect off) or schedule a
// reconnect and grow waitTime.
func (s *Socket) handleClose() {
	s.mu.Lock()
	wasClosing := s.closing
	s.state = StateClosed
	s.mu.Unlock()

	if s.Handlers.OnClose != nil {
		s.Handlers.OnClose()
	}

	if wasClosing {
		return
	}
	s.scheduleReconnect()
}

// scheduleReconnect grows the wait time by WaitExtend on each attempt,
// clamped to MaxWaitTime, and gives up once MaxAttempts is reached.
func (s *Socket) scheduleReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelTimerLocked()

	s.attempts++
	if s.Config.MaxAttempts > 0 && s.attempts >= s.Config.MaxAttempts {
		s.state = StateTerminal
		s.Logger.Warn("reconnect attempts exhausted", "attempts", s.attempts)
		return
	}
	if !s.Config.AutoConnect {
		return
	}

	wait := s.waitTime
	s.state = StateReconnecting
	s.timer = time.AfterFunc(wait, func() {
		_ = s.Connect()
	})

	grown := s.waitTime + s.Config.WaitExtend
	if grown > s.Config.MaxWaitTime {
		grown = s.Config.MaxWaitTime
	}
	s.waitTime = grown
}

// cancelTimerLocked cancels any pending reconnect timer. Caller must
// hold s.mu.
func (s *Socket) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Disconnect cancels the reconnect timer, closes the socket if open,
// and emits disconnect. Idempotent.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.cancelTimerLocked()
	conn := s.conn
	s.conn = nil
	s.state = StateClosed
	s.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}

	if s.Handlers.OnDisconnect != nil {
		s.Handlers.OnDisconnect()
	}
}

// ErrNotOpen is returned by SendJSON when the socket is not
// currently open; callers that want the "silently drops"
// behavior should ignore it.
var ErrNotOpen = errors.New("socket: not open")

// SendJSON serializes obj and sends it iff the socket is currently open.
func (s *Socket) SendJSON(obj any) error {
	s.mu.Lock()
	conn := s.conn
	open := s.state == StateOpen
	s.mu.Unlock()

	if !open || conn == nil {
		return ErrNotOpen
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// Conn returns the underlying connection, or nil if not open. Intended
// for protocol layers (Sporket) that need direct write access under
// their own locking.
func (s *Socket) Conn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}
