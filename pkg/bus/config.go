package bus

import (
	"net/http"
	"time"

	"github.com/sporket-dev/sporket/pkg/bustrace"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Hostname is the address Listen binds the HTTP listener to,
	// together with Port. Default: "localhost".
	Hostname string

	// Port the HTTP listener binds to. Default: 9000.
	Port int

	// Path is the single upgrade path; requests matching ^{Path}/?$ are
	// upgraded, everything else 404s. Default: "/".
	Path string

	// Password, if set, overrides SPORKET_PASSWORD. Default: "" (read
	// from the environment at every challenge computation).
	Password string

	// CheckOrigin validates the request origin during upgrade. Default:
	// allow all — permissive, not recommended for production.
	CheckOrigin func(r *http.Request) bool

	Session SessionConfig

	// ShutdownGraceDelay and ShutdownCloseDelay are the two waits in the
	// graceful-shutdown sequence: 1000ms to let a TEAPOT flush, then
	// 500ms to let sockets close, before the acceptor aborts.
	ShutdownGraceDelay time.Duration
	ShutdownCloseDelay time.Duration

	// AuditSink, if set, receives connect/auth-failure/disconnect events
	// for compliance logging. It never receives message payloads.
	AuditSink AuditSink

	// Metrics, if set, receives operational counters. Nil is safe — all
	// call sites nil-check before calling into it.
	Metrics Metrics

	// Tracer, if set, wraps the upgrade/handshake/broadcast hot paths
	// with OpenTelemetry spans. Nil is safe.
	Tracer *bustrace.Tracer
}

// SessionConfig configures per-connection behavior.
type SessionConfig struct {
	// WriteTimeout bounds every outbound frame write. Default: 5s.
	WriteTimeout time.Duration

	// ReadBufferSize/WriteBufferSize size the gorilla/websocket buffers.
	ReadBufferSize  int
	WriteBufferSize int
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Hostname: "localhost",
		Port:     9000,
		Path:     "/",
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		Session:            DefaultSessionConfig(),
		ShutdownGraceDelay: 1000 * time.Millisecond,
		ShutdownCloseDelay: 500 * time.Millisecond,
	}
}

// DefaultSessionConfig returns sane per-connection defaults, chosen
// conservatively since nothing about them is load-bearing for protocol
// correctness.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		WriteTimeout:    5 * time.Second,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
}

// applyDefaults fills zero-valued fields of cfg from DefaultServerConfig.
func applyDefaults(cfg ServerConfig) ServerConfig {
	d := DefaultServerConfig()
	if cfg.Hostname == "" {
		cfg.Hostname = d.Hostname
	}
	if cfg.Port == 0 {
		cfg.Port = d.Port
	}
	if cfg.Path == "" {
		cfg.Path = d.Path
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = d.CheckOrigin
	}
	if cfg.Session.WriteTimeout == 0 {
		cfg.Session.WriteTimeout = d.Session.WriteTimeout
	}
	if cfg.Session.ReadBufferSize == 0 {
		cfg.Session.ReadBufferSize = d.Session.ReadBufferSize
	}
	if cfg.Session.WriteBufferSize == 0 {
		cfg.Session.WriteBufferSize = d.Session.WriteBufferSize
	}
	if cfg.ShutdownGraceDelay == 0 {
		cfg.ShutdownGraceDelay = d.ShutdownGraceDelay
	}
	if cfg.ShutdownCloseDelay == 0 {
		cfg.ShutdownCloseDelay = d.ShutdownCloseDelay
	}
	return cfg
}
