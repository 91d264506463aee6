package bus

import "context"

// AuditSink records connection-lifecycle events for compliance logging.
// Implementations must not block the session goroutine for long; the
// S3-backed implementation in pkg/busaudit writes asynchronously.
// Never receives message payloads — only metadata about the handshake
// outcome.
type AuditSink interface {
	RecordConnect(ctx context.Context, uuid string)
	RecordAuthFailure(ctx context.Context, uuid, reason string)
	RecordDisconnect(ctx context.Context, uuid string)
}

// Metrics receives operational counters from the server. A nil Metrics
// on ServerConfig is valid; every call site nil-checks first so this
// interface can be satisfied by pkg/busmetrics or left unset in tests.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	AuthSucceeded()
	AuthFailed()
	MessageReceived()
	MessageBroadcast(fanout int)
	InvalidSignature()
}
