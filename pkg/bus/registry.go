package bus

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/sporket-dev/sporket/pkg/bustrace"
	"github.com/sporket-dev/sporket/pkg/envelope"
)

// Registry tracks every authenticated-or-handshaking ServerClient by
// uuid and fans broadcasts out to all of them. It is the Server's
// client table.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*ServerClient

	onClientConnect    func(*ServerClient)
	onClientDisconnect func(*ServerClient)
	onMessage          func(*ServerClient, envelope.Payload)

	metrics Metrics
	tracer  *bustrace.Tracer
}

func newRegistry() *Registry {
	return &Registry{clients: make(map[string]*ServerClient)}
}

// add registers a newly-dialed client under its uuid.
func (r *Registry) add(c *ServerClient) {
	r.mu.Lock()
	r.clients[c.UUID] = c
	r.mu.Unlock()
}

// remove drops a client from the table. Safe to call more than once.
func (r *Registry) remove(c *ServerClient) {
	r.mu.Lock()
	delete(r.clients, c.UUID)
	r.mu.Unlock()
}

// Get returns the client for uuid, or nil if absent.
func (r *Registry) Get(uuid string) *ServerClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[uuid]
}

// lookup is Get with ErrSessionNotFound instead of a nil return, for
// call sites that want to distinguish "unknown uuid" from other
// send failures.
func (r *Registry) lookup(uuid string) (*ServerClient, error) {
	if c := r.Get(uuid); c != nil {
		return c, nil
	}
	return nil, ErrSessionNotFound
}

// Len reports the number of tracked clients, authenticated or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// snapshot copies the current client set under RLock so Broadcast can
// iterate and write without holding the registry lock across network
// I/O.
func (r *Registry) snapshot() []*ServerClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ServerClient, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast sends payload as a DATA/OK message to every authenticated
// client and returns the number of clients it was sent to.
func (r *Registry) Broadcast(payload envelope.Payload) int {
	var span trace.Span
	if r.tracer != nil {
		_, span = r.tracer.Broadcast(context.Background())
	}

	sent := 0
	for _, c := range r.snapshot() {
		if !c.IsAuthenticated() {
			continue
		}
		if c.Send(envelope.TypeData, envelope.StatusOK, payload) {
			sent++
		}
	}

	if span != nil {
		bustrace.Fanout(span, sent)
		bustrace.End(span, nil)
	}
	if r.metrics != nil {
		r.metrics.MessageBroadcast(sent)
	}
	return sent
}

// SendTo sends payload to a single authenticated client by uuid.
// Returns false if the uuid is unknown, not yet authenticated, or the
// write fails.
func (r *Registry) SendTo(uuid string, payload envelope.Payload) bool {
	c, err := r.lookup(uuid)
	if err != nil || !c.IsAuthenticated() {
		return false
	}
	return c.Send(envelope.TypeData, envelope.StatusOK, payload)
}

// DisconnectAll asks every tracked client to disconnect, used by the
// server's graceful shutdown sequence.
func (r *Registry) DisconnectAll() {
	for _, c := range r.snapshot() {
		c.Disconnect()
	}
}

// BroadcastEnvelope is like Broadcast but lets the caller pick the
// type/status, used for the shutdown TEAPOT notice. Only authenticated
// clients receive it — a session still mid-handshake has no signing
// key yet and cannot verify a signed frame anyway.
func (r *Registry) BroadcastEnvelope(typ envelope.Type, status envelope.Status, payload envelope.Payload) int {
	sent := 0
	for _, c := range r.snapshot() {
		if !c.IsAuthenticated() {
			continue
		}
		if c.Send(typ, status, payload) {
			sent++
		}
	}
	return sent
}
