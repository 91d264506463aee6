// Package envelope implements the signed message format exchanged over
// every Sporket WebSocket connection: creation, canonical-string signing,
// verification, and payload decoding.
package envelope

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Type is the message kind carried by an envelope.
type Type string

const (
	TypeAuth  Type = "AUTH"
	TypePing  Type = "PING"
	TypeData  Type = "DATA"
	TypeError Type = "ERROR"
)

// Status is the closed set of status codes an envelope may carry.
type Status int

const (
	StatusOK           Status = 200
	StatusBadRequest   Status = 400
	StatusUnauthorized Status = 401
	StatusTeapot       Status = 418
	StatusServerError  Status = 500
)

// Payload is an application-level JSON object carried inside an
// envelope. Values are JSON primitives, arrays, or nested Payloads.
type Payload map[string]any

// Message is the wire envelope, JSON encoded. Payload is always a
// base64 string on the wire; Raw holds the
// decoded object once Parse has been called, for in-process use.
type Message struct {
	ID        string `json:"id"`
	Now       int64  `json:"now"`
	Type      Type   `json:"type"`
	Status    Status `json:"status"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`

	// Raw is populated by Parse and is not part of the wire format.
	Raw Payload `json:"-"`
}

// Create builds a fresh envelope with a random UUID id, the current
// epoch-millisecond timestamp, and payload base64-encoded as UTF-8 JSON.
// The signature field is left empty; call Sign before transmitting.
func Create(payload Payload, typ Type, status Status) (*Message, error) {
	encoded, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:      uuid.NewString(),
		Now:     time.Now().UnixMilli(),
		Type:    typ,
		Status:  status,
		Payload: encoded,
		Raw:     payload,
	}, nil
}

// encodePayload marshals a Payload to JSON and base64-encodes the result.
// A nil payload encodes as an empty JSON object, never as "null" — this
// keeps Parse's failure fallback (an empty object) indistinguishable from
// an intentionally empty payload.
func encodePayload(p Payload) (string, error) {
	if p == nil {
		p = Payload{}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// canonicalString is the exact byte sequence signed and verified:
// id || decimal(now) || payload_wire, with no delimiter. payload_wire is
// the base64 string already stored in the envelope, never the decoded
// object — signing the decoded form would silently break
// interoperability.
func canonicalString(m *Message) []byte {
	buf := make([]byte, 0, len(m.ID)+20+len(m.Payload))
	buf = append(buf, m.ID...)
	buf = append(buf, strconv.FormatInt(m.Now, 10)...)
	buf = append(buf, m.Payload...)
	return buf
}

// Sign computes the HMAC-SHA-256 tag over the canonical string and
// assigns its base64 encoding to m.Signature. key must be non-empty;
// callers hold the invariant that signing never happens with a pending
// (absent) session key.
func Sign(m *Message, key []byte) *Message {
	mac := hmac.New(sha256.New, key)
	mac.Write(canonicalString(m))
	m.Signature = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return m
}

// Verify reports whether m.Signature is a valid HMAC-SHA-256 tag over the
// canonical string under key. It fails closed: a nil/empty key, a
// malformed base64 signature, or a mismatched tag all return false, and
// no error is ever propagated to the caller.
func Verify(m *Message, key []byte) bool {
	if len(key) == 0 {
		return false
	}
	candidate, err := base64.StdEncoding.DecodeString(m.Signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(canonicalString(m))
	expected := mac.Sum(nil)
	return hmac.Equal(candidate, expected)
}

// Parse base64-decodes and JSON-parses m.Payload into m.Raw, returning
// it. Any failure (bad base64, invalid UTF-8 JSON) yields an empty
// Payload rather than an error — this fallback lets handshake code
// uniformly probe for absent/malformed fields instead of branching on a
// decode error at every call site.
func Parse(m *Message) Payload {
	raw, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		m.Raw = Payload{}
		return m.Raw
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		m.Raw = Payload{}
		return m.Raw
	}
	if p == nil {
		p = Payload{}
	}
	m.Raw = p
	return m.Raw
}

// String returns a field from a Payload as a string, or "" if absent or
// not a string. A defensive accessor for untyped map access.
func (p Payload) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Bool returns a field from a Payload as a bool, or false if absent or
// not a bool.
func (p Payload) Bool(key string) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return false
}
