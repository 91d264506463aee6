// Package authkey derives the per-session HMAC key and the shared-secret
// challenge used by the Sporket handshake. It is a small,
// dependency-free package so both the server and client sides can import
// it without pulling in the transport or envelope packages.
package authkey

import (
	"crypto/sha256"
	"encoding/base64"
)

// Derive returns the HMAC key for a session identified by uuid. The key
// material is simply the UTF-8 bytes of the uuid string — the uuid is
// never secret, only the shared password is. Server and client call this
// with the same uuid and independently arrive at the same key without it
// ever crossing the wire.
func Derive(sessionUUID string) []byte {
	return []byte(sessionUUID)
}

// Challenge computes base64(SHA-256(password || uuid)), the proof that
// the caller knows the shared secret for this session. Both sides
// compute it independently: the client from the password it was
// configured with, the server from the password it was configured with
// plus the uuid it issued.
func Challenge(password, sessionUUID string) string {
	sum := sha256.Sum256([]byte(password + sessionUUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}
