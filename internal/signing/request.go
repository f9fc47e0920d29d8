// Package signing builds and verifies the canonical byte payloads that
// authenticate agent and phone traffic, and the context-bound challenges
// a phone signs to consent to a specific (secret, reason).
package signing

import (
	"crypto/ed25519"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/dennisMeeQ/clavum/internal/crypto"
)

// MaxSignatureAge is the hard freshness window for request signatures.
const MaxSignatureAge = 60 * time.Second

// RequestPayload canonicalizes a request for signing:
//
//	TIMESTAMP_ASCII ":" METHOD ":" PATH ":" hex(sha256(body))
//
// Timestamp is unsigned decimal milliseconds, method uppercase, path
// without query string, body hash lowercase hex. Any whitespace, case,
// or encoding deviation breaks verification; that is deliberate.
func RequestPayload(tsMillis int64, method, path string, body []byte) []byte {
	bodyHash := hex.EncodeToString(crypto.SHA256(body))
	out := make([]byte, 0, 20+len(method)+len(path)+len(bodyHash)+3)
	out = strconv.AppendInt(out, tsMillis, 10)
	out = append(out, ':')
	out = append(out, method...)
	out = append(out, ':')
	out = append(out, path...)
	out = append(out, ':')
	out = append(out, bodyHash...)
	return out
}

// SignRequest signs the canonical payload with an identity's Ed25519 key.
func SignRequest(priv ed25519.PrivateKey, tsMillis int64, method, path string, body []byte) []byte {
	return crypto.SignEd25519(priv, RequestPayload(tsMillis, method, path, body))
}

// VerifyRequest checks a request signature against the freshness window.
// The timestamp arrives as the raw header string; a value that is not a
// parseable non-negative integer verifies false. A single boolean
// verdict, no side channel distinguishing the failure cause.
func VerifyRequest(pub ed25519.PublicKey, tsHeader, method, path string, body, sig []byte, now time.Time, maxAge time.Duration) bool {
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil || ts < 0 {
		return false
	}
	age := now.UnixMilli() - ts
	if age < 0 {
		age = -age
	}
	if age > maxAge.Milliseconds() {
		return false
	}
	return crypto.VerifyEd25519(pub, RequestPayload(ts, method, path, body), sig)
}
