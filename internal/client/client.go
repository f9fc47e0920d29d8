// Package client is the signed HTTP client agents and phones use against
// the server: canonical request signatures on every call, local KEK
// derivation, and transport unwrapping under the session key.
package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dennisMeeQ/clavum/internal/authgate"
	"github.com/dennisMeeQ/clavum/internal/crypto"
	"github.com/dennisMeeQ/clavum/internal/signing"
)

// apiError mirrors the server's error body.
type apiError struct {
	Status int
	Kind   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server: %d %s", e.Status, e.Kind)
}

// StatusOf returns the HTTP status behind a client error, or 0.
func StatusOf(err error) int {
	if ae, ok := err.(*apiError); ok {
		return ae.Status
	}
	return 0
}

// signer carries one identity's transport credentials and signs every
// outbound request.
type signer struct {
	base     string
	idHeader string
	id       string
	key      ed25519.PrivateKey
	http     *http.Client
	now      func() time.Time

	mu     sync.Mutex
	lastTS int64
}

func newSigner(base, idHeader, id string, key ed25519.PrivateKey, hc *http.Client, now func() time.Time) *signer {
	if hc == nil {
		hc = http.DefaultClient
	}
	if now == nil {
		now = time.Now
	}
	return &signer{base: base, idHeader: idHeader, id: id, key: key, http: hc, now: now}
}

// do sends a signed request. The canonical payload covers the path
// without the query string, exactly as the server verifies it.
func (s *signer) do(ctx context.Context, method, path, rawQuery string, body, out any) (int, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return 0, err
		}
	}

	// Millisecond timestamps are the replay nonce's entropy; two
	// otherwise-identical calls in the same millisecond would replay
	// themselves, so the clock is forced monotonic per identity.
	ts := s.now().UnixMilli()
	s.mu.Lock()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	s.lastTS = ts
	s.mu.Unlock()

	sig := signing.SignRequest(s.key, ts, method, path, payload)

	url := s.base + path
	if rawQuery != "" {
		url += "?" + rawQuery
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set(s.idHeader, s.id)
	req.Header.Set(authgate.HeaderTimestamp, fmt.Sprintf("%d", ts))
	req.Header.Set(authgate.HeaderSignature, crypto.ToB64URL(sig))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= 400 {
		var eb struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &eb)
		return resp.StatusCode, &apiError{Status: resp.StatusCode, Kind: eb.Error}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
