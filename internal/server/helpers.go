package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dennisMeeQ/clavum/internal/crypto"
	"github.com/dennisMeeQ/clavum/internal/fault"
)

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	if kind == fault.KindInternal || kind == fault.KindCryptoFailure {
		s.logger.Printf("internal: %v", err)
		// Primitive failure details never cross the trust boundary.
		kind = fault.KindInternal
	}
	writeJSONStatus(w, kind.HTTPStatus(), map[string]string{"error": kind.String()})
}

func tooMany(w http.ResponseWriter, retryAfterSeconds int) {
	if retryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	http.Error(w, "too many requests", http.StatusTooManyRequests)
}

// isoTime renders response timestamps as ISO-8601 UTC.
func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// b64Field decodes a required base64url body field of a fixed length;
// zero wantLen accepts any non-empty value.
func b64Field(name, value string, wantLen int) ([]byte, error) {
	if value == "" {
		return nil, fault.Newf(fault.KindBadRequest, "%s required", name)
	}
	b, err := crypto.FromB64URL(value)
	if err != nil {
		return nil, fault.Newf(fault.KindBadRequest, "%s not base64url", name)
	}
	if wantLen > 0 && len(b) != wantLen {
		return nil, fault.Newf(fault.KindBadRequest, "%s must be %d bytes", name, wantLen)
	}
	return b, nil
}
