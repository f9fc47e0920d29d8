package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dennisMeeQ/clavum/internal/authgate"
	"github.com/dennisMeeQ/clavum/internal/crypto"
	"github.com/dennisMeeQ/clavum/internal/fault"
	"github.com/dennisMeeQ/clavum/internal/storage"
)

// handleAudit lets an agent read its own audit trail, optionally scoped
// by secret and time window.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	agent, ok := authgate.AgentFrom(r.Context())
	if !ok {
		s.writeError(w, fault.New(fault.KindUnauthenticated, "no identity"))
		return
	}

	q := storage.AuditQuery{
		TenantID: agent.TenantID,
		AgentID:  agent.ID,
		SecretID: r.URL.Query().Get("secret_id"),
	}
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, fault.New(fault.KindBadRequest, "bad from timestamp"))
			return
		}
		q.From = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, fault.New(fault.KindBadRequest, "bad to timestamp"))
			return
		}
		q.To = t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			s.writeError(w, fault.New(fault.KindBadRequest, "bad limit"))
			return
		}
		q.Limit = n
	}

	entries, err := s.store.ListAudit(r.Context(), q)
	if err != nil {
		s.writeError(w, fault.Wrap(fault.KindInternal, "list audit", err))
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		item := map[string]any{
			"id":         e.ID,
			"secret_id":  e.SecretID,
			"reason":     e.Reason,
			"tier":       string(e.Tier),
			"result":     string(e.Result),
			"created_at": isoTime(e.CreatedAt),
			"latency_ms": e.LatencyMS,
		}
		if len(e.Proof) > 0 {
			item["proof"] = crypto.ToB64URL(e.Proof)
		}
		out = append(out, item)
	}
	writeJSON(w, map[string]any{"entries": out})
}
