package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dennisMeeQ/clavum/internal/authgate"
	"github.com/dennisMeeQ/clavum/internal/fault"
	"github.com/dennisMeeQ/clavum/internal/model"
	"github.com/dennisMeeQ/clavum/internal/storage"
)

type registerSecretReq struct {
	SecretID string `json:"secret_id"`
	Name     string `json:"name"`
	Tier     string `json:"tier"`
}

func (s *Server) handleRegisterSecret(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	agent, ok := authgate.AgentFrom(r.Context())
	if !ok {
		s.writeError(w, fault.New(fault.KindUnauthenticated, "no identity"))
		return
	}

	var req registerSecretReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fault.New(fault.KindBadRequest, "bad json"))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeError(w, fault.New(fault.KindBadRequest, "name required"))
		return
	}
	tier, err := model.ParseTier(req.Tier)
	if err != nil {
		s.writeError(w, err)
		return
	}

	id := strings.TrimSpace(req.SecretID)
	if id == "" {
		id = model.NewID()
	}
	meta := &model.SecretMetadata{
		ID:        id,
		TenantID:  agent.TenantID,
		AgentID:   agent.ID,
		Name:      req.Name,
		Tier:      tier,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateSecret(r.Context(), meta); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			s.writeError(w, fault.New(fault.KindConflict, "secret already registered"))
			return
		}
		s.writeError(w, fault.Wrap(fault.KindInternal, "create secret", err))
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]string{
		"id":   meta.ID,
		"name": meta.Name,
		"tier": string(meta.Tier),
	})
}

func (s *Server) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	agent, ok := authgate.AgentFrom(r.Context())
	if !ok {
		s.writeError(w, fault.New(fault.KindUnauthenticated, "no identity"))
		return
	}
	metas, err := s.store.ListSecrets(r.Context(), agent.ID)
	if err != nil {
		s.writeError(w, fault.Wrap(fault.KindInternal, "list secrets", err))
		return
	}
	out := make([]map[string]any, 0, len(metas))
	for _, m := range metas {
		out = append(out, map[string]any{
			"id":         m.ID,
			"name":       m.Name,
			"tier":       string(m.Tier),
			"created_at": isoTime(m.CreatedAt),
		})
	}
	writeJSON(w, map[string]any{"secrets": out})
}

// handleSecretSubtree dispatches /api/secrets/{id}, …/{id}/retrieve and
// …/{id}/retrieve/status.
func (s *Server) handleSecretSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/secrets/")
	if rest == "" || rest == "/" {
		http.NotFound(w, r)
		return
	}
	switch {
	case strings.HasSuffix(rest, "/retrieve/status"):
		id := strings.TrimSuffix(rest, "/retrieve/status")
		s.handleRetrieveStatus(w, r, id)
	case strings.HasSuffix(rest, "/retrieve"):
		id := strings.TrimSuffix(rest, "/retrieve")
		s.handleRetrieve(w, r, id)
	default:
		s.handleSecretByID(w, r, rest)
	}
}

func (s *Server) handleSecretByID(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	agent, ok := authgate.AgentFrom(r.Context())
	if !ok {
		s.writeError(w, fault.New(fault.KindUnauthenticated, "no identity"))
		return
	}
	meta, err := s.ownedSecret(r, agent, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.DeleteSecret(r.Context(), meta.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, fault.New(fault.KindNotFound, "secret not found"))
			return
		}
		s.writeError(w, fault.Wrap(fault.KindInternal, "delete secret", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedSecret loads a secret and enforces the ownership invariant.
// Records in another tenant are indistinguishable from missing ones; a
// same-tenant secret owned by a different agent is Forbidden.
func (s *Server) ownedSecret(r *http.Request, agent *model.Agent, id string) (*model.SecretMetadata, error) {
	meta, err := s.store.GetSecret(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fault.New(fault.KindNotFound, "secret not found")
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "load secret", err)
	}
	if meta.TenantID != agent.TenantID {
		return nil, fault.New(fault.KindNotFound, "secret not found")
	}
	if meta.AgentID != agent.ID {
		return nil, fault.New(fault.KindForbidden, "not the owning agent")
	}
	return meta, nil
}
