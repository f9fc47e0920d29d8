package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dennisMeeQ/clavum/internal/authgate"
	"github.com/dennisMeeQ/clavum/internal/crypto"
	"github.com/dennisMeeQ/clavum/internal/fault"
	"github.com/dennisMeeQ/clavum/internal/model"
)

// handlePendingApprovals lists the phone tenant's pending consent
// requests, lazily expiring stale ones first. The challenge rides along
// so the phone can sign it.
func (s *Server) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	phone, ok := authgate.PhoneFrom(r.Context())
	if !ok {
		s.writeError(w, fault.New(fault.KindUnauthenticated, "no identity"))
		return
	}
	recs, err := s.machine.ListPending(r.Context(), phone.TenantID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		out = append(out, map[string]any{
			"id":         rec.ID,
			"secret_id":  rec.SecretID,
			"reason":     rec.Reason,
			"tier":       string(rec.Tier),
			"challenge":  crypto.ToB64URL(rec.Challenge),
			"created_at": isoTime(rec.CreatedAt),
			"expires_at": isoTime(rec.ExpiresAt),
		})
	}
	writeJSON(w, map[string]any{"approvals": out})
}

// handleApprovalSubtree dispatches /api/approvals/{id}/approve and
// …/{id}/reject.
func (s *Server) handleApprovalSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/approvals/")
	switch {
	case strings.HasSuffix(rest, "/approve"):
		s.handleApprove(w, r, strings.TrimSuffix(rest, "/approve"))
	case strings.HasSuffix(rest, "/reject"):
		s.handleReject(w, r, strings.TrimSuffix(rest, "/reject"))
	default:
		http.NotFound(w, r)
	}
}

type approveReq struct {
	Signature string `json:"signature"`
	KPhone    string `json:"k_phone,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	phone, ok := authgate.PhoneFrom(r.Context())
	if !ok {
		s.writeError(w, fault.New(fault.KindUnauthenticated, "no identity"))
		return
	}
	if !s.rlApprove.allow(s.now(), phone.ID) {
		tooMany(w, 60)
		return
	}

	var req approveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fault.New(fault.KindBadRequest, "bad json"))
		return
	}
	sig, err := b64Field("signature", req.Signature, crypto.SigSize)
	if err != nil {
		s.writeError(w, err)
		return
	}

	rec, err := s.machine.Peek(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rec.PhoneID != phone.ID {
		s.writeError(w, fault.New(fault.KindForbidden, "not the consenting phone"))
		return
	}

	// The critical tier demands the phone's own ECDH leg in the signed
	// body: proof of live key possession, checked against the server's
	// independent derivation and never persisted.
	if rec.Tier == model.TierCritical {
		if err := s.verifyPhoneLeg(r, phone, req.KPhone); err != nil {
			s.writeError(w, err)
			return
		}
	}

	rec, err = s.machine.Approve(r.Context(), id, sig, phone.PubEd25519)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeApprovalResolution(w, rec)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	phone, ok := authgate.PhoneFrom(r.Context())
	if !ok {
		s.writeError(w, fault.New(fault.KindUnauthenticated, "no identity"))
		return
	}
	rec, err := s.machine.Peek(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rec.PhoneID != phone.ID {
		s.writeError(w, fault.New(fault.KindForbidden, "not the consenting phone"))
		return
	}
	rec, err = s.machine.Reject(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeApprovalResolution(w, rec)
}

// verifyPhoneLeg compares the submitted k_phone with the server-side
// X25519(server_priv, phone_pub). Both copies are zeroized here; neither
// is stored.
func (s *Server) verifyPhoneLeg(r *http.Request, phone *model.Phone, kPhoneB64 string) error {
	submitted, err := b64Field("k_phone", kPhoneB64, crypto.KeySize)
	if err != nil {
		return err
	}
	defer crypto.Zero(submitted)

	serverPriv, err := s.keys.privateKey(r.Context(), phone.TenantID)
	if err != nil {
		return err
	}
	defer crypto.Zero(serverPriv)

	derived, err := crypto.X25519Shared(serverPriv, phone.PubX25519)
	if err != nil {
		return fault.Wrap(fault.KindInternal, "phone leg", err)
	}
	defer crypto.Zero(derived)

	if !crypto.ConstantTimeEq(submitted, derived) {
		return fault.New(fault.KindBadRequest, "bad key material")
	}
	return nil
}

func writeApprovalResolution(w http.ResponseWriter, rec *model.ApprovalRequest) {
	resp := map[string]any{
		"id":     rec.ID,
		"status": string(rec.Status),
	}
	if rec.RespondedAt != nil {
		resp["responded_at"] = isoTime(*rec.RespondedAt)
	}
	writeJSON(w, resp)
}
