package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/dennisMeeQ/clavum/internal/approval"
	"github.com/dennisMeeQ/clavum/internal/audit"
	"github.com/dennisMeeQ/clavum/internal/authgate"
	"github.com/dennisMeeQ/clavum/internal/crypto"
	"github.com/dennisMeeQ/clavum/internal/fault"
	"github.com/dennisMeeQ/clavum/internal/flows"
	"github.com/dennisMeeQ/clavum/internal/model"
	"github.com/dennisMeeQ/clavum/internal/storage"
)

type retrieveReq struct {
	EphX25519Pub string `json:"eph_x25519_pub"`
	KEKSalt      string `json:"kek_salt"`
	Reason       string `json:"reason"`
}

// wrappedKEK is the transport form of a derived KEK: encrypted under the
// agent's session key, never persisted.
type wrappedKEK struct {
	EncKEK string `json:"enc_kek"`
	IV     string `json:"enc_kek_iv"`
	Tag    string `json:"enc_kek_tag"`
}

// handleRetrieve is the coordinator entry point: validate, route by
// tier, derive, wrap, audit, respond.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request, secretID string) {
	started := s.now()
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	agent, ok := authgate.AgentFrom(r.Context())
	if !ok {
		s.writeError(w, fault.New(fault.KindUnauthenticated, "no identity"))
		return
	}
	if !s.rlRetrieve.allow(started, agent.ID) {
		tooMany(w, 60)
		return
	}

	var req retrieveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fault.New(fault.KindBadRequest, "bad json"))
		return
	}
	ephPub, err := b64Field("eph_x25519_pub", req.EphX25519Pub, crypto.KeySize)
	if err != nil {
		s.writeError(w, err)
		return
	}
	kekSalt, err := b64Field("kek_salt", req.KEKSalt, crypto.KeySize)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.Reason == "" || !utf8.ValidString(req.Reason) {
		s.writeError(w, fault.New(fault.KindBadRequest, "reason required"))
		return
	}

	meta, err := s.ownedSecret(r, agent, secretID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	switch meta.Tier {
	case model.TierRoutine:
		s.retrieveRoutine(w, r, agent, meta, ephPub, kekSalt, req.Reason, started)
	case model.TierSensitive, model.TierCritical:
		s.retrievePending(w, r, agent, meta, ephPub, kekSalt, req.Reason)
	default:
		s.writeError(w, fault.Newf(fault.KindInternal, "unroutable tier %q", meta.Tier))
	}
}

// retrieveRoutine serves the auto-granted tier in one round trip.
func (s *Server) retrieveRoutine(w http.ResponseWriter, r *http.Request, agent *model.Agent, meta *model.SecretMetadata, ephPub, kekSalt []byte, reason string, started time.Time) {
	wrapped, err := s.deriveAndWrap(r.Context(), agent, meta, func(serverPriv []byte) ([]byte, error) {
		return flows.GreenKEK(serverPriv, ephPub, kekSalt, meta.ID)
	})
	if err != nil {
		s.auditError(r, agent, meta, reason, started)
		// The ephemeral public key is client-supplied; a bad point is the
		// client's malformed input, not an internal fault.
		if errors.Is(err, crypto.ErrCryptoFailure) {
			s.writeError(w, fault.New(fault.KindBadRequest, "bad key material"))
			return
		}
		s.writeError(w, err)
		return
	}

	if err := s.auditOutcome(r, audit.Event{
		TenantID: meta.TenantID,
		AgentID:  agent.ID,
		SecretID: meta.ID,
		Reason:   reason,
		Tier:     meta.Tier,
		Result:   model.ResultAutoGranted,
		Started:  started,
	}); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, wrapped)
}

// retrievePending opens a consent ceremony for the sensitive and
// critical tiers and hands the agent a pending token to poll with.
func (s *Server) retrievePending(w http.ResponseWriter, r *http.Request, agent *model.Agent, meta *model.SecretMetadata, ephPub, kekSalt []byte, reason string) {
	phone, err := s.store.PhoneForTenant(r.Context(), meta.TenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, fault.New(fault.KindInternal, "tenant has no phone"))
			return
		}
		s.writeError(w, fault.Wrap(fault.KindInternal, "phone lookup", err))
		return
	}
	rec, err := s.machine.Create(r.Context(), approval.CreateParams{
		Secret:  meta,
		PhoneID: phone.ID,
		AgentID: agent.ID,
		Reason:  reason,
		Timeout: s.cfg.ApprovalTimeout,
		EphPub:  ephPub,
		KEKSalt: kekSalt,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]any{
		"status":      string(model.StatusPending),
		"approval_id": rec.ID,
		"expires_at":  isoTime(rec.ExpiresAt),
	})
}

// handleRetrieveStatus is the companion poll endpoint. Each poll is an
// independently signed request; an approved record re-derives the KEK on
// every poll but is audited exactly once.
func (s *Server) handleRetrieveStatus(w http.ResponseWriter, r *http.Request, secretID string) {
	started := s.now()
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	agent, ok := authgate.AgentFrom(r.Context())
	if !ok {
		s.writeError(w, fault.New(fault.KindUnauthenticated, "no identity"))
		return
	}
	approvalID := r.URL.Query().Get("approval_id")
	if approvalID == "" {
		s.writeError(w, fault.New(fault.KindBadRequest, "approval_id required"))
		return
	}

	meta, err := s.ownedSecret(r, agent, secretID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rec, err := s.machine.Status(r.Context(), approvalID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rec.SecretID != meta.ID {
		s.writeError(w, fault.New(fault.KindNotFound, "approval not found"))
		return
	}
	if rec.AgentID != agent.ID {
		s.writeError(w, fault.New(fault.KindForbidden, "not the requesting agent"))
		return
	}

	switch rec.Status {
	case model.StatusPending:
		writeJSON(w, map[string]any{
			"status":      string(rec.Status),
			"approval_id": rec.ID,
			"expires_at":  isoTime(rec.ExpiresAt),
		})

	case model.StatusDenied, model.StatusExpired:
		result := model.ResultDenied
		if rec.Status == model.StatusExpired {
			result = model.ResultExpired
		}
		if err := s.auditApprovalOnce(r, meta, rec, result, nil, started); err != nil {
			s.writeError(w, err)
			return
		}
		resp := map[string]any{"status": string(rec.Status), "approval_id": rec.ID}
		if rec.RespondedAt != nil {
			resp["responded_at"] = isoTime(*rec.RespondedAt)
		}
		writeJSON(w, resp)

	case model.StatusApproved:
		wrapped, result, err := s.deriveApproved(r.Context(), agent, meta, rec)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if err := s.auditApprovalOnce(r, meta, rec, result, rec.ApprovalSig, started); err != nil {
			s.writeError(w, err)
			return
		}
		resp := map[string]any{
			"status":      string(rec.Status),
			"approval_id": rec.ID,
			"enc_kek":     wrapped.EncKEK,
			"enc_kek_iv":  wrapped.IV,
			"enc_kek_tag": wrapped.Tag,
		}
		if rec.RespondedAt != nil {
			resp["responded_at"] = isoTime(*rec.RespondedAt)
		}
		writeJSON(w, resp)

	default:
		s.writeError(w, fault.Newf(fault.KindInternal, "unknown status %q", rec.Status))
	}
}

// deriveApproved picks the key path the approval's tier demands: the
// echoed ephemeral material for sensitive, the dual ECDH legs salted by
// the challenge for critical.
func (s *Server) deriveApproved(ctx context.Context, agent *model.Agent, meta *model.SecretMetadata, rec *model.ApprovalRequest) (*wrappedKEK, model.AuditResult, error) {
	switch rec.Tier {
	case model.TierSensitive:
		wrapped, err := s.deriveAndWrap(ctx, agent, meta, func(serverPriv []byte) ([]byte, error) {
			return flows.GreenKEK(serverPriv, rec.EphPub, rec.KEKSalt, meta.ID)
		})
		return wrapped, model.ResultHumanApproved, err

	case model.TierCritical:
		phone, err := s.store.GetPhone(ctx, rec.PhoneID)
		if err != nil {
			return nil, "", fault.Wrap(fault.KindInternal, "phone lookup", err)
		}
		wrapped, err := s.deriveAndWrap(ctx, agent, meta, func(serverPriv []byte) ([]byte, error) {
			return flows.RedKEK(serverPriv, agent.PubX25519, phone.PubX25519, rec.Challenge, meta.ID)
		})
		return wrapped, model.ResultDeviceUnlocked, err

	default:
		return nil, "", fault.Newf(fault.KindInternal, "unroutable tier %q", rec.Tier)
	}
}

// deriveAndWrap derives a KEK, wraps it under the agent's session key,
// and zeroizes every sensitive buffer before returning. Nothing derived
// here outlives the handler.
func (s *Server) deriveAndWrap(ctx context.Context, agent *model.Agent, meta *model.SecretMetadata, derive func(serverPriv []byte) ([]byte, error)) (*wrappedKEK, error) {
	serverPriv, err := s.keys.privateKey(ctx, meta.TenantID)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(serverPriv)

	kek, err := derive(serverPriv)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(kek)

	kSession, err := crypto.X25519Shared(serverPriv, agent.PubX25519)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "session key", err)
	}
	defer crypto.Zero(kSession)

	ct, iv, tag, err := crypto.GCMSeal(kSession, kek, nil, nil)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "wrap kek", err)
	}
	return &wrappedKEK{
		EncKEK: crypto.ToB64URL(ct),
		IV:     crypto.ToB64URL(iv),
		Tag:    crypto.ToB64URL(tag),
	}, nil
}

// auditOutcome writes the terminal audit entry. The write is detached
// from the client's context: a disconnect after the KEK exists must not
// cancel it. A failed write withholds key material.
func (s *Server) auditOutcome(r *http.Request, ev audit.Event) error {
	if _, err := s.recorder.Record(context.WithoutCancel(r.Context()), ev); err != nil {
		return fault.Wrap(fault.KindInternal, "audit write", err)
	}
	return nil
}

// auditApprovalOnce writes the approval's terminal audit entry exactly
// once across polls, guarded by the record's store-level audited flag.
func (s *Server) auditApprovalOnce(r *http.Request, meta *model.SecretMetadata, rec *model.ApprovalRequest, result model.AuditResult, proof []byte, started time.Time) error {
	won, err := s.machine.MarkAudited(r.Context(), rec.ID)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	return s.auditOutcome(r, audit.Event{
		TenantID: meta.TenantID,
		AgentID:  rec.AgentID,
		SecretID: meta.ID,
		Reason:   rec.Reason,
		Tier:     rec.Tier,
		Result:   result,
		Proof:    proof,
		Started:  started,
	})
}

// auditError records a failed derivation; best effort, the request is
// already failing.
func (s *Server) auditError(r *http.Request, agent *model.Agent, meta *model.SecretMetadata, reason string, started time.Time) {
	_, err := s.recorder.Record(context.WithoutCancel(r.Context()), audit.Event{
		TenantID: meta.TenantID,
		AgentID:  agent.ID,
		SecretID: meta.ID,
		Reason:   reason,
		Tier:     meta.Tier,
		Result:   model.ResultError,
		Started:  started,
	})
	if err != nil {
		s.logger.Printf("audit error entry: %v", err)
	}
}
