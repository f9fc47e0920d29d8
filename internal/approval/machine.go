// Package approval implements the consent state machine for the
// sensitive and critical tiers: pending → {approved, denied, expired},
// with lazy expiry and storage-level atomicity on the way out of pending.
package approval

import (
	"context"
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/dennisMeeQ/clavum/internal/fault"
	"github.com/dennisMeeQ/clavum/internal/model"
	"github.com/dennisMeeQ/clavum/internal/signing"
	"github.com/dennisMeeQ/clavum/internal/storage"
)

// DefaultTimeout is how long a phone has to respond before a request
// lazily expires.
const DefaultTimeout = 5 * time.Minute

type Machine struct {
	approvals storage.ApprovalStore
	now       func() time.Time
}

func New(approvals storage.ApprovalStore, now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{approvals: approvals, now: now}
}

// CreateParams carries everything a consent ceremony needs. EphPub and
// KEKSalt echo the initiating retrieval so the coordinator can derive the
// KEK once consent lands. Nonce is a deterministic-test hook; nil draws
// from the CSPRNG.
type CreateParams struct {
	Secret  *model.SecretMetadata
	PhoneID string
	AgentID string
	Reason  string
	Timeout time.Duration
	EphPub  []byte
	KEKSalt []byte
	Nonce   []byte
}

// Create builds the challenge, fixes it forever, and stores the pending
// record. The returned record includes the exact challenge bytes.
func (m *Machine) Create(ctx context.Context, p CreateParams) (*model.ApprovalRequest, error) {
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	challenge, err := signing.BuildChallenge(p.Secret.ID, p.Reason, p.Nonce)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "challenge", err)
	}
	now := m.now()
	rec := &model.ApprovalRequest{
		ID:        model.NewID(),
		TenantID:  p.Secret.TenantID,
		PhoneID:   p.PhoneID,
		SecretID:  p.Secret.ID,
		AgentID:   p.AgentID,
		Reason:    p.Reason,
		Tier:      p.Secret.Tier,
		Challenge: challenge,
		EphPub:    p.EphPub,
		KEKSalt:   p.KEKSalt,
		Status:    model.StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(p.Timeout),
	}
	if err := m.approvals.CreateApproval(ctx, rec); err != nil {
		return nil, fault.Wrap(fault.KindInternal, "create approval", err)
	}
	return rec, nil
}

// Approve verifies the phone's consent signature over the stored
// challenge and atomically transitions pending → approved. Checks run in
// the contract's order: missing, already resolved, expired, signature.
func (m *Machine) Approve(ctx context.Context, id string, sig []byte, phonePub ed25519.PublicKey) (*model.ApprovalRequest, error) {
	rec, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.StatusPending {
		return nil, alreadyResolved(rec.Status)
	}
	now := m.now()
	if !now.Before(rec.ExpiresAt) {
		if err := m.expire(ctx, rec, now); err != nil {
			return nil, err
		}
		return nil, fault.New(fault.KindExpired, "approval expired")
	}
	if !signing.VerifyApproval(phonePub, rec.Challenge, sig) {
		// Record stays pending; the phone may retry with a correct
		// signature inside the window.
		return nil, fault.New(fault.KindBadRequest, "invalid approval signature")
	}
	if err := m.approvals.ResolveApproval(ctx, id, model.StatusApproved, now, sig); err != nil {
		return nil, m.resolveLost(ctx, id, err)
	}
	ts := now
	rec.Status = model.StatusApproved
	rec.RespondedAt = &ts
	rec.ApprovalSig = sig
	return rec, nil
}

// Reject transitions pending → denied.
func (m *Machine) Reject(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	rec, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.StatusPending {
		return nil, alreadyResolved(rec.Status)
	}
	now := m.now()
	if !now.Before(rec.ExpiresAt) {
		if err := m.expire(ctx, rec, now); err != nil {
			return nil, err
		}
		return nil, fault.New(fault.KindExpired, "approval expired")
	}
	if err := m.approvals.ResolveApproval(ctx, id, model.StatusDenied, now, nil); err != nil {
		return nil, m.resolveLost(ctx, id, err)
	}
	ts := now
	rec.Status = model.StatusDenied
	rec.RespondedAt = &ts
	return rec, nil
}

// ListPending bulk-expires the tenant's past-deadline records first, so
// the returned set contains no expired rows, ordered by created_at.
func (m *Machine) ListPending(ctx context.Context, tenantID string) ([]model.ApprovalRequest, error) {
	if _, err := m.approvals.ExpireDueApprovals(ctx, tenantID, m.now()); err != nil {
		return nil, fault.Wrap(fault.KindInternal, "expire due", err)
	}
	out, err := m.approvals.ListPendingApprovals(ctx, tenantID)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "list pending", err)
	}
	return out, nil
}

// Status lazily expires a single record past its deadline, then returns
// it. Lazy expiry is idempotent: a second call sees the same expired
// status and the same responded_at.
func (m *Machine) Status(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	rec, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == model.StatusPending && !m.now().Before(rec.ExpiresAt) {
		now := m.now()
		if err := m.approvals.ResolveApproval(ctx, id, model.StatusExpired, now, nil); err != nil && err != storage.ErrConflict {
			return nil, fault.Wrap(fault.KindInternal, "expire", err)
		}
		// Re-read: either our expiry landed or a racing resolution did;
		// both are valid terminal outcomes.
		return m.load(ctx, id)
	}
	return rec, nil
}

// Peek loads a record without triggering lazy expiry. Handlers use it
// for ownership checks ahead of Approve/Reject, whose own deadline
// checks own the expiry semantics.
func (m *Machine) Peek(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	return m.load(ctx, id)
}

// MarkAudited flips the record's audit flag exactly once.
func (m *Machine) MarkAudited(ctx context.Context, id string) (bool, error) {
	won, err := m.approvals.MarkAudited(ctx, id)
	if err != nil && err != storage.ErrNotFound {
		return false, fault.Wrap(fault.KindInternal, "mark audited", err)
	}
	return won, nil
}

func (m *Machine) load(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	rec, err := m.approvals.GetApproval(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fault.New(fault.KindNotFound, "approval not found")
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "load approval", err)
	}
	return rec, nil
}

// expire marks a record expired; losing the race to another resolution is
// treated identically to any other resolution.
func (m *Machine) expire(ctx context.Context, rec *model.ApprovalRequest, now time.Time) error {
	err := m.approvals.ResolveApproval(ctx, rec.ID, model.StatusExpired, now, nil)
	if err == nil || err == storage.ErrConflict {
		return nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return fault.New(fault.KindNotFound, "approval not found")
	}
	return fault.Wrap(fault.KindInternal, "expire approval", err)
}

// resolveLost classifies a failed pending→terminal transition: losing
// callers see the winner's status as AlreadyResolved.
func (m *Machine) resolveLost(ctx context.Context, id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fault.New(fault.KindNotFound, "approval not found")
	}
	if err == storage.ErrConflict {
		if rec, lerr := m.approvals.GetApproval(ctx, id); lerr == nil {
			return alreadyResolved(rec.Status)
		}
		return fault.New(fault.KindAlreadyResolved, "approval already resolved")
	}
	return fault.Wrap(fault.KindInternal, "resolve approval", err)
}

func alreadyResolved(status model.ApprovalStatus) error {
	return fault.Newf(fault.KindAlreadyResolved, "approval already %s", status)
}
