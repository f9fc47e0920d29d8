// Package storage defines the persistence contracts the core composes and
// ships two implementations: Mongo for production and an in-memory twin
// for deterministic tests.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dennisMeeQ/clavum/internal/model"
)

var (
	ErrNotFound  = errors.New("storage: not found")
	ErrDuplicate = errors.New("storage: duplicate")
	// ErrConflict reports a compare-and-set that matched no row because the
	// record is no longer in the expected state.
	ErrConflict = errors.New("storage: conflict")
)

type TenantStore interface {
	CreateTenant(ctx context.Context, t *model.Tenant) error
	GetTenant(ctx context.Context, id string) (*model.Tenant, error)
}

type IdentityStore interface {
	AddAgent(ctx context.Context, a *model.Agent) error
	AddPhone(ctx context.Context, p *model.Phone) error
	GetAgent(ctx context.Context, id string) (*model.Agent, error)
	GetPhone(ctx context.Context, id string) (*model.Phone, error)
	// PhoneForTenant returns the tenant's registered phone. The retrieval
	// path assumes exactly one phone per tenant.
	PhoneForTenant(ctx context.Context, tenantID string) (*model.Phone, error)
}

type SecretStore interface {
	// CreateSecret inserts metadata; a duplicate id or duplicate
	// (agent, name) pair returns ErrDuplicate.
	CreateSecret(ctx context.Context, s *model.SecretMetadata) error
	GetSecret(ctx context.Context, id string) (*model.SecretMetadata, error)
	ListSecrets(ctx context.Context, agentID string) ([]model.SecretMetadata, error)
	DeleteSecret(ctx context.Context, id string) error
}

type ApprovalStore interface {
	CreateApproval(ctx context.Context, a *model.ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (*model.ApprovalRequest, error)
	// ResolveApproval atomically transitions a pending record to a terminal
	// status, recording respondedAt and, for approvals, the signature.
	// A record that exists but is no longer pending returns ErrConflict.
	ResolveApproval(ctx context.Context, id string, to model.ApprovalStatus, respondedAt time.Time, sig []byte) error
	// ExpireDueApprovals bulk-expires the tenant's past-deadline pending
	// records in one update and reports how many moved.
	ExpireDueApprovals(ctx context.Context, tenantID string, now time.Time) (int64, error)
	// ListPendingApprovals returns the tenant's pending records ordered by
	// created_at ascending.
	ListPendingApprovals(ctx context.Context, tenantID string) ([]model.ApprovalRequest, error)
	// MarkAudited flips the audited flag exactly once; the return reports
	// whether this caller won.
	MarkAudited(ctx context.Context, id string) (bool, error)
}

type NonceStore interface {
	// InsertNonce records a signature digest; a digest already present
	// returns ErrDuplicate. Uniqueness is the storage backend's guarantee,
	// not a process-local lock.
	InsertNonce(ctx context.Context, digest string, expiresAt time.Time) error
	DeleteExpiredNonces(ctx context.Context, now time.Time) (int64, error)
}

type AuditQuery struct {
	TenantID string
	AgentID  string
	SecretID string
	From     time.Time
	To       time.Time
	Limit    int64
}

type AuditStore interface {
	AppendAudit(ctx context.Context, e *model.AuditEntry) error
	ListAudit(ctx context.Context, q AuditQuery) ([]model.AuditEntry, error)
	// LastAuditHash returns the newest entry hash for a tenant, or nil for
	// an empty log.
	LastAuditHash(ctx context.Context, tenantID string) ([]byte, error)
}

// Backend bundles every store a server needs.
type Backend interface {
	TenantStore
	IdentityStore
	SecretStore
	ApprovalStore
	NonceStore
	AuditStore
}
