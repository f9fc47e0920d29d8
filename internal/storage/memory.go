package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dennisMeeQ/clavum/internal/model"
)

// Memory is the in-memory Backend used by tests and single-process
// development. All maps are guarded by one mutex; the nonce uniqueness
// check happens under it, which is this backend's equivalent of a
// storage-level unique constraint.
type Memory struct {
	mu        sync.Mutex
	tenants   map[string]model.Tenant
	agents    map[string]model.Agent
	phones    map[string]model.Phone
	secrets   map[string]model.SecretMetadata
	approvals map[string]model.ApprovalRequest
	nonces    map[string]time.Time
	audit     []model.AuditEntry
}

func NewMemory() *Memory {
	return &Memory{
		tenants:   map[string]model.Tenant{},
		agents:    map[string]model.Agent{},
		phones:    map[string]model.Phone{},
		secrets:   map[string]model.SecretMetadata{},
		approvals: map[string]model.ApprovalRequest{},
		nonces:    map[string]time.Time{},
	}
}

func (m *Memory) CreateTenant(_ context.Context, t *model.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[t.ID]; ok {
		return ErrDuplicate
	}
	m.tenants[t.ID] = *t
	return nil
}

func (m *Memory) GetTenant(_ context.Context, id string) (*model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := t
	clone.PrivX25519 = append([]byte(nil), t.PrivX25519...)
	return &clone, nil
}

func (m *Memory) AddAgent(_ context.Context, a *model.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[a.ID]; ok {
		return ErrDuplicate
	}
	m.agents[a.ID] = *a
	return nil
}

func (m *Memory) AddPhone(_ context.Context, p *model.Phone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.phones[p.ID]; ok {
		return ErrDuplicate
	}
	m.phones[p.ID] = *p
	return nil
}

func (m *Memory) GetAgent(_ context.Context, id string) (*model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := a
	return &clone, nil
}

func (m *Memory) GetPhone(_ context.Context, id string) (*model.Phone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.phones[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := p
	return &clone, nil
}

func (m *Memory) PhoneForTenant(_ context.Context, tenantID string) (*model.Phone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.phones {
		if p.TenantID == tenantID {
			clone := p
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateSecret(_ context.Context, s *model.SecretMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.secrets[s.ID]; ok {
		return ErrDuplicate
	}
	for _, other := range m.secrets {
		if other.AgentID == s.AgentID && other.Name == s.Name {
			return ErrDuplicate
		}
	}
	m.secrets[s.ID] = *s
	return nil
}

func (m *Memory) GetSecret(_ context.Context, id string) (*model.SecretMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := s
	return &clone, nil
}

func (m *Memory) ListSecrets(_ context.Context, agentID string) ([]model.SecretMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SecretMetadata
	for _, s := range m.secrets {
		if s.AgentID == agentID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return strings.Compare(out[i].ID, out[j].ID) < 0
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) DeleteSecret(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.secrets[id]; !ok {
		return ErrNotFound
	}
	delete(m.secrets, id)
	return nil
}

func (m *Memory) CreateApproval(_ context.Context, a *model.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.approvals[a.ID]; ok {
		return ErrDuplicate
	}
	m.approvals[a.ID] = cloneApproval(*a)
	return nil
}

func (m *Memory) GetApproval(_ context.Context, id string) (*model.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := cloneApproval(a)
	return &clone, nil
}

func (m *Memory) ResolveApproval(_ context.Context, id string, to model.ApprovalStatus, respondedAt time.Time, sig []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != model.StatusPending {
		return ErrConflict
	}
	a.Status = to
	ts := respondedAt
	a.RespondedAt = &ts
	if sig != nil {
		a.ApprovalSig = append([]byte(nil), sig...)
	}
	m.approvals[id] = a
	return nil
}

func (m *Memory) ExpireDueApprovals(_ context.Context, tenantID string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, a := range m.approvals {
		if a.TenantID == tenantID && a.Status == model.StatusPending && !now.Before(a.ExpiresAt) {
			a.Status = model.StatusExpired
			ts := now
			a.RespondedAt = &ts
			m.approvals[id] = a
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListPendingApprovals(_ context.Context, tenantID string) ([]model.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ApprovalRequest
	for _, a := range m.approvals {
		if a.TenantID == tenantID && a.Status == model.StatusPending {
			out = append(out, cloneApproval(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) MarkAudited(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return false, ErrNotFound
	}
	if a.Audited {
		return false, nil
	}
	a.Audited = true
	m.approvals[id] = a
	return true, nil
}

func (m *Memory) InsertNonce(_ context.Context, digest string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nonces[digest]; ok {
		return ErrDuplicate
	}
	m.nonces[digest] = expiresAt
	return nil
}

func (m *Memory) DeleteExpiredNonces(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for d, exp := range m.nonces {
		if now.After(exp) {
			delete(m.nonces, d)
			n++
		}
	}
	return n, nil
}

func (m *Memory) AppendAudit(_ context.Context, e *model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, *e)
	return nil
}

func (m *Memory) ListAudit(_ context.Context, q AuditQuery) ([]model.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AuditEntry
	for _, e := range m.audit {
		if q.TenantID != "" && e.TenantID != q.TenantID {
			continue
		}
		if q.AgentID != "" && e.AgentID != q.AgentID {
			continue
		}
		if q.SecretID != "" && e.SecretID != q.SecretID {
			continue
		}
		if !q.From.IsZero() && e.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && e.CreatedAt.After(q.To) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && int64(len(out)) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) LastAuditHash(_ context.Context, tenantID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.audit) - 1; i >= 0; i-- {
		if m.audit[i].TenantID == tenantID {
			return append([]byte(nil), m.audit[i].Hash...), nil
		}
	}
	return nil, nil
}

func cloneApproval(a model.ApprovalRequest) model.ApprovalRequest {
	a.Challenge = append([]byte(nil), a.Challenge...)
	a.EphPub = append([]byte(nil), a.EphPub...)
	a.KEKSalt = append([]byte(nil), a.KEKSalt...)
	a.ApprovalSig = append([]byte(nil), a.ApprovalSig...)
	if a.RespondedAt != nil {
		ts := *a.RespondedAt
		a.RespondedAt = &ts
	}
	return a
}
