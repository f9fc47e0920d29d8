package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dennisMeeQ/clavum/internal/model"
)

func TestNonceInsertOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	exp := time.Now().Add(2 * time.Minute)

	if err := m.InsertNonce(ctx, "digest-1", exp); err != nil {
		t.Fatal(err)
	}
	if err := m.InsertNonce(ctx, "digest-1", exp); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second insert: want ErrDuplicate, got %v", err)
	}
	if err := m.InsertNonce(ctx, "digest-2", exp); err != nil {
		t.Fatal(err)
	}
}

func TestNonceGC(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	_ = m.InsertNonce(ctx, "old", now.Add(-time.Second))
	_ = m.InsertNonce(ctx, "new", now.Add(time.Minute))

	n, err := m.DeleteExpiredNonces(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("reclaimed %d, want 1", n)
	}
	// The reclaimed digest is insertable again.
	if err := m.InsertNonce(ctx, "old", now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
}

func TestSecretUniqueness(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	s := &model.SecretMetadata{ID: "s1", TenantID: "t1", AgentID: "a1", Name: "db-pass", Tier: model.TierRoutine}
	if err := m.CreateSecret(ctx, s); err != nil {
		t.Fatal(err)
	}
	dupName := &model.SecretMetadata{ID: "s2", TenantID: "t1", AgentID: "a1", Name: "db-pass", Tier: model.TierRoutine}
	if err := m.CreateSecret(ctx, dupName); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate (agent, name): want ErrDuplicate, got %v", err)
	}
	// Same name under another agent is fine.
	otherAgent := &model.SecretMetadata{ID: "s3", TenantID: "t1", AgentID: "a2", Name: "db-pass", Tier: model.TierRoutine}
	if err := m.CreateSecret(ctx, otherAgent); err != nil {
		t.Fatal(err)
	}
}

func TestResolveApprovalAtMostOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	rec := &model.ApprovalRequest{
		ID: "ap1", TenantID: "t1", PhoneID: "p1", SecretID: "s1", AgentID: "a1",
		Status: model.StatusPending, CreatedAt: now, ExpiresAt: now.Add(time.Minute),
	}
	if err := m.CreateApproval(ctx, rec); err != nil {
		t.Fatal(err)
	}

	const racers = 16
	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		to := model.StatusApproved
		if i%2 == 0 {
			to = model.StatusDenied
		}
		go func(to model.ApprovalStatus) {
			defer wg.Done()
			if err := m.ResolveApproval(ctx, "ap1", to, time.Now(), nil); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(to)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}

	got, err := m.GetApproval(ctx, "ap1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Status.Terminal() || got.RespondedAt == nil {
		t.Fatalf("terminal record missing responded_at: %+v", got)
	}
}

func TestResolveApprovalMissing(t *testing.T) {
	m := NewMemory()
	err := m.ResolveApproval(context.Background(), "nope", model.StatusApproved, time.Now(), nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestExpireDueApprovalsBulk(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	for i, exp := range []time.Time{now.Add(-time.Second), now, now.Add(time.Minute)} {
		rec := &model.ApprovalRequest{
			ID: string(rune('a' + i)), TenantID: "t1", PhoneID: "p1", SecretID: "s1",
			Status: model.StatusPending, CreatedAt: now.Add(-time.Minute), ExpiresAt: exp,
		}
		if err := m.CreateApproval(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	n, err := m.ExpireDueApprovals(ctx, "t1", now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expired %d, want 2 (deadline is inclusive)", n)
	}

	pending, err := m.ListPendingApprovals(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
}

func TestListPendingOrdering(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Now()

	offsets := map[string]time.Duration{"first": 0, "second": time.Second, "third": 2 * time.Second}
	for _, id := range []string{"third", "first", "second"} {
		rec := &model.ApprovalRequest{
			ID: id, TenantID: "t1", PhoneID: "p1", SecretID: "s1",
			Status: model.StatusPending, CreatedAt: base.Add(offsets[id]), ExpiresAt: base.Add(time.Hour),
		}
		if err := m.CreateApproval(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	got, err := m.ListPendingApprovals(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("position %d = %s, want %s", i, got[i].ID, want[i])
		}
	}
}

func TestMarkAuditedOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	rec := &model.ApprovalRequest{ID: "ap1", TenantID: "t1", Status: model.StatusPending, ExpiresAt: time.Now().Add(time.Minute)}
	if err := m.CreateApproval(ctx, rec); err != nil {
		t.Fatal(err)
	}
	won, err := m.MarkAudited(ctx, "ap1")
	if err != nil || !won {
		t.Fatalf("first mark: won=%v err=%v", won, err)
	}
	won, err = m.MarkAudited(ctx, "ap1")
	if err != nil || won {
		t.Fatalf("second mark: won=%v err=%v", won, err)
	}
}

func TestTenantCloneIsolation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	priv := []byte{1, 2, 3}
	if err := m.CreateTenant(ctx, &model.Tenant{ID: "t1", PrivX25519: priv}); err != nil {
		t.Fatal(err)
	}
	got, err := m.GetTenant(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	// Callers zeroize their copy; the stored key must survive that.
	for i := range got.PrivX25519 {
		got.PrivX25519[i] = 0
	}
	again, _ := m.GetTenant(ctx, "t1")
	if again.PrivX25519[0] != 1 {
		t.Fatal("stored private key mutated through a returned copy")
	}
}
