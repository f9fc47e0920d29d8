package audit

import (
	"context"
	"testing"
	"time"

	"github.com/dennisMeeQ/clavum/internal/model"
	"github.com/dennisMeeQ/clavum/internal/storage"
)

func TestRecordStampsLatencyAndChains(t *testing.T) {
	store := storage.NewMemory()
	now := time.UnixMilli(1_700_000_000_000)
	clock := func() time.Time { return now }
	r := NewRecorder(store, clock, nil)
	ctx := context.Background()

	first, err := r.Record(ctx, Event{
		TenantID: "t1", AgentID: "a1", SecretID: "s1", Reason: "ci deploy",
		Tier: model.TierRoutine, Result: model.ResultAutoGranted,
		Started: now.Add(-42 * time.Millisecond),
	})
	if err != nil {
		t.Fatal(err)
	}
	if first.LatencyMS != 42 {
		t.Fatalf("latency %d, want 42", first.LatencyMS)
	}
	if len(first.PrevHash) != 0 {
		t.Fatal("first entry has a prev hash")
	}
	if len(first.Hash) == 0 {
		t.Fatal("entry hash missing")
	}

	second, err := r.Record(ctx, Event{
		TenantID: "t1", AgentID: "a1", SecretID: "s1", Reason: "again",
		Tier: model.TierRoutine, Result: model.ResultAutoGranted, Started: now,
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(second.PrevHash) != string(first.Hash) {
		t.Fatal("second entry does not chain to first")
	}
}

func TestChainsArePerTenant(t *testing.T) {
	store := storage.NewMemory()
	r := NewRecorder(store, nil, nil)
	ctx := context.Background()

	_, _ = r.Record(ctx, Event{TenantID: "t1", Result: model.ResultAutoGranted})
	other, err := r.Record(ctx, Event{TenantID: "t2", Result: model.ResultAutoGranted})
	if err != nil {
		t.Fatal(err)
	}
	if len(other.PrevHash) != 0 {
		t.Fatal("tenant t2's first entry chained to t1")
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	store := storage.NewMemory()
	r := NewRecorder(store, nil, nil)
	ctx := context.Background()

	for _, reason := range []string{"one", "two", "three"} {
		if _, err := r.Record(ctx, Event{
			TenantID: "t1", AgentID: "a1", SecretID: "s1", Reason: reason,
			Tier: model.TierRoutine, Result: model.ResultAutoGranted,
		}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := store.ListAudit(ctx, storage.AuditQuery{TenantID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := Verify(entries); err != nil {
		t.Fatalf("intact chain: %v", err)
	}

	entries[1].Reason = "rewritten"
	if err := Verify(entries); err == nil {
		t.Fatal("rewritten entry passed verification")
	}

	fresh, _ := store.ListAudit(ctx, storage.AuditQuery{TenantID: "t1"})
	truncated := append([]model.AuditEntry{}, fresh[0], fresh[2])
	if err := Verify(truncated); err == nil {
		t.Fatal("truncated chain passed verification")
	}
}

func TestProofRidesInEntry(t *testing.T) {
	store := storage.NewMemory()
	r := NewRecorder(store, nil, nil)
	proof := []byte("phone signature bytes")

	entry, err := r.Record(context.Background(), Event{
		TenantID: "t1", Result: model.ResultHumanApproved, Proof: proof,
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(entry.Proof) != string(proof) {
		t.Fatal("proof not recorded")
	}
}
