package approval

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dennisMeeQ/clavum/internal/crypto"
	"github.com/dennisMeeQ/clavum/internal/fault"
	"github.com/dennisMeeQ/clavum/internal/model"
	"github.com/dennisMeeQ/clavum/internal/signing"
	"github.com/dennisMeeQ/clavum/internal/storage"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testSecret() *model.SecretMetadata {
	return &model.SecretMetadata{
		ID: "sec-1", TenantID: "t1", AgentID: "agent-1",
		Name: "db-pass", Tier: model.TierSensitive,
	}
}

func newMachine() (*Machine, *storage.Memory, *clock) {
	store := storage.NewMemory()
	clk := &clock{t: time.UnixMilli(1_700_000_000_000)}
	return New(store, clk.now), store, clk
}

func TestCreateFixesChallengeAndDeadline(t *testing.T) {
	m, _, clk := newMachine()
	ctx := context.Background()

	rec, err := m.Create(ctx, CreateParams{
		Secret: testSecret(), PhoneID: "phone-1", AgentID: "agent-1", Reason: "deploy",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != model.StatusPending {
		t.Fatalf("status %s", rec.Status)
	}
	if want := clk.now().Add(DefaultTimeout); !rec.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at %v, want %v", rec.ExpiresAt, want)
	}
	if len(rec.Challenge) != signing.ChallengeNonceSize+len("sec-1")+32 {
		t.Fatalf("challenge length %d", len(rec.Challenge))
	}

	// The stored challenge is exactly what Create returned.
	got, err := m.Status(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Challenge, rec.Challenge) {
		t.Fatal("stored challenge differs from created one")
	}
}

func TestApproveHappyPath(t *testing.T) {
	m, _, clk := newMachine()
	ctx := context.Background()
	phonePriv, phonePub, _ := crypto.NewEd25519Keypair()

	rec, err := m.Create(ctx, CreateParams{Secret: testSecret(), PhoneID: "phone-1", AgentID: "agent-1", Reason: "deploy"})
	if err != nil {
		t.Fatal(err)
	}
	sig := signing.SignApproval(phonePriv, rec.Challenge)

	got, err := m.Approve(ctx, rec.ID, sig, phonePub)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusApproved {
		t.Fatalf("status %s", got.Status)
	}
	if got.RespondedAt == nil || !got.RespondedAt.Equal(clk.now()) {
		t.Fatalf("responded_at %v", got.RespondedAt)
	}
	if !bytes.Equal(got.ApprovalSig, sig) {
		t.Fatal("approval signature not persisted")
	}
}

func TestApproveWrongSignatureKeepsPending(t *testing.T) {
	m, _, _ := newMachine()
	ctx := context.Background()
	_, phonePub, _ := crypto.NewEd25519Keypair()
	otherPriv, _, _ := crypto.NewEd25519Keypair()

	rec, _ := m.Create(ctx, CreateParams{Secret: testSecret(), PhoneID: "phone-1", AgentID: "agent-1", Reason: "deploy"})
	badSig := signing.SignApproval(otherPriv, rec.Challenge)

	_, err := m.Approve(ctx, rec.ID, badSig, phonePub)
	if !fault.IsKind(err, fault.KindBadRequest) {
		t.Fatalf("want BadRequest, got %v", err)
	}
	got, _ := m.Status(ctx, rec.ID)
	if got.Status != model.StatusPending {
		t.Fatalf("record moved to %s after invalid signature", got.Status)
	}
}

func TestApproveMissing(t *testing.T) {
	m, _, _ := newMachine()
	_, phonePub, _ := crypto.NewEd25519Keypair()
	_, err := m.Approve(context.Background(), "ghost", make([]byte, 64), phonePub)
	if !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("want NotFound, got %v", err)
	}
}

func TestApproveAfterDeadlineExpires(t *testing.T) {
	m, _, clk := newMachine()
	ctx := context.Background()
	phonePriv, phonePub, _ := crypto.NewEd25519Keypair()

	rec, _ := m.Create(ctx, CreateParams{
		Secret: testSecret(), PhoneID: "phone-1", AgentID: "agent-1",
		Reason: "deploy", Timeout: time.Millisecond,
	})
	clk.advance(5 * time.Millisecond)

	sig := signing.SignApproval(phonePriv, rec.Challenge)
	_, err := m.Approve(ctx, rec.ID, sig, phonePub)
	if !fault.IsKind(err, fault.KindExpired) {
		t.Fatalf("want Expired, got %v", err)
	}

	got, err := m.Status(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusExpired || got.RespondedAt == nil {
		t.Fatalf("record %s responded_at=%v", got.Status, got.RespondedAt)
	}
}

func TestApproveAtExactDeadlineExpires(t *testing.T) {
	m, _, clk := newMachine()
	ctx := context.Background()
	phonePriv, phonePub, _ := crypto.NewEd25519Keypair()

	rec, _ := m.Create(ctx, CreateParams{
		Secret: testSecret(), PhoneID: "phone-1", AgentID: "agent-1",
		Reason: "deploy", Timeout: time.Second,
	})
	clk.advance(time.Second)

	sig := signing.SignApproval(phonePriv, rec.Challenge)
	if _, err := m.Approve(ctx, rec.ID, sig, phonePub); !fault.IsKind(err, fault.KindExpired) {
		t.Fatalf("exactly at deadline: want Expired, got %v", err)
	}
}

func TestRejectThenApproveIsAlreadyResolved(t *testing.T) {
	m, _, _ := newMachine()
	ctx := context.Background()
	phonePriv, phonePub, _ := crypto.NewEd25519Keypair()

	rec, _ := m.Create(ctx, CreateParams{Secret: testSecret(), PhoneID: "phone-1", AgentID: "agent-1", Reason: "deploy"})
	denied, err := m.Reject(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if denied.Status != model.StatusDenied || denied.RespondedAt == nil {
		t.Fatalf("reject result %+v", denied)
	}

	sig := signing.SignApproval(phonePriv, rec.Challenge)
	_, err = m.Approve(ctx, rec.ID, sig, phonePub)
	if !fault.IsKind(err, fault.KindAlreadyResolved) {
		t.Fatalf("want AlreadyResolved, got %v", err)
	}
}

func TestLazyExpiryIsIdempotent(t *testing.T) {
	m, _, clk := newMachine()
	ctx := context.Background()

	rec, _ := m.Create(ctx, CreateParams{
		Secret: testSecret(), PhoneID: "phone-1", AgentID: "agent-1",
		Reason: "deploy", Timeout: time.Millisecond,
	})
	clk.advance(time.Minute)

	first, err := m.Status(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != model.StatusExpired || first.RespondedAt == nil {
		t.Fatalf("first read: %s %v", first.Status, first.RespondedAt)
	}

	clk.advance(time.Minute)
	second, err := m.Status(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != model.StatusExpired {
		t.Fatalf("second read: %s", second.Status)
	}
	if !second.RespondedAt.Equal(*first.RespondedAt) {
		t.Fatalf("responded_at moved: %v then %v", first.RespondedAt, second.RespondedAt)
	}
}

func TestListPendingExcludesExpired(t *testing.T) {
	m, _, clk := newMachine()
	ctx := context.Background()

	short, _ := m.Create(ctx, CreateParams{
		Secret: testSecret(), PhoneID: "phone-1", AgentID: "agent-1",
		Reason: "fast", Timeout: time.Millisecond,
	})
	longer := testSecret()
	longer.ID = "sec-2"
	longer.Name = "other"
	kept, _ := m.Create(ctx, CreateParams{
		Secret: longer, PhoneID: "phone-1", AgentID: "agent-1",
		Reason: "slow", Timeout: time.Hour,
	})

	clk.advance(time.Second)
	pending, err := m.ListPending(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != kept.ID {
		t.Fatalf("pending = %+v", pending)
	}

	// The bulk pass resolved the stale one with responded_at set.
	got, _ := m.Status(ctx, short.ID)
	if got.Status != model.StatusExpired || got.RespondedAt == nil {
		t.Fatalf("stale record %s responded_at=%v", got.Status, got.RespondedAt)
	}
}

func TestConcurrentResolutionHasOneWinner(t *testing.T) {
	m, _, _ := newMachine()
	ctx := context.Background()
	phonePriv, phonePub, _ := crypto.NewEd25519Keypair()

	rec, _ := m.Create(ctx, CreateParams{Secret: testSecret(), PhoneID: "phone-1", AgentID: "agent-1", Reason: "deploy"})
	sig := signing.SignApproval(phonePriv, rec.Challenge)

	const racers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins int
	for i := 0; i < racers; i++ {
		wg.Add(1)
		approve := i%2 == 0
		go func(approve bool) {
			defer wg.Done()
			var err error
			if approve {
				_, err = m.Approve(ctx, rec.ID, sig, phonePub)
			} else {
				_, err = m.Reject(ctx, rec.ID)
			}
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !fault.IsKind(err, fault.KindAlreadyResolved) {
				t.Errorf("loser got %v, want AlreadyResolved", err)
			}
		}(approve)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("winners = %d, want 1", wins)
	}
}
