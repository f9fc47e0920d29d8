package agentvault

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dennisMeeQ/clavum/internal/crypto"
	"github.com/dennisMeeQ/clavum/internal/model"
)

func newTestVault(t *testing.T) (Vault, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.vlt")
	v := New(path)
	if err := v.Create(context.Background(), []byte("correct horse battery")); err != nil {
		t.Fatal(err)
	}
	return v, path
}

func testMeta(kekSalt []byte) Meta {
	return Meta{
		SecretID: "sec-1",
		Name:     "db-pass",
		AgentID:  "agent-1",
		Tier:     model.TierRoutine,
		EphPub:   bytes.Repeat([]byte{0x03}, 32),
		KEKSalt:  kekSalt,
	}
}

func TestPutOpenRoundTrip(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()
	kek, _ := crypto.RandomBytes(crypto.KeySize)
	salt, _ := crypto.RandomBytes(crypto.KeySize)

	if err := v.Put(ctx, testMeta(salt), []byte("p@ssw0rd"), kek); err != nil {
		t.Fatal(err)
	}
	got, err := v.Open(ctx, "sec-1", kek)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "p@ssw0rd" {
		t.Fatal("round trip mismatch")
	}

	wrongKEK, _ := crypto.RandomBytes(crypto.KeySize)
	if _, err := v.Open(ctx, "sec-1", wrongKEK); err == nil {
		t.Fatal("wrong kek opened the secret")
	}
}

func TestPutRejectsDuplicate(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()
	kek, _ := crypto.RandomBytes(crypto.KeySize)
	salt, _ := crypto.RandomBytes(crypto.KeySize)

	if err := v.Put(ctx, testMeta(salt), []byte("x"), kek); err != nil {
		t.Fatal(err)
	}
	if err := v.Put(ctx, testMeta(salt), []byte("y"), kek); !errors.Is(err, ErrExists) {
		t.Fatalf("want ErrExists, got %v", err)
	}
}

func TestUnlockSurvivesRestart(t *testing.T) {
	v, path := newTestVault(t)
	ctx := context.Background()
	kek, _ := crypto.RandomBytes(crypto.KeySize)
	salt, _ := crypto.RandomBytes(crypto.KeySize)

	meta := testMeta(salt)
	if err := v.Put(ctx, meta, []byte("persisted"), kek); err != nil {
		t.Fatal(err)
	}
	v.Lock()

	reopened := New(path)
	if err := reopened.Unlock(ctx, []byte("correct horse battery")); err != nil {
		t.Fatal(err)
	}
	metas, err := reopened.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 1 || metas[0].SecretID != "sec-1" {
		t.Fatalf("metas = %+v", metas)
	}
	if !bytes.Equal(metas[0].KEKSalt, salt) || !bytes.Equal(metas[0].EphPub, meta.EphPub) {
		t.Fatal("wrap material not persisted")
	}
	got, err := reopened.Open(ctx, "sec-1", kek)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "persisted" {
		t.Fatal("round trip after restart mismatch")
	}
}

func TestUnlockWrongPassphraseFails(t *testing.T) {
	v, path := newTestVault(t)
	v.Lock()

	reopened := New(path)
	if err := reopened.Unlock(context.Background(), []byte("wrong")); err == nil {
		t.Fatal("wrong passphrase unlocked the vault")
	}
}

func TestLockedVaultRefusesEverything(t *testing.T) {
	v, _ := newTestVault(t)
	v.Lock()
	ctx := context.Background()
	kek := make([]byte, crypto.KeySize)

	if err := v.Put(ctx, testMeta(kek), []byte("x"), kek); !errors.Is(err, ErrNotUnlocked) {
		t.Fatalf("put: want ErrNotUnlocked, got %v", err)
	}
	if _, err := v.Open(ctx, "sec-1", kek); !errors.Is(err, ErrNotUnlocked) {
		t.Fatalf("open: want ErrNotUnlocked, got %v", err)
	}
	if _, err := v.List(ctx); !errors.Is(err, ErrNotUnlocked) {
		t.Fatalf("list: want ErrNotUnlocked, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()
	kek, _ := crypto.RandomBytes(crypto.KeySize)
	salt, _ := crypto.RandomBytes(crypto.KeySize)

	if err := v.Put(ctx, testMeta(salt), []byte("x"), kek); err != nil {
		t.Fatal(err)
	}
	if err := v.Delete(ctx, "sec-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Open(ctx, "sec-1", kek); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := v.Delete(ctx, "sec-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete: want ErrNotFound, got %v", err)
	}
}
