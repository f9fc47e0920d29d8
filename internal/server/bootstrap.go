package server

import (
	"context"
	"time"

	"github.com/dennisMeeQ/clavum/internal/crypto"
	"github.com/dennisMeeQ/clavum/internal/model"
	"github.com/dennisMeeQ/clavum/internal/storage"
)

// Bootstrap creates the records the retrieval flows need: a tenant with
// its long-lived X25519 keypair, plus agent and phone identities holding
// public halves only. The pairing ceremony that distributes trust is a
// separate concern; these helpers only persist what it would produce.

func CreateTenant(ctx context.Context, store storage.TenantStore, name string, now time.Time) (*model.Tenant, error) {
	priv, pub, err := crypto.NewX25519Keypair()
	if err != nil {
		return nil, err
	}
	t := &model.Tenant{
		ID:         model.NewID(),
		Name:       name,
		PrivX25519: priv,
		PubX25519:  pub,
		CreatedAt:  now,
	}
	if err := store.CreateTenant(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func RegisterAgent(ctx context.Context, store storage.IdentityStore, tenantID, id string, pubX25519, pubEd25519 []byte, now time.Time) (*model.Agent, error) {
	if id == "" {
		id = model.NewID()
	}
	a := &model.Agent{
		ID:         id,
		TenantID:   tenantID,
		PubX25519:  pubX25519,
		PubEd25519: pubEd25519,
		CreatedAt:  now,
	}
	if err := store.AddAgent(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func RegisterPhone(ctx context.Context, store storage.IdentityStore, tenantID, id string, pubX25519, pubEd25519 []byte, now time.Time) (*model.Phone, error) {
	if id == "" {
		id = model.NewID()
	}
	p := &model.Phone{
		ID:         id,
		TenantID:   tenantID,
		PubX25519:  pubX25519,
		PubEd25519: pubEd25519,
		CreatedAt:  now,
	}
	if err := store.AddPhone(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
