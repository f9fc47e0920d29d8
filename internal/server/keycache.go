package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dennisMeeQ/clavum/internal/crypto"
	"github.com/dennisMeeQ/clavum/internal/fault"
	"github.com/dennisMeeQ/clavum/internal/storage"
)

// keyCache holds tenant X25519 private keys in memory with a bounded TTL.
// Keys are read-many, write-never after provisioning. Evicted and
// replaced buffers are zeroized; Close zeroizes everything.
type keyCache struct {
	mu      sync.Mutex
	tenants storage.TenantStore
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*keyEntry
}

type keyEntry struct {
	priv    []byte
	expires time.Time
}

func newKeyCache(tenants storage.TenantStore, ttl time.Duration, now func() time.Time) *keyCache {
	return &keyCache{
		tenants: tenants,
		ttl:     ttl,
		now:     now,
		entries: map[string]*keyEntry{},
	}
}

// privateKey returns a fresh copy of the tenant's X25519 private key.
// The caller owns the copy and must zeroize it.
func (c *keyCache) privateKey(ctx context.Context, tenantID string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[tenantID]; ok {
		if now.Before(e.expires) {
			return append([]byte(nil), e.priv...), nil
		}
		c.evictLocked(tenantID)
	}

	t, err := c.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fault.New(fault.KindInternal, "tenant key missing")
		}
		return nil, fault.Wrap(fault.KindInternal, "load tenant key", err)
	}
	priv := append([]byte(nil), t.PrivX25519...)
	crypto.Zero(t.PrivX25519)
	_ = crypto.LockMemory(priv)
	c.entries[tenantID] = &keyEntry{priv: priv, expires: now.Add(c.ttl)}
	return append([]byte(nil), priv...), nil
}

func (c *keyCache) evictLocked(tenantID string) {
	if e, ok := c.entries[tenantID]; ok {
		crypto.Zero(e.priv)
		_ = crypto.UnlockMemory(e.priv)
		delete(c.entries, tenantID)
	}
}

func (c *keyCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entries {
		c.evictLocked(id)
	}
}
