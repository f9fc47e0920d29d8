// Package audit records every terminal retrieval outcome. Entries are
// append-only and hash-chained per tenant: each entry's hash covers the
// previous hash and the entry payload, so removing or rewriting an entry
// of a tenant's log is detectable with Verify. Dropping entries from the
// end of the log is not: the shortened chain still verifies.
package audit

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/dennisMeeQ/clavum/internal/crypto"
	"github.com/dennisMeeQ/clavum/internal/model"
	"github.com/dennisMeeQ/clavum/internal/storage"
)

type Recorder struct {
	store  storage.AuditStore
	now    func() time.Time
	logger *log.Logger

	// Serializes chain extension; the store itself stays append-only.
	mu sync.Mutex
}

func NewRecorder(store storage.AuditStore, now func() time.Time, logger *log.Logger) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{store: store, now: now, logger: logger}
}

// Event is one terminal outcome. Started is when the coordinator entered;
// latency is measured from there to the audit write.
type Event struct {
	TenantID string
	AgentID  string
	SecretID string
	Reason   string
	Tier     model.Tier
	Result   model.AuditResult
	Proof    []byte
	Started  time.Time
}

// Record appends an entry. A failed append is the caller's signal to
// withhold key material.
func (r *Recorder) Record(ctx context.Context, ev Event) (*model.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, err := r.store.LastAuditHash(ctx, ev.TenantID)
	if err != nil {
		return nil, err
	}
	now := r.now()
	entry := &model.AuditEntry{
		ID:        model.NewID(),
		TenantID:  ev.TenantID,
		AgentID:   ev.AgentID,
		SecretID:  ev.SecretID,
		Reason:    ev.Reason,
		Tier:      ev.Tier,
		Result:    ev.Result,
		CreatedAt: now,
		Proof:     ev.Proof,
		PrevHash:  prev,
	}
	if !ev.Started.IsZero() {
		entry.LatencyMS = now.Sub(ev.Started).Milliseconds()
	}
	entry.Hash = entryHash(entry)

	if err := r.store.AppendAudit(ctx, entry); err != nil {
		return nil, err
	}
	if r.logger != nil {
		r.logger.Printf("audit %s secret=%s result=%s latency=%dms", entry.ID, entry.SecretID, entry.Result, entry.LatencyMS)
	}
	return entry, nil
}

// Verify walks a tenant's entries in order and checks the chain.
func Verify(entries []model.AuditEntry) error {
	var prev []byte
	for i := range entries {
		e := entries[i]
		if !crypto.ConstantTimeEq(e.PrevHash, prev) {
			return fmt.Errorf("audit: chain broken at %s", e.ID)
		}
		if !crypto.ConstantTimeEq(entryHash(&e), e.Hash) {
			return fmt.Errorf("audit: entry hash mismatch at %s", e.ID)
		}
		prev = e.Hash
	}
	return nil
}

// entryHash covers the previous hash and every recorded field, with
// length-prefixed segments so field boundaries cannot be confused.
func entryHash(e *model.AuditEntry) []byte {
	var buf []byte
	add := func(b []byte) {
		buf = strconv.AppendInt(buf, int64(len(b)), 10)
		buf = append(buf, ':')
		buf = append(buf, b...)
	}
	add(e.PrevHash)
	add([]byte(e.ID))
	add([]byte(e.TenantID))
	add([]byte(e.AgentID))
	add([]byte(e.SecretID))
	add([]byte(e.Reason))
	add([]byte(e.Tier))
	add([]byte(e.Result))
	add([]byte(strconv.FormatInt(e.CreatedAt.UnixMilli(), 10)))
	add([]byte(strconv.FormatInt(e.LatencyMS, 10)))
	add(e.Proof)
	return crypto.SHA256(buf)
}
