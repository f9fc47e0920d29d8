// Package model holds the records and closed enumerations shared by the
// stores, the approval machine, and the retrieval coordinator. Nothing in
// here carries key material except the tenant's own X25519 private half,
// which never leaves the tenant record.
package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/dennisMeeQ/clavum/internal/fault"
)

// Tier governs how many independent parties must participate in
// decrypting a secret.
type Tier string

const (
	TierRoutine   Tier = "routine"   // agent + server
	TierSensitive Tier = "sensitive" // agent + server + human signature
	TierCritical  Tier = "critical"  // agent + server + phone key contribution
)

func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierRoutine, TierSensitive, TierCritical:
		return Tier(s), nil
	default:
		return "", fault.Newf(fault.KindBadRequest, "unknown tier %q", s)
	}
}

// ApprovalStatus is a closed sum with pending as the sole non-terminal
// state.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusDenied   ApprovalStatus = "denied"
	StatusExpired  ApprovalStatus = "expired"
)

func (s ApprovalStatus) Terminal() bool { return s != StatusPending }

// AuditResult records the terminal outcome of a retrieval attempt.
type AuditResult string

const (
	ResultAutoGranted    AuditResult = "auto_granted"
	ResultHumanApproved  AuditResult = "human_approved"
	ResultDeviceUnlocked AuditResult = "device_unlocked"
	ResultDenied         AuditResult = "denied"
	ResultExpired        AuditResult = "expired"
	ResultError          AuditResult = "error"
)

// NewID mints an opaque collision-resistant identifier.
func NewID() string { return uuid.NewString() }

// Tenant is the isolation boundary. The private half of its X25519
// keypair is generated once at creation and never distributed.
type Tenant struct {
	ID         string
	Name       string
	PrivX25519 []byte
	PubX25519  []byte
	CreatedAt  time.Time
}

// Agent is a paired machine identity; the server stores public halves
// only.
type Agent struct {
	ID         string
	TenantID   string
	PubX25519  []byte
	PubEd25519 []byte
	CreatedAt  time.Time
}

// Phone is symmetric to Agent.
type Phone struct {
	ID         string
	TenantID   string
	PubX25519  []byte
	PubEd25519 []byte
	CreatedAt  time.Time
}

// SecretMetadata describes a secret. Ciphertext and wrapped DEKs live in
// the agent's local vault; the server never stores them. Tier is
// immutable after creation.
type SecretMetadata struct {
	ID        string
	TenantID  string
	AgentID   string
	Name      string
	Tier      Tier
	CreatedAt time.Time
}

// ApprovalRequest tracks one consent ceremony. Challenge is fixed at
// creation and never rewritten. EphPub and KEKSalt echo the initiating
// retrieval request so the KEK can be derived once consent lands.
type ApprovalRequest struct {
	ID          string
	TenantID    string
	PhoneID     string
	SecretID    string
	AgentID     string
	Reason      string
	Tier        Tier
	Challenge   []byte
	EphPub      []byte
	KEKSalt     []byte
	Status      ApprovalStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
	RespondedAt *time.Time
	ApprovalSig []byte
	Audited     bool
}

// NonceRecord marks "this exact signature has been observed".
type NonceRecord struct {
	Digest    string
	ExpiresAt time.Time
}

// AuditEntry is append-only. Proof optionally carries the approval
// signature; PrevHash/Hash chain the tenant's log.
type AuditEntry struct {
	ID        string
	TenantID  string
	AgentID   string
	SecretID  string
	Reason    string
	Tier      Tier
	Result    AuditResult
	CreatedAt time.Time
	LatencyMS int64
	Proof     []byte
	PrevHash  []byte
	Hash      []byte
}
