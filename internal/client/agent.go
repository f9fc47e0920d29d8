package client

import (
	"context"
	"crypto/ed25519"
	"net/http"
	"net/url"
	"time"

	"github.com/dennisMeeQ/clavum/internal/authgate"
	"github.com/dennisMeeQ/clavum/internal/crypto"
	"github.com/dennisMeeQ/clavum/internal/flows"
	"github.com/dennisMeeQ/clavum/internal/model"
)

// Agent drives the agent-side API. xPriv is the agent's X25519 private
// half; serverPub is the tenant's public key distributed at pairing.
type Agent struct {
	s         *signer
	xPriv     []byte
	serverPub []byte
}

func NewAgent(base, agentID string, signKey ed25519.PrivateKey, xPriv, serverPub []byte, hc *http.Client, now func() time.Time) *Agent {
	return &Agent{
		s:         newSigner(base, authgate.HeaderAgentID, agentID, signKey, hc, now),
		xPriv:     xPriv,
		serverPub: serverPub,
	}
}

type SecretInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Tier      string `json:"tier"`
	CreatedAt string `json:"created_at"`
}

func (a *Agent) RegisterSecret(ctx context.Context, secretID, name string, tier model.Tier) (*SecretInfo, error) {
	var out SecretInfo
	_, err := a.s.do(ctx, http.MethodPost, "/api/secrets/register", "", map[string]string{
		"secret_id": secretID,
		"name":      name,
		"tier":      string(tier),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *Agent) ListSecrets(ctx context.Context) ([]SecretInfo, error) {
	var out struct {
		Secrets []SecretInfo `json:"secrets"`
	}
	if _, err := a.s.do(ctx, http.MethodGet, "/api/secrets", "", nil, &out); err != nil {
		return nil, err
	}
	return out.Secrets, nil
}

func (a *Agent) DeleteSecret(ctx context.Context, secretID string) error {
	_, err := a.s.do(ctx, http.MethodDelete, "/api/secrets/"+secretID, "", nil, nil)
	return err
}

// WrapMaterial is everything the agent fixes when it first wraps a
// secret: the ephemeral public half and salt are stored beside the
// ciphertext and echoed at every retrieval so the server can re-derive
// the same KEK. The ephemeral private half is already gone by the time
// this struct exists, which is what buys the routine tier its forward
// secrecy. The caller owns KEK and must zeroize it after wrapping.
type WrapMaterial struct {
	EphPub  []byte
	KEKSalt []byte
	KEK     []byte
}

// NewWrapMaterial draws a fresh ephemeral keypair and salt, derives the
// KEK, and wipes the ephemeral private key.
func (a *Agent) NewWrapMaterial(secretID string) (*WrapMaterial, error) {
	ephPriv, ephPub, err := crypto.NewX25519Keypair()
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(ephPriv)
	salt, err := crypto.RandomBytes(crypto.KeySize)
	if err != nil {
		return nil, err
	}
	kek, err := flows.GreenKEK(ephPriv, a.serverPub, salt, secretID)
	if err != nil {
		return nil, err
	}
	return &WrapMaterial{EphPub: ephPub, KEKSalt: salt, KEK: kek}, nil
}

// RetrieveOutcome is one retrieval attempt. For an immediate grant KEK
// holds the transport-unwrapped key; the caller owns and zeroizes it.
// A pending outcome carries the approval token to poll with.
type RetrieveOutcome struct {
	Status     string
	ApprovalID string
	ExpiresAt  string
	KEK        []byte
}

// Retrieve asks the server to re-derive the KEK from the stored
// ephemeral public key and salt, with a mandatory reason.
func (a *Agent) Retrieve(ctx context.Context, secretID, reason string, ephPub, kekSalt []byte) (*RetrieveOutcome, error) {
	var out struct {
		Status     string `json:"status"`
		ApprovalID string `json:"approval_id"`
		ExpiresAt  string `json:"expires_at"`
		EncKEK     string `json:"enc_kek"`
		EncKEKIV   string `json:"enc_kek_iv"`
		EncKEKTag  string `json:"enc_kek_tag"`
	}
	status, err := a.s.do(ctx, http.MethodPost, "/api/secrets/"+secretID+"/retrieve", "", map[string]string{
		"eph_x25519_pub": crypto.ToB64URL(ephPub),
		"kek_salt":       crypto.ToB64URL(kekSalt),
		"reason":         reason,
	}, &out)
	if err != nil {
		return nil, err
	}

	if status == http.StatusAccepted {
		return &RetrieveOutcome{
			Status:     out.Status,
			ApprovalID: out.ApprovalID,
			ExpiresAt:  out.ExpiresAt,
		}, nil
	}
	kek, err := a.unwrapKEK(out.EncKEK, out.EncKEKIV, out.EncKEKTag)
	if err != nil {
		return nil, err
	}
	return &RetrieveOutcome{Status: "granted", KEK: kek}, nil
}

// PollOutcome is one status poll. KEK is set only when the approval has
// landed; the caller owns and zeroizes it.
type PollOutcome struct {
	Status      string
	RespondedAt string
	KEK         []byte
}

func (a *Agent) PollStatus(ctx context.Context, secretID, approvalID string) (*PollOutcome, error) {
	var out struct {
		Status      string `json:"status"`
		RespondedAt string `json:"responded_at"`
		EncKEK      string `json:"enc_kek"`
		EncKEKIV    string `json:"enc_kek_iv"`
		EncKEKTag   string `json:"enc_kek_tag"`
	}
	q := url.Values{"approval_id": {approvalID}}
	if _, err := a.s.do(ctx, http.MethodGet, "/api/secrets/"+secretID+"/retrieve/status", q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	oc := &PollOutcome{Status: out.Status, RespondedAt: out.RespondedAt}
	if out.EncKEK != "" {
		kek, err := a.unwrapKEK(out.EncKEK, out.EncKEKIV, out.EncKEKTag)
		if err != nil {
			return nil, err
		}
		oc.KEK = kek
	}
	return oc, nil
}

type AuditEntry struct {
	ID        string `json:"id"`
	SecretID  string `json:"secret_id"`
	Reason    string `json:"reason"`
	Tier      string `json:"tier"`
	Result    string `json:"result"`
	CreatedAt string `json:"created_at"`
	LatencyMS int64  `json:"latency_ms"`
	Proof     string `json:"proof"`
}

func (a *Agent) Audit(ctx context.Context, secretID string) ([]AuditEntry, error) {
	var out struct {
		Entries []AuditEntry `json:"entries"`
	}
	q := url.Values{}
	if secretID != "" {
		q.Set("secret_id", secretID)
	}
	if _, err := a.s.do(ctx, http.MethodGet, "/api/audit", q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// unwrapKEK opens the transport envelope under the stable session key
// K_session = X25519(agent_priv, server_pub).
func (a *Agent) unwrapKEK(encKEK, iv, tag string) ([]byte, error) {
	ct, err := crypto.FromB64URL(encKEK)
	if err != nil {
		return nil, err
	}
	ivb, err := crypto.FromB64URL(iv)
	if err != nil {
		return nil, err
	}
	tagb, err := crypto.FromB64URL(tag)
	if err != nil {
		return nil, err
	}
	kSession, err := crypto.X25519Shared(a.xPriv, a.serverPub)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(kSession)
	return crypto.GCMOpen(kSession, ct, ivb, nil, tagb)
}
