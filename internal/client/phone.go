package client

import (
	"context"
	"crypto/ed25519"
	"net/http"
	"time"

	"github.com/dennisMeeQ/clavum/internal/authgate"
	"github.com/dennisMeeQ/clavum/internal/crypto"
	"github.com/dennisMeeQ/clavum/internal/model"
	"github.com/dennisMeeQ/clavum/internal/signing"
)

// Phone drives the phone-side API: listing pending consent requests,
// signing challenges, contributing the critical-tier key leg.
type Phone struct {
	s         *signer
	signKey   ed25519.PrivateKey
	xPriv     []byte
	serverPub []byte
}

func NewPhone(base, phoneID string, signKey ed25519.PrivateKey, xPriv, serverPub []byte, hc *http.Client, now func() time.Time) *Phone {
	return &Phone{
		s:         newSigner(base, authgate.HeaderPhoneID, phoneID, signKey, hc, now),
		signKey:   signKey,
		xPriv:     xPriv,
		serverPub: serverPub,
	}
}

type PendingApproval struct {
	ID        string
	SecretID  string
	Reason    string
	Tier      model.Tier
	Challenge []byte
	CreatedAt string
	ExpiresAt string
}

func (p *Phone) ListPending(ctx context.Context) ([]PendingApproval, error) {
	var out struct {
		Approvals []struct {
			ID        string `json:"id"`
			SecretID  string `json:"secret_id"`
			Reason    string `json:"reason"`
			Tier      string `json:"tier"`
			Challenge string `json:"challenge"`
			CreatedAt string `json:"created_at"`
			ExpiresAt string `json:"expires_at"`
		} `json:"approvals"`
	}
	if _, err := p.s.do(ctx, http.MethodGet, "/api/approvals/pending", "", nil, &out); err != nil {
		return nil, err
	}
	approvals := make([]PendingApproval, 0, len(out.Approvals))
	for _, a := range out.Approvals {
		challenge, err := crypto.FromB64URL(a.Challenge)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, PendingApproval{
			ID: a.ID, SecretID: a.SecretID, Reason: a.Reason,
			Tier: model.Tier(a.Tier), Challenge: challenge,
			CreatedAt: a.CreatedAt, ExpiresAt: a.ExpiresAt,
		})
	}
	return approvals, nil
}

type Resolution struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RespondedAt string `json:"responded_at"`
}

// Approve signs the stored challenge to consent. For a critical-tier
// request the phone also submits its ECDH leg with the server; the leg
// is zeroized before returning.
func (p *Phone) Approve(ctx context.Context, a PendingApproval) (*Resolution, error) {
	sig := signing.SignApproval(p.signKey, a.Challenge)
	body := map[string]string{"signature": crypto.ToB64URL(sig)}

	if a.Tier == model.TierCritical {
		kPhone, err := crypto.X25519Shared(p.xPriv, p.serverPub)
		if err != nil {
			return nil, err
		}
		body["k_phone"] = crypto.ToB64URL(kPhone)
		crypto.Zero(kPhone)
	}

	var out Resolution
	if _, err := p.s.do(ctx, http.MethodPost, "/api/approvals/"+a.ID+"/approve", "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ApproveRaw posts an arbitrary signature and no k_phone field; tests use
// it to exercise the approve endpoint's rejection paths.
func (p *Phone) ApproveRaw(ctx context.Context, id string, sig []byte) (*Resolution, error) {
	var out Resolution
	if _, err := p.s.do(ctx, http.MethodPost, "/api/approvals/"+id+"/approve", "", map[string]string{
		"signature": crypto.ToB64URL(sig),
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Phone) Reject(ctx context.Context, id string) (*Resolution, error) {
	var out Resolution
	if _, err := p.s.do(ctx, http.MethodPost, "/api/approvals/"+id+"/reject", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
