// Package flows composes the primitive layer into the tier-specific key
// derivations and the DEK/secret envelope operations. All KEKs are 32
// bytes and exist only for the duration of a call; every function here
// zeroizes its intermediate shared secrets on all exit paths.
package flows

import (
	"github.com/dennisMeeQ/clavum/internal/crypto"
)

const kekInfoPrefix = "clavum-kek-v1"

// KEKInfo is the HKDF info parameter: the ASCII prefix concatenated with
// the literal secret id bytes.
func KEKInfo(secretID string) []byte {
	return append([]byte(kekInfoPrefix), secretID...)
}

// AAD is the additional authenticated data bound into every DEK wrap and
// secret encryption: secret_id || tier || agent_id, UTF-8, no delimiter.
// The encoding is part of the wire contract.
func AAD(secretID, tier, agentID string) []byte {
	out := make([]byte, 0, len(secretID)+len(tier)+len(agentID))
	out = append(out, secretID...)
	out = append(out, tier...)
	out = append(out, agentID...)
	return out
}

// GreenKEK derives the routine-tier KEK. X25519 is commutative, so the
// agent calls this with (eph_priv, server_pub) and the server with
// (server_priv, eph_pub) and both land on the same key.
func GreenKEK(priv, peerPub, kekSalt []byte, secretID string) ([]byte, error) {
	shared, err := crypto.X25519Shared(priv, peerPub)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(shared)
	return crypto.HKDF(shared, kekSalt, KEKInfo(secretID), crypto.KeySize)
}

// RedKEK derives the critical-tier KEK from both the agent and phone
// ECDH legs, with the approval challenge as the HKDF salt so every
// retrieval yields a unique key.
func RedKEK(serverPriv, agentPub, phonePub, challenge []byte, secretID string) ([]byte, error) {
	kAgent, err := crypto.X25519Shared(serverPriv, agentPub)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(kAgent)
	kPhone, err := crypto.X25519Shared(serverPriv, phonePub)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(kPhone)

	ikm := make([]byte, 0, len(kAgent)+len(kPhone))
	ikm = append(ikm, kAgent...)
	ikm = append(ikm, kPhone...)
	defer crypto.Zero(ikm)

	return crypto.HKDF(ikm, challenge, KEKInfo(secretID), crypto.KeySize)
}

// WrapDEK encrypts a DEK under a KEK with a fresh IV.
func WrapDEK(kek, dek, aad []byte) (ct, iv, tag []byte, err error) {
	return crypto.GCMSeal(kek, dek, aad, nil)
}

// UnwrapDEK reverses WrapDEK; all of (kek, iv, aad, tag) must match.
func UnwrapDEK(kek, ct, iv, aad, tag []byte) ([]byte, error) {
	return crypto.GCMOpen(kek, ct, iv, aad, tag)
}

// EncryptSecret encrypts a secret's plaintext under its DEK.
func EncryptSecret(dek, plaintext, aad []byte) (ct, iv, tag []byte, err error) {
	return crypto.GCMSeal(dek, plaintext, aad, nil)
}

// DecryptSecret reverses EncryptSecret.
func DecryptSecret(dek, ct, iv, aad, tag []byte) ([]byte, error) {
	return crypto.GCMOpen(dek, ct, iv, aad, tag)
}
