package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
)

// NewEd25519Keypair generates an RFC 8032 signing keypair.
func NewEd25519Keypair() (ed25519.PrivateKey, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	return priv, pub, err
}

// SignEd25519 produces a deterministic 64-byte signature over msg.
func SignEd25519(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// VerifyEd25519 reports whether sig is a valid signature of msg under pub.
// Malformed keys or signatures simply verify false.
func VerifyEd25519(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != SigSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}
