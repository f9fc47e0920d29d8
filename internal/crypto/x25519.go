package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
)

// NewX25519Keypair generates an RFC 7748 keypair and returns the raw
// 32-byte private and public halves.
func NewX25519Keypair() (priv, pub []byte, err error) {
	key, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return key.Bytes(), key.PublicKey().Bytes(), nil
}

// X25519Public returns the public half for a raw 32-byte private key.
func X25519Public(priv []byte) ([]byte, error) {
	key, err := ecdh.X25519().NewPrivateKey(priv)
	if err != nil {
		return nil, failure("bad x25519 private key")
	}
	return key.PublicKey().Bytes(), nil
}

// X25519Shared computes the shared secret between a raw private key and a
// peer public key. Low-order and non-canonical peer points fail; the
// all-zero output is rejected by the underlying implementation.
func X25519Shared(priv, peerPub []byte) ([]byte, error) {
	key, err := ecdh.X25519().NewPrivateKey(priv)
	if err != nil {
		return nil, failure("bad x25519 private key")
	}
	peer, err := ecdh.X25519().NewPublicKey(peerPub)
	if err != nil {
		return nil, failure("bad x25519 public key")
	}
	// Canonical encodings have the top bit clear and a u-coordinate below
	// p = 2^255 - 19 (little-endian: ed ff .. ff 7f).
	atLeastP := peerPub[31] == 0x7f && peerPub[0] >= 0xed
	for _, b := range peerPub[1:31] {
		atLeastP = atLeastP && b == 0xff
	}
	if peerPub[31]&0x80 != 0 || atLeastP {
		return nil, failure("non-canonical x25519 public key")
	}
	shared, err := key.ECDH(peer)
	if err != nil {
		return nil, failure("x25519 agreement")
	}
	return shared, nil
}
