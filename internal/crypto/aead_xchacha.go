package crypto

import (
	xchacha "golang.org/x/crypto/chacha20poly1305"
)

// SealX encrypts with XChaCha20-Poly1305, nonce prepended. Used for the
// agent vault container at rest; wire traffic uses AES-GCM.
func SealX(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := xchacha.NewX(key)
	if err != nil {
		return nil, failure("bad key length")
	}
	nonce, err := RandomBytes(xchacha.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, aad), nil
}

// OpenX reverses SealX.
func OpenX(key, ciphertext, aad []byte) ([]byte, error) {
	aead, err := xchacha.NewX(key)
	if err != nil {
		return nil, failure("bad key length")
	}
	if len(ciphertext) < xchacha.NonceSizeX {
		return nil, failure("ciphertext too short")
	}
	nonce := ciphertext[:xchacha.NonceSizeX]
	pt, err := aead.Open(nil, nonce, ciphertext[xchacha.NonceSizeX:], aad)
	if err != nil {
		return nil, failure("authentication failed")
	}
	return pt, nil
}
