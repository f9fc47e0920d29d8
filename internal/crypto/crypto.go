// Package crypto is the primitive layer: every key exchange, signature,
// AEAD, hash, and random draw the rest of the system composes goes through
// here. Outputs are raw byte slices; encoding happens at the wire boundary.
package crypto

import (
	"errors"
	"fmt"
)

const (
	// KeySize is the byte length of every symmetric key, X25519 key half,
	// and Ed25519 public key in the system.
	KeySize = 32
	// IVSize is the AES-GCM nonce length.
	IVSize = 12
	// TagSize is the AES-GCM authentication tag length.
	TagSize = 16
	// SigSize is the Ed25519 signature length.
	SigSize = 64
)

// ErrCryptoFailure is the single failure kind this layer surfaces: tag
// mismatch, invalid point, wrong key length, undecodable input. Callers
// classify with errors.Is and never learn which check tripped.
var ErrCryptoFailure = errors.New("crypto: operation failed")

func failure(msg string) error {
	return fmt.Errorf("crypto: %s: %w", msg, ErrCryptoFailure)
}
