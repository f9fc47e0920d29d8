package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF derives n bytes from ikm with HKDF-SHA256.
func HKDF(ikm, salt, info []byte, n int) ([]byte, error) {
	stream := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, n)
	if _, err := io.ReadFull(stream, out); err != nil {
		return nil, failure("hkdf expand")
	}
	return out, nil
}
