package crypto

import (
	"crypto/aes"
	"crypto/cipher"
)

// GCMSeal encrypts plaintext with AES-256-GCM in detached mode. When iv is
// nil a fresh 12-byte nonce is drawn from the CSPRNG; a caller-supplied iv
// must be exactly 12 bytes. The tag is returned separately from the
// ciphertext so the wire format can carry each field on its own.
func GCMSeal(key, plaintext, aad, iv []byte) (ct, ivOut, tag []byte, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, nil, err
	}
	if iv == nil {
		if iv, err = RandomBytes(IVSize); err != nil {
			return nil, nil, nil, err
		}
	} else if len(iv) != IVSize {
		return nil, nil, nil, failure("bad iv length")
	}
	sealed := aead.Seal(nil, iv, plaintext, aad)
	ct = sealed[:len(sealed)-TagSize]
	tag = sealed[len(sealed)-TagSize:]
	return ct, iv, tag, nil
}

// GCMOpen reverses GCMSeal. Any tampering of key, ciphertext, iv, aad, or
// tag fails atomically with ErrCryptoFailure.
func GCMOpen(key, ct, iv, aad, tag []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != IVSize || len(tag) != TagSize {
		return nil, failure("bad iv or tag length")
	}
	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	pt, err := aead.Open(nil, iv, sealed, aad)
	if err != nil {
		return nil, failure("authentication failed")
	}
	return pt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, failure("bad key length")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, failure("bad key")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, failure("gcm init")
	}
	return aead, nil
}
