package crypto

import (
	"bytes"
	"testing"
)

func FuzzGCMSealOpen(f *testing.F) {
	f.Add([]byte("hello"), []byte("aad"))
	f.Add([]byte{}, []byte{})
	f.Add([]byte{0xff, 0x00, 0x10}, []byte("x"))

	key := bytes.Repeat([]byte{0x0b}, KeySize)
	f.Fuzz(func(t *testing.T, plaintext, aad []byte) {
		ct, iv, tag, err := GCMSeal(key, plaintext, aad, nil)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		pt, err := GCMOpen(key, ct, iv, aad, tag)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if !bytes.Equal(pt, plaintext) {
			t.Fatal("round trip mismatch")
		}
	})
}

func FuzzGCMOpenGarbage(f *testing.F) {
	f.Add([]byte("garbage ciphertext"), []byte("garbage tag"))

	key := bytes.Repeat([]byte{0x0c}, KeySize)
	iv := bytes.Repeat([]byte{0x01}, IVSize)
	f.Fuzz(func(t *testing.T, ct, tagSeed []byte) {
		tag := make([]byte, TagSize)
		copy(tag, tagSeed)
		// Arbitrary input must never open; it can only fail cleanly.
		if pt, err := GCMOpen(key, ct, iv, nil, tag); err == nil {
			t.Fatalf("garbage opened to %q", pt)
		}
	})
}
