package agentvault

import (
	"context"

	"github.com/dennisMeeQ/clavum/internal/crypto"
	"github.com/dennisMeeQ/clavum/internal/flows"
)

func (v *vault) Put(ctx context.Context, meta Meta, plaintext, kek []byte) error {
	if !v.unlocked {
		return ErrNotUnlocked
	}
	if _, ok := v.dir[meta.SecretID]; ok {
		return ErrExists
	}

	dek, err := crypto.RandomBytes(crypto.KeySize)
	if err != nil {
		return err
	}
	defer crypto.Zero(dek)

	aad := flows.AAD(meta.SecretID, string(meta.Tier), meta.AgentID)

	blobCT, blobIV, blobTag, err := flows.EncryptSecret(dek, plaintext, aad)
	if err != nil {
		return err
	}
	wrapCT, wrapIV, wrapTag, err := flows.WrapDEK(kek, dek, aad)
	if err != nil {
		return err
	}

	blob := make([]byte, 0, len(blobIV)+len(blobCT)+len(blobTag))
	blob = append(blob, blobIV...)
	blob = append(blob, blobCT...)
	blob = append(blob, blobTag...)
	if err := v.blobs.Put(ctx, meta.SecretID, blob); err != nil {
		return err
	}

	v.dir[meta.SecretID] = dirEntry{
		Meta:       meta,
		DekWrapCT:  wrapCT,
		DekWrapIV:  wrapIV,
		DekWrapTag: wrapTag,
	}
	return v.flushDir()
}

func (v *vault) Open(ctx context.Context, secretID string, kek []byte) ([]byte, error) {
	if !v.unlocked {
		return nil, ErrNotUnlocked
	}
	e, ok := v.dir[secretID]
	if !ok {
		return nil, ErrNotFound
	}

	aad := flows.AAD(e.SecretID, string(e.Tier), e.AgentID)

	dek, err := flows.UnwrapDEK(kek, e.DekWrapCT, e.DekWrapIV, aad, e.DekWrapTag)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(dek)

	blob, err := v.blobs.Get(ctx, secretID)
	if err != nil {
		return nil, err
	}
	if len(blob) < crypto.IVSize+crypto.TagSize {
		return nil, crypto.ErrCryptoFailure
	}
	iv := blob[:crypto.IVSize]
	ct := blob[crypto.IVSize : len(blob)-crypto.TagSize]
	tag := blob[len(blob)-crypto.TagSize:]

	return flows.DecryptSecret(dek, ct, iv, aad, tag)
}

func (v *vault) List(ctx context.Context) ([]Meta, error) {
	if !v.unlocked {
		return nil, ErrNotUnlocked
	}
	out := make([]Meta, 0, len(v.dir))
	for _, e := range v.dir {
		out = append(out, e.Meta)
	}
	return out, nil
}

func (v *vault) Delete(ctx context.Context, secretID string) error {
	if !v.unlocked {
		return ErrNotUnlocked
	}
	if _, ok := v.dir[secretID]; !ok {
		return ErrNotFound
	}
	delete(v.dir, secretID)
	_ = v.blobs.Delete(ctx, secretID)
	return v.flushDir()
}
