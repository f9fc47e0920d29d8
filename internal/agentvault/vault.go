// Package agentvault is the agent-side local store: encrypted secret
// blobs and their KEK-wrapped DEKs, unlocked with a passphrase. The
// server never sees any of this; it only ever hands back KEKs.
package agentvault

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"

	"github.com/dennisMeeQ/clavum/internal/crypto"
	"github.com/dennisMeeQ/clavum/internal/model"
	"github.com/dennisMeeQ/clavum/internal/storage"
)

var (
	ErrNotUnlocked = errors.New("agentvault: not unlocked")
	ErrNotFound    = errors.New("agentvault: secret not found")
	ErrExists      = errors.New("agentvault: secret already stored")
)

type Vault interface {
	Create(ctx context.Context, passphrase []byte) error
	Unlock(ctx context.Context, passphrase []byte) error
	Lock()
	// Put wraps a fresh DEK under kek, encrypts plaintext under the DEK,
	// and records the kek salt needed to re-derive at retrieval time.
	Put(ctx context.Context, meta Meta, plaintext, kek []byte) error
	// Open unwraps the stored DEK with kek and decrypts the blob.
	Open(ctx context.Context, secretID string, kek []byte) ([]byte, error)
	List(ctx context.Context) ([]Meta, error)
	Delete(ctx context.Context, secretID string) error
}

// Meta is what the vault remembers about a secret besides its
// ciphertext.
type Meta struct {
	SecretID string     `json:"secret_id"`
	Name     string     `json:"name"`
	AgentID  string     `json:"agent_id"`
	Tier     model.Tier `json:"tier"`
	// EphPub and KEKSalt are fixed at wrap time and echoed on every
	// retrieval so the server can re-derive the KEK.
	EphPub  []byte `json:"eph_pub"`
	KEKSalt []byte `json:"kek_salt"`
}

type dirEntry struct {
	Meta
	DekWrapCT  []byte `json:"dek_wrap_ct"`
	DekWrapIV  []byte `json:"dek_wrap_iv"`
	DekWrapTag []byte `json:"dek_wrap_tag"`
}

type vault struct {
	path     string
	header   header
	dir      map[string]dirEntry
	unlocked bool

	vk [32]byte

	blobs storage.BlobStore
}

// New opens a vault file with a sibling blob directory.
func New(path string) Vault {
	blobDir := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".blobs")
	return NewWithBlobs(path, storage.NewFileBlobStore(blobDir))
}

func NewWithBlobs(path string, blobs storage.BlobStore) Vault {
	return &vault{path: path, blobs: blobs, dir: map[string]dirEntry{}}
}

func (v *vault) Create(ctx context.Context, passphrase []byte) error {
	kdf, err := crypto.DefaultVaultKDF()
	if err != nil {
		return err
	}
	v.header.Version = 1
	v.header.KDF = kdfHeader{Algo: "argon2id", M: kdf.M, T: kdf.T, P: kdf.P, Salt: kdf.Salt}

	vk := crypto.DeriveVaultKey(passphrase, kdf)
	copy(v.vk[:], vk)
	crypto.Zero(vk)

	v.dir = map[string]dirEntry{}
	if err := v.flushDir(); err != nil {
		v.Lock()
		return err
	}
	v.unlocked = true
	return nil
}

func (v *vault) Unlock(ctx context.Context, passphrase []byte) error {
	h, err := readHeader(v.path)
	if err != nil {
		return err
	}
	v.header = h
	kdf := crypto.VaultKDFParams{M: h.KDF.M, T: h.KDF.T, P: h.KDF.P, Salt: h.KDF.Salt}
	vk := crypto.DeriveVaultKey(passphrase, kdf)
	copy(v.vk[:], vk)
	crypto.Zero(vk)

	dirBytes, err := crypto.OpenX(v.vk[:], h.DirCipher, []byte("vault-dir"))
	if err != nil {
		v.Lock()
		return err
	}
	defer crypto.Zero(dirBytes)
	if err := json.Unmarshal(dirBytes, &v.dir); err != nil {
		v.Lock()
		return err
	}
	v.unlocked = true
	return nil
}

func (v *vault) Lock() {
	v.unlocked = false
	for i := range v.vk {
		v.vk[i] = 0
	}
	v.dir = map[string]dirEntry{}
}

func (v *vault) flushDir() error {
	dirBytes, err := json.Marshal(v.dir)
	if err != nil {
		return err
	}
	ct, err := crypto.SealX(v.vk[:], dirBytes, []byte("vault-dir"))
	crypto.Zero(dirBytes)
	if err != nil {
		return err
	}
	v.header.DirCipher = ct
	return writeHeader(v.path, v.header)
}
