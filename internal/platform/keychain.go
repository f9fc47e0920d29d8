package platform

import (
	"os"
	"path/filepath"
)

// Keychain stores an identity's private keys at rest. The file
// implementation keeps them 0600 under a single directory; an OS
// keystore can replace it behind the same interface.
type Keychain interface {
	Store(keyID string, priv []byte) error
	Load(keyID string) ([]byte, error)
}

type fileKeychain struct{ dir string }

func NewFileKeychain(dir string) (Keychain, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return fileKeychain{dir: dir}, nil
}

func (f fileKeychain) Store(keyID string, priv []byte) error {
	return os.WriteFile(filepath.Join(f.dir, keyID+".key"), priv, 0o600)
}

func (f fileKeychain) Load(keyID string) ([]byte, error) {
	return os.ReadFile(filepath.Join(f.dir, keyID+".key"))
}
