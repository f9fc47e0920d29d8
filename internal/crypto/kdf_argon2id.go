package crypto

import "golang.org/x/crypto/argon2"

// VaultKDFParams are the argon2id parameters baked into an agent vault
// header so the same key can be re-derived at unlock.
type VaultKDFParams struct {
	M    uint32
	T    uint32
	P    uint8
	Salt []byte
}

// DefaultVaultKDF returns interactive-unlock parameters with a fresh salt.
func DefaultVaultKDF() (VaultKDFParams, error) {
	salt, err := RandomBytes(KeySize)
	if err != nil {
		return VaultKDFParams{}, err
	}
	return VaultKDFParams{M: 128 * 1024, T: 3, P: 4, Salt: salt}, nil
}

// DeriveVaultKey stretches a passphrase into the 32-byte vault key.
func DeriveVaultKey(passphrase []byte, p VaultKDFParams) []byte {
	return argon2.IDKey(passphrase, p.Salt, p.T, p.M, p.P, KeySize)
}
