package signing

import (
	"crypto/ed25519"

	"github.com/dennisMeeQ/clavum/internal/crypto"
)

// ChallengeNonceSize is the random prefix length of an approval challenge.
const ChallengeNonceSize = 32

// BuildChallenge constructs the byte string a phone signs to consent to a
// specific (secret, reason): random32 || secret_id || sha256(reason).
// A nil nonce draws from the CSPRNG; tests pass an explicit one for
// determinism. Two calls with identical inputs yield distinct challenges.
func BuildChallenge(secretID, reason string, nonce []byte) ([]byte, error) {
	if nonce == nil {
		var err error
		nonce, err = crypto.RandomBytes(ChallengeNonceSize)
		if err != nil {
			return nil, err
		}
	} else if len(nonce) != ChallengeNonceSize {
		return nil, crypto.ErrCryptoFailure
	}
	reasonHash := crypto.SHA256([]byte(reason))
	out := make([]byte, 0, len(nonce)+len(secretID)+len(reasonHash))
	out = append(out, nonce...)
	out = append(out, secretID...)
	out = append(out, reasonHash...)
	return out, nil
}

// SignApproval produces the phone's consent signature over a challenge.
func SignApproval(priv ed25519.PrivateKey, challenge []byte) []byte {
	return crypto.SignEd25519(priv, challenge)
}

// VerifyApproval checks a consent signature with the phone's registered
// public key.
func VerifyApproval(pub ed25519.PublicKey, challenge, sig []byte) bool {
	return crypto.VerifyEd25519(pub, challenge, sig)
}
