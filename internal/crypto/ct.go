package crypto

import "crypto/subtle"

// ConstantTimeEq compares a and b without leaking content timing.
// A length mismatch returns false; length itself is not treated as secret.
func ConstantTimeEq(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
