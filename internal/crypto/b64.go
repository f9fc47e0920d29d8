package crypto

import "encoding/base64"

// ToB64URL encodes bytes as base64url without padding, the only byte
// encoding that crosses the wire.
func ToB64URL(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// FromB64URL decodes an unpadded base64url string.
func FromB64URL(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, failure("bad base64url")
	}
	return b, nil
}
