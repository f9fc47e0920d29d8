package crypto

// Zero overwrites a byte slice in memory with zeros. Every function that
// materializes a KEK, DEK, or ECDH output calls this on all exit paths.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
