package krypto

// Zeroize overwrites a sensitive byte slice in place to reduce the lifetime
// of secrets in memory. Callers must not rely on garbage collection to erase
// key material.
func Zeroize(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
