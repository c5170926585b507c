package memory

import "runtime"

// SecureZeroBytes overwrites b with zeros. Use it on key material once it has
// been consumed.
func SecureZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
