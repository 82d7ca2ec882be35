// Package security provides the crypto and file primitives behind the
// fieldid credential store: key generation and derivation, authenticated
// encryption, atomic secret files, advisory locks, and rate limiting.
package security

import "runtime"

// Wipe overwrites a byte slice with zeros.
func Wipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
	runtime.KeepAlive(data)
}
