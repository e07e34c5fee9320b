package crypto

import (
	"crypto/subtle"
	"errors"
	"runtime"
)

// SecureWipe overwrites data with zeros using a constant-time XOR the
// compiler cannot optimize away (x XOR x = 0).
func SecureWipe(data []byte) error {
	if data == nil {
		return errors.New("cannot wipe nil data")
	}

	subtle.XORBytes(data, data, data)
	runtime.KeepAlive(data)

	return nil
}

// ZeroBytes erases data, discarding SecureWipe's error.
func ZeroBytes(data []byte) {
	_ = SecureWipe(data)
}

// WipeKeyPair erases a KeyPair's private key.
func WipeKeyPair(kp *KeyPair) error {
	if kp == nil {
		return errors.New("cannot wipe nil KeyPair")
	}
	return SecureWipe(kp.Private[:])
}
