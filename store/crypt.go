package store

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/xmtp-go/libxmtp-core/crypto"
)

// FieldEncryptor seals/opens the key-package private bytes with NaCl
// secretbox (message content is stored as the ciphertext the group layer
// hands in, without a second seal), keyed by a
// KDF over the installation's signing key (§4.1 "database encryption is
// transparent to callers"; see DESIGN.md for why this is field-level
// rather than whole-file SQLCipher encryption).
type FieldEncryptor struct {
	key [32]byte
}

// NewFieldEncryptor derives an encryptor from an installation's signing
// private key and a persisted per-database salt.
func NewFieldEncryptor(installationSigningKey, salt []byte) *FieldEncryptor {
	key := crypto.DeriveStoreKey(installationSigningKey, salt)
	return &FieldEncryptor{key: key}
}

// Seal encrypts plaintext, returning nonce||ciphertext.
func (fe *FieldEncryptor) Seal(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], plaintext, &nonce, &fe.key)
	return out, nil
}

// Open decrypts data previously produced by Seal.
func (fe *FieldEncryptor) Open(data []byte) ([]byte, error) {
	if len(data) < 24 {
		return nil, errors.New("ciphertext too short")
	}
	var nonce [24]byte
	copy(nonce[:], data[:24])
	plaintext, ok := secretbox.Open(nil, data[24:], &nonce, &fe.key)
	if !ok {
		return nil, errors.New("field decryption failed: wrong key or corrupted data")
	}
	return plaintext, nil
}
