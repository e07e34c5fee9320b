package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"errors"
)

// ECDSAKeyPair is a P-256 key pair used to sign installation-key
// identity-update actions (§4.2).
type ECDSAKeyPair struct {
	Private *ecdsa.PrivateKey
	Public  []byte // X9.62 uncompressed point encoding
}

// GenerateECDSAKeyPair creates a new P-256 installation signing key.
func GenerateECDSAKeyPair() (*ECDSAKeyPair, error) {
	logger := NewLogger("GenerateECDSAKeyPair")
	logger.Info("generating installation-key P-256 key pair")

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	pub := elliptic.Marshal(elliptic.P256(), priv.PublicKey.X, priv.PublicKey.Y)
	return &ECDSAKeyPair{Private: priv, Public: pub}, nil
}

// ECDSASign signs a message hash with a P-256 private key and returns an
// ASN.1 DER-encoded signature, the conventional Go ECDSA wire form.
func ECDSASign(message []byte, priv *ecdsa.PrivateKey) ([]byte, error) {
	if len(message) == 0 {
		return nil, errors.New("empty message")
	}
	digest := sha256.Sum256(message)
	return ecdsa.SignASN1(rand.Reader, priv, digest[:])
}

// ECDSAVerify checks an ASN.1 DER-encoded P-256 signature against a message
// and an uncompressed-point public key.
func ECDSAVerify(message, signature, publicKey []byte) (bool, error) {
	logger := NewLogger("ECDSAVerify")
	if len(message) == 0 {
		return false, errors.New("empty message")
	}
	x, y := elliptic.Unmarshal(elliptic.P256(), publicKey)
	if x == nil {
		logger.Debug("failed to unmarshal P-256 public key")
		return false, errors.New("invalid P-256 public key encoding")
	}
	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
	digest := sha256.Sum256(message)
	return ecdsa.VerifyASN1(pub, digest[:], signature), nil
}

// MarshalECDSAPrivateKey returns a PKCS#8 encoding suitable for storing an
// installation's ECDSA key alongside its Ed25519/NaCl material in the
// local keystore.
func MarshalECDSAPrivateKey(priv *ecdsa.PrivateKey) ([]byte, error) {
	return x509.MarshalPKCS8PrivateKey(priv)
}
