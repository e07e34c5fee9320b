package crypto

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/sha3"
)

// WalletAddressSize is the size in bytes of an Ethereum-style wallet address.
const WalletAddressSize = 20

// WalletAddress is a 20-byte account identifier recovered from an EIP-191
// signature (§4.2 "EIP-191-style wallet signatures").
type WalletAddress [WalletAddressSize]byte

// eip191Prefix is prepended to messages before hashing, per EIP-191.
func eip191Prefix(message []byte) []byte {
	return []byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message)))
}

// Keccak256 computes the Keccak-256 digest used throughout the wallet
// signature scheme (address derivation and EIP-191 hashing).
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// RecoverWalletAddress recovers the wallet address that produced an
// EIP-191 signature over message. signature must be 65 bytes
// (r || s || v) as produced by standard Ethereum wallets.
func RecoverWalletAddress(message, signature []byte) (WalletAddress, error) {
	logger := NewLogger("RecoverWalletAddress")
	if len(signature) != 65 {
		return WalletAddress{}, errors.New("signature must be 65 bytes (r, s, v)")
	}

	digest := Keccak256(eip191Prefix(message), message)

	recID := signature[64]
	if recID >= 27 {
		recID -= 27
	}
	if recID > 3 {
		logger.Debug("invalid recovery id")
		return WalletAddress{}, errors.New("invalid signature recovery id")
	}

	sig := make([]byte, 65)
	sig[0] = recID
	copy(sig[1:], signature[:64])

	pub, _, err := secp256k1.RecoverCompact(sig, digest)
	if err != nil {
		return WalletAddress{}, fmt.Errorf("signature recovery failed: %w", err)
	}

	uncompressed := pub.SerializeUncompressed()
	addrHash := Keccak256(uncompressed[1:])

	var addr WalletAddress
	copy(addr[:], addrHash[len(addrHash)-WalletAddressSize:])
	return addr, nil
}

// VerifyWalletSignature checks that signature over message was produced by
// the private key behind addr.
func VerifyWalletSignature(message, signature []byte, addr WalletAddress) (bool, error) {
	recovered, err := RecoverWalletAddress(message, signature)
	if err != nil {
		return false, err
	}
	return recovered == addr, nil
}
