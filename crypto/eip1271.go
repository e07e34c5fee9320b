package crypto

import "context"

// SCWOracle is the side-channel chain adapter consulted for EIP-1271
// smart-contract-wallet signature verification (§4.2). It is satisfied by
// the chainadapter package; crypto itself never talks to a chain.
type SCWOracle interface {
	// VerifySmartContractWalletSignature checks signature over digest for
	// the contract at addr, returning validity and the block at which
	// that validity was proved (§4.5 "pin the block number").
	VerifySmartContractWalletSignature(ctx context.Context, addr WalletAddress, digest, signature []byte) (valid bool, provenAtBlock uint64, err error)
}

// SCWVerifier wraps an SCWOracle for EIP-1271 checks. It does not
// implement the shared Verifier interface: VerifySCW also returns the
// proving block number.
type SCWVerifier struct {
	Oracle SCWOracle
}

// VerifySCW verifies an EIP-1271 signature and returns the block number the
// result was proven at, which callers pin for later re-verification.
func (v SCWVerifier) VerifySCW(ctx context.Context, addr WalletAddress, message, signature []byte) (bool, uint64, error) {
	digest := Keccak256(message)
	return v.Oracle.VerifySmartContractWalletSignature(ctx, addr, digest, signature)
}
