// Package identity implements the inbox association-state graph (§4.2):
// an append-only log of identity updates per inbox, and the deterministic
// fold of that log into the set of active wallet addresses, installations,
// and recovery addresses.
package identity

import (
	"time"

	"github.com/xmtp-go/libxmtp-core/crypto"
)

// InboxID is the stable 32-byte identity hash (§3 "Inbox").
type InboxID [32]byte

// InstallationID is a device-local signing key's public bytes (§3
// "Installation").
type InstallationID []byte

// ActionKind tags the action performed by one entry within an
// IdentityUpdate (§4.2 "Each action within an update lists the
// signatures attesting to it").
type ActionKind uint8

const (
	ActionAddAddress ActionKind = iota
	ActionRevokeAddress
	ActionAddInstallation
	ActionRevokeInstallation
	ActionAddRecoveryAddress
	ActionRevokeRecoveryAddress
	ActionChangeRecoveryAddress
)

// SignatureKind mirrors crypto.SignatureKind for the three schemes an
// action's attesting signature may use.
type SignatureKind = crypto.SignatureKind

// Signature is one attestation over an update's canonical hash.
type Signature struct {
	Kind      SignatureKind
	Address   crypto.WalletAddress // populated for wallet / SCW kinds
	PublicKey []byte                // populated for installation-key kind
	Bytes     []byte
	// Block is set only for SignatureKindSmartContractWallet (§4.2
	// "SCW signatures pin the block number").
	Block uint64
}

// Action is a single mutation within an identity update, plus the
// signatures authorizing it.
type Action struct {
	Kind       ActionKind
	Address    crypto.WalletAddress // for Add/RevokeAddress, Add/RevokeRecoveryAddress
	Installation InstallationID       // for Add/RevokeInstallation
	KeyPackage []byte                // public key-package bytes, for AddInstallation
	Signatures []Signature
}

// IdentityUpdate is one append-only log entry owned by an Inbox (§3, §4.2).
type IdentityUpdate struct {
	InboxID            InboxID
	SequenceID         uint64
	PreviousSequenceID uint64
	Actions            []Action
	CreatedAtNs        int64
}

// Installation is a device-local key pair plus lifecycle state (§3
// "Installation"). Its status/timestamp tracking follows the same shape
// the teacher uses for a peer's online/connection status.
type Installation struct {
	ID           InstallationID
	InboxID      InboxID
	Revoked      bool
	CreatedAt    time.Time
	RevokedAt    time.Time
	timeProvider crypto.TimeProvider
}

// NewInstallation creates a freshly-provisioned, active installation
// record. Actual key generation happens in crypto/keypackage; this struct
// tracks the installation's place in the identity graph.
func NewInstallation(id InstallationID, inbox InboxID) *Installation {
	return NewInstallationWithTimeProvider(id, inbox, crypto.GetDefaultTimeProvider())
}

// NewInstallationWithTimeProvider allows deterministic tests to control
// CreatedAt.
func NewInstallationWithTimeProvider(id InstallationID, inbox InboxID, tp crypto.TimeProvider) *Installation {
	if tp == nil {
		tp = crypto.GetDefaultTimeProvider()
	}
	return &Installation{
		ID:           id,
		InboxID:      inbox,
		CreatedAt:    tp.Now(),
		timeProvider: tp,
	}
}

// Revoke marks the installation revoked. Per §3 "Installation" lifecycle:
// on revocation the local DB becomes read-only and all outbound sends
// fail; that enforcement lives in the client/store layer which consults
// IsActive.
func (in *Installation) Revoke() {
	tp := in.timeProvider
	if tp == nil {
		tp = crypto.GetDefaultTimeProvider()
	}
	in.Revoked = true
	in.RevokedAt = tp.Now()
}

// IsActive reports whether the installation may still send.
func (in *Installation) IsActive() bool {
	return !in.Revoked
}
