package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmtp-go/libxmtp-core/crypto"
)

// alwaysVerifier stands in for real signature verification so these
// tests exercise VerifyUpdate's chaining/authorization rules without
// needing a genuine wallet or installation keypair.
type alwaysVerifier struct{ ok bool }

func (a alwaysVerifier) Verify(message, signature, publicKey []byte) (bool, error) {
	return a.ok, nil
}

func permissiveVerifiers() Verifiers {
	return Verifiers{Wallet: alwaysVerifier{ok: true}, Installation: alwaysVerifier{ok: true}}
}

func selfAssociatingUpdate(inbox InboxID, addr crypto.WalletAddress) IdentityUpdate {
	return IdentityUpdate{
		InboxID:    inbox,
		SequenceID: 1,
		Actions: []Action{{
			Kind:       ActionAddAddress,
			Address:    addr,
			Signatures: []Signature{{Kind: crypto.SignatureKindWallet, Address: addr}},
		}},
	}
}

func TestVerifyUpdateAcceptsValidFirstUpdate(t *testing.T) {
	inbox := testInboxID(1)
	addr := testWalletAddress(1)
	u := selfAssociatingUpdate(inbox, addr)
	preImage := Fold(inbox, nil)

	err := VerifyUpdate(context.Background(), permissiveVerifiers(), preImage, u)
	assert.NoError(t, err)
}

func TestVerifyUpdateRejectsFirstUpdateWithoutSelfAssociation(t *testing.T) {
	inbox := testInboxID(1)
	addr := testWalletAddress(1)
	u := IdentityUpdate{InboxID: inbox, SequenceID: 1, Actions: []Action{{Kind: ActionAddAddress, Address: addr}}}
	preImage := Fold(inbox, nil)

	err := VerifyUpdate(context.Background(), permissiveVerifiers(), preImage, u)
	assert.ErrorIs(t, err, ErrFirstUpdateInvalid)
}

func TestVerifyUpdateRejectsSequenceGap(t *testing.T) {
	inbox := testInboxID(1)
	addr := testWalletAddress(1)
	u := IdentityUpdate{InboxID: inbox, SequenceID: 5, PreviousSequenceID: 3, Actions: []Action{
		{Kind: ActionAddAddress, Address: addr, Signatures: []Signature{{Kind: crypto.SignatureKindWallet, Address: addr}}},
	}}
	preImage := Fold(inbox, nil) // LatestSequenceID == 0

	err := VerifyUpdate(context.Background(), permissiveVerifiers(), preImage, u)
	assert.ErrorIs(t, err, ErrSequenceGap)
}

func TestVerifyUpdateRejectsAddressActionWithInvalidSignature(t *testing.T) {
	inbox := testInboxID(1)
	addr := testWalletAddress(1)
	u := IdentityUpdate{InboxID: inbox, SequenceID: 1, Actions: []Action{
		{Kind: ActionAddAddress, Address: addr, Signatures: []Signature{{Kind: crypto.SignatureKindWallet, Address: addr}}},
	}}
	preImage := Fold(inbox, nil)

	err := VerifyUpdate(context.Background(), Verifiers{Wallet: alwaysVerifier{ok: false}}, preImage, u)
	assert.ErrorIs(t, err, ErrActionUnauthorized)
}

// §3 invariant (ii): a revocation needs a signature from the entity
// itself or a recovery address, not from an arbitrary active address.
func TestVerifyUpdateRevocationRequiresOwnOrRecoverySignature(t *testing.T) {
	inbox := testInboxID(1)
	owner := testWalletAddress(1)
	other := testWalletAddress(2)

	preImage := Fold(inbox, []IdentityUpdate{selfAssociatingUpdate(inbox, owner)})
	preImage.Addresses[hexAddr(other)] = true // a second active address, but not a recovery address

	revoke := IdentityUpdate{
		InboxID: inbox, SequenceID: 2, PreviousSequenceID: 1,
		Actions: []Action{{
			Kind:       ActionRevokeAddress,
			Address:    owner,
			Signatures: []Signature{{Kind: crypto.SignatureKindWallet, Address: other}},
		}},
	}

	err := VerifyUpdate(context.Background(), permissiveVerifiers(), preImage, revoke)
	assert.ErrorIs(t, err, ErrActionUnauthorized)
}

func TestCanonicalHashIsStableForSameInput(t *testing.T) {
	inbox := testInboxID(1)
	addr := testWalletAddress(1)
	u := selfAssociatingUpdate(inbox, addr)
	require.Equal(t, CanonicalHash(u), CanonicalHash(u))
}

func TestCanonicalHashDiffersOnSequence(t *testing.T) {
	inbox := testInboxID(1)
	addr := testWalletAddress(1)
	a := selfAssociatingUpdate(inbox, addr)
	b := a
	b.SequenceID = 2
	assert.NotEqual(t, CanonicalHash(a), CanonicalHash(b))
}
