package identity

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/xmtp-go/libxmtp-core/crypto"
)

var (
	ErrSequenceGap        = errors.New("identity update sequence id does not chain")
	ErrFirstUpdateInvalid = errors.New("first identity update must self-associate via creator wallet signature")
	ErrActionUnauthorized = errors.New("action is not authorized by the pre-image state")
	ErrSignatureInvalid   = errors.New("signature failed verification")
)

// CanonicalHash returns the canonical hash an update's signatures attest
// to (§4.2: "a canonical hash of the update"). It hashes the fields that
// define the update's meaning, not its signatures.
func CanonicalHash(u IdentityUpdate) []byte {
	h := sha256.New()
	h.Write(u.InboxID[:])
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], u.SequenceID)
	h.Write(seqBuf[:])
	binary.BigEndian.PutUint64(seqBuf[:], u.PreviousSequenceID)
	h.Write(seqBuf[:])
	for _, a := range u.Actions {
		h.Write([]byte{byte(a.Kind)})
		h.Write(a.Address[:])
		h.Write(a.Installation)
		h.Write(a.KeyPackage)
	}
	return h.Sum(nil)
}

// Verifiers bundles the three signature-verification implementations
// dispatched by kind (§9 "Polymorphism").
type Verifiers struct {
	Wallet      crypto.Verifier
	Installation crypto.Verifier
	SCW         *crypto.SCWVerifier
}

// DefaultVerifiers wires the EIP-191 wallet and P-256 installation verifiers;
// SCW verification requires an oracle supplied by the caller.
func DefaultVerifiers(oracle crypto.SCWOracle) Verifiers {
	return Verifiers{
		Wallet:       crypto.WalletVerifier{},
		Installation: crypto.ECDSAVerifier{},
		SCW:          &crypto.SCWVerifier{Oracle: oracle},
	}
}

// VerifyUpdate checks one update against the pre-image state (the fold of
// everything before it) per the §4.2 verification rules. It does not
// mutate state.
func VerifyUpdate(ctx context.Context, v Verifiers, preImage *AssociationState, u IdentityUpdate) error {
	if u.PreviousSequenceID == 0 {
		if preImage.LatestSequenceID != 0 {
			return ErrSequenceGap
		}
		if !updateSelfAssociates(u) {
			return ErrFirstUpdateInvalid
		}
	} else if u.PreviousSequenceID != preImage.LatestSequenceID {
		return ErrSequenceGap
	}

	hash := CanonicalHash(u)
	for _, action := range u.Actions {
		if err := authorizeAction(ctx, v, preImage, hash, action); err != nil {
			return err
		}
	}
	return nil
}

// updateSelfAssociates checks the §4.2 first-update rule: it must carry a
// wallet signature from the very address it is adding.
func updateSelfAssociates(u IdentityUpdate) bool {
	for _, action := range u.Actions {
		if action.Kind != ActionAddAddress {
			continue
		}
		for _, sig := range action.Signatures {
			if sig.Kind == crypto.SignatureKindWallet && sig.Address == action.Address {
				return true
			}
		}
	}
	return false
}

func authorizeAction(ctx context.Context, v Verifiers, preImage *AssociationState, hash []byte, action Action) error {
	switch action.Kind {
	case ActionAddAddress:
		return requireSignatureFrom(ctx, v, hash, action, action.Address)
	case ActionRevokeAddress:
		return requireRevocationAuthority(ctx, v, preImage, hash, action, action.Address)
	case ActionAddInstallation:
		return requireAnyActiveAddressSignature(ctx, v, preImage, hash, action)
	case ActionRevokeInstallation:
		return requireInstallationRevocationAuthority(ctx, v, preImage, hash, action)
	case ActionAddRecoveryAddress, ActionChangeRecoveryAddress:
		return requireAnyActiveAddressSignature(ctx, v, preImage, hash, action)
	case ActionRevokeRecoveryAddress:
		return requireAnyActiveAddressSignature(ctx, v, preImage, hash, action)
	default:
		return fmt.Errorf("%w: unknown action kind %d", ErrActionUnauthorized, action.Kind)
	}
}

func requireSignatureFrom(ctx context.Context, v Verifiers, hash []byte, action Action, addr crypto.WalletAddress) error {
	for _, sig := range action.Signatures {
		if sig.Kind != crypto.SignatureKindWallet || sig.Address != addr {
			continue
		}
		ok, err := verifySignature(ctx, v, hash, sig)
		if err == nil && ok {
			return nil
		}
	}
	return fmt.Errorf("%w: no valid signature from %x", ErrActionUnauthorized, addr)
}

// requireRevocationAuthority enforces §3 invariant (ii): revocations
// require a signature from an existing recovery address or the entity
// being revoked.
func requireRevocationAuthority(ctx context.Context, v Verifiers, preImage *AssociationState, hash []byte, action Action, addr crypto.WalletAddress) error {
	for _, sig := range action.Signatures {
		ok, err := verifySignature(ctx, v, hash, sig)
		if err != nil || !ok {
			continue
		}
		if sig.Kind == crypto.SignatureKindWallet && sig.Address == addr {
			return nil
		}
		if sig.Kind == crypto.SignatureKindWallet && preImage.IsRecoveryAddress(sig.Address) {
			return nil
		}
	}
	return fmt.Errorf("%w: revocation of %x needs its own or a recovery-address signature", ErrActionUnauthorized, addr)
}

func requireInstallationRevocationAuthority(ctx context.Context, v Verifiers, preImage *AssociationState, hash []byte, action Action) error {
	for _, sig := range action.Signatures {
		ok, err := verifySignature(ctx, v, hash, sig)
		if err != nil || !ok {
			continue
		}
		if sig.Kind == crypto.SignatureKindInstallation {
			return nil
		}
		if sig.Kind == crypto.SignatureKindWallet && preImage.IsRecoveryAddress(sig.Address) {
			return nil
		}
		if sig.Kind == crypto.SignatureKindWallet && preImage.Addresses[hexAddr(sig.Address)] {
			return nil
		}
	}
	return fmt.Errorf("%w: installation revocation needs an active or recovery signature", ErrActionUnauthorized)
}

func requireAnyActiveAddressSignature(ctx context.Context, v Verifiers, preImage *AssociationState, hash []byte, action Action) error {
	for _, sig := range action.Signatures {
		if sig.Kind == crypto.SignatureKindWallet && !preImage.Addresses[hexAddr(sig.Address)] {
			continue
		}
		ok, err := verifySignature(ctx, v, hash, sig)
		if err == nil && ok {
			return nil
		}
	}
	return fmt.Errorf("%w: no active address authorized this action", ErrActionUnauthorized)
}

func verifySignature(ctx context.Context, v Verifiers, hash []byte, sig Signature) (bool, error) {
	switch sig.Kind {
	case crypto.SignatureKindWallet:
		return v.Wallet.Verify(hash, sig.Bytes, sig.Address[:])
	case crypto.SignatureKindInstallation:
		return v.Installation.Verify(hash, sig.Bytes, sig.PublicKey)
	case crypto.SignatureKindSmartContractWallet:
		if v.SCW == nil {
			return false, errors.New("no SCW oracle configured")
		}
		ok, _, err := v.SCW.VerifySCW(ctx, sig.Address, hash, sig.Bytes)
		return ok, err
	default:
		return false, crypto.ErrUnsupportedSignatureKind
	}
}
