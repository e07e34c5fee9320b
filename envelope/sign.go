package envelope

import (
	"fmt"

	"github.com/xmtp-go/libxmtp-core/crypto"
)

// WrapClient signs an encoded ClientEnvelope with the payer's key and
// produces the PayerEnvelope that gets published (§4.11 "Sign outbound
// client envelopes, wrap in payer envelope").
func WrapClient(clientEnvelope ClientEnvelope, payerPrivate [32]byte, targetOriginator, retentionDays uint32) (*PayerEnvelope, error) {
	encoded := EncodeClientEnvelope(clientEnvelope)
	sig, err := crypto.Sign(encoded, payerPrivate)
	if err != nil {
		return nil, fmt.Errorf("signing client envelope: %w", err)
	}
	return &PayerEnvelope{
		UnsignedClientEnvelope: encoded,
		PayerSignature:         sig[:],
		TargetOriginator:       targetOriginator,
		MessageRetentionDays:   retentionDays,
	}, nil
}

// VerifyPayer checks the payer's signature over a PayerEnvelope's
// unsigned client envelope bytes.
func VerifyPayer(pe *PayerEnvelope, payerPublic [32]byte) (bool, error) {
	var sig crypto.Signature
	if len(pe.PayerSignature) != len(sig) {
		return false, fmt.Errorf("invalid payer signature length %d", len(pe.PayerSignature))
	}
	copy(sig[:], pe.PayerSignature)
	return crypto.Verify(pe.UnsignedClientEnvelope, sig, payerPublic)
}

// UnwrapClient decodes the ClientEnvelope carried by a PayerEnvelope
// after its signature has been verified.
func UnwrapClient(pe *PayerEnvelope) (ClientEnvelope, error) {
	return DecodeClientEnvelope(pe.UnsignedClientEnvelope)
}

// VerifyOriginator checks an OriginatorEnvelope's proof. Only the
// Ed25519 OriginatorSignature case is verified cryptographically; a
// BlockchainProof is accepted whenever its ChainRef is non-empty, and no
// chain lookup is made (the originator itself being an external backend
// node is out of scope, §1).
func VerifyOriginator(oe *OriginatorEnvelope, originatorPublic [32]byte) (bool, error) {
	switch oe.Proof.Kind {
	case ProofOriginatorSignature:
		var sig crypto.Signature
		if len(oe.Proof.Signature) != len(sig) {
			return false, fmt.Errorf("invalid originator signature length %d", len(oe.Proof.Signature))
		}
		copy(sig[:], oe.Proof.Signature)
		return crypto.Verify(oe.UnsignedOriginatorEnvelope, sig, originatorPublic)
	case ProofBlockchain:
		return len(oe.Proof.ChainRef) > 0, nil
	default:
		return false, fmt.Errorf("unknown proof kind %d", oe.Proof.Kind)
	}
}
