package identity

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/xmtp-go/libxmtp-core/crypto"
)

// Wire encoding for IdentityUpdate, hand-built on protowire the same way
// envelope/wire.go encodes ClientEnvelope: genuine protobuf wire bytes
// without a .proto/code-generation step (§1 "generated wire serialization
// code" is out of scope).

const (
	fieldUpdateInboxID    = protowire.Number(1)
	fieldUpdateSequence   = protowire.Number(2)
	fieldUpdatePrevSeq    = protowire.Number(3)
	fieldUpdateCreatedAt  = protowire.Number(4)
	fieldUpdateAction     = protowire.Number(5)
	fieldActionKind       = protowire.Number(1)
	fieldActionAddress    = protowire.Number(2)
	fieldActionInstall    = protowire.Number(3)
	fieldActionKeyPackage = protowire.Number(4)
	fieldActionSig        = protowire.Number(5)
	fieldSigKind          = protowire.Number(1)
	fieldSigAddress       = protowire.Number(2)
	fieldSigPublicKey     = protowire.Number(3)
	fieldSigBytes         = protowire.Number(4)
	fieldSigBlock         = protowire.Number(5)
)

// EncodeIdentityUpdate serializes u to canonical wire bytes, the bytes
// store.IdentityRepo persists (CanonicalHash hashes its own field
// concatenation, not these bytes).
func EncodeIdentityUpdate(u IdentityUpdate) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldUpdateInboxID, protowire.BytesType)
	out = protowire.AppendBytes(out, u.InboxID[:])
	out = protowire.AppendTag(out, fieldUpdateSequence, protowire.VarintType)
	out = protowire.AppendVarint(out, u.SequenceID)
	out = protowire.AppendTag(out, fieldUpdatePrevSeq, protowire.VarintType)
	out = protowire.AppendVarint(out, u.PreviousSequenceID)
	out = protowire.AppendTag(out, fieldUpdateCreatedAt, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(u.CreatedAtNs))
	for _, a := range u.Actions {
		out = protowire.AppendTag(out, fieldUpdateAction, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeAction(a))
	}
	return out
}

func encodeAction(a Action) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldActionKind, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(a.Kind))
	out = protowire.AppendTag(out, fieldActionAddress, protowire.BytesType)
	out = protowire.AppendBytes(out, a.Address[:])
	out = protowire.AppendTag(out, fieldActionInstall, protowire.BytesType)
	out = protowire.AppendBytes(out, a.Installation)
	out = protowire.AppendTag(out, fieldActionKeyPackage, protowire.BytesType)
	out = protowire.AppendBytes(out, a.KeyPackage)
	for _, s := range a.Signatures {
		out = protowire.AppendTag(out, fieldActionSig, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeSignature(s))
	}
	return out
}

func encodeSignature(s Signature) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldSigKind, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(s.Kind))
	out = protowire.AppendTag(out, fieldSigAddress, protowire.BytesType)
	out = protowire.AppendBytes(out, s.Address[:])
	out = protowire.AppendTag(out, fieldSigPublicKey, protowire.BytesType)
	out = protowire.AppendBytes(out, s.PublicKey)
	out = protowire.AppendTag(out, fieldSigBytes, protowire.BytesType)
	out = protowire.AppendBytes(out, s.Bytes)
	out = protowire.AppendTag(out, fieldSigBlock, protowire.VarintType)
	out = protowire.AppendVarint(out, s.Block)
	return out
}

// DecodeIdentityUpdate reverses EncodeIdentityUpdate.
func DecodeIdentityUpdate(data []byte) (IdentityUpdate, error) {
	var u IdentityUpdate
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return u, fmt.Errorf("decoding identity update tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldUpdateInboxID:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return u, fmt.Errorf("decoding inbox id: %w", protowire.ParseError(m))
			}
			copy(u.InboxID[:], b)
			data = data[m:]
		case fieldUpdateSequence:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return u, fmt.Errorf("decoding sequence id: %w", protowire.ParseError(m))
			}
			u.SequenceID = v
			data = data[m:]
		case fieldUpdatePrevSeq:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return u, fmt.Errorf("decoding previous sequence id: %w", protowire.ParseError(m))
			}
			u.PreviousSequenceID = v
			data = data[m:]
		case fieldUpdateCreatedAt:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return u, fmt.Errorf("decoding created_at: %w", protowire.ParseError(m))
			}
			u.CreatedAtNs = int64(v)
			data = data[m:]
		case fieldUpdateAction:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return u, fmt.Errorf("decoding action: %w", protowire.ParseError(m))
			}
			a, err := decodeAction(b)
			if err != nil {
				return u, err
			}
			u.Actions = append(u.Actions, a)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return u, fmt.Errorf("skipping unknown field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return u, nil
}

func decodeAction(data []byte) (Action, error) {
	var a Action
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return a, fmt.Errorf("decoding action tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldActionKind:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return a, fmt.Errorf("decoding action kind: %w", protowire.ParseError(m))
			}
			a.Kind = ActionKind(v)
			data = data[m:]
		case fieldActionAddress:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return a, fmt.Errorf("decoding action address: %w", protowire.ParseError(m))
			}
			copy(a.Address[:], b)
			data = data[m:]
		case fieldActionInstall:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return a, fmt.Errorf("decoding action installation: %w", protowire.ParseError(m))
			}
			a.Installation = append(InstallationID(nil), b...)
			data = data[m:]
		case fieldActionKeyPackage:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return a, fmt.Errorf("decoding action key package: %w", protowire.ParseError(m))
			}
			a.KeyPackage = append([]byte(nil), b...)
			data = data[m:]
		case fieldActionSig:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return a, fmt.Errorf("decoding signature: %w", protowire.ParseError(m))
			}
			sig, err := decodeSignature(b)
			if err != nil {
				return a, err
			}
			a.Signatures = append(a.Signatures, sig)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return a, fmt.Errorf("skipping unknown field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return a, nil
}

func decodeSignature(data []byte) (Signature, error) {
	var s Signature
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return s, fmt.Errorf("decoding signature tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldSigKind:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return s, fmt.Errorf("decoding signature kind: %w", protowire.ParseError(m))
			}
			s.Kind = crypto.SignatureKind(v)
			data = data[m:]
		case fieldSigAddress:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return s, fmt.Errorf("decoding signature address: %w", protowire.ParseError(m))
			}
			copy(s.Address[:], b)
			data = data[m:]
		case fieldSigPublicKey:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return s, fmt.Errorf("decoding signature public key: %w", protowire.ParseError(m))
			}
			s.PublicKey = append([]byte(nil), b...)
			data = data[m:]
		case fieldSigBytes:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return s, fmt.Errorf("decoding signature bytes: %w", protowire.ParseError(m))
			}
			s.Bytes = append([]byte(nil), b...)
			data = data[m:]
		case fieldSigBlock:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return s, fmt.Errorf("decoding signature block: %w", protowire.ParseError(m))
			}
			s.Block = v
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return s, fmt.Errorf("skipping unknown field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return s, nil
}
