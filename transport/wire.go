package transport

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/xmtp-go/libxmtp-core/envelope"
	"github.com/xmtp-go/libxmtp-core/identity"
)

// Request/response framing for the nine RPCs, built on the same
// protowire primitives as envelope/wire.go and identity/wire.go (§1:
// generated protobuf code is out of scope).

func encodePayerEnvelopes(envelopes []*envelope.PayerEnvelope) []byte {
	var out []byte
	for _, pe := range envelopes {
		out = protowire.AppendTag(out, 1, protowire.BytesType)
		out = protowire.AppendBytes(out, envelope.EncodePayerEnvelope(*pe))
	}
	return out
}

func encodeCursorBytes(c *envelope.Cursor) []byte {
	var out []byte
	if c == nil {
		return out
	}
	for node, seq := range c.Positions {
		var entry []byte
		entry = protowire.AppendTag(entry, 1, protowire.VarintType)
		entry = protowire.AppendVarint(entry, uint64(node))
		entry = protowire.AppendTag(entry, 2, protowire.VarintType)
		entry = protowire.AppendVarint(entry, seq)
		out = protowire.AppendTag(out, 1, protowire.BytesType)
		out = protowire.AppendBytes(out, entry)
	}
	return out
}

func encodeQueryEnvelopesRequest(topic []byte, cursor *envelope.Cursor) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.BytesType)
	out = protowire.AppendBytes(out, topic)
	out = protowire.AppendTag(out, 2, protowire.BytesType)
	out = protowire.AppendBytes(out, encodeCursorBytes(cursor))
	return out
}

func decodeOriginatorEnvelopes(data []byte) ([]*envelope.OriginatorEnvelope, error) {
	var out []*envelope.OriginatorEnvelope
	for len(data) > 0 {
		num, _, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("decoding originator envelope list tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if num != 1 {
			m := protowire.ConsumeFieldValue(num, protowire.BytesType, data)
			if m < 0 {
				return nil, fmt.Errorf("skipping field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
			continue
		}
		b, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return nil, fmt.Errorf("decoding originator envelope bytes: %w", protowire.ParseError(m))
		}
		data = data[m:]
		oe, err := decodeOriginatorEnvelope(b)
		if err != nil {
			return nil, err
		}
		out = append(out, oe)
	}
	return out, nil
}

func decodeOriginatorEnvelope(data []byte) (*envelope.OriginatorEnvelope, error) {
	oe := &envelope.OriginatorEnvelope{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("decoding originator envelope tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("decoding unsigned originator envelope: %w", protowire.ParseError(m))
			}
			oe.UnsignedOriginatorEnvelope = append([]byte(nil), b...)
			data = data[m:]
		case 2:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("decoding proof kind: %w", protowire.ParseError(m))
			}
			oe.Proof.Kind = envelope.ProofKind(v)
			data = data[m:]
		case 3:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("decoding proof signature: %w", protowire.ParseError(m))
			}
			oe.Proof.Signature = append([]byte(nil), b...)
			data = data[m:]
		case 4:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("decoding proof chain ref: %w", protowire.ParseError(m))
			}
			oe.Proof.ChainRef = append([]byte(nil), b...)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, fmt.Errorf("skipping field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return oe, nil
}

func encodeUploadKeyPackageRequest(installation identity.InstallationID, pkg []byte) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.BytesType)
	out = protowire.AppendBytes(out, installation)
	out = protowire.AppendTag(out, 2, protowire.BytesType)
	out = protowire.AppendBytes(out, pkg)
	return out
}

func encodeFetchKeyPackagesRequest(installations []identity.InstallationID) []byte {
	var out []byte
	for _, id := range installations {
		out = protowire.AppendTag(out, 1, protowire.BytesType)
		out = protowire.AppendBytes(out, id)
	}
	return out
}

func decodeKeyPackages(data []byte) ([][]byte, error) {
	var out [][]byte
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("decoding key package list tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if num != 1 {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, fmt.Errorf("skipping field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
			continue
		}
		b, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return nil, fmt.Errorf("decoding key package bytes: %w", protowire.ParseError(m))
		}
		out = append(out, append([]byte(nil), b...))
		data = data[m:]
	}
	return out, nil
}

func encodeGetInboxIdsRequest(addresses [][20]byte) []byte {
	var out []byte
	for _, a := range addresses {
		out = protowire.AppendTag(out, 1, protowire.BytesType)
		out = protowire.AppendBytes(out, a[:])
	}
	return out
}

func decodeInboxIds(data []byte) (map[[20]byte]identity.InboxID, error) {
	out := make(map[[20]byte]identity.InboxID)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("decoding inbox id map tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if num != 1 {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, fmt.Errorf("skipping field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
			continue
		}
		entry, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return nil, fmt.Errorf("decoding inbox id entry: %w", protowire.ParseError(m))
		}
		data = data[m:]
		addr, inbox, err := decodeInboxIdEntry(entry)
		if err != nil {
			return nil, err
		}
		out[addr] = inbox
	}
	return out, nil
}

func decodeInboxIdEntry(data []byte) ([20]byte, identity.InboxID, error) {
	var addr [20]byte
	var inbox identity.InboxID
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return addr, inbox, fmt.Errorf("decoding inbox id entry tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return addr, inbox, fmt.Errorf("decoding address: %w", protowire.ParseError(m))
			}
			copy(addr[:], b)
			data = data[m:]
		case 2:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return addr, inbox, fmt.Errorf("decoding inbox id: %w", protowire.ParseError(m))
			}
			copy(inbox[:], b)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return addr, inbox, fmt.Errorf("skipping field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return addr, inbox, nil
}

func encodeGetIdentityUpdatesRequest(requests []identity.SequenceRequest) []byte {
	var out []byte
	for _, r := range requests {
		var entry []byte
		entry = protowire.AppendTag(entry, 1, protowire.BytesType)
		entry = protowire.AppendBytes(entry, r.InboxID[:])
		entry = protowire.AppendTag(entry, 2, protowire.VarintType)
		entry = protowire.AppendVarint(entry, r.FromSequence)
		out = protowire.AppendTag(out, 1, protowire.BytesType)
		out = protowire.AppendBytes(out, entry)
	}
	return out
}

func decodeIdentityUpdates(data []byte) (map[identity.InboxID][]identity.IdentityUpdate, error) {
	out := make(map[identity.InboxID][]identity.IdentityUpdate)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("decoding identity updates response tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if num != 1 {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, fmt.Errorf("skipping field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
			continue
		}
		entry, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return nil, fmt.Errorf("decoding identity updates entry: %w", protowire.ParseError(m))
		}
		data = data[m:]
		inbox, updates, err := decodeIdentityUpdatesEntry(entry)
		if err != nil {
			return nil, err
		}
		out[inbox] = append(out[inbox], updates...)
	}
	return out, nil
}

func decodeIdentityUpdatesEntry(data []byte) (identity.InboxID, []identity.IdentityUpdate, error) {
	var inbox identity.InboxID
	var updates []identity.IdentityUpdate
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return inbox, nil, fmt.Errorf("decoding entry tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return inbox, nil, fmt.Errorf("decoding inbox id: %w", protowire.ParseError(m))
			}
			copy(inbox[:], b)
			data = data[m:]
		case 2:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return inbox, nil, fmt.Errorf("decoding update: %w", protowire.ParseError(m))
			}
			u, err := identity.DecodeIdentityUpdate(b)
			if err != nil {
				return inbox, nil, err
			}
			updates = append(updates, u)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return inbox, nil, fmt.Errorf("skipping field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return inbox, updates, nil
}

func encodeQueryCommitLogRequest(groupID []byte, afterSequence uint64) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.BytesType)
	out = protowire.AppendBytes(out, groupID)
	out = protowire.AppendTag(out, 2, protowire.VarintType)
	out = protowire.AppendVarint(out, afterSequence)
	return out
}
