package envelope

import (
	"encoding/binary"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Encode/Decode implement the length-prefixed protobuf-style framing from
// §6. Actual protobuf code generation is out of scope (§1 "generated
// wire serialization code"); these functions hand-encode using the wire
// primitives from google.golang.org/protobuf/encoding/protowire so the
// byte layout is genuine protobuf wire format without a .proto build
// step, matching §1's "serialization is a black-box codec".

const (
	fieldAADTargetOriginator = protowire.Number(1)
	fieldAADTargetTopic      = protowire.Number(2)
	fieldAADDependsOn        = protowire.Number(3)
	fieldAADIsCommit         = protowire.Number(4)
	fieldEnvelopeAAD         = protowire.Number(1)
	fieldEnvelopeKind        = protowire.Number(2)
	fieldEnvelopePayload     = protowire.Number(3)
)

// EncodeClientEnvelope serializes a ClientEnvelope to the canonical bytes
// that PayerEnvelope.UnsignedClientEnvelope and every signature verify
// over.
func EncodeClientEnvelope(e ClientEnvelope) []byte {
	var aad []byte
	aad = protowire.AppendTag(aad, fieldAADTargetOriginator, protowire.VarintType)
	aad = protowire.AppendVarint(aad, uint64(e.AAD.TargetOriginator))
	aad = protowire.AppendTag(aad, fieldAADTargetTopic, protowire.BytesType)
	aad = protowire.AppendBytes(aad, e.AAD.TargetTopic)
	if e.AAD.DependsOn != nil {
		aad = protowire.AppendTag(aad, fieldAADDependsOn, protowire.BytesType)
		aad = protowire.AppendBytes(aad, encodeCursor(e.AAD.DependsOn))
	}
	aad = protowire.AppendTag(aad, fieldAADIsCommit, protowire.VarintType)
	aad = protowire.AppendVarint(aad, boolToVarint(e.AAD.IsCommit))

	var out []byte
	out = protowire.AppendTag(out, fieldEnvelopeAAD, protowire.BytesType)
	out = protowire.AppendBytes(out, aad)
	out = protowire.AppendTag(out, fieldEnvelopeKind, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(e.Kind))
	out = protowire.AppendTag(out, fieldEnvelopePayload, protowire.BytesType)
	out = protowire.AppendBytes(out, e.Payload)
	return out
}

// DecodeClientEnvelope is the inverse of EncodeClientEnvelope. Round-trip
// encode-then-decode yields the original struct (§8 "Round-trip laws").
func DecodeClientEnvelope(data []byte) (ClientEnvelope, error) {
	var e ClientEnvelope
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return e, fmt.Errorf("decoding client envelope: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldEnvelopeAAD:
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return e, fmt.Errorf("decoding aad: %w", protowire.ParseError(n))
			}
			aad, err := decodeAAD(b)
			if err != nil {
				return e, err
			}
			e.AAD = aad
			data = data[n:]
		case fieldEnvelopeKind:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, fmt.Errorf("decoding kind: %w", protowire.ParseError(n))
			}
			e.Kind = PayloadKind(v)
			data = data[n:]
		case fieldEnvelopePayload:
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return e, fmt.Errorf("decoding payload: %w", protowire.ParseError(n))
			}
			e.Payload = append([]byte(nil), b...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return e, fmt.Errorf("skipping unknown field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return e, nil
}

func decodeAAD(data []byte) (AuthenticatedData, error) {
	var a AuthenticatedData
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return a, fmt.Errorf("decoding aad field: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldAADTargetOriginator:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return a, fmt.Errorf("decoding target originator: %w", protowire.ParseError(n))
			}
			a.TargetOriginator = uint32(v)
			data = data[n:]
		case fieldAADTargetTopic:
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return a, fmt.Errorf("decoding target topic: %w", protowire.ParseError(n))
			}
			a.TargetTopic = append([]byte(nil), b...)
			data = data[n:]
		case fieldAADDependsOn:
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return a, fmt.Errorf("decoding depends_on: %w", protowire.ParseError(n))
			}
			cur, err := decodeCursor(b)
			if err != nil {
				return a, err
			}
			a.DependsOn = cur
			data = data[n:]
		case fieldAADIsCommit:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return a, fmt.Errorf("decoding is_commit: %w", protowire.ParseError(n))
			}
			a.IsCommit = v != 0
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return a, fmt.Errorf("skipping unknown aad field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return a, nil
}

func encodeCursor(c *Cursor) []byte {
	var out []byte
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

func decodeCursor(data []byte) (*Cursor, error) {
	c := NewCursor()
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("decoding cursor: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if num != 1 {
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("skipping cursor field: %w", protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		entry, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("decoding cursor entry: %w", protowire.ParseError(n))
		}
		data = data[n:]

		var node uint32
		var seq uint64
		body := entry
		for len(body) > 0 {
			fnum, ftyp, fn := protowire.ConsumeTag(body)
			if fn < 0 {
				return nil, fmt.Errorf("decoding cursor entry field: %w", protowire.ParseError(fn))
			}
			body = body[fn:]
			v, vn := protowire.ConsumeVarint(body)
			if vn < 0 {
				return nil, fmt.Errorf("decoding cursor entry value: %w", protowire.ParseError(vn))
			}
			body = body[vn:]
			switch fnum {
			case 1:
				node = uint32(v)
			case 2:
				seq = v
			}
			_ = ftyp
		}
		c.Positions[node] = seq
	}
	return c, nil
}

const (
	fieldUOENodeID      = protowire.Number(1)
	fieldUOESequenceID  = protowire.Number(2)
	fieldUOENs          = protowire.Number(3)
	fieldUOEPayerBytes  = protowire.Number(4)
	fieldUOEBaseFee     = protowire.Number(5)
	fieldUOECongestion  = protowire.Number(6)
	fieldUOEExpiry      = protowire.Number(7)

	fieldPayerUnsignedClient = protowire.Number(1)
	fieldPayerSignature      = protowire.Number(2)
	fieldPayerTargetOrig     = protowire.Number(3)
	fieldPayerRetentionDays  = protowire.Number(4)
)

// EncodePayerEnvelope serializes a PayerEnvelope to the bytes carried as
// UnsignedOriginatorEnvelope.PayerEnvelopeBytes.
func EncodePayerEnvelope(pe PayerEnvelope) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldPayerUnsignedClient, protowire.BytesType)
	out = protowire.AppendBytes(out, pe.UnsignedClientEnvelope)
	out = protowire.AppendTag(out, fieldPayerSignature, protowire.BytesType)
	out = protowire.AppendBytes(out, pe.PayerSignature)
	out = protowire.AppendTag(out, fieldPayerTargetOrig, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(pe.TargetOriginator))
	out = protowire.AppendTag(out, fieldPayerRetentionDays, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(pe.MessageRetentionDays))
	return out
}

// DecodePayerEnvelope reverses EncodePayerEnvelope.
func DecodePayerEnvelope(data []byte) (PayerEnvelope, error) {
	var pe PayerEnvelope
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return pe, fmt.Errorf("decoding payer envelope tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldPayerUnsignedClient:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return pe, fmt.Errorf("decoding unsigned client envelope: %w", protowire.ParseError(m))
			}
			pe.UnsignedClientEnvelope = append([]byte(nil), b...)
			data = data[m:]
		case fieldPayerSignature:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return pe, fmt.Errorf("decoding payer signature: %w", protowire.ParseError(m))
			}
			pe.PayerSignature = append([]byte(nil), b...)
			data = data[m:]
		case fieldPayerTargetOrig:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return pe, fmt.Errorf("decoding target originator: %w", protowire.ParseError(m))
			}
			pe.TargetOriginator = uint32(v)
			data = data[m:]
		case fieldPayerRetentionDays:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return pe, fmt.Errorf("decoding retention days: %w", protowire.ParseError(m))
			}
			pe.MessageRetentionDays = uint32(v)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return pe, fmt.Errorf("skipping unknown field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return pe, nil
}

// EncodeUnsignedOriginatorEnvelope serializes exactly the bytes every
// originator signature verifies over (§6).
func EncodeUnsignedOriginatorEnvelope(u UnsignedOriginatorEnvelope) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldUOENodeID, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(u.OriginatorNodeID))
	out = protowire.AppendTag(out, fieldUOESequenceID, protowire.VarintType)
	out = protowire.AppendVarint(out, u.OriginatorSequenceID)
	out = protowire.AppendTag(out, fieldUOENs, protowire.VarintType)
	out = protowire.AppendVarint(out, u.OriginatorNs)
	out = protowire.AppendTag(out, fieldUOEPayerBytes, protowire.BytesType)
	out = protowire.AppendBytes(out, u.PayerEnvelopeBytes)
	out = protowire.AppendTag(out, fieldUOEBaseFee, protowire.VarintType)
	out = protowire.AppendVarint(out, u.BaseFeePicodollars)
	out = protowire.AppendTag(out, fieldUOECongestion, protowire.VarintType)
	out = protowire.AppendVarint(out, u.CongestionFeePicodollars)
	out = protowire.AppendTag(out, fieldUOEExpiry, protowire.VarintType)
	out = protowire.AppendVarint(out, u.ExpiryUnixtime)
	return out
}

// DecodeUnsignedOriginatorEnvelope is the inverse of
// EncodeUnsignedOriginatorEnvelope.
func DecodeUnsignedOriginatorEnvelope(data []byte) (UnsignedOriginatorEnvelope, error) {
	var u UnsignedOriginatorEnvelope
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return u, fmt.Errorf("decoding unsigned originator envelope: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if typ == protowire.BytesType && num == fieldUOEPayerBytes {
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return u, fmt.Errorf("decoding payer envelope bytes: %w", protowire.ParseError(n))
			}
			u.PayerEnvelopeBytes = append([]byte(nil), b...)
			data = data[n:]
			continue
		}
		if typ != protowire.VarintType {
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return u, fmt.Errorf("skipping field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return u, fmt.Errorf("decoding varint field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldUOENodeID:
			u.OriginatorNodeID = uint32(v)
		case fieldUOESequenceID:
			u.OriginatorSequenceID = v
		case fieldUOENs:
			u.OriginatorNs = v
		case fieldUOEBaseFee:
			u.BaseFeePicodollars = v
		case fieldUOECongestion:
			u.CongestionFeePicodollars = v
		case fieldUOEExpiry:
			u.ExpiryUnixtime = v
		}
	}
	return u, nil
}

func boolToVarint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// LengthPrefix prepends a 4-byte big-endian length to data, the RPC
// framing used over the stream pair in §6.
func LengthPrefix(data []byte) []byte {
	out := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(out[:4], uint32(len(data)))
	copy(out[4:], data)
	return out
}

// ReadLengthPrefixed extracts one length-prefixed frame from the front of
// buf, returning the frame and the remainder.
func ReadLengthPrefixed(buf []byte) (frame []byte, rest []byte, err error) {
	if len(buf) < 4 {
		return nil, buf, errors.New("buffer too short for length prefix")
	}
	n := binary.BigEndian.Uint32(buf[:4])
	if uint32(len(buf)-4) < n {
		return nil, buf, errors.New("buffer shorter than declared frame length")
	}
	return buf[4 : 4+n], buf[4+n:], nil
}
