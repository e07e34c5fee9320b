package commitlog

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// EncodeRemoteEntries/DecodeRemoteEntries hand-roll the wire format for
// a slice of RemoteEntry, the same protowire-based pattern envelope/wire.go
// uses (§1: generated protobuf code is out of scope).

func EncodeRemoteEntries(entries []RemoteEntry) []byte {
	var out []byte
	for _, e := range entries {
		out = protowire.AppendTag(out, 1, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeRemoteEntry(e))
	}
	return out
}

func encodeRemoteEntry(e RemoteEntry) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.BytesType)
	out = protowire.AppendBytes(out, e.GroupID)
	out = protowire.AppendTag(out, 2, protowire.VarintType)
	out = protowire.AppendVarint(out, e.CommitSequenceID)
	out = protowire.AppendTag(out, 3, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(e.Kind))
	out = protowire.AppendTag(out, 4, protowire.BytesType)
	out = protowire.AppendBytes(out, e.LastEpochAuthenticator)
	out = protowire.AppendTag(out, 5, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(e.CommitResult))
	out = protowire.AppendTag(out, 6, protowire.VarintType)
	out = protowire.AppendVarint(out, e.AppliedEpochNumber)
	out = protowire.AppendTag(out, 7, protowire.BytesType)
	out = protowire.AppendBytes(out, e.AppliedEpochAuthenticator)
	out = protowire.AppendTag(out, 8, protowire.BytesType)
	out = protowire.AppendBytes(out, e.SignerPublicKey)
	return out
}

func DecodeRemoteEntries(data []byte) ([]RemoteEntry, error) {
	var out []RemoteEntry
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("decoding remote entry list tag: %w", protowire.ParseError(n))
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
			return nil, fmt.Errorf("decoding remote entry bytes: %w", protowire.ParseError(m))
		}
		data = data[m:]
		e, err := decodeRemoteEntry(b)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func decodeRemoteEntry(data []byte) (RemoteEntry, error) {
	var e RemoteEntry
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return e, fmt.Errorf("decoding remote entry tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return e, fmt.Errorf("decoding group id: %w", protowire.ParseError(m))
			}
			e.GroupID = append([]byte(nil), b...)
			data = data[m:]
		case 2:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return e, fmt.Errorf("decoding commit sequence id: %w", protowire.ParseError(m))
			}
			e.CommitSequenceID = v
			data = data[m:]
		case 3:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return e, fmt.Errorf("decoding kind: %w", protowire.ParseError(m))
			}
			e.Kind = Kind(v)
			data = data[m:]
		case 4:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return e, fmt.Errorf("decoding last epoch authenticator: %w", protowire.ParseError(m))
			}
			e.LastEpochAuthenticator = append([]byte(nil), b...)
			data = data[m:]
		case 5:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return e, fmt.Errorf("decoding commit result: %w", protowire.ParseError(m))
			}
			e.CommitResult = Result(v)
			data = data[m:]
		case 6:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return e, fmt.Errorf("decoding applied epoch number: %w", protowire.ParseError(m))
			}
			e.AppliedEpochNumber = v
			data = data[m:]
		case 7:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return e, fmt.Errorf("decoding applied epoch authenticator: %w", protowire.ParseError(m))
			}
			e.AppliedEpochAuthenticator = append([]byte(nil), b...)
			data = data[m:]
		case 8:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return e, fmt.Errorf("decoding signer public key: %w", protowire.ParseError(m))
			}
			e.SignerPublicKey = append([]byte(nil), b...)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return e, fmt.Errorf("skipping field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return e, nil
}
