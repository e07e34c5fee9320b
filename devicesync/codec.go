package devicesync

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/xmtp-go/libxmtp-core/consent"
)

// encodeConsentRecord/decodeConsentRecord hand-encode a consent.Record to
// protowire bytes for transport over the sync group, the same pattern
// envelope/wire.go and identity/wire.go use (§1: generated protobuf code
// is out of scope).

const (
	fieldConsentEntityType = protowire.Number(1)
	fieldConsentEntity     = protowire.Number(2)
	fieldConsentState      = protowire.Number(3)
	fieldConsentUpdatedAt  = protowire.Number(4)
)

func encodeConsentRecord(rec consent.Record) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldConsentEntityType, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(rec.EntityType))
	out = protowire.AppendTag(out, fieldConsentEntity, protowire.BytesType)
	out = protowire.AppendString(out, rec.Entity)
	out = protowire.AppendTag(out, fieldConsentState, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(rec.State))
	out = protowire.AppendTag(out, fieldConsentUpdatedAt, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(rec.UpdatedAt.UnixNano()))
	return out
}

func decodeConsentRecord(data []byte) (consent.Record, error) {
	var rec consent.Record
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return rec, fmt.Errorf("decoding consent record tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldConsentEntityType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return rec, fmt.Errorf("decoding entity type: %w", protowire.ParseError(m))
			}
			rec.EntityType = consent.EntityType(v)
			data = data[m:]
		case fieldConsentEntity:
			s, m := protowire.ConsumeString(data)
			if m < 0 {
				return rec, fmt.Errorf("decoding entity: %w", protowire.ParseError(m))
			}
			rec.Entity = s
			data = data[m:]
		case fieldConsentState:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return rec, fmt.Errorf("decoding state: %w", protowire.ParseError(m))
			}
			rec.State = consent.State(v)
			data = data[m:]
		case fieldConsentUpdatedAt:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return rec, fmt.Errorf("decoding updated_at: %w", protowire.ParseError(m))
			}
			rec.UpdatedAt = time.Unix(0, int64(v))
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return rec, fmt.Errorf("skipping unknown field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return rec, nil
}
