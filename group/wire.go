package group

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/xmtp-go/libxmtp-core/identity"
)

// EncodeCommit/DecodeCommit hand-roll the wire format for a Commit, the
// same protowire-based pattern commitlog/wire.go uses for RemoteEntry
// (§1: generated protobuf code is out of scope).

func EncodeCommit(c Commit) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.VarintType)
	out = protowire.AppendVarint(out, c.TargetEpochNumber)
	out = protowire.AppendTag(out, 2, protowire.BytesType)
	out = protowire.AppendBytes(out, c.LastEpochAuthenticator)
	out = protowire.AppendTag(out, 3, protowire.VarintType)
	out = protowire.AppendVarint(out, c.NewEpochNumber)
	out = protowire.AppendTag(out, 4, protowire.BytesType)
	out = protowire.AppendBytes(out, c.NewEpochAuthenticator)
	for _, add := range c.Adds {
		out = protowire.AppendTag(out, 5, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeMemberAdd(add))
	}
	for _, rm := range c.Removes {
		out = protowire.AppendTag(out, 6, protowire.BytesType)
		out = protowire.AppendBytes(out, rm[:])
	}
	if c.Policy != nil {
		out = protowire.AppendTag(out, 7, protowire.BytesType)
		out = protowire.AppendBytes(out, encodePolicySet(*c.Policy))
	}
	for k, v := range c.MetadataChanges {
		out = protowire.AppendTag(out, 8, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeMetadataEntry(k, v))
	}
	out = protowire.AppendTag(out, 9, protowire.VarintType)
	out = protowire.AppendVarint(out, boolToVarint(c.IsKeyUpdate))
	return out
}

func DecodeCommit(data []byte) (Commit, error) {
	var c Commit
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return c, fmt.Errorf("decoding commit tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return c, fmt.Errorf("decoding target epoch: %w", protowire.ParseError(m))
			}
			c.TargetEpochNumber = v
			data = data[m:]
		case 2:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return c, fmt.Errorf("decoding last epoch authenticator: %w", protowire.ParseError(m))
			}
			c.LastEpochAuthenticator = append([]byte(nil), b...)
			data = data[m:]
		case 3:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return c, fmt.Errorf("decoding new epoch: %w", protowire.ParseError(m))
			}
			c.NewEpochNumber = v
			data = data[m:]
		case 4:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return c, fmt.Errorf("decoding new epoch authenticator: %w", protowire.ParseError(m))
			}
			c.NewEpochAuthenticator = append([]byte(nil), b...)
			data = data[m:]
		case 5:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return c, fmt.Errorf("decoding member add: %w", protowire.ParseError(m))
			}
			add, err := decodeMemberAdd(b)
			if err != nil {
				return c, err
			}
			c.Adds = append(c.Adds, add)
			data = data[m:]
		case 6:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return c, fmt.Errorf("decoding member remove: %w", protowire.ParseError(m))
			}
			var inbox identity.InboxID
			copy(inbox[:], b)
			c.Removes = append(c.Removes, inbox)
			data = data[m:]
		case 7:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return c, fmt.Errorf("decoding policy: %w", protowire.ParseError(m))
			}
			p, err := decodePolicySet(b)
			if err != nil {
				return c, err
			}
			c.Policy = &p
			data = data[m:]
		case 8:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return c, fmt.Errorf("decoding metadata entry: %w", protowire.ParseError(m))
			}
			k, v, err := decodeMetadataEntry(b)
			if err != nil {
				return c, err
			}
			if c.MetadataChanges == nil {
				c.MetadataChanges = make(map[string][]byte)
			}
			c.MetadataChanges[k] = v
			data = data[m:]
		case 9:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return c, fmt.Errorf("decoding key update flag: %w", protowire.ParseError(m))
			}
			c.IsKeyUpdate = v != 0
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return c, fmt.Errorf("skipping field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return c, nil
}

func encodeMemberAdd(add MemberAdd) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.BytesType)
	out = protowire.AppendBytes(out, add.InboxID[:])
	out = protowire.AppendTag(out, 2, protowire.BytesType)
	out = protowire.AppendBytes(out, add.Installation)
	out = protowire.AppendTag(out, 3, protowire.VarintType)
	out = protowire.AppendVarint(out, add.SequenceID)
	return out
}

func decodeMemberAdd(data []byte) (MemberAdd, error) {
	var add MemberAdd
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return add, fmt.Errorf("decoding member add tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return add, fmt.Errorf("decoding member add inbox: %w", protowire.ParseError(m))
			}
			copy(add.InboxID[:], b)
			data = data[m:]
		case 2:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return add, fmt.Errorf("decoding member add installation: %w", protowire.ParseError(m))
			}
			add.Installation = append(identity.InstallationID(nil), b...)
			data = data[m:]
		case 3:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return add, fmt.Errorf("decoding member add sequence id: %w", protowire.ParseError(m))
			}
			add.SequenceID = v
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return add, fmt.Errorf("skipping field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return add, nil
}

func encodePolicySet(p PolicySet) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(p.AddMember))
	out = protowire.AppendTag(out, 2, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(p.RemoveMember))
	out = protowire.AppendTag(out, 3, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(p.UpdateMetadata))
	out = protowire.AppendTag(out, 4, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(p.UpdatePolicy))
	for inbox := range p.Admins {
		out = protowire.AppendTag(out, 5, protowire.BytesType)
		out = protowire.AppendBytes(out, inbox[:])
	}
	for inbox := range p.SuperAdmins {
		out = protowire.AppendTag(out, 6, protowire.BytesType)
		out = protowire.AppendBytes(out, inbox[:])
	}
	return out
}

func decodePolicySet(data []byte) (PolicySet, error) {
	p := PolicySet{Admins: make(map[identity.InboxID]bool), SuperAdmins: make(map[identity.InboxID]bool)}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return p, fmt.Errorf("decoding policy tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return p, fmt.Errorf("decoding add-member permission: %w", protowire.ParseError(m))
			}
			p.AddMember = Permission(v)
			data = data[m:]
		case 2:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return p, fmt.Errorf("decoding remove-member permission: %w", protowire.ParseError(m))
			}
			p.RemoveMember = Permission(v)
			data = data[m:]
		case 3:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return p, fmt.Errorf("decoding update-metadata permission: %w", protowire.ParseError(m))
			}
			p.UpdateMetadata = Permission(v)
			data = data[m:]
		case 4:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return p, fmt.Errorf("decoding update-policy permission: %w", protowire.ParseError(m))
			}
			p.UpdatePolicy = Permission(v)
			data = data[m:]
		case 5:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return p, fmt.Errorf("decoding admin: %w", protowire.ParseError(m))
			}
			var inbox identity.InboxID
			copy(inbox[:], b)
			p.Admins[inbox] = true
			data = data[m:]
		case 6:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return p, fmt.Errorf("decoding super admin: %w", protowire.ParseError(m))
			}
			var inbox identity.InboxID
			copy(inbox[:], b)
			p.SuperAdmins[inbox] = true
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return p, fmt.Errorf("skipping field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return p, nil
}

func encodeMetadataEntry(k string, v []byte) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.BytesType)
	out = protowire.AppendString(out, k)
	out = protowire.AppendTag(out, 2, protowire.BytesType)
	out = protowire.AppendBytes(out, v)
	return out
}

func decodeMetadataEntry(data []byte) (string, []byte, error) {
	var k string
	var v []byte
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return k, v, fmt.Errorf("decoding metadata entry tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			s, m := protowire.ConsumeString(data)
			if m < 0 {
				return k, v, fmt.Errorf("decoding metadata key: %w", protowire.ParseError(m))
			}
			k = s
			data = data[m:]
		case 2:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return k, v, fmt.Errorf("decoding metadata value: %w", protowire.ParseError(m))
			}
			if b != nil {
				v = append([]byte(nil), b...)
			}
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return k, v, fmt.Errorf("skipping field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return k, v, nil
}

func boolToVarint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// EncodeWelcome/DecodeWelcome hand-roll the wire format for a Welcome,
// delivered to a newly-added installation over the same payload-kind
// idiom as a commit (§4.3, §4.4 "Welcome handling").

func EncodeWelcome(w Welcome) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.BytesType)
	out = protowire.AppendBytes(out, w.GroupID)
	out = protowire.AppendTag(out, 2, protowire.VarintType)
	out = protowire.AppendVarint(out, w.Epoch.Number)
	out = protowire.AppendTag(out, 3, protowire.BytesType)
	out = protowire.AppendBytes(out, w.Epoch.Authenticator)
	for _, m := range w.Members {
		out = protowire.AppendTag(out, 4, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeMember(m))
	}
	out = protowire.AppendTag(out, 5, protowire.BytesType)
	out = protowire.AppendBytes(out, encodePolicySet(w.Policy))
	for k, v := range w.Metadata {
		out = protowire.AppendTag(out, 6, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeMetadataEntry(k, v))
	}
	out = protowire.AppendTag(out, 7, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(w.KeyPackageID))
	out = protowire.AppendTag(out, 8, protowire.BytesType)
	out = protowire.AppendBytes(out, w.EncryptedSecret)
	return out
}

func DecodeWelcome(data []byte) (Welcome, error) {
	w := Welcome{Metadata: make(map[string][]byte)}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return w, fmt.Errorf("decoding welcome tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return w, fmt.Errorf("decoding welcome group id: %w", protowire.ParseError(m))
			}
			w.GroupID = append([]byte(nil), b...)
			data = data[m:]
		case 2:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return w, fmt.Errorf("decoding welcome epoch: %w", protowire.ParseError(m))
			}
			w.Epoch.Number = v
			data = data[m:]
		case 3:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return w, fmt.Errorf("decoding welcome authenticator: %w", protowire.ParseError(m))
			}
			w.Epoch.Authenticator = append([]byte(nil), b...)
			data = data[m:]
		case 4:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return w, fmt.Errorf("decoding welcome member: %w", protowire.ParseError(m))
			}
			member, err := decodeMember(b)
			if err != nil {
				return w, err
			}
			w.Members = append(w.Members, member)
			data = data[m:]
		case 5:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return w, fmt.Errorf("decoding welcome policy: %w", protowire.ParseError(m))
			}
			p, err := decodePolicySet(b)
			if err != nil {
				return w, err
			}
			w.Policy = p
			data = data[m:]
		case 6:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return w, fmt.Errorf("decoding welcome metadata: %w", protowire.ParseError(m))
			}
			k, v, err := decodeMetadataEntry(b)
			if err != nil {
				return w, err
			}
			w.Metadata[k] = v
			data = data[m:]
		case 7:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return w, fmt.Errorf("decoding welcome key package id: %w", protowire.ParseError(m))
			}
			w.KeyPackageID = uint32(v)
			data = data[m:]
		case 8:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return w, fmt.Errorf("decoding welcome secret: %w", protowire.ParseError(m))
			}
			w.EncryptedSecret = append([]byte(nil), b...)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return w, fmt.Errorf("skipping field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return w, nil
}

func encodeMember(m Member) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.BytesType)
	out = protowire.AppendBytes(out, m.InboxID[:])
	for _, inst := range m.Installations {
		out = protowire.AppendTag(out, 2, protowire.BytesType)
		out = protowire.AppendBytes(out, inst)
	}
	out = protowire.AppendTag(out, 3, protowire.VarintType)
	out = protowire.AppendVarint(out, m.SequenceID)
	return out
}

func decodeMember(data []byte) (Member, error) {
	var m Member
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return m, fmt.Errorf("decoding member tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return m, fmt.Errorf("decoding member inbox: %w", protowire.ParseError(n))
			}
			copy(m.InboxID[:], b)
			data = data[n:]
		case 2:
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return m, fmt.Errorf("decoding member installation: %w", protowire.ParseError(n))
			}
			m.Installations = append(m.Installations, append(identity.InstallationID(nil), b...))
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return m, fmt.Errorf("decoding member sequence id: %w", protowire.ParseError(n))
			}
			m.SequenceID = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return m, fmt.Errorf("skipping field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return m, nil
}
