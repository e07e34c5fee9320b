package identity

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// AssociationState is the deterministic fold of an inbox's identity-update
// log (§4.2): the set of active account identifiers, active installations
// with their key packages, and recovery addresses.
type AssociationState struct {
	InboxID            InboxID
	LatestSequenceID   uint64
	Addresses          map[string]bool   // hex wallet address -> active
	Installations      map[string][]byte // hex installation id -> key package bytes
	RecoveryAddresses  map[string]bool
	RevokedAddresses   map[string]bool
	RevokedInstallations map[string]bool
}

func newAssociationState(inbox InboxID) *AssociationState {
	return &AssociationState{
		InboxID:              inbox,
		Addresses:            make(map[string]bool),
		Installations:        make(map[string][]byte),
		RecoveryAddresses:    make(map[string]bool),
		RevokedAddresses:     make(map[string]bool),
		RevokedInstallations: make(map[string]bool),
	}
}

func hexAddr(a [20]byte) string { return fmt.Sprintf("%x", a) }

func hexInst(id InstallationID) string { return fmt.Sprintf("%x", []byte(id)) }

// Fold applies an ordered slice of identity updates to produce the
// association state. It is a pure function: Fold(updates) always returns
// the same state for the same inputs (§8 invariant 2), and it does not
// itself verify signatures or sequencing — callers run Verify first (see
// verify.go) and pass only updates that already passed verification.
func Fold(inbox InboxID, updates []IdentityUpdate) *AssociationState {
	state := newAssociationState(inbox)
	for _, u := range updates {
		applyUpdate(state, u)
		state.LatestSequenceID = u.SequenceID
	}
	return state
}

func applyUpdate(state *AssociationState, u IdentityUpdate) {
	for _, action := range u.Actions {
		switch action.Kind {
		case ActionAddAddress:
			key := hexAddr(action.Address)
			state.Addresses[key] = true
			delete(state.RevokedAddresses, key)
		case ActionRevokeAddress:
			key := hexAddr(action.Address)
			delete(state.Addresses, key)
			state.RevokedAddresses[key] = true
		case ActionAddInstallation:
			key := hexInst(action.Installation)
			state.Installations[key] = action.KeyPackage
			delete(state.RevokedInstallations, key)
		case ActionRevokeInstallation:
			key := hexInst(action.Installation)
			delete(state.Installations, key)
			state.RevokedInstallations[key] = true
		case ActionAddRecoveryAddress:
			state.RecoveryAddresses[hexAddr(action.Address)] = true
		case ActionRevokeRecoveryAddress:
			delete(state.RecoveryAddresses, hexAddr(action.Address))
		case ActionChangeRecoveryAddress:
			for k := range state.RecoveryAddresses {
				delete(state.RecoveryAddresses, k)
			}
			state.RecoveryAddresses[hexAddr(action.Address)] = true
		}
	}
}

// HasInstallation reports whether id is currently active in state.
func (s *AssociationState) HasInstallation(id InstallationID) bool {
	_, ok := s.Installations[hexInst(id)]
	return ok
}

// ActiveInstallations returns the currently-active installation ids.
func (s *AssociationState) ActiveInstallations() []InstallationID {
	out := make([]InstallationID, 0, len(s.Installations))
	for k := range s.Installations {
		b, err := hex.DecodeString(k)
		if err != nil {
			continue
		}
		out = append(out, InstallationID(b))
	}
	return out
}

// IsRecoveryAddress reports whether addr is an active recovery address.
func (s *AssociationState) IsRecoveryAddress(addr [20]byte) bool {
	return s.RecoveryAddresses[hexAddr(addr)]
}

// Equal reports whether two association states hold the same members,
// used by tests asserting fold determinism (§8 invariant 2).
func (s *AssociationState) Equal(other *AssociationState) bool {
	if other == nil || s.LatestSequenceID != other.LatestSequenceID {
		return false
	}
	if len(s.Addresses) != len(other.Addresses) {
		return false
	}
	for k := range s.Addresses {
		if !other.Addresses[k] {
			return false
		}
	}
	if len(s.Installations) != len(other.Installations) {
		return false
	}
	for k, v := range s.Installations {
		ov, ok := other.Installations[k]
		if !ok || !bytes.Equal(v, ov) {
			return false
		}
	}
	return true
}
