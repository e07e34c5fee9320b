package group

import (
	"fmt"

	"github.com/xmtp-go/libxmtp-core/identity"
)

// Welcome is the message sent to a newly-added installation carrying
// everything it needs to join the group at its current epoch, encrypted
// to the key package the joining installation published (§4.3, §4.4
// "Welcome handling").
type Welcome struct {
	GroupID         []byte
	Epoch           Epoch
	Members         []Member
	Policy          PolicySet
	Metadata        map[string][]byte
	KeyPackageID    uint32
	EncryptedSecret []byte
}

// BuildWelcome assembles a Welcome for a newly-added installation from
// the group's current state, addressed to the key package the inviter
// fetched for that installation (§4.3 "a fetched key package is consumed
// exactly once, by exactly one welcome").
func BuildWelcome(g *Group, keyPackageID uint32, encryptedSecret []byte) *Welcome {
	g.mu.RLock()
	defer g.mu.RUnlock()
	metadata := make(map[string][]byte, len(g.Metadata))
	for k, v := range g.Metadata {
		metadata[k] = v
	}
	return &Welcome{
		GroupID:         append([]byte(nil), g.ID...),
		Epoch:           g.CurrentEpoch,
		Members:         append([]Member(nil), g.Members...),
		Policy:          g.Policy,
		Metadata:        metadata,
		KeyPackageID:    keyPackageID,
		EncryptedSecret: encryptedSecret,
	}
}

// JoinFromWelcome constructs the local Group state a new installation
// builds upon receiving a Welcome. Membership starts Pending (§4.4
// "Welcome handling": a joiner's conversation is Pending until the
// application records consent); the creator alone starts Allowed, set
// directly by New.
func JoinFromWelcome(w *Welcome, self identity.InboxID) *Group {
	g := &Group{
		ID:            w.GroupID,
		Self:          self,
		Membership:    MembershipPending,
		CurrentEpoch:  w.Epoch,
		Members:       append([]Member(nil), w.Members...),
		Policy:        w.Policy,
		Metadata:      w.Metadata,
		MaxPastEpochs: DefaultMaxPastEpochs,
		intents:       NewIntentQueue(),
	}
	if !g.HasMember(self) {
		g.Members = append(g.Members, Member{InboxID: self})
	}
	return g
}

// ValidateWelcomeEpoch guards against a welcome that targets an epoch
// the group has already moved past by the time it is processed (§4.4
// "a stale welcome is rejected, not silently applied at the wrong
// epoch").
func ValidateWelcomeEpoch(w *Welcome, localEpoch uint64) error {
	if w.Epoch.Number < localEpoch {
		return fmt.Errorf("welcome targets epoch %d, already past local epoch %d", w.Epoch.Number, localEpoch)
	}
	return nil
}
