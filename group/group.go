// Package group implements the MLS group state machine (§4.4, spec
// component D): epochs, commit application, the intent queue, and the
// mutable policy/metadata that ride alongside the cryptographic group
// state.
package group

import (
	"sync"
	"time"

	"github.com/xmtp-go/libxmtp-core/apperrors"
	"github.com/xmtp-go/libxmtp-core/crypto"
	"github.com/xmtp-go/libxmtp-core/identity"
)

// ConversationType distinguishes a DM from a standard group (§3 "Group").
type ConversationType uint8

const (
	ConversationGroup ConversationType = iota
	ConversationDM
)

// MembershipState tracks the local installation's standing in the group
// (§3 "Conversation" field `membership_state`). Allowed is a fully
// participating member; Pending is an unconfirmed invite awaiting
// application consent; Restored is what a removed member's subsequent
// sync sets (§4.4 invariant, §8 invariant 4); Rejected is a welcome or
// join the application declined.
type MembershipState uint8

const (
	MembershipAllowed MembershipState = iota
	MembershipPending
	MembershipRestored
	MembershipRejected
)

// Epoch is the group's current MLS ratchet epoch plus its authenticator,
// the value members compare to confirm they agree on group state (§4.4
// "the epoch authenticator is the binding proof two members are in
// sync").
type Epoch struct {
	Number        uint64
	Authenticator []byte
}

// Member is one inbox currently in the group, alongside every
// installation of that inbox holding a leaf (§4.4 "membership is by
// inbox, not by installation"). SequenceID is the member's identity-
// update sequence number as known when they were last added or
// refreshed — stored in the MLS extensions alongside the member set
// (§4.8 step 2), 0 meaning never resolved.
type Member struct {
	InboxID       identity.InboxID
	SequenceID    uint64
	Installations []identity.InstallationID
}

// Group is one conversation's local state: its MLS ratchet tree summary,
// membership, policy, and mutable metadata. Access is serialized by mu,
// the same per-aggregate locking idiom the teacher uses for friend
// connection state.
type Group struct {
	mu sync.RWMutex

	ID              []byte
	Type            ConversationType
	CreatedAt       time.Time
	Self            identity.InboxID
	Membership      MembershipState
	CurrentEpoch    Epoch
	Members         []Member
	Policy          PolicySet
	Metadata        map[string][]byte
	DisappearFromNs int64
	DisappearInNs   int64
	CommitLogKey    []byte

	// MaxPastEpochs is §4.4 rule 2's tolerance window: how far behind the
	// group's current epoch an inbound application message may still
	// target and be decrypted, rather than rejected. Default 3.
	MaxPastEpochs int

	// Forked records §4.4 rule 3: a commit arrived whose epoch is more
	// than one ahead of local, meaning this installation's view has
	// diverged from the rest of the group and cannot self-heal by
	// applying the gap.
	Forked bool

	// MaybeForked is set externally by the commit-log worker when
	// save_remote_commit_log observes a genuinely contradictory entry
	// (§4.5 "divergence marks the group forked"), as distinct from a
	// merely-skipped out-of-order one (§8 scenario 6).
	MaybeForked bool

	commitSeq       uint64
	cursor          uint64
	keyUpdateIssued bool
	pastAuthenticators map[uint64][]byte

	timeProvider crypto.TimeProvider
	intents      *IntentQueue
}

// New creates a freshly-initialized group owned by creator at epoch 0.
func New(id []byte, convType ConversationType, creator identity.InboxID, policy PolicySet) *Group {
	return NewWithTimeProvider(id, convType, creator, policy, crypto.GetDefaultTimeProvider())
}

// NewWithTimeProvider allows deterministic tests to control CreatedAt.
func NewWithTimeProvider(id []byte, convType ConversationType, creator identity.InboxID, policy PolicySet, tp crypto.TimeProvider) *Group {
	if tp == nil {
		tp = crypto.GetDefaultTimeProvider()
	}
	g := &Group{
		ID:            id,
		Type:          convType,
		CreatedAt:     tp.Now(),
		Self:          creator,
		Membership:    MembershipAllowed, // §4.4 "Creator's conversation is Allowed at creation"
		CurrentEpoch:  Epoch{Number: 0, Authenticator: deriveAuthenticator(nil, id, 0)},
		Members:       []Member{{InboxID: creator}},
		Policy:        policy,
		Metadata:      make(map[string][]byte),
		MaxPastEpochs: DefaultMaxPastEpochs,
		timeProvider:  tp,
	}
	g.intents = NewIntentQueue()
	return g
}

// Snapshot returns a read-locked copy of the fields callers most often
// need, avoiding exposing the live mutex-guarded struct.
func (g *Group) Snapshot() (epoch Epoch, membership MembershipState, members []Member) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.CurrentEpoch, g.Membership, append([]Member(nil), g.Members...)
}

// HasMember reports whether inbox currently holds a leaf.
func (g *Group) HasMember(inbox identity.InboxID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasMemberLocked(inbox)
}

func (g *Group) hasMemberLocked(inbox identity.InboxID) bool {
	for _, m := range g.Members {
		if m.InboxID == inbox {
			return true
		}
	}
	return false
}

// IsActive reports whether the local installation is a fully
// participating member, i.e. not Pending/Restored/Rejected.
func (g *Group) IsActive() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.Membership == MembershipAllowed
}

// IsForked reports the group's two fork-related flags (§4.4 rule 3, §4.5
// "maybe_forked").
func (g *Group) IsForked() (forked, maybeForked bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.Forked, g.MaybeForked
}

// MarkMaybeForked flags the group per §4.5's commit-log divergence check,
// called by the commit-log worker when it observes a contradictory
// remote entry (§8 scenario 6).
func (g *Group) MarkMaybeForked() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.MaybeForked = true
}

// Intents returns the group's intent queue (§4.4 "Intent queue").
func (g *Group) Intents() *IntentQueue {
	return g.intents
}

func (g *Group) addMemberLocked(inbox identity.InboxID, sequenceID uint64, installation identity.InstallationID) {
	for i, m := range g.Members {
		if m.InboxID == inbox {
			if sequenceID > g.Members[i].SequenceID {
				g.Members[i].SequenceID = sequenceID
			}
			if installation != nil {
				g.Members[i].Installations = append(g.Members[i].Installations, installation)
			}
			return
		}
	}
	m := Member{InboxID: inbox, SequenceID: sequenceID}
	if installation != nil {
		m.Installations = []identity.InstallationID{installation}
	}
	g.Members = append(g.Members, m)
}

func (g *Group) removeMemberLocked(inbox identity.InboxID) {
	out := g.Members[:0]
	for _, m := range g.Members {
		if m.InboxID != inbox {
			out = append(out, m)
		}
	}
	g.Members = out
}

func (g *Group) groupIDCopy() []byte {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]byte(nil), g.ID...)
}

func (g *Group) now() time.Time {
	if g.timeProvider == nil {
		return time.Now()
	}
	return g.timeProvider.Now()
}

// ApplyCommit advances the group's epoch according to c, enforcing the
// commit-application ladder in commit.go (§4.4 rules 1-3).
func (g *Group) ApplyCommit(c Commit) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	outcome, err := validateCommit(g.CurrentEpoch, c, g.maxPastEpochsLocked())
	switch outcome {
	case outcomeForked:
		g.Forked = true
		return apperrors.Wrap(apperrors.KindForked, "group.ApplyCommit", "commit epoch gap exceeds one past the local epoch", err)
	case outcomePastTolerated:
		return apperrors.Wrap(apperrors.KindConflict, "group.ApplyCommit", "commit targets a past epoch", err)
	}
	if err != nil {
		return apperrors.Wrap(apperrors.KindSchema, "group.ApplyCommit", "validating commit", err)
	}

	// Remember the authenticator we're leaving, so application messages
	// still addressed to it can be decrypted within the tolerance window
	// (§4.4 rule 2).
	g.recordPastAuthenticatorLocked(g.CurrentEpoch.Number, g.CurrentEpoch.Authenticator)

	for _, add := range c.Adds {
		g.addMemberLocked(add.InboxID, add.SequenceID, add.Installation)
	}
	for _, rm := range c.Removes {
		g.removeMemberLocked(rm)
	}
	if c.Policy != nil {
		g.Policy = *c.Policy
	}
	for k, v := range c.MetadataChanges {
		applyMetadataChange(g.Metadata, k, v)
	}
	g.CurrentEpoch = Epoch{Number: c.NewEpochNumber, Authenticator: c.NewEpochAuthenticator}

	if !g.hasMemberLocked(g.Self) && g.Membership == MembershipAllowed {
		// §4.4 invariant / §8 invariant 4: a removed member's subsequent
		// sync sets membership_state = Restored (inactive); their local
		// DB retains prior messages.
		g.Membership = MembershipRestored
	}
	return nil
}

func (g *Group) maxPastEpochsLocked() int {
	if g.MaxPastEpochs <= 0 {
		return DefaultMaxPastEpochs
	}
	return g.MaxPastEpochs
}

func (g *Group) recordPastAuthenticatorLocked(epoch uint64, authenticator []byte) {
	if g.pastAuthenticators == nil {
		g.pastAuthenticators = make(map[uint64][]byte)
	}
	g.pastAuthenticators[epoch] = append([]byte(nil), authenticator...)
	max := g.maxPastEpochsLocked()
	for e := range g.pastAuthenticators {
		if e+uint64(max) < g.CurrentEpoch.Number {
			delete(g.pastAuthenticators, e)
		}
	}
}

func (g *Group) pastAuthenticatorLocked(epoch uint64) []byte {
	if epoch == g.CurrentEpoch.Number {
		return g.CurrentEpoch.Authenticator
	}
	return g.pastAuthenticators[epoch]
}

func (g *Group) nextCommitSequence() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commitSeq++
	return g.commitSeq
}

func (g *Group) syncCursor() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cursor
}

func (g *Group) advanceCursor(seq uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if seq > g.cursor {
		g.cursor = seq
	}
}

// deriveAuthenticator computes a deterministic epoch authenticator from
// the previous one, the group id, and the new epoch number, the same
// Keccak-256-over-salted-fields idiom client.Context.SyncGroup uses to
// derive the device-sync group id.
func deriveAuthenticator(prev []byte, groupID []byte, epoch uint64) []byte {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[7-i] = byte(epoch >> (8 * i))
	}
	return crypto.Keccak256(prev, groupID, buf[:])
}
