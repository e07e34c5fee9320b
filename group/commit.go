package group

import (
	"bytes"
	"errors"

	"github.com/xmtp-go/libxmtp-core/identity"
)

// ErrEpochMismatch signals a commit that does not build on the group's
// current epoch and falls outside every tolerance the ladder below
// grants (§4.4 rule 1: "a commit must target the group's current epoch;
// anything else is stale or a fork candidate").
var ErrEpochMismatch = errors.New("commit targets an epoch other than the group's current epoch")

// ErrAuthenticatorMismatch signals a commit whose LastEpochAuthenticator
// does not match the group's recorded authenticator for that epoch
// (§4.4 "the commit's view of the prior epoch must match ours exactly,
// or the two parties have already diverged").
var ErrAuthenticatorMismatch = errors.New("commit's prior epoch authenticator does not match local state")

// ErrEmptyCommit signals a commit with no content at all (a commit must
// add, remove, update metadata/policy, or rotate the sender's key).
var ErrEmptyCommit = errors.New("commit carries no proposals")

// ErrStaleCommit signals a commit targeting a past epoch within the
// max_past_epochs tolerance window (§4.4 rule 2): the application
// messages riding on that epoch are still decryptable, but the commit
// itself is rejected rather than applied, since applying it now would
// rewind state other members have already moved past.
var ErrStaleCommit = errors.New("commit targets a past epoch within the tolerance window")

// DefaultMaxPastEpochs is the spec's default for max_past_epochs (§4.4
// rule 2): how many epochs behind current an application message may
// still target and be treated as decryptable rather than lost.
const DefaultMaxPastEpochs = 3

// MemberAdd is one add proposal carried by a commit. SequenceID is the
// inbox's identity-update sequence number as resolved at proposal time
// (§4.8 step 2's "member set ... carries (inbox_id, sequence_id)").
type MemberAdd struct {
	InboxID      identity.InboxID
	SequenceID   uint64
	Installation identity.InstallationID
}

// Commit is a fully-assembled MLS commit as applied to a Group (§4.4).
// The cryptographic ratchet-tree operations themselves are out of scope
// (§1); Commit models the result of applying one, which is what the
// client-side state machine actually needs to track.
type Commit struct {
	TargetEpochNumber      uint64
	LastEpochAuthenticator []byte
	NewEpochNumber         uint64
	NewEpochAuthenticator  []byte
	Adds                   []MemberAdd
	Removes                []identity.InboxID
	Policy                 *PolicySet
	MetadataChanges        map[string][]byte
	IsKeyUpdate            bool
}

// commitOutcome classifies the result of running the commit-application
// ladder, since the same validation failure (a non-matching epoch) must
// be handled three different ways depending on how far off it is.
type commitOutcome uint8

const (
	// outcomeApply: the commit targets the group's current epoch and may
	// be applied (§4.4 rule 1).
	outcomeApply commitOutcome = iota
	// outcomePastTolerated: the commit targets an epoch within
	// max_past_epochs behind current. Its application messages are still
	// decryptable, but the commit itself is rejected, classified
	// Conflict (§4.4 rule 2, §8 scenario 2/3).
	outcomePastTolerated
	// outcomeForked: the commit's target is more than one epoch ahead of
	// local, or otherwise further out than the past-tolerance window can
	// explain — this installation's view has diverged and cannot self-
	// heal by applying the gap (§4.4 rule 3, §8 scenario 6).
	outcomeForked
)

// validateCommit runs the three-rule commit-application ladder before a
// Group applies c, returning which of the three outcomes applies and an
// error describing why (nil only for outcomeApply).
func validateCommit(current Epoch, c Commit, maxPastEpochs int) (commitOutcome, error) {
	if maxPastEpochs <= 0 {
		maxPastEpochs = DefaultMaxPastEpochs
	}

	if c.TargetEpochNumber == current.Number {
		if !bytes.Equal(c.LastEpochAuthenticator, current.Authenticator) {
			return outcomeForked, ErrAuthenticatorMismatch
		}
		if len(c.Adds) == 0 && len(c.Removes) == 0 && c.Policy == nil && len(c.MetadataChanges) == 0 && !c.IsKeyUpdate {
			return outcomeApply, ErrEmptyCommit
		}
		return outcomeApply, nil
	}

	if c.TargetEpochNumber < current.Number {
		// Rule 2: a commit addressed to an epoch we've already left.
		// Within the tolerance window this is merely stale (Conflict);
		// beyond it, it's indistinguishable from noise and flatly
		// rejected.
		behind := current.Number - c.TargetEpochNumber
		if behind <= uint64(maxPastEpochs) {
			return outcomePastTolerated, ErrStaleCommit
		}
		return outcomeForked, ErrEpochMismatch
	}

	// Rule 3: the commit targets an epoch ahead of ours. A well-formed
	// sequence of commits advances the epoch by exactly one at a time,
	// so any commit we haven't applied yet that targets a higher epoch
	// means we're missing intermediate commits we cannot reconstruct —
	// the group is forked rather than merely behind.
	return outcomeForked, ErrEpochMismatch
}
