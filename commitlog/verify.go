package commitlog

import (
	"bytes"
	"errors"
)

// ErrForkDetected signals that a remote entry disagrees with a locally
// applied entry at the same commit sequence position (§4.7 invariant
// "two entries at the same position with different epoch authenticators
// is a fork, and must never be silently accepted").
var ErrForkDetected = errors.New("commit log fork detected")

// ShouldSkip runs the five-rule ladder that decides whether a fetched
// remote entry should be ignored, accepted as new information, or
// flagged as a fork, given the installation's own local log and the
// already-established consensus key (nil if not yet discovered).
//
// Rule order matters: each rule either returns a definitive skip/accept
// or falls through to the next.
func ShouldSkip(local []LocalEntry, consensusKey []byte, remote RemoteEntry) (skip bool, err error) {
	// Rule 1: wrong signer once a consensus key is known.
	if consensusKey != nil && !bytes.Equal(consensusKey, remote.SignerPublicKey) {
		return true, nil
	}

	existing, found := findLocal(local, remote.CommitSequenceID)

	// Rule 2: never seen this position locally — always accept.
	if !found {
		return false, nil
	}

	// Rule 3: identical entry already recorded — skip, it's a duplicate.
	if entriesEqual(existing, remote.LocalEntry) {
		return true, nil
	}

	// Rule 4: same position, different applied epoch authenticator on
	// two entries that both claim success is a fork; never skip silently.
	if existing.CommitResult == ResultApplied && remote.CommitResult == ResultApplied &&
		!bytes.Equal(existing.AppliedEpochAuthenticator, remote.AppliedEpochAuthenticator) {
		return false, ErrForkDetected
	}

	// Rule 5: local recorded a failure but remote recorded success (or a
	// different failure class) at the same position — accept the remote
	// entry so the local log can be corrected on next retry.
	if existing.CommitResult != ResultApplied {
		return false, nil
	}

	return true, nil
}

func findLocal(local []LocalEntry, sequenceID uint64) (LocalEntry, bool) {
	for _, e := range local {
		if e.CommitSequenceID == sequenceID {
			return e, true
		}
	}
	return LocalEntry{}, false
}

func entriesEqual(a, b LocalEntry) bool {
	return a.Kind == b.Kind &&
		a.CommitResult == b.CommitResult &&
		a.AppliedEpochNumber == b.AppliedEpochNumber &&
		bytes.Equal(a.LastEpochAuthenticator, b.LastEpochAuthenticator) &&
		bytes.Equal(a.AppliedEpochAuthenticator, b.AppliedEpochAuthenticator)
}
