// Package commitlog implements the per-group commit log (§4.7, spec
// component E): a signed, externally-verifiable record of the sequence
// of commits applied to a group, published so other members (and
// outside verifiers) can detect forks.
package commitlog

// Kind distinguishes the group operation a commit-log entry records,
// using the row-kind vocabulary of §4.4/§4.5: a group's creation, a
// membership change, a metadata change, a sender key rotation, or the
// welcome issued alongside an add.
type Kind uint8

const (
	KindGroupCreation Kind = iota
	KindUpdateGroupMembership
	KindMetadataUpdate
	KindKeyUpdate
	KindWelcome
)

// Result records the local outcome of attempting to apply a commit
// (§4.7 "entries record success, and every known failure class").
type Result uint8

const (
	ResultApplied Result = iota
	ResultWireFormatError
	ResultMlsValidationError
	ResultMlsCommitError
	ResultUndecryptableError
	ResultExternalJoinFailedError
)

// LocalEntry is one row this installation appended after applying (or
// failing to apply) a commit.
type LocalEntry struct {
	GroupID                  []byte
	CommitSequenceID         uint64
	Kind                     Kind
	LastEpochAuthenticator   []byte
	CommitResult             Result
	AppliedEpochNumber       uint64
	AppliedEpochAuthenticator []byte
}

// RemoteEntry is a LocalEntry as published to, and fetched back from,
// the backend, plus the signer that published it.
type RemoteEntry struct {
	LocalEntry
	SignerPublicKey []byte
}
