package group

import (
	"context"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/xmtp-go/libxmtp-core/apperrors"
	"github.com/xmtp-go/libxmtp-core/commitlog"
	"github.com/xmtp-go/libxmtp-core/crypto"
	"github.com/xmtp-go/libxmtp-core/identity"
)

// epochSalt namespaces the per-epoch symmetric key derivation away from
// other uses of crypto.DeriveStoreKey (payer key derivation in
// client/context.go uses a different salt).
var epochSalt = []byte("libxmtp-core/group/epoch-key")

// CommitLogWriter is the narrow slice of commitlog.Store a Group needs
// to record its own commit attempts, matching store.CommitLogRepo's
// AppendLocal signature structurally — no adapter required (the same
// narrow-local-interface idiom as sweeper.Store and commitlog.Store).
type CommitLogWriter interface {
	AppendLocal(ctx context.Context, e commitlog.LocalEntry) error
}

// CommitTransport publishes and fetches commits for a group (§4.4, §6
// "PublishCommitLog"/"QueryCommitLog" siblings for application-level
// commits rather than the verification log).
type CommitTransport interface {
	PublishCommit(ctx context.Context, groupID []byte, c Commit) error
	FetchCommits(ctx context.Context, groupID []byte, afterSequence uint64) ([]RemoteCommit, error)
}

// ApplicationTransport publishes encrypted application messages (§4.4
// "send"). A real transport classifies a too-far-behind publish as
// Conflict (§8 scenario 3), which Send simply propagates.
type ApplicationTransport interface {
	PublishApplication(ctx context.Context, groupID []byte, epochNumber uint64, ciphertext []byte) error
}

// WelcomeTransport delivers a Welcome to a newly-added installation
// (§4.3, §4.4 "Welcome handling").
type WelcomeTransport interface {
	SendWelcome(ctx context.Context, installation identity.InstallationID, w *Welcome) error
}

// IdentityResolver resolves an inbox's association state, the same
// method identity.Graph already exposes — used to discover a member's
// current installations and their key-package bytes for welcome
// building (§4.2, §4.4 "add_members").
type IdentityResolver interface {
	Resolve(ctx context.Context, inbox identity.InboxID, upToSequence uint64) (*identity.AssociationState, error)
}

// LocalMessage is the subset of a persisted application message the
// group package produces; the store layer (out of this package's
// reach, to avoid an import cycle) maps it onto group_message.
type LocalMessage struct {
	ID                   uuid.UUID
	GroupID              []byte
	SentAtNs             int64
	SenderInboxID        identity.InboxID
	SenderInstallationID identity.InstallationID
	Ciphertext           []byte
	ExpireAtNs           *int64
}

// MessageWriter persists a LocalMessage, satisfied by a thin client-side
// adapter over store.MessageRepo.Insert.
type MessageWriter interface {
	SaveLocalMessage(ctx context.Context, m LocalMessage) error
}

// RemoteCommit is a fetched commit plus the log position it occupies,
// so Sync can advance its cursor past whatever it successfully applies.
type RemoteCommit struct {
	Commit
	SequenceID uint64
}

// Deps bundles everything an operation needs beyond the Group's own
// in-memory state: the narrow, locally-defined interfaces any transport
// or store adapter can satisfy, mirroring commitlog.Worker's
// Publisher/Fetcher/Store split.
type Deps struct {
	Self           identity.InboxID
	Installation   identity.InstallationID
	CommitLog      CommitLogWriter
	Commits        CommitTransport
	Application    ApplicationTransport
	Welcomes       WelcomeTransport
	Identity       IdentityResolver
	Messages       MessageWriter
	NewKeyPackage  func(ctx context.Context, installation identity.InstallationID) (uint32, []byte, error)
	NewMessageID   func() uuid.UUID
}

func (d Deps) messageID() uuid.UUID {
	if d.NewMessageID != nil {
		return d.NewMessageID()
	}
	return uuid.New()
}

// SyncResult reports how many remote commits Sync considered and how
// many it actually applied (§4.4 "sync() returns num_eligible and
// num_synced").
type SyncResult struct {
	NumEligible int
	NumSynced   int
}

// CreateGroup initializes a brand-new group owned by creator, writes its
// GroupCreation commit-log row, and — if initialAdds is non-empty — adds
// those members in the same call, returning the welcomes that must be
// delivered to their installations (§4.4 "create-group").
func CreateGroup(ctx context.Context, deps Deps, id []byte, creator identity.InboxID, policy PolicySet, initialAdds []MemberAdd) (*Group, []*Welcome, error) {
	g := New(id, ConversationGroup, creator, policy)

	if deps.CommitLog != nil {
		if err := deps.CommitLog.AppendLocal(ctx, commitlog.LocalEntry{
			GroupID:                  id,
			CommitSequenceID:         g.nextCommitSequence(),
			Kind:                     commitlog.KindGroupCreation,
			LastEpochAuthenticator:   nil,
			CommitResult:             commitlog.ResultApplied,
			AppliedEpochNumber:       g.CurrentEpoch.Number,
			AppliedEpochAuthenticator: g.CurrentEpoch.Authenticator,
		}); err != nil {
			return nil, nil, apperrors.Wrap(apperrors.KindSchema, "group.CreateGroup", "recording GroupCreation entry", err)
		}
	}

	if len(initialAdds) == 0 {
		return g, nil, nil
	}
	welcomes, err := addMembers(ctx, g, deps, creator, initialAdds)
	if err != nil {
		return g, nil, err
	}
	return g, welcomes, nil
}

// AddMembers proposes and locally applies a commit adding members,
// authorized under the group's AddMember policy, returning the welcomes
// that must be delivered to each newly-added installation (§4.4
// "add_members").
func (g *Group) AddMembers(ctx context.Context, deps Deps, actor identity.InboxID, adds []MemberAdd) ([]*Welcome, error) {
	return addMembers(ctx, g, deps, actor, adds)
}

func addMembers(ctx context.Context, g *Group, deps Deps, actor identity.InboxID, adds []MemberAdd) ([]*Welcome, error) {
	if !g.HasMember(actor) {
		return nil, apperrors.New(apperrors.KindPolicyDenied, "group.AddMembers", "actor is not a group member")
	}
	g.mu.RLock()
	authorized := g.Policy.Authorize(g.Policy.AddMember, actor)
	g.mu.RUnlock()
	if !authorized {
		return nil, apperrors.New(apperrors.KindPolicyDenied, "group.AddMembers", "actor is not authorized to add members")
	}

	commit, err := g.proposeCommit(func(c *Commit) { c.Adds = adds })
	if err != nil {
		return nil, err
	}
	if err := g.applyAndLog(ctx, deps, commit, commitlog.KindUpdateGroupMembership); err != nil {
		return nil, err
	}
	if err := publishCommit(ctx, deps, g, commit); err != nil {
		return nil, err
	}

	var welcomes []*Welcome
	for _, add := range adds {
		if deps.NewKeyPackage == nil || deps.Welcomes == nil {
			continue
		}
		keyPackageID, encryptedSecret, err := deps.NewKeyPackage(ctx, add.Installation)
		if err != nil {
			return welcomes, apperrors.Wrap(apperrors.KindCryptographic, "group.AddMembers", "building welcome secret", err)
		}
		w := BuildWelcome(g, keyPackageID, encryptedSecret)
		if err := deps.Welcomes.SendWelcome(ctx, add.Installation, w); err != nil {
			return welcomes, apperrors.Wrap(apperrors.KindRetryable, "group.AddMembers", "delivering welcome", err)
		}
		welcomes = append(welcomes, w)
	}
	if deps.CommitLog != nil {
		_ = deps.CommitLog.AppendLocal(ctx, commitlog.LocalEntry{
			GroupID:                  g.groupIDCopy(),
			CommitSequenceID:         g.nextCommitSequence(),
			Kind:                     commitlog.KindWelcome,
			CommitResult:             commitlog.ResultApplied,
			AppliedEpochNumber:       commit.NewEpochNumber,
			AppliedEpochAuthenticator: commit.NewEpochAuthenticator,
		})
	}
	return welcomes, nil
}

// RemoveMembers proposes and applies a commit removing members,
// authorized under the group's RemoveMember policy (§4.4
// "remove_members").
func (g *Group) RemoveMembers(ctx context.Context, deps Deps, actor identity.InboxID, inboxes []identity.InboxID) error {
	g.mu.RLock()
	authorized := g.Policy.Authorize(g.Policy.RemoveMember, actor)
	g.mu.RUnlock()
	if !authorized {
		return apperrors.New(apperrors.KindPolicyDenied, "group.RemoveMembers", "actor is not authorized to remove members")
	}

	commit, err := g.proposeCommit(func(c *Commit) { c.Removes = inboxes })
	if err != nil {
		return err
	}
	if err := g.applyAndLog(ctx, deps, commit, commitlog.KindUpdateGroupMembership); err != nil {
		return err
	}
	return publishCommit(ctx, deps, g, commit)
}

// UpdateMetadata proposes and applies a metadata-change commit,
// authorized under the group's UpdateMetadata policy (§4.4
// "update_metadata").
func (g *Group) UpdateMetadata(ctx context.Context, deps Deps, actor identity.InboxID, changes map[string][]byte) error {
	g.mu.RLock()
	authorized := g.Policy.Authorize(g.Policy.UpdateMetadata, actor)
	g.mu.RUnlock()
	if !authorized {
		return apperrors.New(apperrors.KindPolicyDenied, "group.UpdateMetadata", "actor is not authorized to update metadata")
	}

	commit, err := g.proposeCommit(func(c *Commit) { c.MetadataChanges = changes })
	if err != nil {
		return err
	}
	if err := g.applyAndLog(ctx, deps, commit, commitlog.KindMetadataUpdate); err != nil {
		return err
	}
	return publishCommit(ctx, deps, g, commit)
}

// UpdatePermissionPolicy proposes and applies a policy-change commit,
// authorized under the group's own current UpdatePolicy gate (§4.4
// invariant: "a policy change must be authorized under the policy in
// effect before the change"). The remove-member and policy-change
// permissions may never themselves be PermissionAllowAll — loosening
// either to Allow would let any member strip the group of governance
// entirely, so that combination is rejected outright rather than merely
// discouraged.
func (g *Group) UpdatePermissionPolicy(ctx context.Context, deps Deps, actor identity.InboxID, newPolicy PolicySet) error {
	g.mu.RLock()
	authorized := g.Policy.Authorize(g.Policy.UpdatePolicy, actor)
	g.mu.RUnlock()
	if !authorized {
		return apperrors.New(apperrors.KindPolicyDenied, "group.UpdatePermissionPolicy", "actor is not authorized to change policy")
	}
	if newPolicy.RemoveMember == PermissionAllowAll || newPolicy.UpdatePolicy == PermissionAllowAll {
		return apperrors.New(apperrors.KindPolicyDenied, "group.UpdatePermissionPolicy", "remove-member and update-policy permissions may not be AllowAll")
	}

	commit, err := g.proposeCommit(func(c *Commit) { c.Policy = &newPolicy })
	if err != nil {
		return err
	}
	if err := g.applyAndLog(ctx, deps, commit, commitlog.KindMetadataUpdate); err != nil {
		return err
	}
	return publishCommit(ctx, deps, g, commit)
}

// UpdateInstallations reconciles the group's member roster against the
// identity graph's current view of each member's installations, adding
// leaves for installations the group doesn't yet know about. It is
// idempotent: if every member's installation set already matches, it
// issues no commit (§4.4 "update_installations() ... idempotent").
func (g *Group) UpdateInstallations(ctx context.Context, deps Deps) error {
	if deps.Identity == nil {
		return nil
	}
	g.mu.RLock()
	members := append([]Member(nil), g.Members...)
	g.mu.RUnlock()

	var adds []MemberAdd
	for _, m := range members {
		state, err := deps.Identity.Resolve(ctx, m.InboxID, 0)
		if err != nil {
			return apperrors.Wrap(apperrors.KindRetryable, "group.UpdateInstallations", "resolving member identity", err)
		}
		known := make(map[string]bool, len(m.Installations))
		for _, inst := range m.Installations {
			known[instKey(inst)] = true
		}
		for instHex := range state.Installations {
			if known[instHex] {
				continue
			}
			inst, err := decodeInstKey(instHex)
			if err != nil {
				continue
			}
			adds = append(adds, MemberAdd{InboxID: m.InboxID, SequenceID: state.LatestSequenceID, Installation: inst})
		}
	}
	if len(adds) == 0 {
		return nil
	}

	commit, err := g.proposeCommit(func(c *Commit) { c.Adds = adds })
	if err != nil {
		return err
	}
	if err := g.applyAndLog(ctx, deps, commit, commitlog.KindUpdateGroupMembership); err != nil {
		return err
	}
	return publishCommit(ctx, deps, g, commit)
}

// Send encrypts payload under the group's current epoch key and
// publishes it. The first Send after a group is created or joined
// prepends a KeyUpdate commit, establishing this installation's own
// ratchet secret for the epoch before any application message rides on
// it (§4.4 "send(payload, opts)").
func (g *Group) Send(ctx context.Context, deps Deps, payload []byte) (uuid.UUID, error) {
	g.mu.RLock()
	active := g.Membership == MembershipAllowed
	needsKeyUpdate := !g.keyUpdateIssued
	g.mu.RUnlock()
	if !active {
		return uuid.UUID{}, apperrors.New(apperrors.KindPolicyDenied, "group.Send", "local installation is not an active member")
	}

	if needsKeyUpdate {
		commit, err := g.proposeCommit(func(c *Commit) { c.IsKeyUpdate = true })
		if err != nil {
			return uuid.UUID{}, err
		}
		if err := g.applyAndLog(ctx, deps, commit, commitlog.KindKeyUpdate); err != nil {
			return uuid.UUID{}, err
		}
		if err := publishCommit(ctx, deps, g, commit); err != nil {
			return uuid.UUID{}, err
		}
		g.mu.Lock()
		g.keyUpdateIssued = true
		g.mu.Unlock()
	}

	g.mu.RLock()
	epoch := g.CurrentEpoch
	groupID := append([]byte(nil), g.ID...)
	self := g.Self
	g.mu.RUnlock()

	key := epochKey(epoch.Authenticator)
	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return uuid.UUID{}, apperrors.Wrap(apperrors.KindCryptographic, "group.Send", "generating nonce", err)
	}
	ciphertext, err := crypto.EncryptSymmetric(payload, nonce, key)
	if err != nil {
		return uuid.UUID{}, apperrors.Wrap(apperrors.KindCryptographic, "group.Send", "encrypting application message", err)
	}
	wire := append(append([]byte(nil), nonce[:]...), ciphertext...)

	if deps.Application != nil {
		if err := deps.Application.PublishApplication(ctx, groupID, epoch.Number, wire); err != nil {
			// Propagated verbatim: a too-far-behind publish is classified
			// Conflict by the transport (§8 scenario 3), and the caller is
			// expected to Sync and retry.
			return uuid.UUID{}, err
		}
	}

	id := deps.messageID()
	if deps.Messages != nil {
		if err := deps.Messages.SaveLocalMessage(ctx, LocalMessage{
			ID:                   id,
			GroupID:              groupID,
			SentAtNs:             g.now().UnixNano(),
			SenderInboxID:        self,
			SenderInstallationID: deps.Installation,
			Ciphertext:           wire,
			ExpireAtNs:           g.expiryForLocked(),
		}); err != nil {
			return id, apperrors.Wrap(apperrors.KindSchema, "group.Send", "persisting sent message", err)
		}
	}
	return id, nil
}

func (g *Group) expiryForLocked() *int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.DisappearInNs <= 0 {
		return nil
	}
	v := g.now().UnixNano() + g.DisappearInNs
	return &v
}

// Sync fetches and applies every commit published since the group's
// local cursor, reporting how many were eligible to apply and how many
// actually were (§4.4 "sync()"). A commit that fails classified Conflict
// (past-epoch, tolerated) or Forked is counted as eligible but not
// synced; Sync keeps going past a tolerated Conflict but stops at the
// first Forked commit, since everything after it is unreconstructable
// until the fork is resolved out of band.
func (g *Group) Sync(ctx context.Context, deps Deps) (SyncResult, error) {
	if deps.Commits == nil {
		return SyncResult{}, nil
	}
	groupID := g.groupIDCopy()
	fetched, err := deps.Commits.FetchCommits(ctx, groupID, g.syncCursor())
	if err != nil {
		return SyncResult{}, apperrors.Wrap(apperrors.KindRetryable, "group.Sync", "fetching remote commits", err)
	}

	result := SyncResult{NumEligible: len(fetched)}
	for _, rc := range fetched {
		err := g.ApplyCommit(rc.Commit)
		if err == nil {
			result.NumSynced++
			g.advanceCursor(rc.SequenceID)
			if deps.CommitLog != nil {
				_ = deps.CommitLog.AppendLocal(ctx, commitlog.LocalEntry{
					GroupID:                  groupID,
					CommitSequenceID:         g.nextCommitSequence(),
					Kind:                     commitlog.KindUpdateGroupMembership,
					LastEpochAuthenticator:   rc.LastEpochAuthenticator,
					CommitResult:             commitlog.ResultApplied,
					AppliedEpochNumber:       rc.NewEpochNumber,
					AppliedEpochAuthenticator: rc.NewEpochAuthenticator,
				})
			}
			continue
		}
		if apperrors.IsKind(err, apperrors.KindForked) {
			g.advanceCursor(rc.SequenceID)
			return result, err
		}
		// Conflict (past-tolerated) or schema error: skip this entry but
		// keep processing later ones, which may still apply cleanly.
		g.advanceCursor(rc.SequenceID)
	}
	return result, nil
}

// proposeCommit builds a Commit targeting the group's current epoch,
// filling in whatever the caller's mutator adds, and computing the new
// epoch authenticator deterministically from the prior one.
func (g *Group) proposeCommit(mutate func(*Commit)) (Commit, error) {
	g.mu.RLock()
	current := g.CurrentEpoch
	groupID := append([]byte(nil), g.ID...)
	g.mu.RUnlock()

	c := Commit{
		TargetEpochNumber:      current.Number,
		LastEpochAuthenticator: current.Authenticator,
		NewEpochNumber:         current.Number + 1,
	}
	mutate(&c)
	c.NewEpochAuthenticator = deriveAuthenticator(current.Authenticator, groupID, c.NewEpochNumber)
	return c, nil
}

// applyAndLog applies c to g and records the outcome as a commit-log
// entry of the given kind, classifying failures per §7.
func (g *Group) applyAndLog(ctx context.Context, deps Deps, c Commit, kind commitlog.Kind) error {
	groupID := g.groupIDCopy()
	err := g.ApplyCommit(c)

	result := commitlog.ResultApplied
	if err != nil {
		switch {
		case apperrors.IsKind(err, apperrors.KindForked):
			result = commitlog.ResultMlsValidationError
		case apperrors.IsKind(err, apperrors.KindConflict):
			result = commitlog.ResultMlsCommitError
		default:
			result = commitlog.ResultMlsCommitError
		}
	}
	if deps.CommitLog != nil {
		_ = deps.CommitLog.AppendLocal(ctx, commitlog.LocalEntry{
			GroupID:                  groupID,
			CommitSequenceID:         g.nextCommitSequence(),
			Kind:                     kind,
			LastEpochAuthenticator:   c.LastEpochAuthenticator,
			CommitResult:             result,
			AppliedEpochNumber:       c.NewEpochNumber,
			AppliedEpochAuthenticator: c.NewEpochAuthenticator,
		})
	}
	return err
}

func publishCommit(ctx context.Context, deps Deps, g *Group, c Commit) error {
	if deps.Commits == nil {
		return nil
	}
	if err := deps.Commits.PublishCommit(ctx, g.groupIDCopy(), c); err != nil {
		return apperrors.Wrap(apperrors.KindRetryable, "group.publishCommit", "publishing commit", err)
	}
	return nil
}

// epochKey derives the symmetric key application messages in this epoch
// are encrypted under, from the epoch authenticator the membership
// commit established.
func epochKey(authenticator []byte) [32]byte {
	return crypto.DeriveStoreKey(authenticator, epochSalt)
}

func instKey(inst identity.InstallationID) string {
	return hex.EncodeToString([]byte(inst))
}

func decodeInstKey(hexKey string) (identity.InstallationID, error) {
	out, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, err
	}
	return identity.InstallationID(out), nil
}
