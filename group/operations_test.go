package group

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmtp-go/libxmtp-core/apperrors"
	"github.com/xmtp-go/libxmtp-core/commitlog"
	"github.com/xmtp-go/libxmtp-core/identity"
)

// fakeCommitLog records every appended entry in memory.
type fakeCommitLog struct {
	mu      sync.Mutex
	entries []commitlog.LocalEntry
}

func (f *fakeCommitLog) AppendLocal(ctx context.Context, e commitlog.LocalEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

// fakeCommitTransport is an in-memory append-only commit log keyed by
// group id, standing in for the network transport.
type fakeCommitTransport struct {
	mu      sync.Mutex
	commits map[string][]RemoteCommit
}

func newFakeCommitTransport() *fakeCommitTransport {
	return &fakeCommitTransport{commits: make(map[string][]RemoteCommit)}
}

func (f *fakeCommitTransport) PublishCommit(ctx context.Context, groupID []byte, c Commit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(groupID)
	seq := uint64(len(f.commits[key]) + 1)
	f.commits[key] = append(f.commits[key], RemoteCommit{Commit: c, SequenceID: seq})
	return nil
}

func (f *fakeCommitTransport) FetchCommits(ctx context.Context, groupID []byte, afterSequence uint64) ([]RemoteCommit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []RemoteCommit
	for _, rc := range f.commits[string(groupID)] {
		if rc.SequenceID > afterSequence {
			out = append(out, rc)
		}
	}
	return out, nil
}

// fakeApplicationTransport records published ciphertexts.
type fakeApplicationTransport struct {
	mu        sync.Mutex
	published [][]byte
	err       error
}

func (f *fakeApplicationTransport) PublishApplication(ctx context.Context, groupID []byte, epochNumber uint64, ciphertext []byte) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, ciphertext)
	return nil
}

// fakeWelcomeTransport records delivered welcomes.
type fakeWelcomeTransport struct {
	mu        sync.Mutex
	delivered []identity.InstallationID
}

func (f *fakeWelcomeTransport) SendWelcome(ctx context.Context, installation identity.InstallationID, w *Welcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, installation)
	return nil
}

// fakeMessageWriter records saved local messages.
type fakeMessageWriter struct {
	mu       sync.Mutex
	messages []LocalMessage
}

func (f *fakeMessageWriter) SaveLocalMessage(ctx context.Context, m LocalMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, m)
	return nil
}

func testDeps(self identity.InboxID, installation identity.InstallationID, commits *fakeCommitTransport) (Deps, *fakeCommitLog, *fakeApplicationTransport, *fakeWelcomeTransport, *fakeMessageWriter) {
	cl := &fakeCommitLog{}
	app := &fakeApplicationTransport{}
	wel := &fakeWelcomeTransport{}
	msg := &fakeMessageWriter{}
	deps := Deps{
		Self:         self,
		Installation: installation,
		CommitLog:    cl,
		Commits:      commits,
		Application:  app,
		Welcomes:     wel,
		Messages:     msg,
		NewKeyPackage: func(ctx context.Context, installation identity.InstallationID) (uint32, []byte, error) {
			return 1, []byte("encrypted-secret"), nil
		},
	}
	return deps, cl, app, wel, msg
}

// scenario 1 (§8): creating a group produces an active, single-member
// group at epoch zero with no commit-log entries beyond its creation row.
func TestCreateGroupProducesActiveGroup(t *testing.T) {
	creator := testInbox(1)
	transport := newFakeCommitTransport()
	deps, cl, _, _, _ := testDeps(creator, identity.InstallationID("inst-creator"), transport)

	g, welcomes, err := CreateGroup(context.Background(), deps, []byte("group-create"), creator, DefaultPolicySet(creator), nil)
	require.NoError(t, err)
	assert.Nil(t, welcomes)
	assert.True(t, g.IsActive())
	assert.True(t, g.HasMember(creator))

	cl.mu.Lock()
	defer cl.mu.Unlock()
	require.Len(t, cl.entries, 1)
	assert.Equal(t, commitlog.KindGroupCreation, cl.entries[0].Kind)
	assert.Equal(t, commitlog.ResultApplied, cl.entries[0].CommitResult)
}

// scenario 3 (§8): adding a member issues a commit, advances the epoch,
// and delivers exactly one welcome per new installation.
func TestAddMembersDeliversWelcomes(t *testing.T) {
	creator := testInbox(1)
	newMember := testInbox(2)
	transport := newFakeCommitTransport()
	deps, _, _, wel, _ := testDeps(creator, identity.InstallationID("inst-creator"), transport)

	g, _, err := CreateGroup(context.Background(), deps, []byte("group-add"), creator, DefaultPolicySet(creator), nil)
	require.NoError(t, err)

	welcomes, err := g.AddMembers(context.Background(), deps, creator, []MemberAdd{
		{InboxID: newMember, SequenceID: 1, Installation: identity.InstallationID("inst-new")},
	})
	require.NoError(t, err)
	require.Len(t, welcomes, 1)
	assert.True(t, g.HasMember(newMember))

	epoch, _, _ := g.Snapshot()
	assert.Equal(t, uint64(1), epoch.Number)

	wel.mu.Lock()
	defer wel.mu.Unlock()
	require.Len(t, wel.delivered, 1)
	assert.Equal(t, identity.InstallationID("inst-new"), wel.delivered[0])
}

func TestAddMembersRejectsUnauthorizedActor(t *testing.T) {
	creator := testInbox(1)
	outsider := testInbox(99)
	newMember := testInbox(2)
	transport := newFakeCommitTransport()
	deps, _, _, _, _ := testDeps(creator, identity.InstallationID("inst-creator"), transport)

	g, _, err := CreateGroup(context.Background(), deps, []byte("group-auth"), creator, DefaultPolicySet(creator), nil)
	require.NoError(t, err)

	_, err = g.AddMembers(context.Background(), deps, outsider, []MemberAdd{
		{InboxID: newMember, SequenceID: 1, Installation: identity.InstallationID("inst-new")},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindPolicyDenied))
	assert.False(t, g.HasMember(newMember))
}

// Send's first call prepends a KeyUpdate commit establishing the
// sender's ratchet secret before the application message itself
// publishes.
func TestSendIssuesKeyUpdateOnFirstSend(t *testing.T) {
	creator := testInbox(1)
	transport := newFakeCommitTransport()
	deps, cl, app, _, msg := testDeps(creator, identity.InstallationID("inst-creator"), transport)

	g, _, err := CreateGroup(context.Background(), deps, []byte("group-send"), creator, DefaultPolicySet(creator), nil)
	require.NoError(t, err)

	id, err := g.Send(context.Background(), deps, []byte("hello"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.UUID{}, id)

	epoch, _, _ := g.Snapshot()
	assert.Equal(t, uint64(1), epoch.Number, "the key-update commit must advance the epoch before the payload rides on it")

	app.mu.Lock()
	require.Len(t, app.published, 1)
	app.mu.Unlock()

	msg.mu.Lock()
	require.Len(t, msg.messages, 1)
	assert.Equal(t, creator, msg.messages[0].SenderInboxID)
	msg.mu.Unlock()

	foundKeyUpdate := false
	cl.mu.Lock()
	for _, e := range cl.entries {
		if e.Kind == commitlog.KindKeyUpdate {
			foundKeyUpdate = true
		}
	}
	cl.mu.Unlock()
	assert.True(t, foundKeyUpdate)

	// A second Send must not issue another key update.
	_, err = g.Send(context.Background(), deps, []byte("world"))
	require.NoError(t, err)
	epoch2, _, _ := g.Snapshot()
	assert.Equal(t, uint64(1), epoch2.Number, "a second send must not re-issue a key update")
}

func TestSendRejectsInactiveMember(t *testing.T) {
	creator := testInbox(1)
	transport := newFakeCommitTransport()
	deps, _, _, _, _ := testDeps(creator, identity.InstallationID("inst-creator"), transport)

	g, _, err := CreateGroup(context.Background(), deps, []byte("group-inactive"), creator, DefaultPolicySet(creator), nil)
	require.NoError(t, err)
	g.Membership = MembershipRejected

	_, err = g.Send(context.Background(), deps, []byte("hello"))
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindPolicyDenied))
}

// scenario 5 (§8): Sync applies every eligible remote commit published
// by another member and advances the cursor past each one.
func TestSyncAppliesRemoteCommits(t *testing.T) {
	creator := testInbox(1)
	other := testInbox(2)
	transport := newFakeCommitTransport()
	creatorDeps, _, _, _, _ := testDeps(creator, identity.InstallationID("inst-creator"), transport)
	otherDeps, _, _, _, _ := testDeps(other, identity.InstallationID("inst-other"), transport)

	g, _, err := CreateGroup(context.Background(), creatorDeps, []byte("group-sync"), creator, DefaultPolicySet(creator), nil)
	require.NoError(t, err)

	_, err = g.AddMembers(context.Background(), creatorDeps, creator, []MemberAdd{
		{InboxID: other, SequenceID: 1, Installation: identity.InstallationID("inst-other")},
	})
	require.NoError(t, err)

	// other's local view starts fresh at epoch zero and must sync up.
	mirror := New([]byte("group-sync"), ConversationGroup, creator, DefaultPolicySet(creator))
	mirror.Self = other
	mirror.addMemberLocked(other, 1, identity.InstallationID("inst-other"))

	result, err := mirror.Sync(context.Background(), otherDeps)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NumEligible)
	assert.Equal(t, 1, result.NumSynced)

	epoch, _, _ := mirror.Snapshot()
	assert.Equal(t, uint64(1), epoch.Number)
}

func TestUpdateInstallationsIsIdempotentWhenNothingChanged(t *testing.T) {
	creator := testInbox(1)
	transport := newFakeCommitTransport()
	deps, _, _, _, _ := testDeps(creator, identity.InstallationID("inst-creator"), transport)
	deps.Identity = fakeIdentityResolver{
		states: map[identity.InboxID]*identity.AssociationState{
			creator: {
				InboxID:          creator,
				LatestSequenceID: 1,
				Installations:    map[string][]byte{instKey(identity.InstallationID("inst-creator")): []byte("kp")},
			},
		},
	}

	g, _, err := CreateGroup(context.Background(), deps, []byte("group-insts"), creator, DefaultPolicySet(creator), nil)
	require.NoError(t, err)
	g.addMemberLocked(creator, 1, identity.InstallationID("inst-creator"))

	require.NoError(t, g.UpdateInstallations(context.Background(), deps))
	epoch, _, _ := g.Snapshot()
	assert.Equal(t, uint64(0), epoch.Number, "no new installations means no commit should be issued")
}

func TestUpdateInstallationsAddsUnknownInstallation(t *testing.T) {
	creator := testInbox(1)
	transport := newFakeCommitTransport()
	deps, _, _, _, _ := testDeps(creator, identity.InstallationID("inst-creator"), transport)
	deps.Identity = fakeIdentityResolver{
		states: map[identity.InboxID]*identity.AssociationState{
			creator: {
				InboxID:          creator,
				LatestSequenceID: 2,
				Installations: map[string][]byte{
					instKey(identity.InstallationID("inst-creator")): []byte("kp-1"),
					instKey(identity.InstallationID("inst-second")):  []byte("kp-2"),
				},
			},
		},
	}

	g, _, err := CreateGroup(context.Background(), deps, []byte("group-insts-2"), creator, DefaultPolicySet(creator), nil)
	require.NoError(t, err)
	g.addMemberLocked(creator, 1, identity.InstallationID("inst-creator"))

	require.NoError(t, g.UpdateInstallations(context.Background(), deps))
	epoch, _, members := g.Snapshot()
	assert.Equal(t, uint64(1), epoch.Number)
	require.Len(t, members, 1)
	assert.Len(t, members[0].Installations, 2)
}

type fakeIdentityResolver struct {
	states map[identity.InboxID]*identity.AssociationState
}

func (f fakeIdentityResolver) Resolve(ctx context.Context, inbox identity.InboxID, upToSequence uint64) (*identity.AssociationState, error) {
	if s, ok := f.states[inbox]; ok {
		return s, nil
	}
	return &identity.AssociationState{InboxID: inbox, Installations: map[string][]byte{}}, nil
}
