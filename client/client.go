package client

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xmtp-go/libxmtp-core/apperrors"
	"github.com/xmtp-go/libxmtp-core/commitlog"
	"github.com/xmtp-go/libxmtp-core/contacts"
	"github.com/xmtp-go/libxmtp-core/devicesync"
	"github.com/xmtp-go/libxmtp-core/group"
	"github.com/xmtp-go/libxmtp-core/identity"
	"github.com/xmtp-go/libxmtp-core/keypackage"
	"github.com/xmtp-go/libxmtp-core/store"
	"github.com/xmtp-go/libxmtp-core/sweeper"
	"github.com/xmtp-go/libxmtp-core/transport"
)

// Options configures a Client at construction, mirroring the teacher's
// Options/NewOptions shape (toxcore.go).
type Options struct {
	DatabasePath           string
	BackendAddr            string
	DialTimeout            time.Duration
	KeyPackageRotationFreq time.Duration
	CommitLogSyncFreq      time.Duration
	DeviceSyncFreq         time.Duration
	SweepFreq              time.Duration

	// OriginatorNodeID is the backend node this installation publishes
	// through, stamped into every payer envelope's AAD (§6).
	OriginatorNodeID uint32
}

// NewOptions returns a default Options with the intervals the spec names
// as reasonable defaults for a long-running client (§5).
func NewOptions(databasePath, backendAddr string) *Options {
	return &Options{
		DatabasePath:           databasePath,
		BackendAddr:            backendAddr,
		DialTimeout:            10 * time.Second,
		KeyPackageRotationFreq: time.Hour,
		CommitLogSyncFreq:      30 * time.Second,
		DeviceSyncFreq:         30 * time.Second,
		SweepFreq:              time.Minute,
		OriginatorNodeID:       0,
	}
}

// Client is one installation's fully-wired runtime: the local store, the
// network connection, and every background worker (§9).
type Client struct {
	ctx *Context

	kpWorker         *keypackage.Worker
	commitLogWorker  *commitlog.Worker
	deviceSyncWorker *devicesync.Worker
	sweeperWorker    *sweeper.Sweeper

	groupTransport *groupTransport

	groupsMu sync.RWMutex
	groups   map[string]*group.Group

	cancel context.CancelFunc
}

// New opens the local store, dials the backend, and wires every worker,
// but does not yet start them (§9 "construction and startup are
// separate so callers can register message handlers first").
func New(ctx context.Context, installation identity.InstallationID, inbox identity.InboxID, signingKey []byte, salt []byte, opts *Options) (*Client, error) {
	encryptor := store.NewFieldEncryptor(signingKey, salt)

	db, err := store.Open(ctx, opts.DatabasePath, encryptor)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	network, err := transport.Dial(opts.BackendAddr, opts.DialTimeout)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("dialing backend: %w", err)
	}

	cctx, err := NewContext(ctx, installation, inbox, db, network, signingKey)
	if err != nil {
		network.Close()
		db.Close()
		return nil, fmt.Errorf("wiring client context: %w", err)
	}

	clTransport := newCommitLogTransport(network)
	syncTransport := newSyncTransport(network, cctx.PayerKey, opts.OriginatorNodeID)
	grpTransport := newGroupTransport(network, cctx.PayerKey, opts.OriginatorNodeID)

	c := &Client{
		ctx:              cctx,
		kpWorker:         keypackage.NewWorker(cctx.KeyPackages, opts.KeyPackageRotationFreq),
		commitLogWorker:  commitlog.NewWorker(cctx.CommitLogStoreAdapter(), clTransport, clTransport, opts.CommitLogSyncFreq),
		deviceSyncWorker: devicesync.NewWorker(cctx.SyncGroup(), syncTransport, syncTransport, cctx.Consent, opts.DeviceSyncFreq),
		sweeperWorker:    sweeper.New(cctx.SweeperStore(), opts.SweepFreq),
		groupTransport:   grpTransport,
		groups:           make(map[string]*group.Group),
	}

	// Bridge commit-log-level fork detection (§4.5, §8 scenario 6) back
	// onto the in-memory group so MaybeForked reflects divergence the
	// commit-log worker observes independently of Sync.
	c.commitLogWorker.ForkDetected = func(groupID []byte) {
		if g := c.lookupGroup(groupID); g != nil {
			g.MarkMaybeForked()
		}
	}

	existing, err := cctx.GroupStore.ListGroupIDs(ctx)
	if err != nil {
		network.Close()
		db.Close()
		return nil, fmt.Errorf("listing tracked groups: %w", err)
	}
	for _, id := range existing {
		c.commitLogWorker.TrackGroup(id)
	}
	return c, nil
}

func groupKey(id []byte) string { return hex.EncodeToString(id) }

func (c *Client) lookupGroup(id []byte) *group.Group {
	c.groupsMu.RLock()
	defer c.groupsMu.RUnlock()
	return c.groups[groupKey(id)]
}

func (c *Client) trackGroup(g *group.Group) {
	c.groupsMu.Lock()
	c.groups[groupKey(g.ID)] = g
	c.groupsMu.Unlock()
	c.commitLogWorker.TrackGroup(g.ID)
}

// deps assembles a group.Deps bundle wired to this client's transport,
// identity graph, and local store adapters (§4.4's operations all flow
// through the same Deps shape).
func (c *Client) deps() group.Deps {
	return group.Deps{
		Self:          c.ctx.Inbox,
		Installation:  c.ctx.Installation,
		CommitLog:     c.ctx.CommitLogStore,
		Commits:       c.groupTransport,
		Application:   c.groupTransport,
		Welcomes:      c.groupTransport,
		Identity:      c.ctx.IdentityGraph,
		Messages:      store.GroupMessageAdapter{Messages: c.ctx.MessageStore},
		NewKeyPackage: newWelcomeEncrypter(c.ctx.Network),
	}
}

// CreateGroup creates a new group owned by this inbox, persists it, and
// delivers welcomes to any initial members (§4.4 "create-group").
func (c *Client) CreateGroup(ctx context.Context, id []byte, policy group.PolicySet, initialAdds []group.MemberAdd) (*group.Group, error) {
	g, _, err := group.CreateGroup(ctx, c.deps(), id, c.ctx.Inbox, policy, initialAdds)
	if err != nil {
		return nil, err
	}
	if err := c.ctx.GroupStore.Save(ctx, g, nil); err != nil {
		return nil, apperrors.Wrap(apperrors.KindSchema, "Client.CreateGroup", "persisting new group", err)
	}
	c.trackGroup(g)
	return g, nil
}

// Group returns the in-memory state for a previously created or joined
// group, if this client has it loaded.
func (c *Client) Group(id []byte) (*group.Group, bool) {
	g := c.lookupGroup(id)
	return g, g != nil
}

// Send encrypts and publishes payload to groupID, persisting it locally
// (§4.4 "send(payload, opts)").
func (c *Client) Send(ctx context.Context, groupID []byte, payload []byte) (uuid.UUID, error) {
	g := c.lookupGroup(groupID)
	if g == nil {
		return uuid.UUID{}, apperrors.New(apperrors.KindNotFound, "Client.Send", "group not loaded")
	}
	id, err := g.Send(ctx, c.deps(), payload)
	if err == nil {
		_ = c.ctx.GroupStore.Save(ctx, g, nil)
	}
	return id, err
}

// Sync fetches and applies every commit published to groupID since this
// installation's local cursor (§4.4 "sync()").
func (c *Client) Sync(ctx context.Context, groupID []byte) (group.SyncResult, error) {
	g := c.lookupGroup(groupID)
	if g == nil {
		return group.SyncResult{}, apperrors.New(apperrors.KindNotFound, "Client.Sync", "group not loaded")
	}
	result, err := g.Sync(ctx, c.deps())
	_ = c.ctx.GroupStore.Save(ctx, g, nil)
	return result, err
}

// SyncAll syncs every tracked group, never aborting on one group's
// failure (§7 "sync_all_conversations never aborts on one group's
// failure").
func (c *Client) SyncAll(ctx context.Context) map[string]error {
	c.groupsMu.RLock()
	groups := make([]*group.Group, 0, len(c.groups))
	for _, g := range c.groups {
		groups = append(groups, g)
	}
	c.groupsMu.RUnlock()

	errs := make(map[string]error)
	for _, g := range groups {
		if _, err := g.Sync(ctx, c.deps()); err != nil {
			errs[groupKey(g.ID)] = err
		}
		_ = c.ctx.GroupStore.Save(ctx, g, nil)
	}
	return errs
}

// AddMembers adds members to groupID, authorized under its AddMember
// policy, delivering welcomes to each new installation (§4.4
// "add_members").
func (c *Client) AddMembers(ctx context.Context, groupID []byte, adds []group.MemberAdd) error {
	g := c.lookupGroup(groupID)
	if g == nil {
		return apperrors.New(apperrors.KindNotFound, "Client.AddMembers", "group not loaded")
	}
	_, err := g.AddMembers(ctx, c.deps(), c.ctx.Inbox, adds)
	if err == nil {
		_ = c.ctx.GroupStore.Save(ctx, g, nil)
	}
	return err
}

// RemoveMembers removes members from groupID, authorized under its
// RemoveMember policy (§4.4 "remove_members").
func (c *Client) RemoveMembers(ctx context.Context, groupID []byte, inboxes []identity.InboxID) error {
	g := c.lookupGroup(groupID)
	if g == nil {
		return apperrors.New(apperrors.KindNotFound, "Client.RemoveMembers", "group not loaded")
	}
	err := g.RemoveMembers(ctx, c.deps(), c.ctx.Inbox, inboxes)
	if err == nil {
		_ = c.ctx.GroupStore.Save(ctx, g, nil)
	}
	return err
}

// UpdateMetadata changes groupID's mutable metadata, authorized under
// its UpdateMetadata policy (§4.4 "update_metadata").
func (c *Client) UpdateMetadata(ctx context.Context, groupID []byte, changes map[string][]byte) error {
	g := c.lookupGroup(groupID)
	if g == nil {
		return apperrors.New(apperrors.KindNotFound, "Client.UpdateMetadata", "group not loaded")
	}
	err := g.UpdateMetadata(ctx, c.deps(), c.ctx.Inbox, changes)
	if err == nil {
		_ = c.ctx.GroupStore.Save(ctx, g, nil)
	}
	return err
}

// UpdatePermissionPolicy changes groupID's policy set, authorized under
// its own current UpdatePolicy gate (§4.4 "update_permission_policy").
func (c *Client) UpdatePermissionPolicy(ctx context.Context, groupID []byte, newPolicy group.PolicySet) error {
	g := c.lookupGroup(groupID)
	if g == nil {
		return apperrors.New(apperrors.KindNotFound, "Client.UpdatePermissionPolicy", "group not loaded")
	}
	err := g.UpdatePermissionPolicy(ctx, c.deps(), c.ctx.Inbox, newPolicy)
	if err == nil {
		_ = c.ctx.GroupStore.Save(ctx, g, nil)
	}
	return err
}

// UpdateInstallations reconciles groupID's roster against the identity
// graph's current view of each member's installations (§4.4
// "update_installations()").
func (c *Client) UpdateInstallations(ctx context.Context, groupID []byte) error {
	g := c.lookupGroup(groupID)
	if g == nil {
		return apperrors.New(apperrors.KindNotFound, "Client.UpdateInstallations", "group not loaded")
	}
	err := g.UpdateInstallations(ctx, c.deps())
	if err == nil {
		_ = c.ctx.GroupStore.Save(ctx, g, nil)
	}
	return err
}

// JoinGroup constructs local state from a received Welcome and tracks
// it, starting Pending until the application records consent (§4.4
// "Welcome handling").
func (c *Client) JoinGroup(ctx context.Context, w *group.Welcome) (*group.Group, error) {
	g := group.JoinFromWelcome(w, c.ctx.Inbox)
	if err := c.ctx.GroupStore.Save(ctx, g, nil); err != nil {
		return nil, apperrors.Wrap(apperrors.KindSchema, "Client.JoinGroup", "persisting joined group", err)
	}
	c.trackGroup(g)
	return g, nil
}

// ListContacts runs the §4.8 contact-aggregation algorithm over this
// installation's stored conversations.
func (c *Client) ListContacts(ctx context.Context, f contacts.Filter) ([]contacts.Contact, error) {
	return c.ctx.Contacts.List(ctx, f)
}

// Context exposes the wired dependency bundle for direct operations
// (sending messages, resolving inboxes) that don't belong to a worker.
func (c *Client) Context() *Context {
	return c.ctx
}

// Run starts every background worker and blocks until ctx is cancelled
// (§9, matching the teacher's Iterate-loop-as-the-main-loop shape, but
// each worker runs on its own goroutine rather than one shared tick,
// since the workers here have independent periods).
func (c *Client) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.kpWorker.Run(runCtx)
	go c.commitLogWorker.Run(runCtx)
	go c.deviceSyncWorker.Run(runCtx)
	go c.sweeperWorker.Run(runCtx)

	<-runCtx.Done()
}

// Close stops every worker and releases the network and database
// handles.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.ctx.Network.Close(); err != nil {
		return fmt.Errorf("closing network connection: %w", err)
	}
	if err := c.ctx.DB.Close(); err != nil {
		return fmt.Errorf("closing local store: %w", err)
	}
	return nil
}
