// Package client assembles the local store, identity graph, key-package
// pool, group state, and background workers into one handle per
// installation (§9 "no global mutable state": every dependency is
// passed explicitly through a Context rather than read from package
// globals).
package client

import (
	"context"
	"fmt"

	"github.com/xmtp-go/libxmtp-core/commitlog"
	"github.com/xmtp-go/libxmtp-core/consent"
	"github.com/xmtp-go/libxmtp-core/contacts"
	"github.com/xmtp-go/libxmtp-core/crypto"
	"github.com/xmtp-go/libxmtp-core/devicesync"
	"github.com/xmtp-go/libxmtp-core/identity"
	"github.com/xmtp-go/libxmtp-core/keypackage"
	"github.com/xmtp-go/libxmtp-core/store"
	"github.com/xmtp-go/libxmtp-core/sweeper"
	"github.com/xmtp-go/libxmtp-core/transport"
)

// Context is the explicit dependency bundle every operation in this
// package threads through, rather than reaching for package-level
// state.
type Context struct {
	Installation identity.InstallationID
	Inbox        identity.InboxID
	DB           *store.DB
	Network      *transport.Client

	// PayerKey signs the payer envelope wrapping every outbound message
	// this installation publishes, including device-sync payloads
	// (§6 "every client envelope is wrapped by its own payer").
	PayerKey [32]byte

	IdentityGraph  *identity.Graph
	KeyPackages    *keypackage.Store
	Contacts       *contacts.Aggregator
	Consent        *consent.Ledger
	CommitLogStore *store.CommitLogRepo
	MessageStore   *store.MessageRepo
	GroupStore     *store.ConversationRepo
	CursorStore    *store.CursorRepo
}

// NewContext wires a Context's components over an opened database and
// network client (§9 "wiring happens once, explicitly, at startup").
func NewContext(ctx context.Context, installation identity.InstallationID, inbox identity.InboxID, db *store.DB, network *transport.Client, signingKey []byte) (*Context, error) {
	identityRepo := store.NewIdentityRepo(db)
	graph := identity.NewGraph(network, identityRepo, identity.DefaultVerifiers(nil))

	kpStore := keypackage.New(installation, network)

	consentRepo := store.NewConsentRepo(db)
	ledger := consent.New(consentRepo)

	conversationRepo := store.NewConversationRepo(db)
	aggregator := contacts.New(conversationRepo, graph, ledger, inbox)

	c := &Context{
		Installation:   installation,
		Inbox:          inbox,
		DB:             db,
		Network:        network,
		PayerKey:       derivePayerKey(signingKey),
		IdentityGraph:  graph,
		KeyPackages:    kpStore,
		Contacts:       aggregator,
		Consent:        ledger,
		CommitLogStore: store.NewCommitLogRepo(db),
		MessageStore:   store.NewMessageRepo(db),
		GroupStore:     conversationRepo,
		CursorStore:    store.NewCursorRepo(db),
	}

	if _, err := kpStore.EnsureActive(ctx); err != nil {
		return nil, fmt.Errorf("issuing initial key package: %w", err)
	}
	return c, nil
}

// derivePayerKey turns the installation's signing key into the fixed-size
// key envelope.WrapClient expects, matching the teacher's pattern of
// deriving fixed-width keys from arbitrary secrets (keystore.go's
// DeriveStoreKey) rather than requiring callers to hand in a [32]byte.
func derivePayerKey(signingKey []byte) [32]byte {
	return crypto.DeriveStoreKey(signingKey, []byte("libxmtp-core/payer-key"))
}

// SyncGroup derives this inbox's device-sync group id deterministically
// from its InboxID, so every installation of the same inbox arrives at
// the same sync group without a discovery round-trip (§4.5 "one sync
// group per inbox").
func (c *Context) SyncGroup() devicesync.SyncGroup {
	groupID := crypto.Keccak256([]byte("libxmtp-core/devicesync"), c.Inbox[:])
	return devicesync.SyncGroup{InboxID: c.Inbox, GroupID: groupID}
}

// TimeProvider exposes the default clock, overridable in tests the way
// the teacher's async package does for deterministic prekey expiry.
func (c *Context) TimeProvider() crypto.TimeProvider {
	return crypto.GetDefaultTimeProvider()
}

// SweeperStore adapts MessageStore to the sweeper.Store interface.
func (c *Context) SweeperStore() sweeper.Store {
	return store.SweeperAdapter{Messages: c.MessageStore}
}

// CommitLogStoreAdapter exposes CommitLogStore as commitlog.Store.
func (c *Context) CommitLogStoreAdapter() commitlog.Store {
	return c.CommitLogStore
}
