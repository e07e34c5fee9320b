// Package consent implements the consent ledger (§4.10, spec component
// J): a per-entity allow/deny/unknown record for inboxes and groups,
// synced across an account's installations through the device-sync
// worker.
package consent

import (
	"context"
	"fmt"
	"time"

	"github.com/xmtp-go/libxmtp-core/crypto"
)

// EntityType distinguishes what a consent record governs.
type EntityType uint8

const (
	EntityInboxID EntityType = iota
	EntityGroupID
)

// State is the tri-state consent value (§3 "Consent").
type State uint8

const (
	StateUnknown State = iota
	StateAllowed
	StateDenied
)

// Record is one consent decision.
type Record struct {
	EntityType EntityType
	Entity     string
	State      State
	UpdatedAt  time.Time
}

// Store is the persistence boundary the ledger writes through.
type Store interface {
	LoadConsent(ctx context.Context, entityType EntityType, entity string) (*Record, error)
	SaveConsent(ctx context.Context, rec Record) error
	ListConsent(ctx context.Context) ([]Record, error)
}

// Ledger is the in-memory, store-backed view of consent state (§4.10
// "last-writer-wins by timestamp").
type Ledger struct {
	store        Store
	timeProvider crypto.TimeProvider
}

// New constructs a Ledger backed by store.
func New(store Store) *Ledger {
	return NewWithTimeProvider(store, crypto.GetDefaultTimeProvider())
}

// NewWithTimeProvider allows deterministic tests to control UpdatedAt.
func NewWithTimeProvider(store Store, tp crypto.TimeProvider) *Ledger {
	if tp == nil {
		tp = crypto.GetDefaultTimeProvider()
	}
	return &Ledger{store: store, timeProvider: tp}
}

// Get returns the current consent state for entity, StateUnknown if no
// record exists.
func (l *Ledger) Get(ctx context.Context, entityType EntityType, entity string) (State, error) {
	rec, err := l.store.LoadConsent(ctx, entityType, entity)
	if err != nil {
		return StateUnknown, fmt.Errorf("loading consent record: %w", err)
	}
	if rec == nil {
		return StateUnknown, nil
	}
	return rec.State, nil
}

// Set records a new consent decision, resolving conflicting concurrent
// updates by newest UpdatedAt wins (§4.10 invariant).
func (l *Ledger) Set(ctx context.Context, entityType EntityType, entity string, state State) error {
	return l.Apply(ctx, Record{
		EntityType: entityType,
		Entity:     entity,
		State:      state,
		UpdatedAt:  l.timeProvider.Now(),
	})
}

// Apply merges an externally-sourced record (e.g. replayed from the
// device-sync group) into the ledger, applying last-writer-wins.
func (l *Ledger) Apply(ctx context.Context, rec Record) error {
	existing, err := l.store.LoadConsent(ctx, rec.EntityType, rec.Entity)
	if err != nil {
		return fmt.Errorf("loading existing consent record: %w", err)
	}
	if existing != nil && !rec.UpdatedAt.After(existing.UpdatedAt) {
		return nil
	}
	if err := l.store.SaveConsent(ctx, rec); err != nil {
		return fmt.Errorf("saving consent record: %w", err)
	}
	return nil
}

// All returns every recorded consent decision, for device-sync export.
func (l *Ledger) All(ctx context.Context) ([]Record, error) {
	return l.store.ListConsent(ctx)
}
