// Package keypackage implements per-installation key-package issuance,
// publication, and rotation (§4.3, spec component C). A key package is a
// short-lived public-key bundle used to encrypt a welcome to a new
// member; this package keeps the small local pool of them an
// installation publishes to the network.
package keypackage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xmtp-go/libxmtp-core/crypto"
	"github.com/xmtp-go/libxmtp-core/identity"
)

const (
	// MaxAge is the threshold past which an unused key package is
	// rotated even if not yet consumed (§4.3 "rotation is triggered...
	// when its age exceeds a threshold").
	MaxAge = 30 * 24 * time.Hour
)

// Publisher is the subset of the network client key packages are
// uploaded through (§6 "UploadKeyPackage", "RevokeInstallation").
type Publisher interface {
	UploadKeyPackage(ctx context.Context, installation identity.InstallationID, pkg []byte) error
}

// Package is one short-lived key-package bundle (§3 "Key package").
type Package struct {
	ID        uint32
	KeyPair   *crypto.KeyPair
	CreatedAt time.Time
	Consumed  bool
	ConsumedAt time.Time
}

// Store manages one installation's key-package pool: exactly one active
// (unconsumed) package at a time, issued on demand and rotated on
// consumption or age (§4.3).
type Store struct {
	mu           sync.Mutex
	installation identity.InstallationID
	publisher    Publisher
	timeProvider crypto.TimeProvider

	active *Package
	history []*Package
}

// New constructs a key-package store for one installation.
func New(installation identity.InstallationID, publisher Publisher) *Store {
	return NewWithTimeProvider(installation, publisher, crypto.GetDefaultTimeProvider())
}

// NewWithTimeProvider allows deterministic rotation tests.
func NewWithTimeProvider(installation identity.InstallationID, publisher Publisher, tp crypto.TimeProvider) *Store {
	if tp == nil {
		tp = crypto.GetDefaultTimeProvider()
	}
	return &Store{installation: installation, publisher: publisher, timeProvider: tp}
}

// EnsureActive guarantees exactly one active key package exists, issuing
// and publishing a fresh one if none is present or the current one has
// aged out (§4.3 "One active package is always present").
func (s *Store) EnsureActive(ctx context.Context) (*Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil && !s.needsRotationLocked() {
		return s.active, nil
	}
	return s.rotateLocked(ctx)
}

func (s *Store) needsRotationLocked() bool {
	if s.active == nil {
		return true
	}
	if s.active.Consumed {
		return true
	}
	return s.timeProvider.Now().Sub(s.active.CreatedAt) > MaxAge
}

// NeedsRotation reports whether the current active package should be
// rotated, without rotating it.
func (s *Store) NeedsRotation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needsRotationLocked()
}

// Consume marks the active package used — called when a welcome consumes
// it — and returns it. The caller is responsible for triggering the
// group-internal secret rotation (the `KeyUpdate` commit, §4.4) alongside
// this.
func (s *Store) Consume() (*Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil, fmt.Errorf("no active key package to consume")
	}
	s.active.Consumed = true
	s.active.ConsumedAt = s.timeProvider.Now()
	consumed := s.active
	s.history = append(s.history, consumed)
	s.active = nil
	return consumed, nil
}

func (s *Store) rotateLocked(ctx context.Context) (*Package, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating key package key pair: %w", err)
	}

	pkg := &Package{
		ID:        s.nextIDLocked(),
		KeyPair:   kp,
		CreatedAt: s.timeProvider.Now(),
	}

	if s.publisher != nil {
		if err := s.publisher.UploadKeyPackage(ctx, s.installation, kp.Public[:]); err != nil {
			return nil, fmt.Errorf("publishing key package: %w", err)
		}
	}

	s.active = pkg
	return pkg, nil
}

func (s *Store) nextIDLocked() uint32 {
	return uint32(len(s.history)) + 1
}

// Active returns the current active package, or nil if none has been
// issued yet.
func (s *Store) Active() *Package {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
