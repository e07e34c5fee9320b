package identity

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Remote is the subset of the network client the identity graph consumes
// (§6 "GetIdentityUpdates").
type Remote interface {
	GetIdentityUpdates(ctx context.Context, requests []SequenceRequest) (map[InboxID][]IdentityUpdate, error)
}

// SequenceRequest asks for updates past a known sequence id for one inbox.
type SequenceRequest struct {
	InboxID       InboxID
	FromSequence  uint64
}

// Store persists verified updates and cached association states locally
// (the identity-relevant slice of the local store, §4.1).
type Store interface {
	LoadUpdates(ctx context.Context, inbox InboxID) ([]IdentityUpdate, error)
	AppendUpdates(ctx context.Context, inbox InboxID, updates []IdentityUpdate) error
}

// Graph resolves association states for inboxes, consulting a local
// cache first and coalescing concurrent remote fetches for the same
// inbox via single-flight (§4.2 "Batch resolution", §5).
type Graph struct {
	remote    Remote
	store     Store
	verifiers Verifiers

	mu    sync.RWMutex
	cache map[InboxID]*AssociationState

	flight singleflight.Group

	// createLocks serializes concurrent create(wallet) calls per wallet
	// (§9 Open Question 1) without serializing unrelated wallets.
	createLocks sync.Map // map[walletKey]*sync.Mutex
}

// NewGraph constructs a Graph.
func NewGraph(remote Remote, store Store, verifiers Verifiers) *Graph {
	return &Graph{
		remote:    remote,
		store:     store,
		verifiers: verifiers,
		cache:     make(map[InboxID]*AssociationState),
	}
}

// WalletLock returns the mutex guarding concurrent inbox creation for a
// given wallet address, per §9 Open Question 1's per-wallet granularity.
func (g *Graph) WalletLock(addr [20]byte) *sync.Mutex {
	key := hex.EncodeToString(addr[:])
	actual, _ := g.createLocks.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// Resolve returns the association state for a single inbox, from cache if
// fresh enough, else via Batch.
func (g *Graph) Resolve(ctx context.Context, inbox InboxID, upToSequence uint64) (*AssociationState, error) {
	results, errs := g.Batch(ctx, []SequenceRequest{{InboxID: inbox, FromSequence: upToSequence}})
	if err, ok := errs[inbox]; ok && err != nil {
		return nil, err
	}
	return results[inbox], nil
}

// Batch resolves association states for many inboxes. Cache hits are
// served without any remote call; misses are coalesced into one batched
// GetIdentityUpdates RPC per distinct (inbox) key via single-flight, so
// concurrent requests for the same inbox share one remote round trip
// (§4.2, §5). Failures per inbox are returned individually so a partial
// batch still succeeds (§4.2 "Batch resolution").
func (g *Graph) Batch(ctx context.Context, requests []SequenceRequest) (map[InboxID]*AssociationState, map[InboxID]error) {
	results := make(map[InboxID]*AssociationState, len(requests))
	errs := make(map[InboxID]error)

	var misses []SequenceRequest
	g.mu.RLock()
	for _, req := range requests {
		if state, ok := g.cache[req.InboxID]; ok && state.LatestSequenceID >= req.FromSequence {
			results[req.InboxID] = state
			continue
		}
		misses = append(misses, req)
	}
	g.mu.RUnlock()

	if len(misses) == 0 {
		return results, errs
	}

	type fetchResult struct {
		state *AssociationState
		err   error
	}
	fetched := make(chan struct {
		inbox InboxID
		res   fetchResult
	}, len(misses))

	var wg sync.WaitGroup
	for _, req := range misses {
		wg.Add(1)
		go func(req SequenceRequest) {
			defer wg.Done()
			key := hex.EncodeToString(req.InboxID[:])
			v, err, _ := g.flight.Do(key, func() (interface{}, error) {
				return g.fetchAndVerify(ctx, req.InboxID)
			})
			res := fetchResult{}
			if err != nil {
				res.err = err
			} else {
				res.state = v.(*AssociationState)
			}
			fetched <- struct {
				inbox InboxID
				res   fetchResult
			}{req.InboxID, res}
		}(req)
	}

	go func() {
		wg.Wait()
		close(fetched)
	}()

	for item := range fetched {
		if item.res.err != nil {
			errs[item.inbox] = item.res.err
			continue
		}
		results[item.inbox] = item.res.state
	}
	return results, errs
}

func (g *Graph) fetchAndVerify(ctx context.Context, inbox InboxID) (*AssociationState, error) {
	local, err := g.store.LoadUpdates(ctx, inbox)
	if err != nil {
		return nil, fmt.Errorf("loading local updates: %w", err)
	}
	preImage := Fold(inbox, local)

	remoteUpdates, err := g.remote.GetIdentityUpdates(ctx, []SequenceRequest{{InboxID: inbox, FromSequence: preImage.LatestSequenceID}})
	if err != nil {
		return nil, fmt.Errorf("fetching remote identity updates: %w", err)
	}

	tail := remoteUpdates[inbox]
	verified := make([]IdentityUpdate, 0, len(tail))
	running := preImage
	for _, u := range tail {
		if err := VerifyUpdate(ctx, g.verifiers, running, u); err != nil {
			return nil, fmt.Errorf("verifying update %d for inbox %x: %w", u.SequenceID, inbox, err)
		}
		verified = append(verified, u)
		running = Fold(inbox, append(local, verified...))
	}

	if len(verified) > 0 {
		if err := g.store.AppendUpdates(ctx, inbox, verified); err != nil {
			return nil, fmt.Errorf("persisting verified updates: %w", err)
		}
	}

	state := Fold(inbox, append(local, verified...))
	g.mu.Lock()
	g.cache[inbox] = state
	g.mu.Unlock()
	return state, nil
}

// Invalidate drops a cached association state, forcing the next Resolve
// to hit the remote path.
func (g *Graph) Invalidate(inbox InboxID) {
	g.mu.Lock()
	delete(g.cache, inbox)
	g.mu.Unlock()
}
