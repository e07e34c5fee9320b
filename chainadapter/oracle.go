// Package chainadapter implements the external chain oracle consulted for
// EIP-1271 smart-contract-wallet signature verification (§4.2, §6
// "VerifySmartContractWalletSignatures"). The client only verifies
// proofs; it never mines or submits transactions (§1 Non-goals), so this
// package is intentionally a thin client over a remote RPC plus a fake
// for tests — the chain node implementation itself is an external
// collaborator, out of scope.
package chainadapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/xmtp-go/libxmtp-core/crypto"
)

// RPC is the wire call the core consumes (§6).
type RPC interface {
	VerifySmartContractWalletSignatures(ctx context.Context, requests []Request) ([]Result, error)
}

// Request asks the chain to validate one EIP-1271 signature.
type Request struct {
	ContractAddress crypto.WalletAddress
	Digest          []byte
	Signature       []byte
}

// Result is the chain's answer for one Request.
type Result struct {
	Valid bool
	Block uint64
	Err   error
}

// Client adapts the batched RPC to the single-call crypto.SCWOracle
// interface the identity graph's verifier expects.
type Client struct {
	rpc RPC
}

// New constructs a Client over the given RPC transport.
func New(rpc RPC) *Client {
	return &Client{rpc: rpc}
}

// VerifySmartContractWalletSignature implements crypto.SCWOracle.
func (c *Client) VerifySmartContractWalletSignature(ctx context.Context, addr crypto.WalletAddress, digest, signature []byte) (bool, uint64, error) {
	results, err := c.rpc.VerifySmartContractWalletSignatures(ctx, []Request{{
		ContractAddress: addr,
		Digest:          digest,
		Signature:       signature,
	}})
	if err != nil {
		return false, 0, fmt.Errorf("chain adapter call failed: %w", err)
	}
	if len(results) != 1 {
		return false, 0, fmt.Errorf("chain adapter returned %d results, expected 1", len(results))
	}
	r := results[0]
	return r.Valid, r.Block, r.Err
}

// FakeRPC is an in-memory chain oracle for tests, grounded on the
// teacher's fake-transport style (async/mock_transport.go): callers seed
// expected (address, digest) -> result pairs instead of talking to a
// real chain.
type FakeRPC struct {
	mu      sync.Mutex
	answers map[string]Result
	block   uint64
}

// NewFakeRPC constructs an empty fake oracle at block 0.
func NewFakeRPC() *FakeRPC {
	return &FakeRPC{answers: make(map[string]Result)}
}

// SetBlock advances the fake chain's current block number, returned for
// any answer seeded after this call.
func (f *FakeRPC) SetBlock(block uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = block
}

// Allow seeds a valid verification result for (addr, digest) at the
// current block.
func (f *FakeRPC) Allow(addr crypto.WalletAddress, digest []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers[fakeKey(addr, digest)] = Result{Valid: true, Block: f.block}
}

func fakeKey(addr crypto.WalletAddress, digest []byte) string {
	return fmt.Sprintf("%x:%x", addr, digest)
}

// VerifySmartContractWalletSignatures implements RPC.
func (f *FakeRPC) VerifySmartContractWalletSignatures(ctx context.Context, requests []Request) ([]Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Result, len(requests))
	for i, req := range requests {
		if res, ok := f.answers[fakeKey(req.ContractAddress, req.Digest)]; ok {
			out[i] = res
		} else {
			out[i] = Result{Valid: false}
		}
	}
	return out, nil
}
