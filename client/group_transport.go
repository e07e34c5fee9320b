package client

import (
	"context"
	"fmt"

	"github.com/xmtp-go/libxmtp-core/envelope"
	"github.com/xmtp-go/libxmtp-core/group"
	"github.com/xmtp-go/libxmtp-core/identity"
	"github.com/xmtp-go/libxmtp-core/transport"
)

// groupTransport adapts the PublishPayerEnvelopes/QueryEnvelopes RPCs
// into group.CommitTransport, group.ApplicationTransport, and
// group.WelcomeTransport, the same envelope-wrapping pattern
// syncTransport uses for device-sync payloads (§6 "every group rides
// the same envelope RPCs; only the payload and AAD differ").
type groupTransport struct {
	network    *transport.Client
	payerKey   [32]byte
	originator uint32
}

func newGroupTransport(network *transport.Client, payerKey [32]byte, originator uint32) *groupTransport {
	return &groupTransport{network: network, payerKey: payerKey, originator: originator}
}

// PublishCommit wraps a commit as a client envelope with AAD.IsCommit
// set, the discriminator FetchCommits and a peer's Sync use to separate
// commits from application messages sharing the same topic.
func (t *groupTransport) PublishCommit(ctx context.Context, groupID []byte, c group.Commit) error {
	ce := envelope.ClientEnvelope{
		AAD:     envelope.AuthenticatedData{TargetOriginator: t.originator, TargetTopic: groupID, IsCommit: true},
		Kind:    envelope.PayloadGroupMessage,
		Payload: group.EncodeCommit(c),
	}
	pe, err := envelope.WrapClient(ce, t.payerKey, t.originator, 0)
	if err != nil {
		return fmt.Errorf("wrapping commit envelope: %w", err)
	}
	return t.network.PublishPayerEnvelopes(ctx, []*envelope.PayerEnvelope{pe})
}

// FetchCommits returns every commit published to groupID's topic after
// afterSequence, decoding only envelopes whose AAD marks them as commits
// (application messages on the same topic are left for the caller to
// fetch separately, since Sync and message listing have different
// cadences).
func (t *groupTransport) FetchCommits(ctx context.Context, groupID []byte, afterSequence uint64) ([]group.RemoteCommit, error) {
	envelopes, err := t.network.QueryEnvelopes(ctx, groupID, nil)
	if err != nil {
		return nil, fmt.Errorf("querying group envelopes: %w", err)
	}
	var out []group.RemoteCommit
	for _, oe := range envelopes {
		u, err := envelope.DecodeUnsignedOriginatorEnvelope(oe.UnsignedOriginatorEnvelope)
		if err != nil {
			continue
		}
		if u.OriginatorSequenceID <= afterSequence {
			continue
		}
		pe, err := envelope.DecodePayerEnvelope(u.PayerEnvelopeBytes)
		if err != nil {
			continue
		}
		ce, err := envelope.DecodeClientEnvelope(pe.UnsignedClientEnvelope)
		if err != nil || !ce.AAD.IsCommit {
			continue
		}
		c, err := group.DecodeCommit(ce.Payload)
		if err != nil {
			continue
		}
		out = append(out, group.RemoteCommit{Commit: c, SequenceID: u.OriginatorSequenceID})
	}
	return out, nil
}

// PublishApplication wraps an already-encrypted application message,
// AAD.IsCommit left false (§4.4 "send(payload, opts)").
func (t *groupTransport) PublishApplication(ctx context.Context, groupID []byte, epochNumber uint64, ciphertext []byte) error {
	ce := envelope.ClientEnvelope{
		AAD:     envelope.AuthenticatedData{TargetOriginator: t.originator, TargetTopic: groupID},
		Kind:    envelope.PayloadGroupMessage,
		Payload: ciphertext,
	}
	pe, err := envelope.WrapClient(ce, t.payerKey, t.originator, 0)
	if err != nil {
		return fmt.Errorf("wrapping application envelope: %w", err)
	}
	return t.network.PublishPayerEnvelopes(ctx, []*envelope.PayerEnvelope{pe})
}

// SendWelcome publishes a Welcome addressed to installation's own topic,
// its installation id, so only that installation's QueryEnvelopes call
// over its own topic observes it (§4.3).
func (t *groupTransport) SendWelcome(ctx context.Context, installation identity.InstallationID, w *group.Welcome) error {
	ce := envelope.ClientEnvelope{
		AAD:     envelope.AuthenticatedData{TargetOriginator: t.originator, TargetTopic: []byte(installation)},
		Kind:    envelope.PayloadWelcomeMessage,
		Payload: group.EncodeWelcome(*w),
	}
	pe, err := envelope.WrapClient(ce, t.payerKey, t.originator, 0)
	if err != nil {
		return fmt.Errorf("wrapping welcome envelope: %w", err)
	}
	return t.network.PublishPayerEnvelopes(ctx, []*envelope.PayerEnvelope{pe})
}
