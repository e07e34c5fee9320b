package client

import (
	"context"
	"fmt"

	"github.com/xmtp-go/libxmtp-core/devicesync"
	"github.com/xmtp-go/libxmtp-core/envelope"
	"github.com/xmtp-go/libxmtp-core/transport"
)

// syncTransport adapts the same PublishPayerEnvelopes/QueryEnvelopes RPCs
// every other group uses into devicesync's Sender/Receiver, since a sync
// group is an ordinary group from the network's point of view (§4.5
// "device sync rides the same group-message RPCs as any other group").
type syncTransport struct {
	network    *transport.Client
	payerKey   [32]byte
	originator uint32
}

func newSyncTransport(network *transport.Client, payerKey [32]byte, originator uint32) *syncTransport {
	return &syncTransport{network: network, payerKey: payerKey, originator: originator}
}

func (t *syncTransport) SendSyncPayload(ctx context.Context, group devicesync.SyncGroup, p devicesync.Payload) error {
	ce := envelope.ClientEnvelope{
		AAD:     envelope.AuthenticatedData{TargetOriginator: t.originator, TargetTopic: group.GroupID},
		Kind:    envelope.PayloadGroupMessage,
		Payload: p.Data,
	}
	pe, err := envelope.WrapClient(ce, t.payerKey, t.originator, 0)
	if err != nil {
		return fmt.Errorf("wrapping sync payload: %w", err)
	}
	return t.network.PublishPayerEnvelopes(ctx, []*envelope.PayerEnvelope{pe})
}

func (t *syncTransport) PollSyncPayloads(ctx context.Context, group devicesync.SyncGroup) ([]devicesync.Payload, error) {
	envelopes, err := t.network.QueryEnvelopes(ctx, group.GroupID, nil)
	if err != nil {
		return nil, fmt.Errorf("querying sync group envelopes: %w", err)
	}
	var out []devicesync.Payload
	for _, oe := range envelopes {
		u, err := envelope.DecodeUnsignedOriginatorEnvelope(oe.UnsignedOriginatorEnvelope)
		if err != nil {
			continue
		}
		pe, err := envelope.DecodePayerEnvelope(u.PayerEnvelopeBytes)
		if err != nil {
			continue
		}
		ce, err := envelope.DecodeClientEnvelope(pe.UnsignedClientEnvelope)
		if err != nil {
			continue
		}
		out = append(out, devicesync.Payload{Kind: devicesync.PayloadConsent, Data: ce.Payload})
	}
	return out, nil
}
