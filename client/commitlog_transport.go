package client

import (
	"context"

	"github.com/xmtp-go/libxmtp-core/commitlog"
	"github.com/xmtp-go/libxmtp-core/transport"
)

// commitLogTransport adapts transport.Client's byte-oriented
// PublishCommitLog/QueryCommitLog RPCs to commitlog's typed
// Publisher/Fetcher interfaces.
type commitLogTransport struct {
	network *transport.Client
}

func newCommitLogTransport(network *transport.Client) *commitLogTransport {
	return &commitLogTransport{network: network}
}

func (t *commitLogTransport) PublishCommitLog(ctx context.Context, groupID []byte, entries []commitlog.RemoteEntry) error {
	return t.network.PublishCommitLog(ctx, groupID, commitlog.EncodeRemoteEntries(entries))
}

func (t *commitLogTransport) QueryCommitLog(ctx context.Context, groupID []byte, afterSequence uint64) ([]commitlog.RemoteEntry, error) {
	raw, err := t.network.QueryCommitLog(ctx, groupID, afterSequence)
	if err != nil {
		return nil, err
	}
	return commitlog.DecodeRemoteEntries(raw)
}
