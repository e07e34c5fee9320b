// Package transport is the gRPC client surface over nine of the
// backend's RPCs (§6, spec component L transport edge): publish/query
// envelopes, inbox and identity-update lookup, commit-log publish/query,
// key-package fetch/upload, and installation revoke. SubscribeEnvelopes
// has a method-name constant, but Client exposes no streaming call for
// it. Actual generated protobuf method
// stubs are out of scope (§1); Client instead calls grpc.ClientConn.Invoke
// directly with the hand-rolled envelope codec, the same dial-with-timeout
// idiom the teacher uses for its own peer connections (net/dial.go).
package transport

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/xmtp-go/libxmtp-core/envelope"
	"github.com/xmtp-go/libxmtp-core/identity"
)

const (
	methodPublishPayerEnvelopes = "/xmtp.mls.api.v1.MlsApi/PublishPayerEnvelopes"
	methodQueryEnvelopes        = "/xmtp.mls.api.v1.MlsApi/QueryEnvelopes"
	methodSubscribeEnvelopes    = "/xmtp.mls.api.v1.MlsApi/SubscribeEnvelopes"
	methodGetInboxIds           = "/xmtp.identity.api.v1.IdentityApi/GetInboxIds"
	methodGetIdentityUpdates    = "/xmtp.identity.api.v1.IdentityApi/GetIdentityUpdates"
	methodPublishCommitLog      = "/xmtp.mls.api.v1.MlsApi/PublishCommitLog"
	methodQueryCommitLog        = "/xmtp.mls.api.v1.MlsApi/QueryCommitLog"
	methodFetchKeyPackages      = "/xmtp.mls.api.v1.MlsApi/FetchKeyPackages"
	methodUploadKeyPackage      = "/xmtp.mls.api.v1.MlsApi/UploadKeyPackage"
	methodRevokeInstallation    = "/xmtp.identity.api.v1.IdentityApi/RevokeInstallation"
)

// Client wraps a grpc.ClientConn to the backend.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to addr, matching the teacher's zero-means-no-timeout
// convention for DialTimeout.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return DialContext(ctx, addr)
}

// DialContext connects to addr using ctx for the dial deadline.
func DialContext(ctx context.Context, addr string) (*Client, error) {
	conn, err := grpc.DialContext(ctx, addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rawCodec{}.Name())))
	if err != nil {
		return nil, fmt.Errorf("dialing backend %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req []byte) ([]byte, error) {
	in := rawBytes(req)
	var out rawBytes
	if err := c.conn.Invoke(ctx, method, &in, &out); err != nil {
		return nil, fmt.Errorf("invoking %s: %w", method, err)
	}
	return out, nil
}

// PublishPayerEnvelopes uploads signed, payer-wrapped client envelopes
// (§6 "PublishPayerEnvelopes").
func (c *Client) PublishPayerEnvelopes(ctx context.Context, envelopes []*envelope.PayerEnvelope) error {
	_, err := c.invoke(ctx, methodPublishPayerEnvelopes, encodePayerEnvelopes(envelopes))
	return err
}

// QueryEnvelopes fetches originator envelopes for a topic since a cursor
// position (§6 "QueryEnvelopes").
func (c *Client) QueryEnvelopes(ctx context.Context, topic []byte, cursor *envelope.Cursor) ([]*envelope.OriginatorEnvelope, error) {
	resp, err := c.invoke(ctx, methodQueryEnvelopes, encodeQueryEnvelopesRequest(topic, cursor))
	if err != nil {
		return nil, err
	}
	return decodeOriginatorEnvelopes(resp)
}

// UploadKeyPackage publishes a freshly-rotated key package (§6
// "UploadKeyPackage").
func (c *Client) UploadKeyPackage(ctx context.Context, installation identity.InstallationID, pkg []byte) error {
	_, err := c.invoke(ctx, methodUploadKeyPackage, encodeUploadKeyPackageRequest(installation, pkg))
	return err
}

// FetchKeyPackages retrieves key packages for a set of installations, to
// build a welcome (§6 "FetchKeyPackages").
func (c *Client) FetchKeyPackages(ctx context.Context, installations []identity.InstallationID) ([][]byte, error) {
	resp, err := c.invoke(ctx, methodFetchKeyPackages, encodeFetchKeyPackagesRequest(installations))
	if err != nil {
		return nil, err
	}
	return decodeKeyPackages(resp)
}

// GetInboxIds resolves wallet addresses to inbox ids (§6 "GetInboxIds").
func (c *Client) GetInboxIds(ctx context.Context, addresses [][20]byte) (map[[20]byte]identity.InboxID, error) {
	resp, err := c.invoke(ctx, methodGetInboxIds, encodeGetInboxIdsRequest(addresses))
	if err != nil {
		return nil, err
	}
	return decodeInboxIds(resp)
}

// GetIdentityUpdates fetches identity-update log entries for a set of
// inboxes since each one's recorded sequence id (§6 "GetIdentityUpdates",
// identity.Remote).
func (c *Client) GetIdentityUpdates(ctx context.Context, requests []identity.SequenceRequest) (map[identity.InboxID][]identity.IdentityUpdate, error) {
	resp, err := c.invoke(ctx, methodGetIdentityUpdates, encodeGetIdentityUpdatesRequest(requests))
	if err != nil {
		return nil, err
	}
	return decodeIdentityUpdates(resp)
}

// PublishCommitLog uploads signed commit-log entries (§6
// "PublishCommitLog").
func (c *Client) PublishCommitLog(ctx context.Context, groupID []byte, entries []byte) error {
	_, err := c.invoke(ctx, methodPublishCommitLog, append(append([]byte(nil), groupID...), entries...))
	return err
}

// QueryCommitLog fetches commit-log entries for a group since a
// sequence id (§6 "QueryCommitLog").
func (c *Client) QueryCommitLog(ctx context.Context, groupID []byte, afterSequence uint64) ([]byte, error) {
	return c.invoke(ctx, methodQueryCommitLog, encodeQueryCommitLogRequest(groupID, afterSequence))
}

// RevokeInstallation submits a revocation identity update (§6
// "RevokeInstallation").
func (c *Client) RevokeInstallation(ctx context.Context, update identity.IdentityUpdate) error {
	_, err := c.invoke(ctx, methodRevokeInstallation, identity.EncodeIdentityUpdate(update))
	return err
}
