package devicesync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmtp-go/libxmtp-core/consent"
	"github.com/xmtp-go/libxmtp-core/identity"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []Payload
	err  error
}

func (f *fakeSender) SendSyncPayload(ctx context.Context, group SyncGroup, p Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, p)
	return nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeReceiver struct {
	mu       sync.Mutex
	payloads []Payload
	err      error
}

func (f *fakeReceiver) PollSyncPayloads(ctx context.Context, group SyncGroup) ([]Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := f.payloads
	f.payloads = nil
	return out, nil
}

type fakeConsentSource struct {
	mu      sync.Mutex
	records []consent.Record
	applied []consent.Record
}

func (f *fakeConsentSource) All(ctx context.Context) ([]consent.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]consent.Record(nil), f.records...), nil
}

func (f *fakeConsentSource) Apply(ctx context.Context, rec consent.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, rec)
	return nil
}

func testSyncGroup() SyncGroup {
	var inbox identity.InboxID
	inbox[0] = 1
	return SyncGroup{InboxID: inbox, GroupID: []byte("sync-group")}
}

func TestSyncOncePushesLocalConsentRecords(t *testing.T) {
	sender := &fakeSender{}
	receiver := &fakeReceiver{}
	source := &fakeConsentSource{records: []consent.Record{
		{EntityType: consent.EntityGroupID, Entity: "g1", State: consent.StateAllowed, UpdatedAt: time.Unix(1, 0)},
	}}
	w := NewWorker(testSyncGroup(), sender, receiver, source, time.Minute)

	err := w.syncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sender.sentCount())
	assert.Equal(t, PayloadConsent, sender.sent[0].Kind)
}

func TestSyncOnceAppliesRemoteConsentPayloads(t *testing.T) {
	rec := consent.Record{EntityType: consent.EntityInboxID, Entity: "i1", State: consent.StateDenied, UpdatedAt: time.Unix(2, 0)}
	receiver := &fakeReceiver{payloads: []Payload{{Kind: PayloadConsent, Data: encodeConsentRecord(rec)}}}
	source := &fakeConsentSource{}
	w := NewWorker(testSyncGroup(), &fakeSender{}, receiver, source, time.Minute)

	err := w.syncOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, source.applied, 1)
	assert.Equal(t, rec.Entity, source.applied[0].Entity)
	assert.Equal(t, rec.State, source.applied[0].State)
}

func TestSyncOnceIgnoresNonConsentPayloadKinds(t *testing.T) {
	receiver := &fakeReceiver{payloads: []Payload{{Kind: PayloadHMACKeys, Data: []byte("irrelevant")}}}
	source := &fakeConsentSource{}
	w := NewWorker(testSyncGroup(), &fakeSender{}, receiver, source, time.Minute)

	err := w.syncOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, source.applied)
}

func TestSyncOnceDropsMalformedConsentPayloadWithoutFailing(t *testing.T) {
	receiver := &fakeReceiver{payloads: []Payload{{Kind: PayloadConsent, Data: []byte{0xFF, 0xFF, 0xFF}}}}
	source := &fakeConsentSource{}
	w := NewWorker(testSyncGroup(), &fakeSender{}, receiver, source, time.Minute)

	err := w.syncOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, source.applied)
}

func TestRunStopsOnExplicitStop(t *testing.T) {
	w := NewWorker(testSyncGroup(), &fakeSender{}, &fakeReceiver{}, &fakeConsentSource{}, time.Millisecond)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	w.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(testSyncGroup(), &fakeSender{}, &fakeReceiver{}, &fakeConsentSource{}, time.Millisecond)

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
