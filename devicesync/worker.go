package devicesync

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xmtp-go/libxmtp-core/apperrors"
	"github.com/xmtp-go/libxmtp-core/consent"
)

// Sender publishes a Payload to the sync group; Receiver drains payloads
// other installations have published since the last poll (§6 "device
// sync rides the same group-message RPCs as any other group").
type Sender interface {
	SendSyncPayload(ctx context.Context, group SyncGroup, p Payload) error
}

type Receiver interface {
	PollSyncPayloads(ctx context.Context, group SyncGroup) ([]Payload, error)
}

// ConsentSource mirrors consent.Ledger's export/import surface, kept
// narrow so this package depends only on the methods it calls.
type ConsentSource interface {
	All(ctx context.Context) ([]consent.Record, error)
	Apply(ctx context.Context, rec consent.Record) error
}

// Worker periodically exports local consent state to the sync group and
// applies payloads received from other installations (§4.5, grounded on
// async/manager.go's stop-channel worker shape).
type Worker struct {
	group    SyncGroup
	sender   Sender
	receiver Receiver
	consent  ConsentSource
	interval time.Duration
	policy   apperrors.RetryPolicy
	logger   *logrus.Entry

	stopChan chan struct{}
}

// NewWorker constructs a device-sync worker for one inbox's sync group.
func NewWorker(group SyncGroup, sender Sender, receiver Receiver, consentSource ConsentSource, interval time.Duration) *Worker {
	return &Worker{
		group:    group,
		sender:   sender,
		receiver: receiver,
		consent:  consentSource,
		interval: interval,
		policy:   apperrors.DefaultRetryPolicy(),
		logger:   logrus.WithFields(logrus.Fields{"package": "devicesync", "component": "worker"}),
		stopChan: make(chan struct{}),
	}
}

// Run blocks, syncing every interval until ctx is cancelled or Stop is
// called.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			if err := w.syncOnce(ctx); err != nil {
				w.logger.WithError(err).Warn("device sync pass failed")
			}
		}
	}
}

// Stop terminates Run's loop.
func (w *Worker) Stop() {
	close(w.stopChan)
}

func (w *Worker) syncOnce(ctx context.Context) error {
	return apperrors.Retry(ctx, w.policy, "devicesync.sync", func(ctx context.Context) error {
		if err := w.pullRemote(ctx); err != nil {
			return fmt.Errorf("pulling remote sync payloads: %w", err)
		}
		return w.pushLocal(ctx)
	})
}

func (w *Worker) pullRemote(ctx context.Context) error {
	payloads, err := w.receiver.PollSyncPayloads(ctx, w.group)
	if err != nil {
		return err
	}
	for _, p := range payloads {
		if p.Kind != PayloadConsent {
			continue
		}
		rec, err := decodeConsentRecord(p.Data)
		if err != nil {
			w.logger.WithError(err).Warn("dropping malformed consent sync payload")
			continue
		}
		if err := w.consent.Apply(ctx, rec); err != nil {
			return fmt.Errorf("applying synced consent record: %w", err)
		}
	}
	return nil
}

func (w *Worker) pushLocal(ctx context.Context) error {
	records, err := w.consent.All(ctx)
	if err != nil {
		return fmt.Errorf("loading local consent state: %w", err)
	}
	for _, rec := range records {
		if err := w.sender.SendSyncPayload(ctx, w.group, Payload{Kind: PayloadConsent, Data: encodeConsentRecord(rec)}); err != nil {
			return fmt.Errorf("publishing consent sync payload: %w", err)
		}
	}
	return nil
}
