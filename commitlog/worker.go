package commitlog

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xmtp-go/libxmtp-core/apperrors"
)

// Publisher uploads a signed remote commit-log entry for a group
// (§6 "PublishCommitLog"); Fetcher retrieves entries other members (or
// this installation's other devices) have published (§6 "QueryCommitLog").
type Publisher interface {
	PublishCommitLog(ctx context.Context, groupID []byte, entries []RemoteEntry) error
}

type Fetcher interface {
	QueryCommitLog(ctx context.Context, groupID []byte, afterSequence uint64) ([]RemoteEntry, error)
}

// Store is the local persistence boundary the worker reads pending
// entries from and records fetched remote entries into.
type Store interface {
	PendingLocalEntries(ctx context.Context, groupID []byte) ([]LocalEntry, error)
	MarkPublished(ctx context.Context, groupID []byte, sequenceIDs []uint64) error
	SaveRemoteEntries(ctx context.Context, groupID []byte, entries []RemoteEntry) error
	LocalEntries(ctx context.Context, groupID []byte) ([]LocalEntry, error)
	ConsensusKey(ctx context.Context, groupID []byte) ([]byte, error)
}

// Worker periodically publishes newly-applied local entries and pulls
// down remote entries for every tracked group (§4.7, grounded on
// async/manager.go's stop-channel worker loop shape).
type Worker struct {
	mu        sync.Mutex
	groupIDs  [][]byte
	store     Store
	publisher Publisher
	fetcher   Fetcher
	interval  time.Duration
	policy    apperrors.RetryPolicy
	logger    *logrus.Entry

	// ForkDetected is invoked with the affected group id when
	// fetchRemote's ShouldSkip ladder reports ErrForkDetected — a
	// genuinely contradictory remote entry, not merely an out-of-order
	// one (§4.5, §8 scenario 6). Optional; nil is a no-op.
	ForkDetected func(groupID []byte)

	stopChan chan struct{}
	running  bool
}

// NewWorker constructs a commit-log worker polling every interval.
func NewWorker(store Store, publisher Publisher, fetcher Fetcher, interval time.Duration) *Worker {
	return &Worker{
		store:     store,
		publisher: publisher,
		fetcher:   fetcher,
		interval:  interval,
		policy:    apperrors.DefaultRetryPolicy(),
		logger:    logrus.WithFields(logrus.Fields{"package": "commitlog", "component": "worker"}),
		stopChan:  make(chan struct{}),
	}
}

// TrackGroup adds groupID to the set this worker syncs.
func (w *Worker) TrackGroup(groupID []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.groupIDs = append(w.groupIDs, groupID)
}

// Run blocks, polling every interval until ctx is cancelled or Stop is
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
			w.syncAll(ctx)
		}
	}
}

// Stop terminates Run's loop.
func (w *Worker) Stop() {
	close(w.stopChan)
}

func (w *Worker) syncAll(ctx context.Context) {
	w.mu.Lock()
	groups := append([][]byte(nil), w.groupIDs...)
	w.mu.Unlock()

	for _, groupID := range groups {
		if err := w.syncGroup(ctx, groupID); err != nil {
			w.logger.WithError(err).WithField("group_id", fmtGroupID(groupID)).Warn("commit log sync failed")
		}
	}
}

func (w *Worker) syncGroup(ctx context.Context, groupID []byte) error {
	return apperrors.Retry(ctx, w.policy, "commitlog.sync", func(ctx context.Context) error {
		if err := w.publishPending(ctx, groupID); err != nil {
			return err
		}
		return w.fetchRemote(ctx, groupID)
	})
}

func (w *Worker) publishPending(ctx context.Context, groupID []byte) error {
	pending, err := w.store.PendingLocalEntries(ctx, groupID)
	if err != nil {
		return err
	}
	// §4.5 "Publish path": GroupCreation and Welcome rows are recorded
	// locally but never published — they carry no information other
	// members need to detect a fork, and publishing them would leak the
	// full member list to the backend unnecessarily.
	filtered := pending[:0]
	for _, e := range pending {
		if e.Kind == KindGroupCreation || e.Kind == KindWelcome {
			continue
		}
		filtered = append(filtered, e)
	}
	pending = filtered
	if len(pending) == 0 {
		return nil
	}
	remote := make([]RemoteEntry, len(pending))
	for i, e := range pending {
		remote[i] = RemoteEntry{LocalEntry: e}
	}
	if err := w.publisher.PublishCommitLog(ctx, groupID, remote); err != nil {
		return err
	}
	sequenceIDs := make([]uint64, len(pending))
	for i, e := range pending {
		sequenceIDs[i] = e.CommitSequenceID
	}
	return w.store.MarkPublished(ctx, groupID, sequenceIDs)
}

func (w *Worker) fetchRemote(ctx context.Context, groupID []byte) error {
	local, err := w.store.LocalEntries(ctx, groupID)
	if err != nil {
		return err
	}
	var after uint64
	for _, e := range local {
		if e.CommitSequenceID > after {
			after = e.CommitSequenceID
		}
	}
	fetched, err := w.fetcher.QueryCommitLog(ctx, groupID, after)
	if err != nil {
		return err
	}
	if len(fetched) == 0 {
		return nil
	}
	consensusKey, _ := w.store.ConsensusKey(ctx, groupID)
	var accepted []RemoteEntry
	for _, entry := range fetched {
		skip, err := ShouldSkip(local, consensusKey, entry)
		if err != nil {
			w.logger.WithError(err).WithField("group_id", fmtGroupID(groupID)).Error("commit log fork detected")
			if w.ForkDetected != nil {
				w.ForkDetected(groupID)
			}
			continue
		}
		if !skip {
			accepted = append(accepted, entry)
		}
	}
	if len(accepted) == 0 {
		return nil
	}
	return w.store.SaveRemoteEntries(ctx, groupID, accepted)
}

func fmtGroupID(id []byte) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return hex.EncodeToString(id)
}
