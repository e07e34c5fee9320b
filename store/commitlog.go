package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xmtp-go/libxmtp-core/commitlog"
)

// CommitLogRepo implements commitlog.Store over local_commit_log and
// remote_commit_log (§4.7).
type CommitLogRepo struct {
	db *DB
}

func NewCommitLogRepo(db *DB) *CommitLogRepo { return &CommitLogRepo{db: db} }

// AppendLocal records a freshly-applied (or failed) commit attempt.
func (r *CommitLogRepo) AppendLocal(ctx context.Context, e commitlog.LocalEntry) error {
	return r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO local_commit_log
				(group_id, commit_sequence_id, kind, last_epoch_authenticator, commit_result,
				 applied_epoch_number, applied_epoch_authenticator)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.GroupID, e.CommitSequenceID, e.Kind, e.LastEpochAuthenticator, e.CommitResult,
			e.AppliedEpochNumber, e.AppliedEpochAuthenticator)
		if err != nil {
			return fmt.Errorf("appending local commit log entry: %w", err)
		}
		return nil
	})
}

// PendingLocalEntries returns local entries not yet published remotely.
// A sentinel published flag piggybacks on commit_result's high bit would
// complicate the schema, so publication state is tracked by a simple
// watermark: entries with commit_sequence_id greater than the group's
// highest remote_commit_log entry are pending.
func (r *CommitLogRepo) PendingLocalEntries(ctx context.Context, groupID []byte) ([]commitlog.LocalEntry, error) {
	var out []commitlog.LocalEntry
	err := r.db.ReadTx(ctx, func(tx *sql.Tx) error {
		var watermark uint64
		row := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(commit_sequence_id), 0) FROM remote_commit_log
				WHERE group_id = ? AND signer_public_key = (SELECT commit_log_public_key FROM "group" WHERE group_id = ?)`,
			groupID, groupID)
		if err := row.Scan(&watermark); err != nil {
			return fmt.Errorf("reading publish watermark: %w", err)
		}
		rows, err := tx.QueryContext(ctx,
			`SELECT group_id, commit_sequence_id, kind, last_epoch_authenticator, commit_result,
				applied_epoch_number, applied_epoch_authenticator
				FROM local_commit_log WHERE group_id = ? AND commit_sequence_id > ? ORDER BY commit_sequence_id ASC`,
			groupID, watermark)
		if err != nil {
			return fmt.Errorf("querying pending local entries: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var e commitlog.LocalEntry
			if err := rows.Scan(&e.GroupID, &e.CommitSequenceID, &e.Kind, &e.LastEpochAuthenticator,
				&e.CommitResult, &e.AppliedEpochNumber, &e.AppliedEpochAuthenticator); err != nil {
				return fmt.Errorf("scanning pending local entry: %w", err)
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

// MarkPublished is a no-op past the watermark query in
// PendingLocalEntries: publication is reflected once the published
// entries round-trip back through SaveRemoteEntries.
func (r *CommitLogRepo) MarkPublished(ctx context.Context, groupID []byte, sequenceIDs []uint64) error {
	return nil
}

// SaveRemoteEntries persists entries fetched and accepted after the
// ShouldSkip ladder.
func (r *CommitLogRepo) SaveRemoteEntries(ctx context.Context, groupID []byte, entries []commitlog.RemoteEntry) error {
	return r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		for _, e := range entries {
			_, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO remote_commit_log
					(group_id, commit_sequence_id, last_epoch_authenticator, commit_result,
					 applied_epoch_number, applied_epoch_authenticator, signer_public_key)
					VALUES (?, ?, ?, ?, ?, ?, ?)`,
				groupID, e.CommitSequenceID, e.LastEpochAuthenticator, e.CommitResult,
				e.AppliedEpochNumber, e.AppliedEpochAuthenticator, e.SignerPublicKey)
			if err != nil {
				return fmt.Errorf("saving remote commit log entry %d: %w", e.CommitSequenceID, err)
			}
		}
		return nil
	})
}

// LocalEntries returns every local entry recorded for groupID.
func (r *CommitLogRepo) LocalEntries(ctx context.Context, groupID []byte) ([]commitlog.LocalEntry, error) {
	var out []commitlog.LocalEntry
	err := r.db.ReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT group_id, commit_sequence_id, kind, last_epoch_authenticator, commit_result,
				applied_epoch_number, applied_epoch_authenticator
				FROM local_commit_log WHERE group_id = ? ORDER BY commit_sequence_id ASC`,
			groupID)
		if err != nil {
			return fmt.Errorf("querying local entries: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var e commitlog.LocalEntry
			if err := rows.Scan(&e.GroupID, &e.CommitSequenceID, &e.Kind, &e.LastEpochAuthenticator,
				&e.CommitResult, &e.AppliedEpochNumber, &e.AppliedEpochAuthenticator); err != nil {
				return fmt.Errorf("scanning local entry: %w", err)
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

// ConsensusKey returns the group's established commit-log signer, if any.
func (r *CommitLogRepo) ConsensusKey(ctx context.Context, groupID []byte) ([]byte, error) {
	var key []byte
	err := r.db.ReadTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT commit_log_public_key FROM "group" WHERE group_id = ?`, groupID)
		return row.Scan(&key)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return key, err
}
