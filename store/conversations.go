package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xmtp-go/libxmtp-core/group"
)

// ConversationRepo persists group state: membership, epoch, policy, and
// metadata (§4.4, component D). The MLS ratchet tree itself is opaque
// sealed bytes (mls_state); only the client-visible state machine fields
// are modeled as columns.
type ConversationRepo struct {
	db *DB
}

func NewConversationRepo(db *DB) *ConversationRepo { return &ConversationRepo{db: db} }

// Save persists g's current snapshot, including its opaque MLS state
// bytes (mlsState is produced/consumed by the MLS implementation, which
// is out of scope, §1; the store only round-trips it).
func (r *ConversationRepo) Save(ctx context.Context, g *group.Group, mlsState []byte) error {
	epoch, membership, members := g.Snapshot()
	return r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO "group"
				(group_id, conversation_type, created_at_ns, membership_state, epoch_number, epoch_authenticator,
				 message_disappear_from_ns, message_disappear_in_ns, commit_log_public_key, mls_state)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(group_id) DO UPDATE SET
					membership_state = excluded.membership_state,
					epoch_number = excluded.epoch_number,
					epoch_authenticator = excluded.epoch_authenticator,
					message_disappear_from_ns = excluded.message_disappear_from_ns,
					message_disappear_in_ns = excluded.message_disappear_in_ns,
					commit_log_public_key = excluded.commit_log_public_key,
					mls_state = excluded.mls_state`,
			g.ID, g.Type, g.CreatedAt.UnixNano(), membership, epoch.Number, epoch.Authenticator,
			g.DisappearFromNs, g.DisappearInNs, g.CommitLogKey, mlsState)
		if err != nil {
			return fmt.Errorf("saving group %x: %w", g.ID, err)
		}
		return saveGroupMembersLocked(ctx, tx, g.ID, members)
	})
}

// LoadEpoch returns the last-persisted epoch for groupID, used to
// reconstruct local state on startup before a sync catches it up further.
func (r *ConversationRepo) LoadEpoch(ctx context.Context, groupID []byte) (group.Epoch, error) {
	var e group.Epoch
	err := r.db.ReadTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT epoch_number, epoch_authenticator FROM "group" WHERE group_id = ?`, groupID)
		return row.Scan(&e.Number, &e.Authenticator)
	})
	if err == sql.ErrNoRows {
		return group.Epoch{}, nil
	}
	return e, err
}

// LoadMLSState returns the opaque MLS state bytes last saved for
// groupID.
func (r *ConversationRepo) LoadMLSState(ctx context.Context, groupID []byte) ([]byte, error) {
	var state []byte
	err := r.db.ReadTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT mls_state FROM "group" WHERE group_id = ?`, groupID)
		return row.Scan(&state)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return state, err
}

// ListGroupIDs returns every tracked group id, for worker startup
// (commit-log sync, disappearing-message sweep).
func (r *ConversationRepo) ListGroupIDs(ctx context.Context) ([][]byte, error) {
	var ids [][]byte
	err := r.db.ReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT group_id FROM "group"`)
		if err != nil {
			return fmt.Errorf("listing group ids: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id []byte
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scanning group id: %w", err)
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	return ids, err
}
