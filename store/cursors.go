package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xmtp-go/libxmtp-core/envelope"
)

// EntityKind distinguishes the refresh_state rows a cursor belongs to
// (§4.9 "gap detection is tracked per entity, per originator").
type EntityKind uint8

const (
	EntityGroupMessage EntityKind = iota
	EntityWelcome
	EntityCommitLog
)

// CursorRepo persists per-group, per-originator stream positions used by
// the streaming façade's gap detector (§4.9, component L).
type CursorRepo struct {
	db *DB
}

func NewCursorRepo(db *DB) *CursorRepo { return &CursorRepo{db: db} }

// Load reconstructs the persisted cursor for a group/entity pair.
func (r *CursorRepo) Load(ctx context.Context, groupID []byte, kind EntityKind) (*envelope.Cursor, error) {
	cursor := envelope.NewCursor()
	err := r.db.ReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT originator, position FROM refresh_state WHERE group_id = ? AND entity_kind = ?`,
			groupID, kind)
		if err != nil {
			return fmt.Errorf("querying refresh state: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var originator uint32
			var position uint64
			if err := rows.Scan(&originator, &position); err != nil {
				return fmt.Errorf("scanning refresh state: %w", err)
			}
			cursor.Advance(originator, position)
		}
		return rows.Err()
	})
	return cursor, err
}

// Save persists node's advanced position for groupID/kind.
func (r *CursorRepo) Save(ctx context.Context, groupID []byte, kind EntityKind, node uint32, position uint64) error {
	return r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO refresh_state (group_id, entity_kind, originator, position)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(group_id, entity_kind, originator) DO UPDATE SET position = excluded.position
				WHERE excluded.position > refresh_state.position`,
			groupID, kind, node, position)
		if err != nil {
			return fmt.Errorf("saving refresh state: %w", err)
		}
		return nil
	})
}
