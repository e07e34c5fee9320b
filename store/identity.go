package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xmtp-go/libxmtp-core/identity"
)

// IdentityRepo persists the append-only identity-update log backing
// identity.Graph's Store interface (§4.2).
type IdentityRepo struct {
	db *DB
}

func NewIdentityRepo(db *DB) *IdentityRepo { return &IdentityRepo{db: db} }

// LoadUpdates returns every identity update recorded for inbox, ordered
// by sequence id.
func (r *IdentityRepo) LoadUpdates(ctx context.Context, inbox identity.InboxID) ([]identity.IdentityUpdate, error) {
	var updates []identity.IdentityUpdate
	err := r.db.ReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT encoded_update FROM identity_update WHERE inbox_id = ? ORDER BY sequence_id ASC`,
			inbox[:])
		if err != nil {
			return fmt.Errorf("querying identity updates: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var encoded []byte
			if err := rows.Scan(&encoded); err != nil {
				return fmt.Errorf("scanning identity update: %w", err)
			}
			u, err := identity.DecodeIdentityUpdate(encoded)
			if err != nil {
				return fmt.Errorf("decoding identity update: %w", err)
			}
			updates = append(updates, u)
		}
		return rows.Err()
	})
	return updates, err
}

// AppendUpdates inserts newly-verified updates for inbox. Callers have
// already run identity.VerifyUpdate over each entry (§4.2 invariant i).
func (r *IdentityRepo) AppendUpdates(ctx context.Context, inbox identity.InboxID, updates []identity.IdentityUpdate) error {
	return r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO inbox (inbox_id, created_at_ns) VALUES (?, ?)`,
			inbox[:], nowNs(updates)); err != nil {
			return fmt.Errorf("ensuring inbox row: %w", err)
		}
		for _, u := range updates {
			encoded := identity.EncodeIdentityUpdate(u)
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO identity_update
					(inbox_id, sequence_id, previous_sequence_id, created_at_ns, encoded_update)
					VALUES (?, ?, ?, ?, ?)`,
				inbox[:], u.SequenceID, u.PreviousSequenceID, u.CreatedAtNs, encoded); err != nil {
				return fmt.Errorf("inserting identity update %d: %w", u.SequenceID, err)
			}
		}
		return nil
	})
}

func nowNs(updates []identity.IdentityUpdate) int64 {
	if len(updates) == 0 {
		return 0
	}
	return updates[0].CreatedAtNs
}
