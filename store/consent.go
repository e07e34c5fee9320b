package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xmtp-go/libxmtp-core/consent"
)

// ConsentRepo implements consent.Store over the consent_record table.
type ConsentRepo struct {
	db *DB
}

func NewConsentRepo(db *DB) *ConsentRepo { return &ConsentRepo{db: db} }

// LoadConsent returns the persisted record for entityType/entity, or nil
// if none exists.
func (r *ConsentRepo) LoadConsent(ctx context.Context, entityType consent.EntityType, entity string) (*consent.Record, error) {
	var rec *consent.Record
	err := r.db.ReadTx(ctx, func(tx *sql.Tx) error {
		var state uint8
		var updatedNs int64
		row := tx.QueryRowContext(ctx,
			`SELECT state, updated_at_ns FROM consent_record WHERE entity_type = ? AND entity = ?`,
			entityType, entity)
		switch err := row.Scan(&state, &updatedNs); err {
		case nil:
			rec = &consent.Record{
				EntityType: entityType,
				Entity:     entity,
				State:      consent.State(state),
				UpdatedAt:  time.Unix(0, updatedNs),
			}
			return nil
		case sql.ErrNoRows:
			return nil
		default:
			return fmt.Errorf("loading consent record: %w", err)
		}
	})
	return rec, err
}

// SaveConsent upserts rec.
func (r *ConsentRepo) SaveConsent(ctx context.Context, rec consent.Record) error {
	return r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO consent_record (entity_type, entity, state, updated_at_ns)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(entity_type, entity) DO UPDATE SET
					state = excluded.state, updated_at_ns = excluded.updated_at_ns`,
			rec.EntityType, rec.Entity, rec.State, rec.UpdatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("saving consent record: %w", err)
		}
		return nil
	})
}

// ListConsent returns every persisted consent record, for device-sync
// export (§4.5).
func (r *ConsentRepo) ListConsent(ctx context.Context) ([]consent.Record, error) {
	var out []consent.Record
	err := r.db.ReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT entity_type, entity, state, updated_at_ns FROM consent_record`)
		if err != nil {
			return fmt.Errorf("listing consent records: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var et uint8
			var entity string
			var state uint8
			var updatedNs int64
			if err := rows.Scan(&et, &entity, &state, &updatedNs); err != nil {
				return fmt.Errorf("scanning consent record: %w", err)
			}
			out = append(out, consent.Record{
				EntityType: consent.EntityType(et),
				Entity:     entity,
				State:      consent.State(state),
				UpdatedAt:  time.Unix(0, updatedNs),
			})
		}
		return rows.Err()
	})
	return out, err
}
