package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/xmtp-go/libxmtp-core/identity"
)

// DeliveryStatus tracks a locally-originated message's send lifecycle
// (§4.4 "Send operations").
type DeliveryStatus uint8

const (
	DeliveryUnpublished DeliveryStatus = iota
	DeliveryPublished
	DeliveryFailed
)

// MessageKind distinguishes application content from the commit/welcome
// frames stored alongside it for history reconstruction.
type MessageKind uint8

const (
	MessageApplication MessageKind = iota
	MessageCommit
)

// Message is one persisted group_message row. EncryptedContent is opaque
// to the store: encryption/decryption happens in the group/MLS layer,
// which is out of scope (§1); the store only round-trips ciphertext.
type Message struct {
	ID                   uuid.UUID
	GroupID              []byte
	SentAtNs             int64
	SenderInboxID        identity.InboxID
	SenderInstallationID identity.InstallationID
	Kind                 MessageKind
	EncryptedContent     []byte
	ExpireAtNs           *int64
	DeliveryStatus       DeliveryStatus
}

// MessageRepo persists group messages, including disappearing-message
// expiry bookkeeping (§4.8, component G).
type MessageRepo struct {
	db *DB
}

func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

// Insert persists a new message.
func (r *MessageRepo) Insert(ctx context.Context, m Message) error {
	return r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO group_message
				(id, group_id, sent_at_ns, sender_inbox_id, sender_installation_id, kind,
				 encrypted_content, expire_at_ns, delivery_status)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID[:], m.GroupID, m.SentAtNs, m.SenderInboxID[:], []byte(m.SenderInstallationID),
			m.Kind, m.EncryptedContent, m.ExpireAtNs, m.DeliveryStatus)
		if err != nil {
			return fmt.Errorf("inserting message %s: %w", m.ID, err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE "group" SET last_message_ns = ? WHERE group_id = ? AND last_message_ns < ?`,
			m.SentAtNs, m.GroupID, m.SentAtNs)
		if err != nil {
			return fmt.Errorf("updating last_message_ns: %w", err)
		}
		return nil
	})
}

// UpdateStatus transitions a message's delivery status.
func (r *MessageRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status DeliveryStatus) error {
	return r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE group_message SET delivery_status = ? WHERE id = ?`, status, id[:])
		if err != nil {
			return fmt.Errorf("updating message %s delivery status: %w", id, err)
		}
		return nil
	})
}

// ListSince returns messages for groupID sent after afterNs, ascending.
func (r *MessageRepo) ListSince(ctx context.Context, groupID []byte, afterNs int64, limit int) ([]Message, error) {
	var out []Message
	err := r.db.ReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, group_id, sent_at_ns, sender_inbox_id, sender_installation_id, kind,
				encrypted_content, expire_at_ns, delivery_status
				FROM group_message WHERE group_id = ? AND sent_at_ns > ? ORDER BY sent_at_ns ASC LIMIT ?`,
			groupID, afterNs, limit)
		if err != nil {
			return fmt.Errorf("listing messages: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			m, err := scanMessage(rows)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

// ExpiredBefore returns every message whose expire_at_ns has passed
// cutoffNs, the disappearing-message sweeper's query (§4.8).
func (r *MessageRepo) ExpiredBefore(ctx context.Context, cutoffNs int64) ([]Message, error) {
	var out []Message
	err := r.db.ReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, group_id, sent_at_ns, sender_inbox_id, sender_installation_id, kind,
				encrypted_content, expire_at_ns, delivery_status
				FROM group_message WHERE expire_at_ns IS NOT NULL AND expire_at_ns <= ?`,
			cutoffNs)
		if err != nil {
			return fmt.Errorf("querying expired messages: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			m, err := scanMessage(rows)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

// DeleteExpired removes the given message ids, used after the sweeper
// has acted on ExpiredBefore's result.
func (r *MessageRepo) DeleteExpired(ctx context.Context, ids []uuid.UUID) error {
	return r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM group_message WHERE id = ?`, id[:]); err != nil {
				return fmt.Errorf("deleting expired message %s: %w", id, err)
			}
		}
		return nil
	})
}

func scanMessage(rows *sql.Rows) (Message, error) {
	var m Message
	var idBytes, inboxBytes, installBytes []byte
	var expire sql.NullInt64
	if err := rows.Scan(&idBytes, &m.GroupID, &m.SentAtNs, &inboxBytes, &installBytes,
		&m.Kind, &m.EncryptedContent, &expire, &m.DeliveryStatus); err != nil {
		return m, fmt.Errorf("scanning message: %w", err)
	}
	copy(m.ID[:], idBytes)
	copy(m.SenderInboxID[:], inboxBytes)
	m.SenderInstallationID = identity.InstallationID(installBytes)
	if expire.Valid {
		v := expire.Int64
		m.ExpireAtNs = &v
	}
	return m, nil
}
