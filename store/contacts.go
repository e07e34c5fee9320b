package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/xmtp-go/libxmtp-core/consent"
	"github.com/xmtp-go/libxmtp-core/contacts"
	"github.com/xmtp-go/libxmtp-core/group"
)

// FindGroups implements contacts.GroupSource over the group and
// group_member tables (§4.8 step 1): conversation-type, creation-time
// window, and include/exclude group-id filters run as SQL predicates;
// GroupConsentStates (the group's own consent entity, as opposed to a
// member inbox's) is applied afterward against consent_record, since it
// spans a different table than "group".
func (r *ConversationRepo) FindGroups(ctx context.Context, f contacts.Filter) ([]contacts.GroupSummary, error) {
	var out []contacts.GroupSummary
	err := r.db.ReadTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT group_id, conversation_type, created_at_ns FROM "group" WHERE 1=1`
		var args []interface{}
		if f.ConversationType != nil {
			query += ` AND conversation_type = ?`
			args = append(args, convTypeFor(*f.ConversationType))
		}
		if !f.CreatedAfter.IsZero() {
			query += ` AND created_at_ns >= ?`
			args = append(args, f.CreatedAfter.UnixNano())
		}
		if !f.CreatedBefore.IsZero() {
			query += ` AND created_at_ns <= ?`
			args = append(args, f.CreatedBefore.UnixNano())
		}
		if len(f.IncludeGroupIDs) > 0 {
			query += ` AND group_id IN (` + placeholders(len(f.IncludeGroupIDs)) + `)`
			for _, id := range f.IncludeGroupIDs {
				args = append(args, id)
			}
		}
		for _, id := range f.ExcludeGroupIDs {
			query += ` AND group_id != ?`
			args = append(args, id)
		}

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("querying groups: %w", err)
		}
		var bases []contacts.GroupSummary
		for rows.Next() {
			var gs contacts.GroupSummary
			var convType int
			if err := rows.Scan(&gs.GroupID, &convType, &gs.CreatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("scanning group: %w", err)
			}
			gs.Type = group.ConversationType(convType)
			bases = append(bases, gs)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if len(f.GroupConsentStates) > 0 {
			allowed, err := allowedGroupsLocked(ctx, tx, f.GroupConsentStates)
			if err != nil {
				return err
			}
			filtered := bases[:0]
			for _, gs := range bases {
				if allowed[hex.EncodeToString(gs.GroupID)] {
					filtered = append(filtered, gs)
				}
			}
			bases = filtered
		}

		for i := range bases {
			members, err := loadGroupMembersLocked(ctx, tx, bases[i].GroupID)
			if err != nil {
				return err
			}
			bases[i].Members = members
		}
		out = bases
		return nil
	})
	return out, err
}

func loadGroupMembersLocked(ctx context.Context, tx *sql.Tx, groupID []byte) ([]contacts.GroupMember, error) {
	rows, err := tx.QueryContext(ctx, `SELECT inbox_id, sequence_id FROM group_member WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying group_member: %w", err)
	}
	defer rows.Close()
	var out []contacts.GroupMember
	for rows.Next() {
		var inboxBytes []byte
		var seq uint64
		if err := rows.Scan(&inboxBytes, &seq); err != nil {
			return nil, fmt.Errorf("scanning group_member: %w", err)
		}
		var m contacts.GroupMember
		copy(m.InboxID[:], inboxBytes)
		m.SequenceID = seq
		out = append(out, m)
	}
	return out, rows.Err()
}

// saveGroupMembersLocked replaces groupID's member rows with members,
// the persisted rendering of the group's in-memory Member slice (§4.8
// step 2's "MLS extensions"). Called from ConversationRepo.Save.
func saveGroupMembersLocked(ctx context.Context, tx *sql.Tx, groupID []byte, members []group.Member) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM group_member WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("clearing group_member: %w", err)
	}
	for _, m := range members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_member (group_id, inbox_id, sequence_id) VALUES (?, ?, ?)`,
			groupID, m.InboxID[:], m.SequenceID); err != nil {
			return fmt.Errorf("inserting group_member: %w", err)
		}
	}
	return nil
}

func allowedGroupsLocked(ctx context.Context, tx *sql.Tx, states []consent.State) (map[string]bool, error) {
	want := make(map[int]bool, len(states))
	for _, s := range states {
		want[int(s)] = true
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT entity, state FROM consent_record WHERE entity_type = ?`, int(consent.EntityGroupID))
	if err != nil {
		return nil, fmt.Errorf("querying group consent: %w", err)
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var entity string
		var state int
		if err := rows.Scan(&entity, &state); err != nil {
			return nil, fmt.Errorf("scanning group consent: %w", err)
		}
		if want[state] {
			out[entity] = true
		}
	}
	return out, rows.Err()
}

func convTypeFor(f contacts.ConversationTypeFilter) int {
	if f == contacts.FilterDM {
		return int(group.ConversationDM)
	}
	return int(group.ConversationGroup)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
