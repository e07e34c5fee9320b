package store

// schemaVersion is the current linear migration target (§6 "schema
// versioning is linear; migrations are forward-only").
const schemaVersion = 1

// statements holds the DDL for schema version 1. §4.1 names the required
// tables explicitly: inbox, identity_update, key_package, group,
// group_member, group_message, refresh_state, consent_record,
// local_commit_log, remote_commit_log — all present below. group_member
// is this store's queryable rendering of the (inbox_id, sequence_id)
// member set the MLS group blob's extensions carry (§4.8 step 2);
// find_groups reads it directly rather than decoding mls_state.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS inbox (
		inbox_id BLOB PRIMARY KEY,
		created_at_ns INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS identity_update (
		inbox_id BLOB NOT NULL REFERENCES inbox(inbox_id) ON DELETE CASCADE,
		sequence_id INTEGER NOT NULL,
		previous_sequence_id INTEGER NOT NULL,
		created_at_ns INTEGER NOT NULL,
		encoded_update BLOB NOT NULL,
		PRIMARY KEY (inbox_id, sequence_id)
	)`,

	`CREATE TABLE IF NOT EXISTS key_package (
		installation_id BLOB NOT NULL,
		package_id INTEGER NOT NULL,
		created_at_ns INTEGER NOT NULL,
		consumed INTEGER NOT NULL DEFAULT 0,
		public_key BLOB NOT NULL,
		encrypted_private_key BLOB NOT NULL,
		PRIMARY KEY (installation_id, package_id)
	)`,

	`CREATE TABLE IF NOT EXISTS "group" (
		group_id BLOB PRIMARY KEY,
		conversation_type INTEGER NOT NULL,
		created_at_ns INTEGER NOT NULL,
		dm_inbox_a BLOB,
		dm_inbox_b BLOB,
		membership_state INTEGER NOT NULL,
		epoch_number INTEGER NOT NULL DEFAULT 0,
		epoch_authenticator BLOB,
		message_disappear_from_ns INTEGER NOT NULL DEFAULT 0,
		message_disappear_in_ns INTEGER NOT NULL DEFAULT 0,
		last_message_ns INTEGER NOT NULL DEFAULT 0,
		commit_log_public_key BLOB,
		mls_state BLOB,
		app_data BLOB
	)`,

	`CREATE TABLE IF NOT EXISTS group_member (
		group_id BLOB NOT NULL REFERENCES "group"(group_id) ON DELETE CASCADE,
		inbox_id BLOB NOT NULL,
		sequence_id INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (group_id, inbox_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_group_member_inbox ON group_member(inbox_id)`,

	`CREATE TABLE IF NOT EXISTS group_message (
		id BLOB PRIMARY KEY,
		group_id BLOB NOT NULL REFERENCES "group"(group_id) ON DELETE CASCADE,
		sent_at_ns INTEGER NOT NULL,
		sender_inbox_id BLOB NOT NULL,
		sender_installation_id BLOB NOT NULL,
		kind INTEGER NOT NULL,
		encrypted_content BLOB,
		expire_at_ns INTEGER,
		delivery_status INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_group_message_group_sent ON group_message(group_id, sent_at_ns)`,
	`CREATE INDEX IF NOT EXISTS idx_group_message_expiry ON group_message(group_id, expire_at_ns)`,

	`CREATE TABLE IF NOT EXISTS refresh_state (
		group_id BLOB NOT NULL,
		entity_kind INTEGER NOT NULL,
		originator INTEGER NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (group_id, entity_kind, originator)
	)`,

	`CREATE TABLE IF NOT EXISTS consent_record (
		entity_type INTEGER NOT NULL,
		entity TEXT NOT NULL,
		state INTEGER NOT NULL,
		updated_at_ns INTEGER NOT NULL,
		PRIMARY KEY (entity_type, entity)
	)`,

	`CREATE TABLE IF NOT EXISTS local_commit_log (
		rowid INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id BLOB NOT NULL,
		commit_sequence_id INTEGER NOT NULL,
		kind INTEGER NOT NULL,
		last_epoch_authenticator BLOB NOT NULL,
		commit_result INTEGER NOT NULL,
		applied_epoch_number INTEGER NOT NULL,
		applied_epoch_authenticator BLOB NOT NULL,
		UNIQUE(group_id, commit_sequence_id)
	)`,

	`CREATE TABLE IF NOT EXISTS remote_commit_log (
		group_id BLOB NOT NULL,
		commit_sequence_id INTEGER NOT NULL,
		last_epoch_authenticator BLOB NOT NULL,
		commit_result INTEGER NOT NULL,
		applied_epoch_number INTEGER NOT NULL,
		applied_epoch_authenticator BLOB NOT NULL,
		signer_public_key BLOB NOT NULL,
		PRIMARY KEY (group_id, commit_sequence_id)
	)`,

	`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY
	)`,
}
