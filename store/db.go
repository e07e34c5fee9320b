// Package store implements the local encrypted relational database
// (§4.1, spec component A): a single per-installation store with a
// single writer and concurrent readers, transactional handles, and
// transparent field-level encryption derived from the installation's
// signing key.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// DB wraps a sqlite3-backed connection pool. Per §4.1 "writers serialize,
// readers concurrent": writes go through writeMu so only one write
// transaction runs at a time, while reads use the pool directly.
type DB struct {
	conn      *sql.DB
	writeMu   sync.Mutex
	encryptor *FieldEncryptor
	logger    *logrus.Entry
}

// Open opens (creating if necessary) the local store at path and runs
// any pending forward-only migrations (§6 "Persistent layout").
func Open(ctx context.Context, path string, encryptor *FieldEncryptor) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// Single writer, concurrent readers (§5 "the database exposes a
	// single writer; concurrent readers are permitted").
	conn.SetMaxOpenConns(4)

	db := &DB{
		conn:      conn,
		encryptor: encryptor,
		logger:    logrus.WithFields(logrus.Fields{"package": "store", "path": path}),
	}

	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// ReadTx runs fn against a read-only-intent transaction. Multiple
// ReadTx calls may run concurrently (§5).
func (db *DB) ReadTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("beginning read transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// WriteTx serializes all writers behind writeMu (§5 "single writer").
// The transaction is bound to ctx: if ctx is cancelled before Commit,
// database/sql rolls it back and nothing fn wrote is committed.
func (db *DB) WriteTx(ctx context.Context, fn func(*sql.Tx) error) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning write transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing write transaction: %w", err)
	}
	return nil
}
