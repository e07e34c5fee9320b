package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xmtp-go/libxmtp-core/identity"
	"github.com/xmtp-go/libxmtp-core/keypackage"
)

// KeyPackageRepo persists an installation's key-package pool (§4.3).
// Private key material is sealed with the store's FieldEncryptor before
// it touches disk.
type KeyPackageRepo struct {
	db *DB
}

func NewKeyPackageRepo(db *DB) *KeyPackageRepo { return &KeyPackageRepo{db: db} }

// Save persists pkg for installation, sealing the private key bytes.
func (r *KeyPackageRepo) Save(ctx context.Context, installation identity.InstallationID, pkg *keypackage.Package) error {
	sealed, err := r.db.encryptor.Seal(pkg.KeyPair.Private[:])
	if err != nil {
		return fmt.Errorf("sealing key package private key: %w", err)
	}
	return r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO key_package
				(installation_id, package_id, created_at_ns, consumed, public_key, encrypted_private_key)
				VALUES (?, ?, ?, ?, ?, ?)`,
			[]byte(installation), pkg.ID, pkg.CreatedAt.UnixNano(), pkg.Consumed,
			pkg.KeyPair.Public[:], sealed)
		if err != nil {
			return fmt.Errorf("saving key package %d: %w", pkg.ID, err)
		}
		return nil
	})
}

// MarkConsumed flags packageID consumed for installation.
func (r *KeyPackageRepo) MarkConsumed(ctx context.Context, installation identity.InstallationID, packageID uint32) error {
	return r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE key_package SET consumed = 1 WHERE installation_id = ? AND package_id = ?`,
			[]byte(installation), packageID)
		if err != nil {
			return fmt.Errorf("marking key package %d consumed: %w", packageID, err)
		}
		return nil
	})
}

// CountUnconsumed reports how many unconsumed packages remain for
// installation, used to decide whether the pool needs topping up.
func (r *KeyPackageRepo) CountUnconsumed(ctx context.Context, installation identity.InstallationID) (int, error) {
	var count int
	err := r.db.ReadTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM key_package WHERE installation_id = ? AND consumed = 0`,
			[]byte(installation))
		return row.Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("counting unconsumed key packages: %w", err)
	}
	return count, nil
}
