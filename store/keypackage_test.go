package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmtp-go/libxmtp-core/crypto"
	"github.com/xmtp-go/libxmtp-core/identity"
	"github.com/xmtp-go/libxmtp-core/keypackage"
)

func openTestDBWithEncryptor(t *testing.T) *DB {
	t.Helper()
	encryptor := NewFieldEncryptor([]byte("installation-signing-key-bytes!"), []byte("salt"))
	db, err := Open(context.Background(), ":memory:", encryptor)
	require.NoError(t, err)
	db.conn.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func testInstallationID(b byte) identity.InstallationID {
	return identity.InstallationID([]byte{b})
}

func testKeyPackage(id uint32) *keypackage.Package {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		panic(err)
	}
	return &keypackage.Package{ID: id, KeyPair: kp, CreatedAt: time.Unix(1_700_000_000, 0)}
}

func TestKeyPackageRepoSaveThenCountUnconsumed(t *testing.T) {
	db := openTestDBWithEncryptor(t)
	repo := NewKeyPackageRepo(db)
	installation := testInstallationID(1)

	require.NoError(t, repo.Save(context.Background(), installation, testKeyPackage(1)))

	count, err := repo.CountUnconsumed(context.Background(), installation)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestKeyPackageRepoMarkConsumedExcludesFromCount(t *testing.T) {
	db := openTestDBWithEncryptor(t)
	repo := NewKeyPackageRepo(db)
	installation := testInstallationID(1)
	require.NoError(t, repo.Save(context.Background(), installation, testKeyPackage(1)))

	require.NoError(t, repo.MarkConsumed(context.Background(), installation, 1))

	count, err := repo.CountUnconsumed(context.Background(), installation)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestKeyPackageRepoCountUnconsumedTracksInstallationsIndependently(t *testing.T) {
	db := openTestDBWithEncryptor(t)
	repo := NewKeyPackageRepo(db)
	installationA := testInstallationID(1)
	installationB := testInstallationID(2)
	require.NoError(t, repo.Save(context.Background(), installationA, testKeyPackage(1)))
	require.NoError(t, repo.Save(context.Background(), installationB, testKeyPackage(1)))
	require.NoError(t, repo.Save(context.Background(), installationB, testKeyPackage(2)))

	countA, err := repo.CountUnconsumed(context.Background(), installationA)
	require.NoError(t, err)
	countB, err := repo.CountUnconsumed(context.Background(), installationB)
	require.NoError(t, err)

	assert.Equal(t, 1, countA)
	assert.Equal(t, 2, countB)
}

// Save must seal the private key with the FieldEncryptor rather than
// writing it to disk in the clear.
func TestKeyPackageRepoSaveEncryptsPrivateKeyAtRest(t *testing.T) {
	db := openTestDBWithEncryptor(t)
	repo := NewKeyPackageRepo(db)
	installation := testInstallationID(1)
	pkg := testKeyPackage(1)
	require.NoError(t, repo.Save(context.Background(), installation, pkg))

	var raw []byte
	err := db.ReadTx(context.Background(), func(tx *sql.Tx) error {
		return tx.QueryRowContext(context.Background(),
			`SELECT encrypted_private_key FROM key_package WHERE installation_id = ? AND package_id = ?`,
			[]byte(installation), pkg.ID).Scan(&raw)
	})
	require.NoError(t, err)
	assert.NotEqual(t, pkg.KeyPair.Private[:], raw)

	decrypted, err := db.encryptor.Open(raw)
	require.NoError(t, err)
	assert.Equal(t, pkg.KeyPair.Private[:], decrypted)
}
