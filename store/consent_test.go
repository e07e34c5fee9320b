package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmtp-go/libxmtp-core/consent"
)

func TestConsentRepoLoadConsentReturnsNilWhenUnset(t *testing.T) {
	db := openTestDB(t)
	repo := NewConsentRepo(db)

	rec, err := repo.LoadConsent(context.Background(), consent.EntityInboxID, "unset")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestConsentRepoSaveThenLoadRoundTrips(t *testing.T) {
	db := openTestDB(t)
	repo := NewConsentRepo(db)
	rec := consent.Record{EntityType: consent.EntityInboxID, Entity: "inbox-1", State: consent.StateAllowed, UpdatedAt: testNow}

	require.NoError(t, repo.SaveConsent(context.Background(), rec))

	got, err := repo.LoadConsent(context.Background(), consent.EntityInboxID, "inbox-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.State, got.State)
	assert.True(t, rec.UpdatedAt.Equal(got.UpdatedAt))
}

func TestConsentRepoSaveConsentUpsertsExistingRecord(t *testing.T) {
	db := openTestDB(t)
	repo := NewConsentRepo(db)
	rec := consent.Record{EntityType: consent.EntityInboxID, Entity: "inbox-1", State: consent.StateAllowed, UpdatedAt: testNow}
	require.NoError(t, repo.SaveConsent(context.Background(), rec))

	rec.State = consent.StateDenied
	rec.UpdatedAt = testNow.Add(1)
	require.NoError(t, repo.SaveConsent(context.Background(), rec))

	got, err := repo.LoadConsent(context.Background(), consent.EntityInboxID, "inbox-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, consent.StateDenied, got.State)

	all, err := repo.ListConsent(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1, "an upsert must not leave a duplicate row behind")
}

// §4.10: inbox and group entities with the same string id are independent
// rows since the primary key is (entity_type, entity).
func TestConsentRepoInboxAndGroupEntitiesAreIndependent(t *testing.T) {
	db := openTestDB(t)
	repo := NewConsentRepo(db)
	require.NoError(t, repo.SaveConsent(context.Background(), consent.Record{
		EntityType: consent.EntityInboxID, Entity: "shared-id", State: consent.StateAllowed, UpdatedAt: testNow,
	}))
	require.NoError(t, repo.SaveConsent(context.Background(), consent.Record{
		EntityType: consent.EntityGroupID, Entity: "shared-id", State: consent.StateDenied, UpdatedAt: testNow,
	}))

	inboxRec, err := repo.LoadConsent(context.Background(), consent.EntityInboxID, "shared-id")
	require.NoError(t, err)
	groupRec, err := repo.LoadConsent(context.Background(), consent.EntityGroupID, "shared-id")
	require.NoError(t, err)

	require.NotNil(t, inboxRec)
	require.NotNil(t, groupRec)
	assert.Equal(t, consent.StateAllowed, inboxRec.State)
	assert.Equal(t, consent.StateDenied, groupRec.State)
}

func TestConsentRepoListConsentReturnsEveryRecord(t *testing.T) {
	db := openTestDB(t)
	repo := NewConsentRepo(db)
	require.NoError(t, repo.SaveConsent(context.Background(), consent.Record{EntityType: consent.EntityInboxID, Entity: "a", State: consent.StateAllowed, UpdatedAt: testNow}))
	require.NoError(t, repo.SaveConsent(context.Background(), consent.Record{EntityType: consent.EntityGroupID, Entity: "b", State: consent.StateDenied, UpdatedAt: testNow}))

	all, err := repo.ListConsent(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
