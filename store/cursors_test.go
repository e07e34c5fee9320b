package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRepoLoadOnEmptyReturnsFreshCursor(t *testing.T) {
	db := openTestDB(t)
	repo := NewCursorRepo(db)

	cursor, err := repo.Load(context.Background(), []byte("group-1"), EntityGroupMessage)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cursor.Position(1))
}

func TestCursorRepoSaveThenLoadRoundTrips(t *testing.T) {
	db := openTestDB(t)
	repo := NewCursorRepo(db)
	groupID := []byte("group-1")

	require.NoError(t, repo.Save(context.Background(), groupID, EntityGroupMessage, 1, 5))
	require.NoError(t, repo.Save(context.Background(), groupID, EntityGroupMessage, 2, 9))

	cursor, err := repo.Load(context.Background(), groupID, EntityGroupMessage)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cursor.Position(1))
	assert.Equal(t, uint64(9), cursor.Position(2))
}

// The upsert must never regress a stored position (§4.9).
func TestCursorRepoSaveDoesNotRegressPosition(t *testing.T) {
	db := openTestDB(t)
	repo := NewCursorRepo(db)
	groupID := []byte("group-1")

	require.NoError(t, repo.Save(context.Background(), groupID, EntityGroupMessage, 1, 10))
	require.NoError(t, repo.Save(context.Background(), groupID, EntityGroupMessage, 1, 3))

	cursor, err := repo.Load(context.Background(), groupID, EntityGroupMessage)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), cursor.Position(1))
}

func TestCursorRepoTracksEntityKindsIndependently(t *testing.T) {
	db := openTestDB(t)
	repo := NewCursorRepo(db)
	groupID := []byte("group-1")

	require.NoError(t, repo.Save(context.Background(), groupID, EntityGroupMessage, 1, 5))
	require.NoError(t, repo.Save(context.Background(), groupID, EntityWelcome, 1, 50))

	msgCursor, err := repo.Load(context.Background(), groupID, EntityGroupMessage)
	require.NoError(t, err)
	welcomeCursor, err := repo.Load(context.Background(), groupID, EntityWelcome)
	require.NoError(t, err)

	assert.Equal(t, uint64(5), msgCursor.Position(1))
	assert.Equal(t, uint64(50), welcomeCursor.Position(1))
}

func TestCursorRepoTracksGroupsIndependently(t *testing.T) {
	db := openTestDB(t)
	repo := NewCursorRepo(db)

	require.NoError(t, repo.Save(context.Background(), []byte("group-a"), EntityGroupMessage, 1, 5))
	require.NoError(t, repo.Save(context.Background(), []byte("group-b"), EntityGroupMessage, 1, 99))

	cursorA, err := repo.Load(context.Background(), []byte("group-a"), EntityGroupMessage)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cursorA.Position(1))
}
