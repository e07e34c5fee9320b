package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmtp-go/libxmtp-core/group"
)

func seedGroup(t *testing.T, db *DB, groupID []byte) *group.Group {
	t.Helper()
	g := newTestGroup(groupID, testInbox(1))
	require.NoError(t, NewConversationRepo(db).Save(context.Background(), g, nil))
	return g
}

func TestMessageRepoInsertUpdatesGroupLastMessageNs(t *testing.T) {
	db := openTestDB(t)
	g := seedGroup(t, db, []byte("group-1"))
	repo := NewMessageRepo(db)
	m := Message{ID: uuid.New(), GroupID: g.ID, SentAtNs: 1000, SenderInboxID: testInbox(1), Kind: MessageApplication, EncryptedContent: []byte("ct")}

	require.NoError(t, repo.Insert(context.Background(), m))

	var lastMessageNs int64
	err := db.ReadTx(context.Background(), func(tx *sql.Tx) error {
		return tx.QueryRowContext(context.Background(), `SELECT last_message_ns FROM "group" WHERE group_id = ?`, g.ID).Scan(&lastMessageNs)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), lastMessageNs)
}

func TestMessageRepoInsertDoesNotRegressLastMessageNs(t *testing.T) {
	db := openTestDB(t)
	g := seedGroup(t, db, []byte("group-1"))
	repo := NewMessageRepo(db)
	require.NoError(t, repo.Insert(context.Background(), Message{ID: uuid.New(), GroupID: g.ID, SentAtNs: 2000, SenderInboxID: testInbox(1), Kind: MessageApplication}))
	require.NoError(t, repo.Insert(context.Background(), Message{ID: uuid.New(), GroupID: g.ID, SentAtNs: 1000, SenderInboxID: testInbox(1), Kind: MessageApplication}))

	var lastMessageNs int64
	err := db.ReadTx(context.Background(), func(tx *sql.Tx) error {
		return tx.QueryRowContext(context.Background(), `SELECT last_message_ns FROM "group" WHERE group_id = ?`, g.ID).Scan(&lastMessageNs)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), lastMessageNs, "an older message must not regress the group's high-water mark")
}

func TestMessageRepoInsertRejectsUnknownGroup(t *testing.T) {
	db := openTestDB(t)
	repo := NewMessageRepo(db)
	m := Message{ID: uuid.New(), GroupID: []byte("never-saved"), SentAtNs: 1000, SenderInboxID: testInbox(1), Kind: MessageApplication}

	err := repo.Insert(context.Background(), m)
	assert.Error(t, err, "the group_message.group_id foreign key must reject an unknown group")
}

func TestMessageRepoUpdateStatusTransitionsDeliveryStatus(t *testing.T) {
	db := openTestDB(t)
	g := seedGroup(t, db, []byte("group-1"))
	repo := NewMessageRepo(db)
	id := uuid.New()
	require.NoError(t, repo.Insert(context.Background(), Message{ID: id, GroupID: g.ID, SentAtNs: 1, SenderInboxID: testInbox(1), Kind: MessageApplication, DeliveryStatus: DeliveryUnpublished}))

	require.NoError(t, repo.UpdateStatus(context.Background(), id, DeliveryPublished))

	msgs, err := repo.ListSince(context.Background(), g.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, DeliveryPublished, msgs[0].DeliveryStatus)
}

func TestMessageRepoListSinceOrdersAscendingAndRespectsLimit(t *testing.T) {
	db := openTestDB(t)
	g := seedGroup(t, db, []byte("group-1"))
	repo := NewMessageRepo(db)
	for _, sentAt := range []int64{30, 10, 20} {
		require.NoError(t, repo.Insert(context.Background(), Message{
			ID: uuid.New(), GroupID: g.ID, SentAtNs: sentAt, SenderInboxID: testInbox(1), Kind: MessageApplication,
		}))
	}

	msgs, err := repo.ListSince(context.Background(), g.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(10), msgs[0].SentAtNs)
	assert.Equal(t, int64(20), msgs[1].SentAtNs)
}

func TestMessageRepoListSinceExcludesMessagesAtOrBeforeCursor(t *testing.T) {
	db := openTestDB(t)
	g := seedGroup(t, db, []byte("group-1"))
	repo := NewMessageRepo(db)
	require.NoError(t, repo.Insert(context.Background(), Message{ID: uuid.New(), GroupID: g.ID, SentAtNs: 10, SenderInboxID: testInbox(1), Kind: MessageApplication}))
	require.NoError(t, repo.Insert(context.Background(), Message{ID: uuid.New(), GroupID: g.ID, SentAtNs: 20, SenderInboxID: testInbox(1), Kind: MessageApplication}))

	msgs, err := repo.ListSince(context.Background(), g.ID, 10, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(20), msgs[0].SentAtNs)
}

func TestMessageRepoExpiredBeforeOnlyReturnsPastCutoff(t *testing.T) {
	db := openTestDB(t)
	g := seedGroup(t, db, []byte("group-1"))
	repo := NewMessageRepo(db)
	expireSoon := int64(100)
	expireLater := int64(9000)
	require.NoError(t, repo.Insert(context.Background(), Message{ID: uuid.New(), GroupID: g.ID, SentAtNs: 1, SenderInboxID: testInbox(1), Kind: MessageApplication, ExpireAtNs: &expireSoon}))
	require.NoError(t, repo.Insert(context.Background(), Message{ID: uuid.New(), GroupID: g.ID, SentAtNs: 2, SenderInboxID: testInbox(1), Kind: MessageApplication, ExpireAtNs: &expireLater}))
	require.NoError(t, repo.Insert(context.Background(), Message{ID: uuid.New(), GroupID: g.ID, SentAtNs: 3, SenderInboxID: testInbox(1), Kind: MessageApplication}))

	expired, err := repo.ExpiredBefore(context.Background(), 500)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, expireSoon, *expired[0].ExpireAtNs)
}

func TestMessageRepoDeleteExpiredRemovesGivenIDs(t *testing.T) {
	db := openTestDB(t)
	g := seedGroup(t, db, []byte("group-1"))
	repo := NewMessageRepo(db)
	expireSoon := int64(100)
	id := uuid.New()
	require.NoError(t, repo.Insert(context.Background(), Message{ID: id, GroupID: g.ID, SentAtNs: 1, SenderInboxID: testInbox(1), Kind: MessageApplication, ExpireAtNs: &expireSoon}))

	require.NoError(t, repo.DeleteExpired(context.Background(), []uuid.UUID{id}))

	msgs, err := repo.ListSince(context.Background(), g.ID, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
