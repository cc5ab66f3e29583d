package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "chat.db"), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { db.Close() })
	return db
}

func mustUser(t *testing.T, db *DB, name string) int64 {
	t.Helper()
	id, err := db.CreateUserWithPassword(context.Background(), name, "digest-"+name)
	require.NoError(t, err)
	return id
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "x", zerolog.Nop())
	assert.Error(t, err)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	require.NoError(t, db.Ping(ctx))

	alice := mustUser(t, db, "alice")
	assert.Positive(t, alice)

	_, err := db.CreateUserWithPassword(ctx, "alice", "other")
	assert.Error(t, err)

	bare, err := db.CreateUser(ctx, "nopass")
	require.NoError(t, err)
	assert.NotEqual(t, alice, bare)

	u, err := db.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice, u.ID)
	assert.Equal(t, "alice", u.Username)
	assert.Empty(t, u.PasswordHash, "plain lookup should not load the digest")

	u, err = db.GetUserByID(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	creds, err := db.GetUserCredentials(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice, creds.ID)
	assert.Equal(t, "digest-alice", creds.PasswordHash)

	_, err = db.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.GetUserCredentials(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.GetUserByID(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAvatar(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	alice := mustUser(t, db, "alice")

	p, err := db.GetUserAvatarByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)
	assert.Empty(t, p.AvatarB64)
	assert.Empty(t, p.AvatarMime)

	require.NoError(t, db.SetUserAvatar(ctx, alice, "aGVsbG8=", "image/png"))
	p, err = db.GetUserAvatarByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "aGVsbG8=", p.AvatarB64)
	assert.Equal(t, "image/png", p.AvatarMime)

	assert.ErrorIs(t, db.SetUserAvatar(ctx, 9999, "x", "y"), ErrNotFound)
	_, err = db.GetUserAvatarByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConversation(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	alice := mustUser(t, db, "alice")
	bob := mustUser(t, db, "bob")
	carol := mustUser(t, db, "carol")

	m1, err := db.InsertMessage(ctx, alice, bob, "hi bob")
	require.NoError(t, err)
	m2, err := db.InsertMessage(ctx, bob, alice, "hi alice")
	require.NoError(t, err)
	m3, err := db.InsertMessageWithE2E(ctx, alice, bob, "sealed", "cipher", "pub")
	require.NoError(t, err)
	_, err = db.InsertMessage(ctx, carol, bob, "from carol")
	require.NoError(t, err)

	msgs, err := db.GetMessagesBetween(ctx, alice, bob, 50, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []int64{m1, m2, m3}, []int64{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	assert.False(t, msgs[0].HasE2E())
	assert.True(t, msgs[2].HasE2E())
	assert.Equal(t, "cipher", *msgs[2].E2EPayload)
	assert.Equal(t, "pub", *msgs[2].E2EPub)

	page, err := db.GetMessagesBetween(ctx, bob, alice, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, m2, page[0].ID)
}

func TestGetMessagesAndMarkRead(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	alice := mustUser(t, db, "alice")
	bob := mustUser(t, db, "bob")

	_, err := db.InsertMessage(ctx, alice, bob, "one")
	require.NoError(t, err)
	_, err = db.InsertMessage(ctx, alice, bob, "two")
	require.NoError(t, err)
	_, err = db.InsertMessage(ctx, bob, alice, "reply")
	require.NoError(t, err)

	chats, err := db.GetChatsWithUnreadCounts(ctx, bob)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "alice", chats[0].Username)
	assert.Equal(t, int64(2), chats[0].UnreadCount)

	// Only the first page is marked.
	msgs, err := db.GetMessagesAndMarkRead(ctx, bob, alice, 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].IsRead, "rows report the flag as stored before the read")

	chats, err = db.GetChatsWithUnreadCounts(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(1), chats[0].UnreadCount)

	msgs, err = db.GetMessagesAndMarkRead(ctx, bob, alice, 50, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.True(t, msgs[0].IsRead)
	assert.False(t, msgs[1].IsRead)

	chats, err = db.GetChatsWithUnreadCounts(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(0), chats[0].UnreadCount)

	// Bob reading must not mark alice's incoming message.
	chats, err = db.GetChatsWithUnreadCounts(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(1), chats[0].UnreadCount)

	n, err := db.MarkMessagesRead(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	chats, err = db.GetChatsWithUnreadCounts(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(0), chats[0].UnreadCount)
}

func TestInboxNewestFirst(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	alice := mustUser(t, db, "alice")
	bob := mustUser(t, db, "bob")
	carol := mustUser(t, db, "carol")

	first, err := db.InsertMessage(ctx, alice, bob, "first")
	require.NoError(t, err)
	_, err = db.InsertMessage(ctx, bob, alice, "outgoing")
	require.NoError(t, err)
	last, err := db.InsertMessage(ctx, carol, bob, "last")
	require.NoError(t, err)

	inbox, err := db.GetInbox(ctx, bob, 20, 0)
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.Equal(t, last, inbox[0].ID)
	assert.Equal(t, first, inbox[1].ID)

	inbox, err = db.GetInbox(ctx, bob, 1, 1)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, first, inbox[0].ID)
}

func TestChatsAndPartners(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	alice := mustUser(t, db, "alice")
	bob := mustUser(t, db, "bob")
	carol := mustUser(t, db, "carol")
	mustUser(t, db, "dave")

	_, err := db.InsertMessage(ctx, carol, alice, "c1")
	require.NoError(t, err)
	_, err = db.InsertMessage(ctx, alice, bob, "a1")
	require.NoError(t, err)
	_, err = db.InsertMessage(ctx, bob, alice, "b1")
	require.NoError(t, err)
	_, err = db.InsertMessage(ctx, bob, alice, "b2")
	require.NoError(t, err)

	chats, err := db.GetChatsWithUnreadCounts(ctx, alice)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "bob", chats[0].Username)
	assert.Equal(t, int64(2), chats[0].UnreadCount)
	assert.Equal(t, "carol", chats[1].Username)
	assert.Equal(t, int64(1), chats[1].UnreadCount)

	partners, err := db.GetChatPartnerIDs(ctx, alice)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{bob, carol}, partners)

	partners, err = db.GetChatPartnerIDs(ctx, 9999)
	require.NoError(t, err)
	assert.Empty(t, partners)
}

func TestDeleteChatMessages(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	alice := mustUser(t, db, "alice")
	bob := mustUser(t, db, "bob")
	carol := mustUser(t, db, "carol")

	for i := 0; i < 3; i++ {
		_, err := db.InsertMessage(ctx, alice, bob, "x")
		require.NoError(t, err)
	}
	_, err := db.InsertMessage(ctx, bob, alice, "y")
	require.NoError(t, err)
	_, err = db.InsertMessage(ctx, carol, alice, "z")
	require.NoError(t, err)

	n, err := db.DeleteChatMessages(ctx, bob, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	msgs, err := db.GetMessagesBetween(ctx, alice, bob, 50, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = db.GetMessagesBetween(ctx, alice, carol, 50, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	n, err = db.DeleteChatMessages(ctx, bob, alice)
	require.NoError(t, err)
	assert.Zero(t, n)
}
