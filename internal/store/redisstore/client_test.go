package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/store"
)

// Интеграционные тесты: нужен работающий Redis, адрес в TEST_REDIS_URL
// (например redis://localhost:6379/15). Без него тесты пропускаются.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := New(ctx, url)
	require.NoError(t, err)
	require.NoError(t, c.FlushDB(ctx))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestMessageRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	_, err := c.GetMessage(ctx, "m1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, c.PutMessage(ctx, &model.Message{
		ID: "m2", ChatID: "c1", SenderID: "u1", Content: "second", CreatedAt: base.Add(time.Second),
	}))
	require.NoError(t, c.PutMessage(ctx, &model.Message{
		ID: "m1", ChatID: "c1", SenderID: "u1", Content: "first", CreatedAt: base,
	}))

	msgs, err := c.MessagesByChat(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)

	require.NoError(t, c.DeleteMessage(ctx, "m1"))
	msgs, err = c.MessagesByChat(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestPendingStatusReindex(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	p := &model.PendingMessage{
		LocalID:   "p1",
		ChatID:    "c1",
		SenderID:  "u1",
		Content:   "queued",
		Status:    model.PendingStatusPending,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, c.PutPending(ctx, p))

	pending, err := c.PendingByStatus(ctx, model.PendingStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// Смена статуса должна переиндексировать запись.
	p.Status = model.PendingStatusFailed
	require.NoError(t, c.PutPending(ctx, p))

	pending, err = c.PendingByStatus(ctx, model.PendingStatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	failed, err := c.PendingByStatus(ctx, model.PendingStatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	require.NoError(t, c.DeletePending(ctx, "p1"))
	failed, err = c.PendingByStatus(ctx, model.PendingStatusFailed)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestChatsOrderedByCreation(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, c.PutChat(ctx, &model.Chat{ID: "c2", ChatType: model.ChatTypeRoom, CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, c.PutChat(ctx, &model.Chat{ID: "c1", ChatType: model.ChatTypeDirect, ParticipantIDs: []string{"a", "b"}, CreatedAt: base}))

	chats, err := c.Chats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "c1", chats[0].ID)
	assert.Equal(t, "c2", chats[1].ID)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(context.Background(), "not-a-url")
	assert.Error(t, err)
}
