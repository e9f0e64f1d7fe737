package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/connectivity"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/notify"
	"github.com/chatsync/internal/store/memory"
)

func TestSyncChatsPopulatesCacheAndSubscribes(t *testing.T) {
	st := memory.New()
	api := newStreamAPI()
	api.chats = []model.Chat{
		{ID: "c1", ChatType: model.ChatTypeRoom, Name: "general", ParticipantIDs: []string{"u1", "u2"}, CreatedAt: time.Now().UTC()},
		{ID: "c2", ChatType: model.ChatTypeDirect, ParticipantIDs: []string{"u1", "u3"}, CreatedAt: time.Now().UTC()},
	}
	rec := New(st, notify.NewHub(), "u1")
	runner := NewRunner(rec, api, connectivity.New(true, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	sup := NewSupervisor(ctx, runner, rec, api, st)

	require.NoError(t, sup.SyncChats(context.Background()))

	// Кеш пополнен: свежий клиент теперь знает свои чаты.
	chats, err := st.Chats(context.Background())
	require.NoError(t, err)
	assert.Len(t, chats, 2)

	// На каждый выученный чат поднята подписка.
	waitFor(t, func() bool {
		return len(api.subscribedChats()) >= 2
	}, "subscriptions were not started")
	assert.ElementsMatch(t, []string{"c1", "c2"}, api.subscribedChats())

	cancel()
	done := make(chan struct{})
	go func() { sup.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}

func TestSyncChatsLearnsNewChatWithoutRestart(t *testing.T) {
	st := memory.New()
	api := newStreamAPI()
	api.chats = []model.Chat{
		{ID: "c1", ChatType: model.ChatTypeRoom, ParticipantIDs: []string{"u1"}, CreatedAt: time.Now().UTC()},
	}
	rec := New(st, notify.NewHub(), "u1")
	runner := NewRunner(rec, api, connectivity.New(true, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup := NewSupervisor(ctx, runner, rec, api, st)

	require.NoError(t, sup.SyncChats(context.Background()))
	waitFor(t, func() bool { return len(api.subscribedChats()) >= 1 }, "first subscription missing")

	// За время офлайна появился новый чат — следующий проход подхватывает
	// его, не трогая уже живую подписку.
	api.mu.Lock()
	api.chats = append(api.chats, model.Chat{
		ID: "c2", ChatType: model.ChatTypeDirect, ParticipantIDs: []string{"u1", "u2"}, CreatedAt: time.Now().UTC(),
	})
	api.mu.Unlock()

	require.NoError(t, sup.SyncChats(context.Background()))
	waitFor(t, func() bool { return len(api.subscribedChats()) >= 2 }, "new chat subscription missing")
	assert.ElementsMatch(t, []string{"c1", "c2"}, api.subscribedChats())
}

func TestSyncChatsNetworkErrorKeepsCache(t *testing.T) {
	st := memory.New()
	require.NoError(t, st.PutChat(context.Background(), &model.Chat{
		ID: "c1", ChatType: model.ChatTypeRoom, ParticipantIDs: []string{"u1"}, CreatedAt: time.Now().UTC(),
	}))
	api := newStreamAPI()
	api.conversationsErr = errors.New("unreachable")
	rec := New(st, notify.NewHub(), "u1")
	runner := NewRunner(rec, api, connectivity.New(false, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup := NewSupervisor(ctx, runner, rec, api, st)

	require.Error(t, sup.SyncChats(context.Background()))

	chats, err := st.Chats(context.Background())
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}

func TestEnsureCachedSubscribesFromLocalStore(t *testing.T) {
	st := memory.New()
	require.NoError(t, st.PutChat(context.Background(), &model.Chat{
		ID: "c1", ChatType: model.ChatTypeRoom, ParticipantIDs: []string{"u1"}, CreatedAt: time.Now().UTC(),
	}))
	api := newStreamAPI()
	rec := New(st, notify.NewHub(), "u1")
	runner := NewRunner(rec, api, connectivity.New(true, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup := NewSupervisor(ctx, runner, rec, api, st)

	require.NoError(t, sup.EnsureCached(context.Background()))
	waitFor(t, func() bool { return len(api.subscribedChats()) >= 1 }, "cached chat subscription missing")

	// Повторный Ensure того же чата — no-op.
	sup.Ensure("c1")
	assert.Equal(t, []string{"c1"}, api.subscribedChats())
}
