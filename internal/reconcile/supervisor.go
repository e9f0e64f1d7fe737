package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/chatsync/internal/remote"
	"github.com/chatsync/internal/store"
)

// Supervisor пополняет кеш чатов с сервера и держит по одной живой
// push-подписке на каждый известный чат. Чаты, выученные после старта,
// получают подписку сразу, без перезапуска.
type Supervisor struct {
	// runCtx ограничивает время жизни подписок; запросы кеша и сервера
	// ходят со своими, более короткими контекстами.
	runCtx context.Context
	runner *Runner
	rec    *Reconciler
	api    remote.API
	store  store.Store

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

func NewSupervisor(runCtx context.Context, runner *Runner, rec *Reconciler, api remote.API, st store.Store) *Supervisor {
	return &Supervisor{
		runCtx: runCtx,
		runner: runner,
		rec:    rec,
		api:    api,
		store:  st,
		active: make(map[string]struct{}),
	}
}

// SyncChats запрашивает чаты текущего пользователя, вливает их в локальный
// кеш и поднимает подписки на новые. Вызывается на старте и на каждом
// переходе offline→online; сетевая ошибка не фатальна — кеш остаётся как был.
func (s *Supervisor) SyncChats(ctx context.Context) error {
	chats, err := s.api.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: conversations: %w", err)
	}
	if err := s.rec.MergeChats(ctx, chats); err != nil {
		return err
	}
	for i := range chats {
		s.Ensure(chats[i].ID)
	}
	return nil
}

// EnsureCached поднимает подписки на чаты, уже лежащие в кеше —
// для старта без сети, когда SyncChats ещё недоступен.
func (s *Supervisor) EnsureCached(ctx context.Context) error {
	chats, err := s.store.Chats(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: cached chats: %w", err)
	}
	for i := range chats {
		s.Ensure(chats[i].ID)
	}
	return nil
}

// Ensure запускает подписку чата, если её ещё нет. Повторный вызов — no-op;
// подписка живёт до отмены runCtx.
func (s *Supervisor) Ensure(chatID string) {
	s.mu.Lock()
	if _, ok := s.active[chatID]; ok {
		s.mu.Unlock()
		return
	}
	s.active[chatID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runner.Run(s.runCtx, chatID)
	}()
}

// Wait блокирует до завершения всех подписок. Для остановки.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
