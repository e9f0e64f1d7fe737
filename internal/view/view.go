// Package view собирает порядоченный таймлайн чата из локального кеша:
// подтверждённые сообщения, pending- и failed-записи вперемешку, без
// дубликатов. Чтение не блокируется сетью — сначала локальная копия,
// обновление с сервера приходит фоном через реконсилер.
package view

import (
	"context"
	"fmt"
	"time"

	"github.com/chatsync/internal/connectivity"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/notify"
	"github.com/chatsync/internal/reconcile"
	"github.com/chatsync/internal/remote"
	"github.com/chatsync/internal/store"
)

const fetchLimit = 50

// Entry — элемент таймлайна: ровно одно из двух полей заполнено.
// После сверки подтверждённое сообщение и его pending-двойник никогда
// не показываются одновременно.
type Entry struct {
	Message *model.Message        `json:"message,omitempty"`
	Pending *model.PendingMessage `json:"pending,omitempty"`
}

func (e Entry) createdAt() time.Time {
	if e.Message != nil {
		return e.Message.CreatedAt
	}
	return e.Pending.CreatedAt
}

type View struct {
	store   store.Store
	hub     *notify.Hub
	api     remote.API
	monitor *connectivity.Monitor
	rec     *reconcile.Reconciler
}

func New(st store.Store, hub *notify.Hub, api remote.API, monitor *connectivity.Monitor, rec *reconcile.Reconciler) *View {
	return &View{store: st, hub: hub, api: api, monitor: monitor, rec: rec}
}

// Timeline возвращает текущий таймлайн чата из локального кеша.
// Порядок: created_at по возрастанию, при равенстве подтверждённые раньше
// pending (замена pending подтверждённой копией не переставляет сообщения).
func (v *View) Timeline(ctx context.Context, chatID string) ([]Entry, error) {
	defer logger.DeferLogDuration("view.Timeline", time.Now())()

	confirmed, err := v.store.MessagesByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("view.Timeline messages: %w", err)
	}
	pending, err := v.store.PendingByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("view.Timeline pending: %w", err)
	}

	// Подтверждённая копия вытесняет pending-двойника из показа даже в
	// короткое окно, пока очередь не удалила запись.
	confirmedLocal := make(map[string]struct{}, len(confirmed))
	for i := range confirmed {
		if confirmed[i].ClientID != "" {
			confirmedLocal[confirmed[i].ClientID] = struct{}{}
		}
	}

	entries := make([]Entry, 0, len(confirmed)+len(pending))
	i, j := 0, 0
	for i < len(confirmed) || j < len(pending) {
		if j < len(pending) {
			if _, dup := confirmedLocal[pending[j].LocalID]; dup {
				j++
				continue
			}
		}
		switch {
		case j >= len(pending):
			entries = append(entries, Entry{Message: &confirmed[i]})
			i++
		case i >= len(confirmed):
			entries = append(entries, Entry{Pending: &pending[j]})
			j++
		case confirmed[i].CreatedAt.After(pending[j].CreatedAt):
			entries = append(entries, Entry{Pending: &pending[j]})
			j++
		default:
			entries = append(entries, Entry{Message: &confirmed[i]})
			i++
		}
	}
	return entries, nil
}

// Refresh подтягивает с сервера сообщения новее локальной верхней отметки
// и вливает их через реконсилер. Вызывается фоном; офлайн — no-op.
func (v *View) Refresh(ctx context.Context, chatID string) error {
	if !v.monitor.IsOnline() {
		return nil
	}
	var since *time.Time
	confirmed, err := v.store.MessagesByChat(ctx, chatID)
	if err != nil {
		return fmt.Errorf("view.Refresh local: %w", err)
	}
	if n := len(confirmed); n > 0 {
		t := confirmed[n-1].CreatedAt
		since = &t
	}
	incoming, err := v.api.Messages(ctx, chatID, since, fetchLimit, 0)
	if err != nil {
		return fmt.Errorf("view.Refresh fetch: %w", err)
	}
	if len(incoming) == 0 {
		return nil
	}
	return v.rec.MergeFetch(ctx, chatID, incoming)
}

// Watch отдаёт свежий таймлайн на каждое изменение локального состояния
// чата. Промежуточные состояния могут схлопываться: подписчик получает
// последнее. Канал закрывается функцией отписки или отменой ctx.
func (v *View) Watch(ctx context.Context, chatID string) (<-chan []Entry, func()) {
	events, unsubscribe := v.hub.Subscribe(chatID)
	out := make(chan []Entry, 1)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				unsubscribe()
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				entries, err := v.Timeline(ctx, chatID)
				if err != nil {
					logger.Errorf("view: watch %s: %v", chatID, err)
					continue
				}
				// Коалесценция: невостребованный снимок заменяется свежим.
				select {
				case out <- entries:
				default:
					select {
					case <-out:
					default:
					}
					out <- entries
				}
			}
		}
	}()
	return out, unsubscribe
}
