// Package reconcile сводит три источника сообщений — локальный кеш
// подтверждённых, локальные pending-записи и push-события сервера — в один
// согласованный таймлайн чата без дубликатов.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/notify"
	"github.com/chatsync/internal/store"
)

type Reconciler struct {
	store store.Store
	hub   *notify.Hub
	// userID — текущий пользователь: только его сообщения могут быть эхом
	// собственных pending-записей.
	userID string
}

func New(st store.Store, hub *notify.Hub, userID string) *Reconciler {
	return &Reconciler{store: st, hub: hub, userID: userID}
}

// ReconcilePush обрабатывает push-событие. Если событие — эхо собственной
// отправки, подтверждение заменяет pending-запись; иначе сообщение просто
// сохраняется (дедупликация по серверному ID).
//
// Сверка в первую очередь по ClientID — корреляционному токену, который
// сервер возвращает как есть. Эвристика по содержимому остаётся запасным
// путём для серверов без echo: она может ошибиться на двух одинаковых
// сообщениях подряд, поэтому неоднозначность логируется.
func (r *Reconciler) ReconcilePush(ctx context.Context, incoming *model.Message) error {
	defer logger.DeferLogDuration("reconcile.Push", time.Now())()

	if incoming.ClientID != "" {
		pending, err := r.store.GetPending(ctx, incoming.ClientID)
		if err == nil {
			return r.confirm(ctx, pending, incoming)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("reconcile: load pending %s: %w", incoming.ClientID, err)
		}
		// Токен есть, записи нет: подтверждена раньше (transmit успел) —
		// обычная дедупликация ниже.
	} else if incoming.SenderID == r.userID {
		pending, err := r.matchByContent(ctx, incoming)
		if err != nil {
			return err
		}
		if pending != nil {
			return r.confirm(ctx, pending, incoming)
		}
	}

	return r.upsert(ctx, incoming)
}

// matchByContent ищет pending-запись с тем же содержимым в статусе
// pending/sending. Несколько кандидатов — неоднозначность: берём старейшую
// и оставляем след в логе.
func (r *Reconciler) matchByContent(ctx context.Context, incoming *model.Message) (*model.PendingMessage, error) {
	records, err := r.store.PendingByChat(ctx, incoming.ChatID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: pending by chat: %w", err)
	}
	var matches []*model.PendingMessage
	for i := range records {
		p := &records[i]
		if p.SenderID != incoming.SenderID || p.Content != incoming.Content {
			continue
		}
		if p.Status != model.PendingStatusPending && p.Status != model.PendingStatusSending {
			continue
		}
		matches = append(matches, p)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	if len(matches) > 1 {
		logger.Debugf("reconcile: ambiguous content match for %q in chat %s (%d candidates), taking oldest",
			incoming.Content, incoming.ChatID, len(matches))
	}
	return matches[0], nil
}

// confirm — push-событие признано авторитетным подтверждением собственной
// отправки: подтверждённая копия сохраняется, pending-запись удаляется.
func (r *Reconciler) confirm(ctx context.Context, pending *model.PendingMessage, incoming *model.Message) error {
	if incoming.ClientID == "" {
		incoming.ClientID = pending.LocalID
	}
	if err := r.store.PutMessage(ctx, incoming); err != nil {
		return fmt.Errorf("reconcile: persist confirmed: %w", err)
	}
	if err := r.store.DeletePending(ctx, pending.LocalID); err != nil {
		return fmt.Errorf("reconcile: delete pending: %w", err)
	}
	r.hub.Publish(notify.Event{Type: notify.EventMessageUpserted, ChatID: incoming.ChatID, Key: incoming.ID})
	r.hub.Publish(notify.Event{Type: notify.EventPendingRemoved, ChatID: incoming.ChatID, Key: pending.LocalID})
	logger.Debugf("reconcile: confirmed %s as %s", pending.LocalID, incoming.ID)
	return nil
}

// MergeFetch вливает результат выборки с сервера: upsert по ID, при этом
// более свежая локальная правка не затирается устаревшей копией
// (last-write-wins по времени правки). Заодно закрывает pending-записи,
// чьё подтверждение пришло выборкой, а не push-событием.
func (r *Reconciler) MergeFetch(ctx context.Context, chatID string, incoming []model.Message) error {
	defer logger.DeferLogDuration("reconcile.MergeFetch", time.Now())()

	for i := range incoming {
		m := &incoming[i]
		if m.ClientID != "" {
			if _, err := r.store.GetPending(ctx, m.ClientID); err == nil {
				if err := r.store.DeletePending(ctx, m.ClientID); err != nil {
					return fmt.Errorf("reconcile: merge delete pending: %w", err)
				}
				r.hub.Publish(notify.Event{Type: notify.EventPendingRemoved, ChatID: chatID, Key: m.ClientID})
			}
		}
		if err := r.upsert(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// MergeChats вливает список чатов с сервера в локальный кеш. Чаты, о которых
// сервер перестал сообщать, локально не удаляются: кеш обязан работать офлайн,
// а отсутствие в выборке не доказывает удаление. Локальный last_message
// сохраняется, если серверная копия его не несёт или отстаёт.
func (r *Reconciler) MergeChats(ctx context.Context, incoming []model.Chat) error {
	defer logger.DeferLogDuration("reconcile.MergeChats", time.Now())()

	for i := range incoming {
		ch := incoming[i]
		existing, err := r.store.GetChat(ctx, ch.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("reconcile: load chat %s: %w", ch.ID, err)
		}
		if existing != nil && existing.LastMessage != nil {
			if ch.LastMessage == nil || ch.LastMessage.CreatedAt.Before(existing.LastMessage.CreatedAt) {
				ch.LastMessage = existing.LastMessage
			}
		}
		if err := r.store.PutChat(ctx, &ch); err != nil {
			return fmt.Errorf("reconcile: upsert chat %s: %w", ch.ID, err)
		}
		r.hub.Publish(notify.Event{Type: notify.EventChatUpdated, ChatID: ch.ID, Key: ch.ID})
	}
	return nil
}

// upsert сохраняет сообщение, если его ещё нет или пришедшая копия новее.
func (r *Reconciler) upsert(ctx context.Context, m *model.Message) error {
	existing, err := r.store.GetMessage(ctx, m.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("reconcile: load existing: %w", err)
	}
	if existing != nil && updatedAt(existing).After(updatedAt(m)) {
		return nil
	}
	if err := r.store.PutMessage(ctx, m); err != nil {
		return fmt.Errorf("reconcile: upsert: %w", err)
	}
	r.hub.Publish(notify.Event{Type: notify.EventMessageUpserted, ChatID: m.ChatID, Key: m.ID})
	return nil
}

func updatedAt(m *model.Message) time.Time {
	if m.EditedAt != nil {
		return *m.EditedAt
	}
	return m.CreatedAt
}
