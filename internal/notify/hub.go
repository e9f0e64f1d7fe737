// Package notify — внутренняя шина изменений локального состояния. Очередь
// отправки — единственный писатель; представление чата подписывается и
// перечитывает таймлайн по событию. События несут только факт изменения,
// не данные: подписчик всегда читает свежие записи из хранилища.
package notify

import (
	"sync"

	"github.com/chatsync/internal/logger"
)

type EventType string

const (
	EventPendingUpserted EventType = "pending_upserted"
	EventPendingRemoved  EventType = "pending_removed"
	EventMessageUpserted EventType = "message_upserted"
	EventChatUpdated     EventType = "chat_updated"
)

type Event struct {
	Type   EventType
	ChatID string
	// Key — ID сообщения или LocalID pending-записи.
	Key string
}

const subBuffer = 64

// Hub раздаёт события подписчикам по chatID. Медленный подписчик теряет
// события, но не блокирует писателя; потерянное событие не критично —
// подписчик всё равно перечитывает полный таймлайн.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan Event
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan Event)}
}

// Subscribe возвращает канал событий чата и функцию отписки. Канал
// закрывается при отписке.
func (h *Hub) Subscribe(chatID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Event, subBuffer)
	if _, ok := h.subs[chatID]; !ok {
		h.subs[chatID] = make(map[int]chan Event)
	}
	h.subs[chatID][id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs, ok := h.subs[chatID]
		if !ok {
			return
		}
		if c, exists := subs[id]; exists {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(h.subs, chatID)
		}
	}
}

// Publish рассылает событие подписчикам чата, не блокируясь.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[ev.ChatID] {
		select {
		case ch <- ev:
		default:
			logger.Debugf("notify: dropped %s for chat %s (slow subscriber)", ev.Type, ev.ChatID)
		}
	}
}
