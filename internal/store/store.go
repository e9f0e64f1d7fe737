// Package store описывает контракт локального хранилища записей: пользователи,
// чаты, подтверждённые и отложенные сообщения, каждый вид в своём пространстве
// ключей со вторичными индексами (по чату, по статусу).
package store

import (
	"context"
	"errors"

	"github.com/chatsync/internal/model"
)

var ErrNotFound = errors.New("not found")

// Store — хранилище записей клиента. Реализации: pg.Client (долговременное,
// переживает перезапуск), redisstore.Client, memory.Client (для тестов и -dev).
// Гарантии: запись долговременна, как только Put вернул nil; повторный Put по
// тому же ключу — last-write-wins; конкурентные Put по разным ключам безопасны.
type Store interface {
	// Пользователи (кеш профилей для отображения отправителей).
	PutUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)

	// Чаты.
	PutChat(ctx context.Context, c *model.Chat) error
	GetChat(ctx context.Context, id string) (*model.Chat, error)
	Chats(ctx context.Context) ([]model.Chat, error)

	// Подтверждённые сообщения. MessagesByChat возвращает в порядке created_at ASC.
	PutMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	MessagesByChat(ctx context.Context, chatID string) ([]model.Message, error)
	DeleteMessage(ctx context.Context, id string) error

	// Отложенные (неподтверждённые) отправки. Ключ — LocalID.
	PutPending(ctx context.Context, p *model.PendingMessage) error
	GetPending(ctx context.Context, localID string) (*model.PendingMessage, error)
	PendingByChat(ctx context.Context, chatID string) ([]model.PendingMessage, error)
	PendingByStatus(ctx context.Context, status model.PendingStatus) ([]model.PendingMessage, error)
	DeletePending(ctx context.Context, localID string) error

	Close() error
}
