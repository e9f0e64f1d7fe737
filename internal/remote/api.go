// Package remote описывает интерфейс удалённого API сообщений. Сам транспорт
// (GraphQL поверх HTTP и WebSocket) живёт в remote/graphql; ядро синхронизации
// зависит только от этого интерфейса.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatsync/internal/model"
)

// SendMessageInput — входные данные мутации sendMessage. ClientID — локальный
// идентификатор pending-записи; сервер возвращает его в подтверждении, что
// позволяет сверять отправки без эвристики по содержимому.
type SendMessageInput struct {
	ChatID      string            `json:"chat_id"`
	Content     string            `json:"content"`
	ContentType model.ContentType `json:"content_type"`
	ClientID    string            `json:"client_id"`
}

// API — удалённый интерфейс сообщений. Реализация: graphql.Client.
// Таймауты — ответственность реализации: зависший вызов должен завершиться
// NetworkError, ядро его отдельно не ограничивает.
type API interface {
	SendMessage(ctx context.Context, input SendMessageInput) (*model.Message, error)
	// Conversations возвращает чаты текущего пользователя — источник
	// локального кеша чатов.
	Conversations(ctx context.Context) ([]model.Chat, error)
	// Messages возвращает сообщения чата; since — дельта-курсор (nil — с начала).
	Messages(ctx context.Context, chatID string, since *time.Time, limit, offset int) ([]model.Message, error)
	// Subscribe открывает поток push-событий чата. Возвращённая функция
	// закрывает подписку; канал закрывается при обрыве соединения.
	Subscribe(ctx context.Context, chatID string) (<-chan model.Message, func(), error)
	CurrentUser(ctx context.Context) (*model.User, error)
}

// ValidationError — бизнес-отказ сервера: пустое содержимое, чат не найден,
// отправитель не участник. Повторять отправку бессмысленно.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s", e.Reason)
}

// NetworkError — транспортный сбой: таймаут, обрыв, офлайн. Отправку можно
// повторить после восстановления связи.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsRetriable сообщает, имеет ли смысл повторять операцию после ошибки.
// Валидационные отказы — нет, всё остальное считается временным.
func IsRetriable(err error) bool {
	var ve *ValidationError
	return !errors.As(err, &ve)
}
