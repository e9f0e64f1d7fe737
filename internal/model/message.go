package model

import "time"

type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
	ContentTypeFile  ContentType = "file"
	ContentTypeAudio ContentType = "audio"
	ContentTypeVideo ContentType = "video"
)

type PendingStatus string

const (
	PendingStatusPending   PendingStatus = "pending"
	PendingStatusSending   PendingStatus = "sending"
	PendingStatusDelivered PendingStatus = "delivered"
	PendingStatusFailed    PendingStatus = "failed"
)

// Message — подтверждённое сервером сообщение. ID выдаёт сервер,
// локальная копия может отставать от серверной.
type Message struct {
	ID          string      `json:"id"`
	ChatID      string      `json:"chat_id"`
	SenderID    string      `json:"sender_id"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"content_type"`
	// ClientID — корреляционный токен: клиент передаёт его в sendMessage,
	// сервер возвращает в подтверждении и в push-событиях. Пустой, если
	// сообщение отправлено другим устройством или старым клиентом.
	ClientID  string     `json:"client_id,omitempty"`
	IsEdited  bool       `json:"is_edited"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Sender    *User      `json:"sender,omitempty"`
}

// PendingMessage — локальная неподтверждённая отправка. Живёт только в
// локальном хранилище; удаляется, когда сохранён подтверждённый двойник.
type PendingMessage struct {
	LocalID      string        `json:"local_id"`
	ChatID       string        `json:"chat_id"`
	SenderID     string        `json:"sender_id"`
	Content      string        `json:"content"`
	ContentType  ContentType   `json:"content_type"`
	Status       PendingStatus `json:"status"`
	AttemptCount int           `json:"attempt_count"`
	LastError    string        `json:"last_error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}
