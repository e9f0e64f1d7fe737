package model

import (
	"sort"
	"time"
)

type ChatType string

const (
	ChatTypeRoom   ChatType = "room"
	ChatTypeDirect ChatType = "direct"
)

// Chat — диалог: комната (много участников, есть имя) или личный чат
// (ровно два участника, имени нет). Тип определяется явным полем ChatType,
// а не наличием имени — это решается один раз на границе данных.
type Chat struct {
	ID             string    `json:"id"`
	ChatType       ChatType  `json:"chat_type"`
	Name           string    `json:"name,omitempty"`
	ParticipantIDs []string  `json:"participant_ids"`
	LastMessage    *Message  `json:"last_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// IsParticipant сообщает, состоит ли пользователь в чате.
func (c *Chat) IsParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// DirectChatKey — каноничный ключ личного чата по неупорядоченной паре
// участников. На пару существует не более одного личного чата.
func DirectChatKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// DirectKey возвращает каноничный ключ для личного чата, "" для комнат
// и чатов с неверным числом участников.
func (c *Chat) DirectKey() string {
	if c.ChatType != ChatTypeDirect || len(c.ParticipantIDs) != 2 {
		return ""
	}
	ids := []string{c.ParticipantIDs[0], c.ParticipantIDs[1]}
	sort.Strings(ids)
	return ids[0] + ":" + ids[1]
}
