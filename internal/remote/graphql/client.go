// Package graphql реализует remote.API поверх GraphQL: запросы и мутации —
// HTTP POST, подписки — graphql-transport-ws (gorilla/websocket).
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/remote"
)

const defaultTimeout = 15 * time.Second

type Client struct {
	endpoint   string
	wsEndpoint string
	token      string
	httpClient *http.Client
}

// New создаёт клиент GraphQL API. endpoint — HTTP URL (например
// http://host/graphql); WebSocket URL для подписок выводится из него.
func New(endpoint, token string) *Client {
	ws := endpoint
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return &Client{
		endpoint:   endpoint,
		wsEndpoint: ws,
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// wireMessage — сообщение в формате сервера (camelCase поля GraphQL).
type wireMessage struct {
	ID          string     `json:"id"`
	ChatID      string     `json:"chatId"`
	SenderID    string     `json:"senderId"`
	Content     string     `json:"content"`
	MessageType string     `json:"messageType"`
	ClientID    string     `json:"clientId"`
	IsEdited    bool       `json:"isEdited"`
	EditedAt    *time.Time `json:"editedAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	Sender      *wireUser  `json:"sender"`
}

type wireUser struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Avatar    string    `json:"avatar"`
	IsOnline  bool      `json:"isOnline"`
	LastSeen  time.Time `json:"lastSeen"`
	CreatedAt time.Time `json:"createdAt"`
}

func (w *wireMessage) toModel() model.Message {
	m := model.Message{
		ID:          w.ID,
		ChatID:      w.ChatID,
		SenderID:    w.SenderID,
		Content:     w.Content,
		ContentType: model.ContentType(w.MessageType),
		ClientID:    w.ClientID,
		IsEdited:    w.IsEdited,
		EditedAt:    w.EditedAt,
		CreatedAt:   w.CreatedAt,
	}
	if w.Sender != nil {
		m.Sender = w.Sender.toModel()
		if m.SenderID == "" {
			m.SenderID = w.Sender.ID
		}
	}
	return m
}

func (u *wireUser) toModel() *model.User {
	return &model.User{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		AvatarURL: u.Avatar,
		IsOnline:  u.IsOnline,
		LastSeen:  u.LastSeen,
		CreatedAt: u.CreatedAt,
	}
}

// do выполняет один GraphQL-запрос. Транспортные сбои и статусы 5xx —
// remote.NetworkError; ошибки в теле ответа классифицируются по extensions.code.
func (c *Client) do(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(gqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("graphql marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &remote.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &remote.NetworkError{Err: fmt.Errorf("server status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &remote.NetworkError{Err: err}
	}

	var gr gqlResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		return &remote.NetworkError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(gr.Errors) > 0 {
		return classifyError(gr.Errors[0])
	}
	if out != nil {
		if err := json.Unmarshal(gr.Data, out); err != nil {
			return &remote.NetworkError{Err: fmt.Errorf("decode data: %w", err)}
		}
	}
	return nil
}

// classifyError переводит ошибку GraphQL в таксономию remote: BAD_USER_INPUT и
// FORBIDDEN — отказ валидации (повтор бессмыслен), остальное — сетевой сбой.
func classifyError(e gqlError) error {
	switch e.Extensions.Code {
	case "BAD_USER_INPUT", "FORBIDDEN", "GRAPHQL_VALIDATION_FAILED":
		return &remote.ValidationError{Reason: e.Message}
	default:
		return &remote.NetworkError{Err: fmt.Errorf("graphql: %s", e.Message)}
	}
}

const sendMessageMutation = `
mutation SendMessage($input: SendMessageInput!) {
  sendMessage(input: $input) {
    id chatId senderId content messageType clientId isEdited editedAt createdAt
    sender { id username email avatar isOnline lastSeen createdAt }
  }
}`

func (c *Client) SendMessage(ctx context.Context, input remote.SendMessageInput) (*model.Message, error) {
	var out struct {
		SendMessage wireMessage `json:"sendMessage"`
	}
	vars := map[string]any{"input": map[string]any{
		"chatId":      input.ChatID,
		"content":     input.Content,
		"messageType": string(input.ContentType),
		"clientId":    input.ClientID,
	}}
	if err := c.do(ctx, sendMessageMutation, vars, &out); err != nil {
		return nil, err
	}
	m := out.SendMessage.toModel()
	return &m, nil
}

// wireChat — чат в формате сервера.
type wireChat struct {
	ID             string       `json:"id"`
	ChatType       string       `json:"chatType"`
	Name           string       `json:"name"`
	ParticipantIDs []string     `json:"participantIds"`
	LastMessage    *wireMessage `json:"lastMessage"`
	CreatedAt      time.Time    `json:"createdAt"`
}

func (w *wireChat) toModel() model.Chat {
	ch := model.Chat{
		ID:             w.ID,
		ChatType:       model.ChatType(w.ChatType),
		Name:           w.Name,
		ParticipantIDs: w.ParticipantIDs,
		CreatedAt:      w.CreatedAt,
	}
	if w.LastMessage != nil {
		m := w.LastMessage.toModel()
		ch.LastMessage = &m
	}
	return ch
}

const conversationsQuery = `
query MyConversations {
  myConversations {
    id chatType name participantIds createdAt
    lastMessage { id chatId senderId content messageType clientId isEdited editedAt createdAt }
  }
}`

func (c *Client) Conversations(ctx context.Context) ([]model.Chat, error) {
	var out struct {
		MyConversations []wireChat `json:"myConversations"`
	}
	if err := c.do(ctx, conversationsQuery, nil, &out); err != nil {
		return nil, err
	}
	chats := make([]model.Chat, 0, len(out.MyConversations))
	for i := range out.MyConversations {
		chats = append(chats, out.MyConversations[i].toModel())
	}
	return chats, nil
}

const messagesQuery = `
query Messages($chatId: ID!, $since: DateTime, $limit: Int, $offset: Int) {
  messages(chatId: $chatId, since: $since, limit: $limit, offset: $offset) {
    id chatId senderId content messageType clientId isEdited editedAt createdAt
  }
}`

func (c *Client) Messages(ctx context.Context, chatID string, since *time.Time, limit, offset int) ([]model.Message, error) {
	var out struct {
		Messages []wireMessage `json:"messages"`
	}
	vars := map[string]any{"chatId": chatID, "limit": limit, "offset": offset}
	if since != nil {
		vars["since"] = since.Format(time.RFC3339Nano)
	}
	if err := c.do(ctx, messagesQuery, vars, &out); err != nil {
		return nil, err
	}
	messages := make([]model.Message, 0, len(out.Messages))
	for i := range out.Messages {
		messages = append(messages, out.Messages[i].toModel())
	}
	return messages, nil
}

const currentUserQuery = `
query Me {
  me { id username email avatar isOnline lastSeen createdAt }
}`

func (c *Client) CurrentUser(ctx context.Context) (*model.User, error) {
	var out struct {
		Me *wireUser `json:"me"`
	}
	if err := c.do(ctx, currentUserQuery, nil, &out); err != nil {
		return nil, err
	}
	if out.Me == nil {
		return nil, &remote.ValidationError{Reason: "not authenticated"}
	}
	return out.Me.toModel(), nil
}

var _ remote.API = (*Client)(nil)
