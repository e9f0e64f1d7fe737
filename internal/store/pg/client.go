// Package pg реализует store.Store поверх PostgreSQL (pgx) — основное
// долговременное хранилище клиента: записи переживают перезапуск и падение.
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/store"
)

type Client struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Client {
	return &Client{pool: pool}
}

func (c *Client) Close() error {
	c.pool.Close()
	return nil
}

const userCols = `id, username, email, avatar_url, is_online, last_seen, created_at`

func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.Username, &u.Email, &u.AvatarURL, &u.IsOnline, &u.LastSeen, &u.CreatedAt)
}

func (c *Client) PutUser(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("pg.PutUser", time.Now())()
	_, err := c.pool.Exec(ctx,
		`INSERT INTO users (id, username, email, avatar_url, is_online, last_seen, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   username = EXCLUDED.username, email = EXCLUDED.email, avatar_url = EXCLUDED.avatar_url,
		   is_online = EXCLUDED.is_online, last_seen = EXCLUDED.last_seen`,
		u.ID, u.Username, u.Email, u.AvatarURL, u.IsOnline, u.LastSeen, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pg.PutUser: %w", err)
	}
	return nil
}

func (c *Client) GetUser(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("pg.GetUser", time.Now())()
	u := &model.User{}
	row := c.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("pg.GetUser: %w", err)
	}
	return u, nil
}

func (c *Client) PutChat(ctx context.Context, ch *model.Chat) error {
	defer logger.DeferLogDuration("pg.PutChat", time.Now())()
	// direct_key обеспечивает не более одного личного чата на пару участников
	// (уникальный частичный индекс в 001_init.sql).
	var directKey *string
	if k := ch.DirectKey(); k != "" {
		directKey = &k
	}
	var lastMessageID *string
	if ch.LastMessage != nil {
		lastMessageID = &ch.LastMessage.ID
	}
	_, err := c.pool.Exec(ctx,
		`INSERT INTO chats (id, chat_type, name, participant_ids, direct_key, last_message_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name, participant_ids = EXCLUDED.participant_ids,
		   last_message_id = EXCLUDED.last_message_id`,
		ch.ID, ch.ChatType, ch.Name, ch.ParticipantIDs, directKey, lastMessageID, ch.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pg.PutChat: %w", err)
	}
	return nil
}

func (c *Client) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	defer logger.DeferLogDuration("pg.GetChat", time.Now())()
	ch := &model.Chat{}
	var lastMessageID *string
	err := c.pool.QueryRow(ctx,
		`SELECT id, chat_type, COALESCE(name,''), participant_ids, last_message_id, created_at
		 FROM chats WHERE id = $1`, id,
	).Scan(&ch.ID, &ch.ChatType, &ch.Name, &ch.ParticipantIDs, &lastMessageID, &ch.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg.GetChat: %w", err)
	}
	if lastMessageID != nil {
		if m, err := c.GetMessage(ctx, *lastMessageID); err == nil {
			ch.LastMessage = m
		}
	}
	return ch, nil
}

func (c *Client) Chats(ctx context.Context) ([]model.Chat, error) {
	defer logger.DeferLogDuration("pg.Chats", time.Now())()
	rows, err := c.pool.Query(ctx,
		`SELECT id, chat_type, COALESCE(name,''), participant_ids, created_at
		 FROM chats ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("pg.Chats query: %w", err)
	}
	defer rows.Close()

	var chats []model.Chat
	for rows.Next() {
		var ch model.Chat
		if err := rows.Scan(&ch.ID, &ch.ChatType, &ch.Name, &ch.ParticipantIDs, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("pg.Chats scan: %w", err)
		}
		chats = append(chats, ch)
	}
	return chats, rows.Err()
}

const msgCols = `id, chat_id, sender_id, content, content_type, client_id, is_edited, edited_at, created_at`

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	return s.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.ContentType, &m.ClientID, &m.IsEdited, &m.EditedAt, &m.CreatedAt)
}

func (c *Client) PutMessage(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("pg.PutMessage", time.Now())()
	_, err := c.pool.Exec(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, content, content_type, client_id, is_edited, edited_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   content = EXCLUDED.content, is_edited = EXCLUDED.is_edited, edited_at = EXCLUDED.edited_at`,
		m.ID, m.ChatID, m.SenderID, m.Content, m.ContentType, m.ClientID, m.IsEdited, m.EditedAt, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pg.PutMessage: %w", err)
	}
	return nil
}

func (c *Client) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("pg.GetMessage", time.Now())()
	m := &model.Message{}
	row := c.pool.QueryRow(ctx, `SELECT `+msgCols+` FROM messages WHERE id = $1`, id)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("pg.GetMessage: %w", err)
	}
	return m, nil
}

func (c *Client) MessagesByChat(ctx context.Context, chatID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("pg.MessagesByChat", time.Now())()
	rows, err := c.pool.Query(ctx,
		`SELECT `+msgCols+` FROM messages WHERE chat_id = $1 ORDER BY created_at, seq`, chatID)
	if err != nil {
		return nil, fmt.Errorf("pg.MessagesByChat query: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("pg.MessagesByChat scan: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("pg.DeleteMessage", time.Now())()
	if _, err := c.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id); err != nil {
		return fmt.Errorf("pg.DeleteMessage: %w", err)
	}
	return nil
}

const pendingCols = `local_id, chat_id, sender_id, content, content_type, status, attempt_count, COALESCE(last_error,''), created_at`

func scanPending(s interface{ Scan(dest ...any) error }, p *model.PendingMessage) error {
	return s.Scan(&p.LocalID, &p.ChatID, &p.SenderID, &p.Content, &p.ContentType, &p.Status, &p.AttemptCount, &p.LastError, &p.CreatedAt)
}

func (c *Client) PutPending(ctx context.Context, p *model.PendingMessage) error {
	defer logger.DeferLogDuration("pg.PutPending", time.Now())()
	_, err := c.pool.Exec(ctx,
		`INSERT INTO pending_messages (local_id, chat_id, sender_id, content, content_type, status, attempt_count, last_error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (local_id) DO UPDATE SET
		   status = EXCLUDED.status, attempt_count = EXCLUDED.attempt_count, last_error = EXCLUDED.last_error`,
		p.LocalID, p.ChatID, p.SenderID, p.Content, p.ContentType, p.Status, p.AttemptCount, p.LastError, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pg.PutPending: %w", err)
	}
	return nil
}

func (c *Client) GetPending(ctx context.Context, localID string) (*model.PendingMessage, error) {
	defer logger.DeferLogDuration("pg.GetPending", time.Now())()
	p := &model.PendingMessage{}
	row := c.pool.QueryRow(ctx, `SELECT `+pendingCols+` FROM pending_messages WHERE local_id = $1`, localID)
	if err := scanPending(row, p); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("pg.GetPending: %w", err)
	}
	return p, nil
}

func (c *Client) PendingByChat(ctx context.Context, chatID string) ([]model.PendingMessage, error) {
	defer logger.DeferLogDuration("pg.PendingByChat", time.Now())()
	return c.queryPending(ctx,
		`SELECT `+pendingCols+` FROM pending_messages WHERE chat_id = $1 ORDER BY created_at, seq`, chatID)
}

func (c *Client) PendingByStatus(ctx context.Context, status model.PendingStatus) ([]model.PendingMessage, error) {
	defer logger.DeferLogDuration("pg.PendingByStatus", time.Now())()
	return c.queryPending(ctx,
		`SELECT `+pendingCols+` FROM pending_messages WHERE status = $1 ORDER BY created_at, seq`, status)
}

func (c *Client) queryPending(ctx context.Context, query string, arg any) ([]model.PendingMessage, error) {
	rows, err := c.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("pg.queryPending: %w", err)
	}
	defer rows.Close()

	var out []model.PendingMessage
	for rows.Next() {
		var p model.PendingMessage
		if err := scanPending(rows, &p); err != nil {
			return nil, fmt.Errorf("pg.queryPending scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *Client) DeletePending(ctx context.Context, localID string) error {
	defer logger.DeferLogDuration("pg.DeletePending", time.Now())()
	if _, err := c.pool.Exec(ctx, `DELETE FROM pending_messages WHERE local_id = $1`, localID); err != nil {
		return fmt.Errorf("pg.DeletePending: %w", err)
	}
	return nil
}
