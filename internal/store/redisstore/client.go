// Package redisstore реализует store.Store поверх Redis — вариант хранилища
// для развёртываний без локального Postgres. Записи в JSON, вторичные индексы
// через sorted set (по времени создания) и обычные set (по статусу).
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/store"
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redisstore marshal %s: %w", key, err)
	}
	return c.cli.Set(ctx, key, data, 0).Err()
}

func (c *Client) getJSON(ctx context.Context, key string, v any) error {
	data, err := c.cli.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("redisstore get %s: %w", key, err)
	}
	return json.Unmarshal(data, v)
}

func (c *Client) PutUser(ctx context.Context, u *model.User) error {
	return c.putJSON(ctx, "user:"+u.ID, u)
}

func (c *Client) GetUser(ctx context.Context, id string) (*model.User, error) {
	u := &model.User{}
	if err := c.getJSON(ctx, "user:"+id, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (c *Client) PutChat(ctx context.Context, ch *model.Chat) error {
	if err := c.putJSON(ctx, "chat:"+ch.ID, ch); err != nil {
		return err
	}
	return c.cli.ZAdd(ctx, "chats", redis.Z{
		Score:  float64(ch.CreatedAt.UnixNano()),
		Member: ch.ID,
	}).Err()
}

func (c *Client) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	ch := &model.Chat{}
	if err := c.getJSON(ctx, "chat:"+id, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *Client) Chats(ctx context.Context) ([]model.Chat, error) {
	ids, err := c.cli.ZRange(ctx, "chats", 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore chats index: %w", err)
	}
	out := make([]model.Chat, 0, len(ids))
	for _, id := range ids {
		ch, err := c.GetChat(ctx, id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, nil
}

func (c *Client) PutMessage(ctx context.Context, m *model.Message) error {
	if err := c.putJSON(ctx, "msg:"+m.ID, m); err != nil {
		return err
	}
	// GT не нужен: score at insert — created_at, перезапись тем же score безвредна.
	return c.cli.ZAdd(ctx, "chat_msgs:"+m.ChatID, redis.Z{
		Score:  float64(m.CreatedAt.UnixNano()),
		Member: m.ID,
	}).Err()
}

func (c *Client) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	m := &model.Message{}
	if err := c.getJSON(ctx, "msg:"+id, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Client) MessagesByChat(ctx context.Context, chatID string) ([]model.Message, error) {
	ids, err := c.cli.ZRange(ctx, "chat_msgs:"+chatID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore messages index: %w", err)
	}
	out := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		m, err := c.GetMessage(ctx, id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	m, err := c.GetMessage(ctx, id)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if err := c.cli.ZRem(ctx, "chat_msgs:"+m.ChatID, id).Err(); err != nil {
		return fmt.Errorf("redisstore del msg index: %w", err)
	}
	return c.cli.Del(ctx, "msg:"+id).Err()
}

func (c *Client) PutPending(ctx context.Context, p *model.PendingMessage) error {
	// Статус мог измениться — переиндексация через пайплайн.
	pipe := c.cli.TxPipeline()
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redisstore marshal pending: %w", err)
	}
	pipe.Set(ctx, "pending:"+p.LocalID, data, 0)
	pipe.ZAdd(ctx, "chat_pending:"+p.ChatID, redis.Z{
		Score:  float64(p.CreatedAt.UnixNano()),
		Member: p.LocalID,
	})
	for _, st := range []model.PendingStatus{
		model.PendingStatusPending, model.PendingStatusSending,
		model.PendingStatusDelivered, model.PendingStatusFailed,
	} {
		if st == p.Status {
			pipe.SAdd(ctx, "pending_status:"+string(st), p.LocalID)
		} else {
			pipe.SRem(ctx, "pending_status:"+string(st), p.LocalID)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore put pending: %w", err)
	}
	return nil
}

func (c *Client) GetPending(ctx context.Context, localID string) (*model.PendingMessage, error) {
	p := &model.PendingMessage{}
	if err := c.getJSON(ctx, "pending:"+localID, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Client) PendingByChat(ctx context.Context, chatID string) ([]model.PendingMessage, error) {
	ids, err := c.cli.ZRange(ctx, "chat_pending:"+chatID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore pending index: %w", err)
	}
	return c.collectPending(ctx, ids)
}

func (c *Client) PendingByStatus(ctx context.Context, status model.PendingStatus) ([]model.PendingMessage, error) {
	ids, err := c.cli.SMembers(ctx, "pending_status:"+string(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore pending status index: %w", err)
	}
	out, err := c.collectPending(ctx, ids)
	if err != nil {
		return nil, err
	}
	sortPendingByCreatedAt(out)
	return out, nil
}

func (c *Client) collectPending(ctx context.Context, ids []string) ([]model.PendingMessage, error) {
	out := make([]model.PendingMessage, 0, len(ids))
	for _, id := range ids {
		p, err := c.GetPending(ctx, id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

func (c *Client) DeletePending(ctx context.Context, localID string) error {
	p, err := c.GetPending(ctx, localID)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := c.cli.TxPipeline()
	pipe.ZRem(ctx, "chat_pending:"+p.ChatID, localID)
	pipe.SRem(ctx, "pending_status:"+string(p.Status), localID)
	pipe.Del(ctx, "pending:"+localID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore del pending: %w", err)
	}
	return nil
}

func sortPendingByCreatedAt(out []model.PendingMessage) {
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
}

// FlushDB очищает текущую БД Redis (для сброса кеша при тестах/перезапуске).
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
