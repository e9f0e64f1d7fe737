// Package memory реализует store.Store в памяти — для тестов и режима -dev.
// Долговременность, очевидно, не обеспечивается: данные живут до перезапуска.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/store"
)

type Client struct {
	mu       sync.RWMutex
	users    map[string]model.User
	chats    map[string]model.Chat
	messages map[string]model.Message
	pending  map[string]model.PendingMessage
	// seq нумерует вставки: стабильный порядок при равных created_at.
	seq    uint64
	msgSeq map[string]uint64
	pndSeq map[string]uint64
}

func New() *Client {
	return &Client{
		users:    make(map[string]model.User),
		chats:    make(map[string]model.Chat),
		messages: make(map[string]model.Message),
		pending:  make(map[string]model.PendingMessage),
		msgSeq:   make(map[string]uint64),
		pndSeq:   make(map[string]uint64),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) PutUser(ctx context.Context, u *model.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[u.ID] = *u
	return nil
}

func (c *Client) GetUser(ctx context.Context, id string) (*model.User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (c *Client) PutChat(ctx context.Context, ch *model.Chat) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats[ch.ID] = *ch
	return nil
}

func (c *Client) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.chats[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &ch, nil
}

func (c *Client) Chats(ctx context.Context) ([]model.Chat, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Chat, 0, len(c.chats))
	for _, ch := range c.chats {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (c *Client) PutMessage(ctx context.Context, m *model.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.messages[m.ID]; !ok {
		c.seq++
		c.msgSeq[m.ID] = c.seq
	}
	c.messages[m.ID] = *m
	return nil
}

func (c *Client) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

func (c *Client) MessagesByChat(ctx context.Context, chatID string) ([]model.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []model.Message
	for _, m := range c.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return c.msgSeq[out[i].ID] < c.msgSeq[out[j].ID]
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.messages, id)
	delete(c.msgSeq, id)
	return nil
}

func (c *Client) PutPending(ctx context.Context, p *model.PendingMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[p.LocalID]; !ok {
		c.seq++
		c.pndSeq[p.LocalID] = c.seq
	}
	c.pending[p.LocalID] = *p
	return nil
}

func (c *Client) GetPending(ctx context.Context, localID string) (*model.PendingMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pending[localID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (c *Client) PendingByChat(ctx context.Context, chatID string) ([]model.PendingMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []model.PendingMessage
	for _, p := range c.pending {
		if p.ChatID == chatID {
			out = append(out, p)
		}
	}
	c.sortPending(out)
	return out, nil
}

func (c *Client) PendingByStatus(ctx context.Context, status model.PendingStatus) ([]model.PendingMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []model.PendingMessage
	for _, p := range c.pending {
		if p.Status == status {
			out = append(out, p)
		}
	}
	c.sortPending(out)
	return out, nil
}

// sortPending упорядочивает по created_at, при равенстве — по порядку вставки
// (порядок отправки внутри чата должен сохраняться при drain).
func (c *Client) sortPending(out []model.PendingMessage) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return c.pndSeq[out[i].LocalID] < c.pndSeq[out[j].LocalID]
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
}

func (c *Client) DeletePending(ctx context.Context, localID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, localID)
	delete(c.pndSeq, localID)
	return nil
}
