package graphql

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/remote"
)

// Протокол graphql-transport-ws: connection_init -> connection_ack,
// затем subscribe/next/complete в рамках одного соединения.
const (
	gqlWSSubprotocol = "graphql-transport-ws"

	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"

	wsWriteWait   = 10 * time.Second
	wsAckWait     = 10 * time.Second
	wsChanBuffer  = 64
	maxFrameBytes = 1 << 20
)

type wsFrame struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const messageAddedSubscription = `
subscription MessageAdded($chatId: ID!) {
  messageAdded(chatId: $chatId) {
    id chatId senderId content messageType clientId isEdited editedAt createdAt
  }
}`

// Subscribe opens a dedicated WebSocket connection for one chat subscription.
// The returned channel is closed when the connection drops or stop is called.
// Frames that fail to decode are logged and skipped, not fatal.
func (c *Client) Subscribe(ctx context.Context, chatID string) (<-chan model.Message, func(), error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	dialer := websocket.Dialer{
		Subprotocols:     []string{gqlWSSubprotocol},
		HandshakeTimeout: wsWriteWait,
	}
	conn, _, err := dialer.DialContext(ctx, c.wsEndpoint, header)
	if err != nil {
		return nil, nil, &remote.NetworkError{Err: fmt.Errorf("ws dial: %w", err)}
	}
	conn.SetReadLimit(maxFrameBytes)

	if err := c.handshake(conn); err != nil {
		conn.Close()
		return nil, nil, err
	}

	payload, err := json.Marshal(gqlRequest{
		Query:     messageAddedSubscription,
		Variables: map[string]any{"chatId": chatID},
	})
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("ws marshal subscribe: %w", err)
	}
	sub := wsFrame{ID: "1", Type: msgSubscribe, Payload: payload}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, nil, &remote.NetworkError{Err: fmt.Errorf("ws subscribe: %w", err)}
	}

	out := make(chan model.Message, wsChanBuffer)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteJSON(wsFrame{ID: "1", Type: msgComplete})
			conn.Close()
		})
	}

	go c.readLoop(ctx, conn, chatID, out, stop)
	return out, stop, nil
}

func (c *Client) handshake(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(wsFrame{Type: msgConnectionInit}); err != nil {
		return &remote.NetworkError{Err: fmt.Errorf("ws init: %w", err)}
	}
	conn.SetReadDeadline(time.Now().Add(wsAckWait))
	var ack wsFrame
	if err := conn.ReadJSON(&ack); err != nil {
		return &remote.NetworkError{Err: fmt.Errorf("ws ack read: %w", err)}
	}
	if ack.Type != msgConnectionAck {
		return &remote.NetworkError{Err: fmt.Errorf("ws ack: unexpected frame %q", ack.Type)}
	}
	conn.SetReadDeadline(time.Time{})
	return nil
}

// readLoop delivers push events until the connection drops or ctx is done.
// Exits close the out channel; the consumer treats that as "resubscribe".
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, chatID string, out chan<- model.Message, stop func()) {
	defer close(out)
	defer stop()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() == nil {
				logger.Debugf("subscription %s closed: %v", chatID, err)
			}
			return
		}
		switch frame.Type {
		case msgNext:
			var next struct {
				Data struct {
					MessageAdded wireMessage `json:"messageAdded"`
				} `json:"data"`
			}
			if err := json.Unmarshal(frame.Payload, &next); err != nil {
				logger.Errorf("subscription %s decode: %v", chatID, err)
				continue
			}
			select {
			case out <- next.Data.MessageAdded.toModel():
			case <-ctx.Done():
				return
			}
		case msgError:
			logger.Errorf("subscription %s server error: %s", chatID, string(frame.Payload))
			return
		case msgComplete:
			return
		}
	}
}
