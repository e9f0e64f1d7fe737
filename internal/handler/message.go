package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/queue"
	"github.com/chatsync/internal/remote"
	"github.com/chatsync/internal/store"
	"github.com/chatsync/internal/view"
)

// MessageHandler — локальный HTTP-интерфейс к очереди и таймлайну.
// Потребитель — процесс интерфейса на той же машине.
type MessageHandler struct {
	queue  *queue.Queue
	view   *view.View
	userID string
}

func NewMessageHandler(q *queue.Queue, v *view.View, userID string) *MessageHandler {
	return &MessageHandler{queue: q, view: v, userID: userID}
}

type sendRequest struct {
	Content     string            `json:"content"`
	ContentType model.ContentType `json:"content_type"`
}

// Send ставит сообщение в очередь отправки. Ответ не ждёт сети: 202 и
// pending-запись; её судьба наблюдается через таймлайн.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pending, err := h.queue.Enqueue(r.Context(), chatID, h.userID, req.Content, req.ContentType)
	if err != nil {
		var ve *remote.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Reason)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to persist message")
		return
	}
	writeJSON(w, http.StatusAccepted, pending)
}

// Timeline возвращает таймлайн чата из локального кеша и фоном запускает
// обновление с сервера — ответ сетью не блокируется.
func (h *MessageHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")

	entries, err := h.view.Timeline(r.Context(), chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load timeline")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := h.view.Refresh(ctx, chatID); err != nil {
			logger.Debugf("handler: refresh %s: %v", chatID, err)
		}
	}()

	writeJSON(w, http.StatusOK, entries)
}

// Retry возвращает failed-запись в очередь и пробует отправить снова.
func (h *MessageHandler) Retry(w http.ResponseWriter, r *http.Request) {
	localID := chi.URLParam(r, "localId")

	err := h.queue.Retry(r.Context(), localID)
	if err != nil {
		var ve *remote.ValidationError
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "pending message not found")
		case errors.As(err, &ve):
			writeError(w, http.StatusBadRequest, ve.Reason)
		case remote.IsRetriable(err):
			// Сеть подвела — запись осталась в очереди, доедет при drain.
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		default:
			writeError(w, http.StatusInternalServerError, "retry failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}
