package handler

import (
	"net/http"

	"github.com/chatsync/internal/connectivity"
	"github.com/chatsync/internal/queue"
	"github.com/chatsync/internal/store"
)

// SyncHandler — служебные операции: принудительный drain, состояние сети,
// список чатов из локального кеша.
type SyncHandler struct {
	queue   *queue.Queue
	monitor *connectivity.Monitor
	store   store.Store
}

func NewSyncHandler(q *queue.Queue, m *connectivity.Monitor, st store.Store) *SyncHandler {
	return &SyncHandler{queue: q, monitor: m, store: st}
}

// ForceSync запускает drain вручную, не дожидаясь перехода offline→online.
func (h *SyncHandler) ForceSync(w http.ResponseWriter, r *http.Request) {
	if !h.monitor.IsOnline() {
		writeError(w, http.StatusConflict, "client is offline")
		return
	}
	h.queue.DrainOnReconnect(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "drained"})
}

// Status возвращает текущее состояние сети.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"online": h.monitor.IsOnline()})
}

// Chats возвращает список чатов из локального кеша.
func (h *SyncHandler) Chats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.store.Chats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load chats")
		return
	}
	writeJSON(w, http.StatusOK, chats)
}
