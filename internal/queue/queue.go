// Package queue владеет жизненным циклом исходящего сообщения: оптимистичная
// запись в локальное хранилище, передача на сервер, повторы и перевод в
// конечный статус. Очередь — единственный писатель pending-записей; все
// остальные компоненты наблюдают изменения через notify.Hub.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/chatsync/internal/connectivity"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/notify"
	"github.com/chatsync/internal/remote"
	"github.com/chatsync/internal/store"
)

const (
	// Повторы внутри одной попытки передачи: короткие сетевые сбои
	// сглаживаются на месте, длинные уходят в очередь до следующего drain.
	transmitAttempts = 3
	transmitDelay    = 500 * time.Millisecond
)

type Queue struct {
	store   store.Store
	api     remote.API
	monitor *connectivity.Monitor
	hub     *notify.Hub
	clk     clock.Clock

	mu       sync.Mutex
	inFlight map[string]struct{}

	wg sync.WaitGroup
}

func New(st store.Store, api remote.API, monitor *connectivity.Monitor, hub *notify.Hub, clk clock.Clock) *Queue {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Queue{
		store:    st,
		api:      api,
		monitor:  monitor,
		hub:      hub,
		clk:      clk,
		inFlight: make(map[string]struct{}),
	}
}

// Start подписывает очередь на переходы offline→online; на каждом таком
// переходе запускается drain. Возвращает функцию отписки.
func (q *Queue) Start(ctx context.Context) (stop func()) {
	unsubscribe := q.monitor.OnChange(func(online bool) {
		if !online {
			return
		}
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.DrainOnReconnect(ctx)
		}()
	})
	return unsubscribe
}

// Wait блокирует до завершения всех фоновых передач. Для остановки и тестов.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Enqueue создаёт pending-запись и, если клиент онлайн, тут же запускает
// передачу в фоне. Возвращает запись сразу, не дожидаясь сети — ошибки
// передачи наблюдаются только через статус записи. Ошибка самой записи в
// хранилище возвращается вызывающему: без неё показывать нечего.
func (q *Queue) Enqueue(ctx context.Context, chatID, senderID, content string, contentType model.ContentType) (*model.PendingMessage, error) {
	defer logger.DeferLogDuration("queue.Enqueue", time.Now())()

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, &remote.ValidationError{Reason: "empty content"}
	}
	if contentType == "" {
		contentType = model.ContentTypeText
	}

	chat, err := q.store.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &remote.ValidationError{Reason: "unknown chat " + chatID}
		}
		return nil, fmt.Errorf("queue.Enqueue get chat: %w", err)
	}
	if !chat.IsParticipant(senderID) {
		return nil, &remote.ValidationError{Reason: "sender is not a participant"}
	}

	online := q.monitor.IsOnline()
	status := model.PendingStatusPending
	if online {
		status = model.PendingStatusSending
	}
	pending := &model.PendingMessage{
		LocalID:     uuid.NewString(),
		ChatID:      chatID,
		SenderID:    senderID,
		Content:     content,
		ContentType: contentType,
		Status:      status,
		CreatedAt:   q.clk.Now().UTC(),
	}

	// Write-ahead: запись должна пережить падение даже в середине отправки.
	if err := q.store.PutPending(ctx, pending); err != nil {
		return nil, fmt.Errorf("queue.Enqueue persist: %w", err)
	}
	q.hub.Publish(notify.Event{Type: notify.EventPendingUpserted, ChatID: chatID, Key: pending.LocalID})

	if online {
		// Передача не привязана к контексту вызова: запрос интерфейса уже
		// завершился, а запись в хранилище по стабильному ключу безопасна
		// и после ухода инициатора.
		sendCtx := context.WithoutCancel(ctx)
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			if err := q.Transmit(sendCtx, pending.LocalID); err != nil {
				logger.Debugf("queue: transmit %s: %v", pending.LocalID, err)
			}
		}()
	}
	return pending, nil
}

// Transmit передаёт pending-запись на сервер. На один localID — не больше
// одной передачи одновременно: повторный вызов при незавершённой — no-op.
// Успех — единственная точка, где оптимистичная запись заменяется
// подтверждённой. Ошибка передачи не теряет запись никогда.
func (q *Queue) Transmit(ctx context.Context, localID string) error {
	q.mu.Lock()
	if _, busy := q.inFlight[localID]; busy {
		q.mu.Unlock()
		return nil
	}
	q.inFlight[localID] = struct{}{}
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		delete(q.inFlight, localID)
		q.mu.Unlock()
	}()

	pending, err := q.store.GetPending(ctx, localID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Уже подтверждена push-событием и удалена — не ошибка.
			return nil
		}
		return fmt.Errorf("queue.Transmit load: %w", err)
	}
	if pending.Status == model.PendingStatusDelivered {
		return nil
	}

	pending.Status = model.PendingStatusSending
	pending.AttemptCount++
	if err := q.store.PutPending(ctx, pending); err != nil {
		return fmt.Errorf("queue.Transmit mark sending: %w", err)
	}
	q.hub.Publish(notify.Event{Type: notify.EventPendingUpserted, ChatID: pending.ChatID, Key: localID})

	confirmed, sendErr := q.send(ctx, pending)
	if errors.Is(sendErr, errConfirmedElsewhere) {
		// Push-событие подтвердило отправку, пока передача шла
		// (таймаут у нас, успех на сервере). Запись уже снята реконсилером.
		logger.Debugf("queue: %s confirmed during transmit", pending.LocalID)
		return nil
	}
	if sendErr != nil {
		return q.recordFailure(ctx, pending, sendErr)
	}
	return q.retire(ctx, pending, confirmed)
}

// errConfirmedElsewhere — pending-запись исчезла в середине передачи:
// подтверждение пришло push-событием или выборкой. Повторять нечего.
var errConfirmedElsewhere = errors.New("confirmed elsewhere")

// send выполняет сетевой вызов с короткими повторами на месте.
// Отказ валидации фатален сразу, сетевые сбои повторяются с удвоением паузы.
func (q *Queue) send(ctx context.Context, pending *model.PendingMessage) (*model.Message, error) {
	var confirmed *model.Message
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			// Между повторами подтверждение могло прийти другим путём.
			if _, err := q.store.GetPending(ctx, pending.LocalID); errors.Is(err, store.ErrNotFound) {
				return errConfirmedElsewhere
			}
			m, err := q.api.SendMessage(ctx, remote.SendMessageInput{
				ChatID:      pending.ChatID,
				Content:     pending.Content,
				ContentType: pending.ContentType,
				ClientID:    pending.LocalID,
			})
			if err != nil {
				return err
			}
			confirmed = m
			return nil
		},
		IsFatalError: func(err error) bool {
			return errors.Is(err, errConfirmedElsewhere) || !remote.IsRetriable(err)
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("queue: send %s attempt %d: %v", pending.LocalID, attempt, err)
		},
		Attempts:    transmitAttempts,
		Delay:       transmitDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       q.clk,
		Stop:        ctx.Done(),
	})
	if err != nil {
		if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
			return nil, retry.LastError(err)
		}
		return nil, err
	}
	return confirmed, nil
}

// retire сохраняет подтверждённое сообщение и удаляет pending-запись.
// Порядок важен: сначала подтверждённая копия, потом удаление — при падении
// между шагами сообщение не исчезнет (дубликат записи устраняет ClientID).
func (q *Queue) retire(ctx context.Context, pending *model.PendingMessage, confirmed *model.Message) error {
	if confirmed.ClientID == "" {
		confirmed.ClientID = pending.LocalID
	}
	if err := q.store.PutMessage(ctx, confirmed); err != nil {
		return fmt.Errorf("queue.retire persist confirmed: %w", err)
	}
	if err := q.store.DeletePending(ctx, pending.LocalID); err != nil {
		return fmt.Errorf("queue.retire delete pending: %w", err)
	}
	q.updateLastMessage(ctx, confirmed)
	q.hub.Publish(notify.Event{Type: notify.EventMessageUpserted, ChatID: confirmed.ChatID, Key: confirmed.ID})
	q.hub.Publish(notify.Event{Type: notify.EventPendingRemoved, ChatID: confirmed.ChatID, Key: pending.LocalID})
	logger.Infof("queue: delivered %s as %s", pending.LocalID, confirmed.ID)
	return nil
}

// recordFailure переводит запись в failed (отказ валидации, повтор бессмыслен)
// или возвращает в pending (сетевой сбой, уйдёт в следующий drain).
// Если записи уже нет — отправка подтверждена другим путём, и воскрешать её
// нельзя: PutPending здесь — upsert, он создал бы двойника подтверждённого
// сообщения.
func (q *Queue) recordFailure(ctx context.Context, pending *model.PendingMessage, sendErr error) error {
	if _, err := q.store.GetPending(ctx, pending.LocalID); errors.Is(err, store.ErrNotFound) {
		logger.Debugf("queue: %s confirmed during transmit, dropping failure %v", pending.LocalID, sendErr)
		return nil
	}
	if remote.IsRetriable(sendErr) {
		pending.Status = model.PendingStatusPending
	} else {
		pending.Status = model.PendingStatusFailed
	}
	pending.LastError = sendErr.Error()
	if err := q.store.PutPending(ctx, pending); err != nil {
		return fmt.Errorf("queue.recordFailure persist: %w", err)
	}
	q.hub.Publish(notify.Event{Type: notify.EventPendingUpserted, ChatID: pending.ChatID, Key: pending.LocalID})
	logger.Infof("queue: %s -> %s: %v", pending.LocalID, pending.Status, sendErr)
	return sendErr
}

// Retry возвращает failed-запись в очередь и сразу пробует передать.
// Для кнопки «повторить» в интерфейсе.
func (q *Queue) Retry(ctx context.Context, localID string) error {
	pending, err := q.store.GetPending(ctx, localID)
	if err != nil {
		return fmt.Errorf("queue.Retry load: %w", err)
	}
	if pending.Status != model.PendingStatusFailed {
		return &remote.ValidationError{Reason: "message is not in failed state"}
	}
	pending.Status = model.PendingStatusPending
	pending.LastError = ""
	if err := q.store.PutPending(ctx, pending); err != nil {
		return fmt.Errorf("queue.Retry persist: %w", err)
	}
	q.hub.Publish(notify.Event{Type: notify.EventPendingUpserted, ChatID: pending.ChatID, Key: localID})
	return q.Transmit(ctx, localID)
}

// DrainOnReconnect передаёт все записи со статусом pending: внутри чата —
// строго по порядку создания (порядок отправки виден собеседнику), разные
// чаты — параллельно. Блокирует до завершения прохода.
func (q *Queue) DrainOnReconnect(ctx context.Context) {
	defer logger.DeferLogDuration("queue.DrainOnReconnect", time.Now())()

	records, err := q.store.PendingByStatus(ctx, model.PendingStatusPending)
	if err != nil {
		logger.Errorf("queue: drain list: %v", err)
		return
	}
	if len(records) == 0 {
		return
	}

	byChat := make(map[string][]model.PendingMessage)
	order := make([]string, 0)
	for _, p := range records {
		if _, ok := byChat[p.ChatID]; !ok {
			order = append(order, p.ChatID)
		}
		byChat[p.ChatID] = append(byChat[p.ChatID], p)
	}

	var wg sync.WaitGroup
	for _, chatID := range order {
		chatPending := byChat[chatID]
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.drainChat(ctx, chatPending)
		}()
	}
	wg.Wait()
}

// drainChat передаёт записи одного чата последовательно. Сетевой сбой
// останавливает проход по чату: следующие записи не обгоняют упавшую.
func (q *Queue) drainChat(ctx context.Context, records []model.PendingMessage) {
	for i := range records {
		if ctx.Err() != nil {
			return
		}
		if !q.monitor.IsOnline() {
			return
		}
		err := q.Transmit(ctx, records[i].LocalID)
		if err != nil && remote.IsRetriable(err) {
			return
		}
	}
}

// RecoverStale возвращает в pending записи, зависшие в sending после падения
// процесса: передача прервалась, но write-ahead запись уцелела. Вызывается
// один раз на старте, до подписки на connectivity.
func (q *Queue) RecoverStale(ctx context.Context) error {
	stale, err := q.store.PendingByStatus(ctx, model.PendingStatusSending)
	if err != nil {
		return fmt.Errorf("queue.RecoverStale list: %w", err)
	}
	for i := range stale {
		p := stale[i]
		p.Status = model.PendingStatusPending
		if err := q.store.PutPending(ctx, &p); err != nil {
			return fmt.Errorf("queue.RecoverStale persist %s: %w", p.LocalID, err)
		}
		q.hub.Publish(notify.Event{Type: notify.EventPendingUpserted, ChatID: p.ChatID, Key: p.LocalID})
	}
	if len(stale) > 0 {
		logger.Infof("queue: recovered %d stale sending records", len(stale))
	}
	return nil
}

// updateLastMessage обновляет last_message чата; сбой не критичен и не
// прерывает доставку.
func (q *Queue) updateLastMessage(ctx context.Context, m *model.Message) {
	chat, err := q.store.GetChat(ctx, m.ChatID)
	if err != nil {
		logger.Debugf("queue: last message chat %s: %v", m.ChatID, err)
		return
	}
	if chat.LastMessage != nil && chat.LastMessage.CreatedAt.After(m.CreatedAt) {
		return
	}
	chat.LastMessage = m
	if err := q.store.PutChat(ctx, chat); err != nil {
		logger.Errorf("queue: update last message %s: %v", m.ChatID, err)
		return
	}
	q.hub.Publish(notify.Event{Type: notify.EventChatUpdated, ChatID: m.ChatID, Key: m.ID})
}
