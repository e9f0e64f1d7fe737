// Package connectivity — единственный источник истины о состоянии сети.
// Два состояния, online и offline; подписчики уведомляются ровно один раз
// на каждый переход, а не повторно пока состояние держится.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/chatsync/internal/logger"
)

// Prober проверяет доступность сервера. Реализация — любой дешёвый запрос
// (HEAD /health, ping). Ошибка трактуется как offline.
type Prober interface {
	Probe(ctx context.Context) error
}

type Monitor struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]func(online bool)

	clk clock.Clock
}

// New создаёт монитор. Начальное состояние задаёт вызывающий: на старте
// приложения связь ещё не проверена, и осторожнее начинать с offline.
func New(initialOnline bool, clk clock.Clock) *Monitor {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Monitor{
		online: initialOnline,
		subs:   make(map[int]func(online bool)),
		clk:    clk,
	}
}

// IsOnline возвращает текущее состояние.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline принимает сигнал платформы. Повторная установка того же состояния
// не уведомляет подписчиков (edge-triggered).
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	if online {
		logger.Info("connectivity: online")
	} else {
		logger.Info("connectivity: offline")
	}
	// Колбэки вне мьютекса: подписчик может дёрнуть IsOnline или OnChange.
	for _, fn := range subs {
		fn(online)
	}
}

// OnChange регистрирует подписчика; возвращает функцию отписки.
func (m *Monitor) OnChange(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// RunProbe опрашивает prober с заданным интервалом и транслирует результат
// в SetOnline. Для окружений без нативного сигнала о состоянии сети.
// Блокирует до отмены ctx.
func (m *Monitor) RunProbe(ctx context.Context, prober Prober, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timer := m.clk.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
		}
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		err := prober.Probe(probeCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		m.SetOnline(err == nil)
		timer.Reset(interval)
	}
}
