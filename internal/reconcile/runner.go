package reconcile

import (
	"context"
	"time"

	"github.com/juju/clock"

	"github.com/chatsync/internal/connectivity"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/remote"
)

const resubscribeDelay = 5 * time.Second

// Runner держит push-подписку чата живой: переподключается после обрыва,
// молчит пока клиент офлайн. События at-least-once, возможны дубли с
// выборками — их снимает дедупликация реконсилера.
type Runner struct {
	rec     *Reconciler
	api     remote.API
	monitor *connectivity.Monitor
	clk     clock.Clock
}

func NewRunner(rec *Reconciler, api remote.API, monitor *connectivity.Monitor, clk clock.Clock) *Runner {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Runner{rec: rec, api: api, monitor: monitor, clk: clk}
}

// Run блокирует до отмены ctx, поддерживая подписку на push-события чата.
func (r *Runner) Run(ctx context.Context, chatID string) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !r.monitor.IsOnline() {
			if !r.sleep(ctx, resubscribeDelay) {
				return
			}
			continue
		}

		events, stop, err := r.api.Subscribe(ctx, chatID)
		if err != nil {
			logger.Debugf("reconcile: subscribe %s: %v", chatID, err)
			if !r.sleep(ctx, resubscribeDelay) {
				return
			}
			continue
		}
		r.consume(ctx, chatID, events)
		stop()
	}
}

// consume читает события до закрытия канала (обрыв) или отмены ctx.
func (r *Runner) consume(ctx context.Context, chatID string, events <-chan model.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-events:
			if !ok {
				logger.Debugf("reconcile: stream %s closed, resubscribing", chatID)
				return
			}
			if err := r.rec.ReconcilePush(ctx, &m); err != nil {
				logger.Errorf("reconcile: push %s: %v", m.ID, err)
			}
		}
	}
}

// sleep ждёт d или отмену ctx; false — пора выходить.
func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	timer := r.clk.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
