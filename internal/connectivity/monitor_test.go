package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetOnlineEdgeTriggered(t *testing.T) {
	m := New(false, nil)

	var mu sync.Mutex
	var transitions []bool
	m.OnChange(func(online bool) {
		mu.Lock()
		transitions = append(transitions, online)
		mu.Unlock()
	})

	m.SetOnline(true)
	m.SetOnline(true) // повтор того же состояния — без уведомления
	m.SetOnline(false)
	m.SetOnline(false)
	m.SetOnline(true)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false, true}, transitions)
}

func TestIsOnlineReflectsState(t *testing.T) {
	m := New(true, nil)
	assert.True(t, m.IsOnline())
	m.SetOnline(false)
	assert.False(t, m.IsOnline())
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	m := New(false, nil)

	var mu sync.Mutex
	calls := 0
	unsubscribe := m.OnChange(func(bool) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	m.SetOnline(true)
	unsubscribe()
	m.SetOnline(false)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestCallbackMayUseMonitor(t *testing.T) {
	m := New(false, nil)

	done := make(chan struct{})
	m.OnChange(func(online bool) {
		// Колбэк зовёт монитор обратно — дедлока быть не должно.
		assert.Equal(t, online, m.IsOnline())
		m.OnChange(func(bool) {})
		close(done)
	})

	m.SetOnline(true)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback deadlocked")
	}
}

type scriptedProber struct {
	mu  sync.Mutex
	err error
}

func (p *scriptedProber) Probe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *scriptedProber) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func TestRunProbeDrivesState(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	m := New(false, clk)
	prober := &scriptedProber{}

	online := make(chan bool, 8)
	m.OnChange(func(v bool) { online <- v })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	probeDone := make(chan struct{})
	go func() {
		defer close(probeDone)
		m.RunProbe(ctx, prober, 10*time.Second)
	}()

	// Успешная проверка переводит в online.
	require.NoError(t, clk.WaitAdvance(10*time.Second, 2*time.Second, 1))
	select {
	case v := <-online:
		assert.True(t, v)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for online transition")
	}

	// Сбой проверки возвращает в offline.
	prober.setErr(errors.New("unreachable"))
	require.NoError(t, clk.WaitAdvance(10*time.Second, 2*time.Second, 1))
	select {
	case v := <-online:
		assert.False(t, v)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for offline transition")
	}

	cancel()
	select {
	case <-probeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("probe loop did not stop")
	}
}
