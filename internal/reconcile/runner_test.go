package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/connectivity"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/notify"
	"github.com/chatsync/internal/remote"
	"github.com/chatsync/internal/store/memory"
)

// streamAPI раздаёт управляемые тестом каналы подписки.
type streamAPI struct {
	mu               sync.Mutex
	subs             int
	current          chan model.Message
	notify           chan struct{}
	chats            []model.Chat
	conversationsErr error
	subChats         []string
}

func newStreamAPI() *streamAPI {
	return &streamAPI{notify: make(chan struct{}, 8)}
}

func (f *streamAPI) SendMessage(ctx context.Context, in remote.SendMessageInput) (*model.Message, error) {
	return nil, &remote.NetworkError{}
}

func (f *streamAPI) Conversations(ctx context.Context) ([]model.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conversationsErr != nil {
		return nil, f.conversationsErr
	}
	return f.chats, nil
}

func (f *streamAPI) Messages(ctx context.Context, chatID string, since *time.Time, limit, offset int) ([]model.Message, error) {
	return nil, nil
}

func (f *streamAPI) Subscribe(ctx context.Context, chatID string) (<-chan model.Message, func(), error) {
	f.mu.Lock()
	f.subs++
	f.subChats = append(f.subChats, chatID)
	ch := make(chan model.Message, 8)
	f.current = ch
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
	return ch, func() {}, nil
}

func (f *streamAPI) CurrentUser(ctx context.Context) (*model.User, error) {
	return &model.User{ID: "u1"}, nil
}

func (f *streamAPI) stream() chan model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *streamAPI) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs
}

func (f *streamAPI) subscribedChats() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.subChats))
	copy(out, f.subChats)
	return out
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRunnerConfirmsPushedEcho(t *testing.T) {
	st := memory.New()
	api := newStreamAPI()
	rec := New(st, notify.NewHub(), "u1")
	runner := NewRunner(rec, api, connectivity.New(true, nil), nil)

	require.NoError(t, st.PutPending(context.Background(), &model.PendingMessage{
		LocalID:   "p1",
		ChatID:    "c1",
		SenderID:  "u1",
		Content:   "hello",
		Status:    model.PendingStatusSending,
		CreatedAt: time.Now().UTC(),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runner.Run(ctx, "c1")
	}()

	<-api.notify
	api.stream() <- model.Message{
		ID:        "m1",
		ChatID:    "c1",
		SenderID:  "u1",
		Content:   "hello",
		ClientID:  "p1",
		CreatedAt: time.Now().UTC(),
	}

	waitFor(t, func() bool {
		_, err := st.GetPending(context.Background(), "p1")
		return err != nil
	}, "pending record was not confirmed")

	_, err := st.GetMessage(context.Background(), "m1")
	assert.NoError(t, err)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop on ctx cancel")
	}
}

func TestRunnerResubscribesAfterStreamClose(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	api := newStreamAPI()
	rec := New(memory.New(), notify.NewHub(), "u1")
	runner := NewRunner(rec, api, connectivity.New(true, nil), clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		runner.Run(ctx, "c1")
	}()

	<-api.notify
	close(api.stream()) // обрыв соединения

	// После обрыва раннер переподписывается без паузы.
	select {
	case <-api.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not resubscribe")
	}
	assert.GreaterOrEqual(t, api.subscribeCount(), 2)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunnerWaitsWhileOffline(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	api := newStreamAPI()
	rec := New(memory.New(), notify.NewHub(), "u1")
	monitor := connectivity.New(false, nil)
	runner := NewRunner(rec, api, monitor, clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		runner.Run(ctx, "c1")
	}()

	// Офлайн: подписок нет, раннер спит на таймере.
	require.NoError(t, clk.WaitAdvance(resubscribeDelay, 2*time.Second, 1))
	assert.Equal(t, 0, api.subscribeCount())

	// Онлайн: следующая итерация подписывается.
	monitor.SetOnline(true)
	require.NoError(t, clk.WaitAdvance(resubscribeDelay, 2*time.Second, 1))
	select {
	case <-api.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not subscribe after going online")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}
