package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesChatEvents(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe("c1")
	defer unsubscribe()

	h.Publish(Event{Type: EventPendingUpserted, ChatID: "c1", Key: "p1"})

	ev := <-ch
	assert.Equal(t, EventPendingUpserted, ev.Type)
	assert.Equal(t, "p1", ev.Key)
}

func TestPublishIsScopedToChat(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe("c1")
	defer unsubscribe()

	h.Publish(Event{Type: EventMessageUpserted, ChatID: "c2", Key: "m1"})

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event for foreign chat: %+v", ev)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe("c1")

	unsubscribe()
	_, ok := <-ch
	assert.False(t, ok)

	// Повторная отписка безопасна, публикация после неё не паникует.
	unsubscribe()
	h.Publish(Event{Type: EventMessageUpserted, ChatID: "c1", Key: "m1"})
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe("c1")
	defer unsubscribe()

	// Буфер переполняется, лишние события молча теряются.
	for i := 0; i < subBuffer*2; i++ {
		h.Publish(Event{Type: EventMessageUpserted, ChatID: "c1", Key: "m"})
	}
	require.Len(t, ch, subBuffer)
}

func TestMultipleSubscribersEachReceive(t *testing.T) {
	h := NewHub()
	ch1, unsub1 := h.Subscribe("c1")
	ch2, unsub2 := h.Subscribe("c1")
	defer unsub1()
	defer unsub2()

	h.Publish(Event{Type: EventChatUpdated, ChatID: "c1", Key: "c1"})

	assert.Len(t, ch1, 1)
	assert.Len(t, ch2, 1)
}
