package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())

	b.Publish(&Event{Type: EventTaskCreated, Message: "created"})

	select {
	case ev := <-sub:
		assert.Equal(t, EventTaskCreated, ev.Type)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBrokerFilter(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub, stop := b.Filter(EventTaskFailed)
	defer stop()

	b.Publish(&Event{Type: EventTaskCreated})
	b.Publish(&Event{Type: EventTaskFailed, Message: "boom"})

	select {
	case ev := <-sub:
		require.Equal(t, EventTaskFailed, ev.Type)
		assert.Equal(t, "boom", ev.Message)
	case <-time.After(time.Second):
		t.Fatal("filtered event not delivered")
	}

	stop()
	assert.Eventually(t, func() bool { return b.SubscriberCount() == 0 }, time.Second, 10*time.Millisecond)
}
