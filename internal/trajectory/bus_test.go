package trajectory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	bus.Publish(Event{Type: EventModeChange, Timestamp: time.Now(), Depth: 0, CorrelationID: "a"})

	select {
	case ev := <-sub.Events():
		assert.Equal(t, EventModeChange, ev.Type)
		assert.Equal(t, uint64(1), ev.Seq)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishAssignsMonotonicSeq(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	bus.Publish(Event{Type: EventSubcallStart})
	bus.Publish(Event{Type: EventSubcallEnd})

	first := <-sub.Events()
	second := <-sub.Events()
	require.Less(t, first.Seq, second.Seq)
}

func TestSlowSubscriberOverflowsWithoutBlockingProducer(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBacklog+10; i++ {
			bus.Publish(Event{Type: EventReplStdout})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.True(t, sub.Overflowed())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	sub.Unsubscribe()

	_, ok := <-sub.Events()
	assert.False(t, ok)
}
