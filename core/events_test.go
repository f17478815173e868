package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBroker_PublishSubscribe(t *testing.T) {
	broker := NewEventBroker()
	defer broker.Stop()

	events := broker.Subscribe()
	require.NotNil(t, events)

	// Give the dispatch loop a moment to register the subscription.
	time.Sleep(10 * time.Millisecond)

	broker.Publish(Event{EventType: EventSessionOpened, SessionID: "s1"})

	select {
	case got := <-events:
		assert.Equal(t, EventSessionOpened, got.EventType)
		assert.Equal(t, "s1", got.SessionID)
		assert.False(t, got.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestEventBroker_Unsubscribe(t *testing.T) {
	broker := NewEventBroker()
	defer broker.Stop()

	events := broker.Subscribe()
	time.Sleep(10 * time.Millisecond)

	broker.Unsubscribe(events)

	// The subscription channel is closed by the dispatch loop.
	select {
	case _, open := <-events:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription channel was not closed")
	}
}

func TestEventBroker_StopClosesSubscribers(t *testing.T) {
	broker := NewEventBroker()
	events := broker.Subscribe()
	time.Sleep(10 * time.Millisecond)

	broker.Stop()

	select {
	case _, open := <-events:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscriber not closed on stop")
	}
}

func TestEventBroker_PublishAfterStopDoesNotBlock(t *testing.T) {
	broker := NewEventBroker()
	broker.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < eventBufSize*2; i++ {
			broker.Publish(Event{EventType: EventStreamOpened})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked after stop")
	}
}
