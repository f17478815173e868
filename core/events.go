package core

/*
	Pub/sub event broker for decoupled component communication. The broker
	is an explicit instance owned by the application and passed to the
	components that publish, not a package global.
*/

import (
	"time"
)

const eventBufSize = 100

// EventType represents the type of event.
type EventType string

const (
	// Session events
	EventSessionOpened EventType = "session_opened"
	EventSessionClosed EventType = "session_closed"

	// Stream events
	EventStreamOpened EventType = "stream_opened"
	EventStreamClosed EventType = "stream_closed"

	// Escalation events
	EventEscalationSucceeded EventType = "escalation_succeeded"
	EventEscalationFailed    EventType = "escalation_failed"

	// System events
	EventListenerStarted EventType = "listener_started"
	EventListenerStopped EventType = "listener_stopped"
)

// Event is published when state changes occur.
type Event struct {
	EventType EventType
	Timestamp time.Time
	SessionID string
	Metadata  map[string]interface{}
	Err       error
}

// EventBroker implements the pub/sub pattern for events.
type EventBroker struct {
	stop        chan struct{}
	publish     chan Event
	subscribe   chan chan Event
	unsubscribe chan chan Event
}

// NewEventBroker creates a broker and starts its dispatch goroutine.
func NewEventBroker() *EventBroker {
	broker := &EventBroker{
		stop:        make(chan struct{}),
		publish:     make(chan Event, eventBufSize),
		subscribe:   make(chan chan Event, eventBufSize),
		unsubscribe: make(chan chan Event, eventBufSize),
	}
	go broker.run()
	return broker
}

func (broker *EventBroker) run() {
	subscribers := map[chan Event]struct{}{}
	for {
		select {
		case <-broker.stop:
			for sub := range subscribers {
				close(sub)
			}
			return
		case sub := <-broker.subscribe:
			subscribers[sub] = struct{}{}
		case sub := <-broker.unsubscribe:
			if _, exists := subscribers[sub]; exists {
				delete(subscribers, sub)
				close(sub)
			}
		case event := <-broker.publish:
			if event.Timestamp.IsZero() {
				event.Timestamp = time.Now()
			}
			for sub := range subscribers {
				// Non-blocking: a slow subscriber drops events
				// rather than stalling the publisher.
				select {
				case sub <- event:
				default:
				}
			}
		}
	}
}

// Stop shuts the broker down; call only during application shutdown.
func (broker *EventBroker) Stop() {
	select {
	case <-broker.stop:
	default:
		close(broker.stop)
	}
}

// Subscribe creates a new subscription channel. Returns nil if the broker is
// stopped.
func (broker *EventBroker) Subscribe() chan Event {
	events := make(chan Event, eventBufSize)
	select {
	case broker.subscribe <- events:
		return events
	case <-broker.stop:
		return nil
	}
}

// Unsubscribe removes a subscription channel.
func (broker *EventBroker) Unsubscribe(events chan Event) {
	if events == nil {
		return
	}
	select {
	case broker.unsubscribe <- events:
	case <-broker.stop:
	}
}

// Publish broadcasts an event to all subscribers without blocking.
func (broker *EventBroker) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case broker.publish <- event:
	default:
	}
}
