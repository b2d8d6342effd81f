package events

import (
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventUniverseCreated  EventType = "universe.created"
	EventUniverseUpdated  EventType = "universe.updated"
	EventUniverseDeleted  EventType = "universe.deleted"
	EventUniverseLocked   EventType = "universe.locked"
	EventUniverseUnlocked EventType = "universe.unlocked"
	EventTaskCreated      EventType = "task.created"
	EventTaskResumed      EventType = "task.resumed"
	EventTaskFailed       EventType = "task.failed"
	EventTaskAborted      EventType = "task.aborted"
	EventTaskCompleted    EventType = "task.completed"
	EventGroupCompleted   EventType = "task.group.completed"
	EventBackupCompleted  EventType = "backup.completed"
)

// Event represents a control-plane event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	// Set timestamp if not set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// Filter returns a subscription that only forwards events of the given types.
// The returned stop function unsubscribes and must be called once.
func (b *Broker) Filter(types ...EventType) (<-chan *Event, func()) {
	want := make(map[EventType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}

	sub := b.Subscribe()
	out := make(chan *Event, cap(sub))
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case event, ok := <-sub:
				if !ok {
					return
				}
				if len(want) > 0 && !want[event.Type] {
					continue
				}
				select {
				case out <- event:
				default:
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(done)
			b.Unsubscribe(sub)
		})
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
