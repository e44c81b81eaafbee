package events

import (
	"sync"
	"time"

	"github.com/MansoorButt/kube-infra/internal/model"
)

// Event represents a generic event structure
type Event struct {
	Type      string
	Timestamp time.Time
	Data      interface{}
}

// RoundStateChangedEvent is published on every round state transition
type RoundStateChangedEvent struct {
	RoundId string
	From    model.RoundState
	To      model.RoundState
}

// ParticipantEvent is published when a participant is admitted or removed
type ParticipantEvent struct {
	RoundId     string
	Participant model.Participant
	Reason      string
}

// ModelSubmittedEvent is published when a trained update has been accepted
type ModelSubmittedEvent struct {
	RoundId    string
	Submission model.Submission
}

// RoundFinishedEvent is published once the round is stopped
type RoundFinishedEvent struct {
	RoundId        string
	Reason         string
	SubmittedCount int
	CohortSize     int
}

// EventBus represents the event bus that handles event subscription and dispatching
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan<- Event
}

// NewEventBus creates a new instance of the event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan<- Event),
	}
}

// Subscribe adds a new subscriber for a given event type
func (eb *EventBus) Subscribe(eventType string, subscriber chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// Publish sends an event to all subscribers of a given event type. Publishers
// hold locks of their own, so a subscriber whose buffer is full misses the
// event instead of blocking the round. Returns the number of deliveries.
func (eb *EventBus) Publish(event Event) int {
	if eb == nil {
		return 0
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	delivered := 0
	for _, subscriber := range eb.subscribers[event.Type] {
		select {
		case subscriber <- event:
			delivered++
		default:
		}
	}
	return delivered
}
