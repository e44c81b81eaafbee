package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MansoorButt/kube-infra/internal/model"
)

func TestPublishDeliversToSubscribersOfType(t *testing.T) {
	bus := NewEventBus()

	stateChanges := make(chan Event, 1)
	finished := make(chan Event, 1)
	bus.Subscribe("RoundStateChanged", stateChanges)
	bus.Subscribe("RoundFinished", finished)

	delivered := bus.Publish(Event{
		Type: "RoundStateChanged",
		Data: RoundStateChangedEvent{From: model.AwaitingCohort, To: model.Distributing},
	})
	assert.Equal(t, 1, delivered)

	event := <-stateChanges
	require.False(t, event.Timestamp.IsZero())
	data, ok := event.Data.(RoundStateChangedEvent)
	require.True(t, ok)
	assert.Equal(t, model.Distributing, data.To)
	assert.Empty(t, finished)
}

func TestPublishDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewEventBus()

	slow := make(chan Event)
	bus.Subscribe("RoundFinished", slow)

	assert.Equal(t, 0, bus.Publish(Event{Type: "RoundFinished"}))
}

func TestPublishOnNilBus(t *testing.T) {
	var bus *EventBus
	assert.Equal(t, 0, bus.Publish(Event{Type: "RoundFinished"}))
}
