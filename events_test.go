package giftwell

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusDispatchOrder(t *testing.T) {
	bus := NewBus(nil)

	var order []int
	bus.Subscribe(func(Event) { order = append(order, 1) })
	bus.Subscribe(func(Event) { order = append(order, 2) })
	bus.Subscribe(func(Event) { order = append(order, 3) })

	bus.Publish(ConnectedEvent{ClientID: "c"})

	assert.Equal(t, []int{1, 2, 3}, order, "handlers must run in registration order")
}

func TestBusSynchronousDelivery(t *testing.T) {
	bus := NewBus(nil)

	var got Event
	bus.Subscribe(func(ev Event) { got = ev })

	bus.Publish(TypingEvent{ChatID: "c1", UserID: "u1"})

	// Publish is synchronous; the handler already ran.
	typing, ok := got.(TypingEvent)
	assert.True(t, ok)
	assert.Equal(t, "c1", typing.ChatID)
	assert.Equal(t, "u1", typing.UserID)
}

func TestBusPanicIsolation(t *testing.T) {
	bus := NewBus(nil)

	var reached bool
	bus.Subscribe(func(Event) { panic("boom") })
	bus.Subscribe(func(Event) { reached = true })

	assert.NotPanics(t, func() {
		bus.Publish(ErrorEvent{Code: "X", Message: "y"})
	})
	assert.True(t, reached, "a panicking handler must not block later ones")
}

func TestEventVariants(t *testing.T) {
	// Every variant flows through the same bus and is distinguishable by
	// type switch.
	events := []Event{
		ConnectedEvent{ClientID: "c"},
		DisconnectedEvent{Reason: "eof"},
		MessageEvent{ChatID: "c1", Message: &Message{ID: "m1"}},
		MessageSentEvent{ChatID: "c1", Message: &Message{ID: "m2"}},
		TypingEvent{ChatID: "c1", UserID: "u1"},
		ErrorEvent{Code: "E", Message: "bad"},
	}

	bus := NewBus(nil)
	var seen []string
	bus.Subscribe(func(ev Event) {
		switch ev.(type) {
		case ConnectedEvent:
			seen = append(seen, "connected")
		case DisconnectedEvent:
			seen = append(seen, "disconnected")
		case MessageEvent:
			seen = append(seen, "message")
		case MessageSentEvent:
			seen = append(seen, "message_sent")
		case TypingEvent:
			seen = append(seen, "typing")
		case ErrorEvent:
			seen = append(seen, "error")
		}
	})
	for _, ev := range events {
		bus.Publish(ev)
	}

	assert.Equal(t, []string{"connected", "disconnected", "message", "message_sent", "typing", "error"}, seen)
}
