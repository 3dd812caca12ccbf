package giftwell

import (
	"log/slog"
	"sync"
)

// ============================================================================
// Event Bus
// ============================================================================

// Event is the closed set of notifications the stream client publishes.
// Consumers type-switch over the variants below; there are no string tags.
type Event interface {
	event()
}

// ConnectedEvent fires when the handshake completes and the session is open.
type ConnectedEvent struct {
	ClientID string
}

// DisconnectedEvent fires when an open session closes, for any reason.
type DisconnectedEvent struct {
	Reason string
}

// MessageEvent carries a server-pushed message for a subscribed chat.
type MessageEvent struct {
	ChatID  string
	Message *Message
}

// MessageSentEvent is the server's confirmation of a client-initiated send.
type MessageSentEvent struct {
	ChatID  string
	Message *Message
}

// TypingEvent reports that a user is typing in a chat.
type TypingEvent struct {
	ChatID string
	UserID string
}

// ErrorEvent forwards an application-level error envelope from the server.
type ErrorEvent struct {
	Code    string
	Message string
}

func (ConnectedEvent) event()    {}
func (DisconnectedEvent) event() {}
func (MessageEvent) event()      {}
func (MessageSentEvent) event()  {}
func (TypingEvent) event()       {}
func (ErrorEvent) event()        {}

// EventHandler receives every published event.
type EventHandler func(Event)

// Bus is a minimal typed publish/subscribe mechanism. Dispatch is synchronous
// and follows registration order; it makes no other ordering promises.
type Bus struct {
	mu       sync.RWMutex
	handlers []EventHandler
	logger   *slog.Logger
}

// NewBus creates an event bus. A nil logger falls back to slog.Default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers a handler. Handlers cannot be removed individually;
// consumers that outlive their interest should drop events they no longer
// care about.
func (b *Bus) Subscribe(h EventHandler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Publish delivers ev to every handler in registration order. A panicking
// handler is logged and skipped so one consumer cannot take down the rest.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked", "event", ev, "panic", r)
				}
			}()
			h(ev)
		}()
	}
}
