package giftwell

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// APIResult is the generic chat API response envelope.
type APIResult struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *APIResult) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// Err returns the result's error, or a generic one when the server sent none.
func (r *APIResult) Err() error {
	if r.OK {
		return nil
	}
	if r.Error != nil {
		return r.Error
	}
	return &APIError{Code: "UNKNOWN", Message: "request failed"}
}

// ============================================================================
// Chat Domain Types
// ============================================================================

// ChatKind classifies a chat session.
type ChatKind string

const (
	ChatDirect ChatKind = "direct"
	ChatGroup  ChatKind = "group"
	ChatEvent  ChatKind = "event" // linked to a gifting event
)

// MessageKind classifies a message body.
type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageImage  MessageKind = "image"
	MessageVideo  MessageKind = "video"
	MessageFile   MessageKind = "file"
	MessageSystem MessageKind = "system"
)

// MessageStatus is the server-confirmed delivery state of a message.
// It only ever advances: sent → delivered → read.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

var statusRank = map[MessageStatus]int{
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Advances reports whether s is a forward step from prev.
func (s MessageStatus) Advances(prev MessageStatus) bool {
	return statusRank[s] > statusRank[prev]
}

// ChatSession is one conversation: direct, group, or tied to a gifting event.
type ChatSession struct {
	ID           string    `json:"id"`
	Kind         ChatKind  `json:"kind"`
	Name         string    `json:"name,omitempty"`
	Participants []string  `json:"participants"`
	EventID      string    `json:"eventId,omitempty"`
	LastMessage  *Message  `json:"lastMessage,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasParticipant reports whether userID is a member of the chat.
func (c *ChatSession) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Message is a single chat message. CreatedAt is immutable and is the
// per-chat sort key.
type Message struct {
	ID        string        `json:"id"`
	ChatID    string        `json:"chatId"`
	SenderID  string        `json:"senderId"`
	Kind      MessageKind   `json:"kind"`
	Content   string        `json:"content"`
	MediaURL  string        `json:"mediaUrl,omitempty"`
	Status    MessageStatus `json:"status,omitempty"`
	ReadBy    []string      `json:"readBy,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// TypingState tracks the most recent typer in a chat. One slot per chat; a
// second typer overwrites the first.
type TypingState struct {
	UserID string
	At     time.Time
}

// ============================================================================
// Stream Envelope
// ============================================================================

// Envelope is the wire unit exchanged over the streaming connection.
type Envelope struct {
	Type      string          `json:"type"`
	ChatID    string          `json:"chatId,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Client → server envelope types.
const (
	envPing        = "ping"
	envSubscribe   = "subscribe"
	envUnsubscribe = "unsubscribe"
	envMessage     = "message"
	envTyping      = "typing"
	envRead        = "read"
)

// Server → client envelope types.
const (
	envConnected    = "connected"
	envNewMessage   = "new_message"
	envMessageSent  = "message_sent"
	envSubscribed   = "subscribed"
	envUnsubscribed = "unsubscribed"
	envError        = "error"
	envPong         = "pong"
)

// ConnectedPayload acknowledges the handshake.
type ConnectedPayload struct {
	ClientID string `json:"clientId"`
}

// TypingPayload identifies the typer in a typing envelope.
type TypingPayload struct {
	UserID string `json:"userId"`
}

// ErrorPayload is an application-level server error envelope body.
type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// outgoingMessagePayload is the body of a client-sent message envelope.
type outgoingMessagePayload struct {
	Content  string      `json:"content"`
	Kind     MessageKind `json:"kind"`
	MediaURL string      `json:"mediaUrl,omitempty"`
}

// ============================================================================
// REST Options
// ============================================================================

// CreateChatOptions describes a chat to create.
type CreateChatOptions struct {
	Kind         ChatKind `json:"kind"`
	Name         string   `json:"name,omitempty"`
	Participants []string `json:"participants"`
	EventID      string   `json:"eventId,omitempty"`
}

// UpdateChatOptions carries a rename and/or participant change.
type UpdateChatOptions struct {
	Name         string   `json:"name,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

// SendMessageOptions describes a message to send over REST.
type SendMessageOptions struct {
	Content  string      `json:"content"`
	Kind     MessageKind `json:"kind"`
	MediaURL string      `json:"mediaUrl,omitempty"`
}
