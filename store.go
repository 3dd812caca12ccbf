package giftwell

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// typingTTL is how long a typing indicator lives without renewal.
const typingTTL = 3000 * time.Millisecond

// ============================================================================
// ChatStore
// ============================================================================

// ChatStore is the application-facing state container and the single source
// of truth the UI reads from. It consumes stream events and local user
// actions, merges them into a chat list, per-chat message lists, and a typing
// map, and guarantees dedup and time ordering throughout.
//
// Chats are kept sorted by updatedAt descending; each chat's messages by
// createdAt ascending. Message identity is the id: a later observation of a
// known id merges into the existing entry instead of appending.
type ChatStore struct {
	userID string
	rest   *Client
	stream *StreamClient
	snaps  SnapshotStore
	logger *slog.Logger

	mu       sync.RWMutex
	chats    []*ChatSession
	messages map[string][]*Message
	typing   map[string]*TypingState

	timerMu      sync.Mutex
	typingTimers map[string]*time.Timer
	typingTTL    time.Duration
}

// NewChatStore wires a store to its collaborators. snaps may be nil; when
// present a cached chat list paints immediately and is refreshed on every
// successful LoadChats. The store subscribes itself to the stream's events.
func NewChatStore(userID string, rest *Client, stream *StreamClient, snaps SnapshotStore) *ChatStore {
	s := &ChatStore{
		userID:       userID,
		rest:         rest,
		stream:       stream,
		snaps:        snaps,
		logger:       rest.logger,
		messages:     make(map[string][]*Message),
		typing:       make(map[string]*TypingState),
		typingTimers: make(map[string]*time.Timer),
		typingTTL:    typingTTL,
	}
	s.restoreSnapshot()
	stream.Events().Subscribe(s.handleEvent)
	return s
}

// ============================================================================
// Read APIs
// ============================================================================

// Chats returns the chat list, most recently updated first.
func (s *ChatStore) Chats() []*ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ChatSession, len(s.chats))
	copy(out, s.chats)
	return out
}

// Chat returns one chat by id.
func (s *ChatStore) Chat(chatID string) (*ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.chats {
		if c.ID == chatID {
			return c, true
		}
	}
	return nil, false
}

// Messages returns a chat's messages, oldest first.
func (s *ChatStore) Messages(chatID string) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[chatID]
	out := make([]*Message, len(list))
	copy(out, list)
	return out
}

// IsUserTyping reports whether userID is currently typing in chatID. This is
// a point-in-time check against the chat's single typing slot, true only
// while the slot matches and is younger than the typing TTL.
func (s *ChatStore) IsUserTyping(chatID, userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.typing[chatID]
	if !ok {
		return false
	}
	return t.UserID == userID && time.Since(t.At) < s.typingTTL
}

// ============================================================================
// Stream event handling
// ============================================================================

func (s *ChatStore) handleEvent(ev Event) {
	switch e := ev.(type) {
	case ConnectedEvent:
		// Belt and suspenders next to the stream's own registry replay:
		// chats loaded over REST may never have seen an explicit Subscribe.
		for _, c := range s.Chats() {
			s.stream.Subscribe(c.ID)
		}

	case DisconnectedEvent:
		// Reconnection policy is owned by the stream client; the store only
		// observes.
		s.logger.Debug("stream disconnected", "reason", e.Reason)

	case MessageEvent:
		s.handleNewMessage(e.ChatID, e.Message, true)

	case MessageSentEvent:
		s.handleNewMessage(e.ChatID, e.Message, false)

	case TypingEvent:
		s.setTyping(e.ChatID, e.UserID)

	case ErrorEvent:
		s.logger.Warn("stream error", "code", e.Code, "message", e.Message)
	}
}

// handleNewMessage applies the merge rule. inbound marks a server push from
// another client, which triggers a fire-and-forget read receipt when the
// sender is not the local user.
func (s *ChatStore) handleNewMessage(chatID string, msg *Message, inbound bool) {
	if msg == nil || msg.ID == "" {
		return
	}

	s.mu.Lock()
	added := s.mergeMessageLocked(chatID, msg)
	s.mu.Unlock()

	if added && inbound && msg.SenderID != s.userID {
		s.stream.MarkRead(msg.ID)
	}
}

// mergeMessageLocked merges one message into chatID's list. A known id never
// appends again: the existing entry absorbs any forward status step and new
// readers. A new id appends, re-sorts the list by createdAt, and refreshes
// the owning chat's lastMessage/updatedAt. Returns whether the id was new.
func (s *ChatStore) mergeMessageLocked(chatID string, msg *Message) bool {
	list := s.messages[chatID]
	for _, existing := range list {
		if existing.ID != msg.ID {
			continue
		}
		if msg.Status.Advances(existing.Status) {
			existing.Status = msg.Status
		}
		existing.ReadBy = unionReaders(existing.ReadBy, msg.ReadBy)
		return false
	}

	list = append(list, msg)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	s.messages[chatID] = list

	for _, c := range s.chats {
		if c.ID == chatID {
			c.LastMessage = msg
			c.UpdatedAt = msg.CreatedAt
			s.sortChatsLocked()
			break
		}
	}
	return true
}

func (s *ChatStore) sortChatsLocked() {
	sort.SliceStable(s.chats, func(i, j int) bool {
		return s.chats[i].UpdatedAt.After(s.chats[j].UpdatedAt)
	})
}

// setTyping fills chatID's single typing slot and arms the expiry. A renewal
// resets the clock; a different typer takes the slot over.
func (s *ChatStore) setTyping(chatID, userID string) {
	now := time.Now()
	s.mu.Lock()
	s.typing[chatID] = &TypingState{UserID: userID, At: now}
	s.mu.Unlock()

	s.timerMu.Lock()
	if t, ok := s.typingTimers[chatID]; ok {
		t.Stop()
	}
	s.typingTimers[chatID] = time.AfterFunc(s.typingTTL, func() {
		s.mu.Lock()
		// Only clear the slot this timer was armed for.
		if t, ok := s.typing[chatID]; ok && t.At.Equal(now) {
			delete(s.typing, chatID)
		}
		s.mu.Unlock()
	})
	s.timerMu.Unlock()
}

// ============================================================================
// User actions
// ============================================================================

// LoadChats refreshes the chat list over REST, subscribes every chat for live
// updates, and rewrites the local snapshot.
func (s *ChatStore) LoadChats(ctx context.Context) error {
	chats, err := s.rest.Chats.List(ctx)
	if err != nil {
		return fmt.Errorf("load chats: %w", err)
	}

	s.mu.Lock()
	for _, chat := range chats {
		s.upsertChatLocked(chat)
	}
	s.sortChatsLocked()
	s.mu.Unlock()

	for _, chat := range chats {
		s.stream.Subscribe(chat.ID)
	}
	s.persistSnapshot()
	return nil
}

// LoadMessages pages a chat's history over REST and merges it with whatever
// the stream already delivered.
func (s *ChatStore) LoadMessages(ctx context.Context, chatID string, limit, offset int) error {
	msgs, err := s.rest.Messages.List(ctx, chatID, limit, offset)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	s.mu.Lock()
	for _, m := range msgs {
		s.mergeMessageLocked(chatID, m)
	}
	s.mu.Unlock()

	s.stream.Subscribe(chatID)
	return nil
}

// SendMessage sends over the live channel when it is open, otherwise falls
// back to REST and merges the returned message immediately. When both paths
// fail the store is left untouched and the error is surfaced.
func (s *ChatStore) SendMessage(ctx context.Context, chatID, content string, kind MessageKind, mediaURL string) error {
	if s.stream.IsOpen() && s.stream.SendChatMessage(chatID, content, kind, mediaURL) {
		// Confirmation arrives as a MessageSentEvent and merges by id.
		return nil
	}

	if kind == "" {
		kind = MessageText
	}
	msg, err := s.rest.Messages.Send(ctx, chatID, &SendMessageOptions{
		Content:  content,
		Kind:     kind,
		MediaURL: mediaURL,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	s.handleNewMessage(chatID, msg, false)
	return nil
}

// NotifyTyping announces the local user is typing. Live channel only; typing
// is lossy by design.
func (s *ChatStore) NotifyTyping(chatID string) {
	s.stream.SendTyping(chatID)
}

// MarkMessageRead records a read receipt, live channel first with a REST
// fallback. Repeating it for an already-read message is harmless.
func (s *ChatStore) MarkMessageRead(ctx context.Context, messageID string) error {
	if s.stream.MarkRead(messageID) {
		return nil
	}
	if err := s.rest.Messages.MarkRead(ctx, messageID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// CreateChat creates the chat over REST, adds it to the list, and subscribes
// to it.
func (s *ChatStore) CreateChat(ctx context.Context, opts *CreateChatOptions) (*ChatSession, error) {
	chat, err := s.rest.Chats.Create(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}

	s.mu.Lock()
	s.upsertChatLocked(chat)
	s.sortChatsLocked()
	s.mu.Unlock()

	s.stream.Subscribe(chat.ID)
	s.persistSnapshot()
	return chat, nil
}

// LeaveChat leaves over REST, then drops the chat, its cached messages, and
// its subscription.
func (s *ChatStore) LeaveChat(ctx context.Context, chatID string) error {
	if err := s.rest.Chats.Leave(ctx, chatID); err != nil {
		return fmt.Errorf("leave chat: %w", err)
	}

	s.mu.Lock()
	for i, c := range s.chats {
		if c.ID == chatID {
			s.chats = append(s.chats[:i], s.chats[i+1:]...)
			break
		}
	}
	delete(s.messages, chatID)
	delete(s.typing, chatID)
	s.mu.Unlock()

	s.timerMu.Lock()
	if t, ok := s.typingTimers[chatID]; ok {
		t.Stop()
		delete(s.typingTimers, chatID)
	}
	s.timerMu.Unlock()

	s.stream.Unsubscribe(chatID)
	s.persistSnapshot()
	return nil
}

// UpdateChat renames a chat or changes its participants. The server response
// replaces the local entry; the stable re-sort keeps its list position unless
// the server moved updatedAt.
func (s *ChatStore) UpdateChat(ctx context.Context, chatID string, opts *UpdateChatOptions) (*ChatSession, error) {
	chat, err := s.rest.Chats.Update(ctx, chatID, opts)
	if err != nil {
		return nil, fmt.Errorf("update chat: %w", err)
	}

	s.mu.Lock()
	s.upsertChatLocked(chat)
	s.sortChatsLocked()
	s.mu.Unlock()

	s.persistSnapshot()
	return chat, nil
}

// Reset clears every piece of local state and the snapshot. Used on logout.
func (s *ChatStore) Reset() {
	s.mu.Lock()
	s.chats = nil
	s.messages = make(map[string][]*Message)
	s.typing = make(map[string]*TypingState)
	s.mu.Unlock()

	s.timerMu.Lock()
	for id, t := range s.typingTimers {
		t.Stop()
		delete(s.typingTimers, id)
	}
	s.timerMu.Unlock()

	if s.snaps != nil {
		s.snaps.Remove(snapshotKey)
	}
}

// upsertChatLocked replaces the entry with chat's id, or appends it. The
// cached lastMessage survives a replace when the server response omits one.
func (s *ChatStore) upsertChatLocked(chat *ChatSession) {
	for i, c := range s.chats {
		if c.ID == chat.ID {
			if chat.LastMessage == nil {
				chat.LastMessage = c.LastMessage
			}
			s.chats[i] = chat
			return
		}
	}
	s.chats = append(s.chats, chat)
}

// ============================================================================
// Snapshot persistence
// ============================================================================

// restoreSnapshot paints the last-known chat list before any network call.
// The cache is never authoritative; LoadChats overwrites it.
func (s *ChatStore) restoreSnapshot() {
	if s.snaps == nil {
		return
	}
	data, ok := s.snaps.Get(snapshotKey)
	if !ok {
		return
	}
	var chats []*ChatSession
	if err := json.Unmarshal(data, &chats); err != nil {
		s.logger.Warn("discarding corrupt chat snapshot", "error", err)
		s.snaps.Remove(snapshotKey)
		return
	}
	s.mu.Lock()
	s.chats = chats
	s.sortChatsLocked()
	s.mu.Unlock()
}

func (s *ChatStore) persistSnapshot() {
	if s.snaps == nil {
		return
	}
	s.mu.RLock()
	data, err := json.Marshal(s.chats)
	s.mu.RUnlock()
	if err != nil {
		return
	}
	s.snaps.Set(snapshotKey, data)
}

func unionReaders(existing, incoming []string) []string {
	if len(incoming) == 0 {
		return existing
	}
	seen := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		seen[r] = struct{}{}
	}
	for _, r := range incoming {
		if _, ok := seen[r]; !ok {
			existing = append(existing, r)
			seen[r] = struct{}{}
		}
	}
	return existing
}
