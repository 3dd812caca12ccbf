package giftwell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrNoCredential means no bearer token was found in the credential
	// store. The attempt fails but the client stays usable; callers retry
	// Connect after the host re-authenticates.
	ErrNoCredential = errors.New("giftwell: no stored credential")

	// ErrSendFailed means both the live channel and the REST fallback were
	// exhausted.
	ErrSendFailed = errors.New("giftwell: send failed on live and fallback channels")
)

// ============================================================================
// Configuration
// ============================================================================

// StreamConfig configures the streaming client. Zero values take defaults.
type StreamConfig struct {
	HandshakeTimeout     time.Duration // default 10s
	HeartbeatInterval    time.Duration // default 30s
	ReconnectBaseDelay   time.Duration // default 1s
	ReconnectMaxDelay    time.Duration // default 30s
	MaxReconnectAttempts int           // default 5
	DisableReconnect     bool
	Logger               *slog.Logger
}

func (c *StreamConfig) defaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// StreamState is the connection lifecycle state.
type StreamState string

const (
	StateIdle         StreamState = "idle"
	StateConnecting   StreamState = "connecting"
	StateOpen         StreamState = "open"
	StateClosing      StreamState = "closing"
	StateDisconnected StreamState = "disconnected"
)

// writeTimeout bounds a single outbound frame.
const writeTimeout = 5 * time.Second

// ============================================================================
// Reconnector
// ============================================================================

// reconnector tracks automatic reconnection attempts. Delays are
// deterministic: base*2^n capped at maxDelay, at most maxAttempts of them.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
}

func (r *reconnector) shouldReconnect() bool {
	return r.attempt < r.maxAttempts
}

func (r *reconnector) nextDelay() time.Duration {
	delay := r.baseDelay << uint(r.attempt)
	if delay > r.maxDelay || delay <= 0 {
		delay = r.maxDelay
	}
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
}

// ============================================================================
// StreamClient
// ============================================================================

// StreamClient owns one logical session to the message-streaming endpoint:
// handshake, heartbeat, failure detection, backoff reconnection, and replay
// of chat subscriptions. It is constructed and injected explicitly; there is
// no package-level instance.
//
// All server pushes surface as typed events on the Bus returned by Events.
type StreamClient struct {
	baseURL string
	creds   CredentialStore
	config  StreamConfig
	bus     *Bus
	logger  *slog.Logger

	mu             sync.Mutex
	state          StreamState
	conn           *websocket.Conn
	clientID       string
	intentional    bool
	cancelSession  context.CancelFunc
	reconnectTimer *time.Timer
	recon          reconnector

	subMu sync.Mutex
	subs  map[string]struct{}

	pongMu   sync.Mutex
	lastPong time.Time
}

// NewStreamClient creates a streaming client. The credential store supplies
// the bearer token at connect time; cfg may be nil for defaults.
func NewStreamClient(baseURL string, creds CredentialStore, cfg *StreamConfig) *StreamClient {
	var config StreamConfig
	if cfg != nil {
		config = *cfg
	}
	config.defaults()

	return &StreamClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		config:  config,
		bus:     NewBus(config.Logger),
		logger:  config.Logger,
		state:   StateIdle,
		recon: reconnector{
			baseDelay:   config.ReconnectBaseDelay,
			maxDelay:    config.ReconnectMaxDelay,
			maxAttempts: config.MaxReconnectAttempts,
		},
		subs: make(map[string]struct{}),
	}
}

// Events returns the bus carrying this client's events.
func (sc *StreamClient) Events() *Bus {
	return sc.bus
}

// State returns the current lifecycle state.
func (sc *StreamClient) State() StreamState {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.state
}

// IsOpen reports whether the session is open for sends.
func (sc *StreamClient) IsOpen() bool {
	return sc.State() == StateOpen
}

// ClientID returns the session identifier assigned by the server on the last
// successful handshake.
func (sc *StreamClient) ClientID() string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.clientID
}

// streamURL builds the websocket endpoint with the token as a query param.
func (sc *StreamClient) streamURL(token string) string {
	u := strings.Replace(sc.baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws?token=" + url.QueryEscape(token)
}

// Connect establishes the session: dial, wait for the server's connected
// envelope (bounded by the handshake timeout), then start the heartbeat and
// replay every registered subscription. Calling Connect while already
// Connecting or Open is a no-op. A missing credential returns
// ErrNoCredential without changing state.
func (sc *StreamClient) Connect(ctx context.Context) error {
	sc.mu.Lock()
	if sc.state == StateConnecting || sc.state == StateOpen {
		sc.mu.Unlock()
		return nil
	}
	token, ok := sc.creds.Get(TokenKey)
	if !ok {
		sc.mu.Unlock()
		return ErrNoCredential
	}
	sc.state = StateConnecting
	sc.intentional = false
	sc.mu.Unlock()

	hsCtx, cancel := context.WithTimeout(ctx, sc.config.HandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(hsCtx, sc.streamURL(token), nil)
	if err != nil {
		sc.failConnect()
		return fmt.Errorf("stream dial: %w", err)
	}

	// The server must acknowledge with a connected envelope before the
	// session counts as open.
	_, data, err := conn.Read(hsCtx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		sc.failConnect()
		return fmt.Errorf("stream handshake: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != envConnected {
		conn.Close(websocket.StatusNormalClosure, "")
		sc.failConnect()
		return fmt.Errorf("stream handshake: expected connected envelope, got %q", env.Type)
	}
	var ack ConnectedPayload
	if env.Payload != nil {
		_ = json.Unmarshal(env.Payload, &ack)
	}

	sessionCtx, cancelSession := context.WithCancel(context.Background())

	sc.mu.Lock()
	if sc.intentional {
		// Disconnect raced the handshake; honor it.
		sc.state = StateIdle
		sc.mu.Unlock()
		cancelSession()
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return nil
	}
	sc.conn = conn
	sc.state = StateOpen
	sc.clientID = ack.ClientID
	sc.cancelSession = cancelSession
	sc.recon.reset()
	sc.mu.Unlock()

	sc.pongMu.Lock()
	sc.lastPong = time.Now()
	sc.pongMu.Unlock()

	sc.logger.Info("stream connected", "client_id", ack.ClientID)

	go sc.heartbeatLoop(sessionCtx)
	sc.replaySubscriptions()
	sc.bus.Publish(ConnectedEvent{ClientID: ack.ClientID})

	go sc.readLoop(sessionCtx, conn)
	return nil
}

func (sc *StreamClient) failConnect() {
	sc.mu.Lock()
	sc.state = StateDisconnected
	sc.mu.Unlock()
}

// Disconnect tears the session down: heartbeat and reconnect timers are
// cancelled, the transport is closed with a normal-closure code, and the
// client returns to Idle. No events are emitted. Registered subscriptions
// are kept for a future Connect.
func (sc *StreamClient) Disconnect() {
	sc.mu.Lock()
	sc.intentional = true
	sc.state = StateClosing
	conn := sc.conn
	sc.conn = nil
	cancel := sc.cancelSession
	sc.cancelSession = nil
	timer := sc.reconnectTimer
	sc.reconnectTimer = nil
	sc.state = StateIdle
	sc.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
}

// ============================================================================
// Subscription registry
// ============================================================================

// Subscribe registers chatID for live updates and, when the session is open,
// sends the subscribe request. The registration survives reconnects; the
// returned bool only reports whether the transport accepted the write.
func (sc *StreamClient) Subscribe(chatID string) bool {
	sc.subMu.Lock()
	sc.subs[chatID] = struct{}{}
	sc.subMu.Unlock()
	return sc.send(&Envelope{Type: envSubscribe, ChatID: chatID})
}

// Unsubscribe removes chatID from the registry and notifies the server when
// the session is open.
func (sc *StreamClient) Unsubscribe(chatID string) bool {
	sc.subMu.Lock()
	delete(sc.subs, chatID)
	sc.subMu.Unlock()
	return sc.send(&Envelope{Type: envUnsubscribe, ChatID: chatID})
}

// Subscriptions returns the registered chat ids, sorted.
func (sc *StreamClient) Subscriptions() []string {
	sc.subMu.Lock()
	defer sc.subMu.Unlock()
	ids := make([]string, 0, len(sc.subs))
	for id := range sc.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (sc *StreamClient) replaySubscriptions() {
	for _, id := range sc.Subscriptions() {
		sc.send(&Envelope{Type: envSubscribe, ChatID: id})
	}
}

// ============================================================================
// Outbound operations
// ============================================================================

// SendChatMessage sends a message over the live channel. Fire-and-forget:
// the server's confirmation arrives later as a MessageSentEvent.
func (sc *StreamClient) SendChatMessage(chatID, content string, kind MessageKind, mediaURL string) bool {
	if kind == "" {
		kind = MessageText
	}
	payload, err := json.Marshal(outgoingMessagePayload{
		Content:  content,
		Kind:     kind,
		MediaURL: mediaURL,
	})
	if err != nil {
		return false
	}
	return sc.send(&Envelope{Type: envMessage, ChatID: chatID, Payload: payload})
}

// SendTyping notifies the server that the local user is typing. Typing is
// ephemeral; there is deliberately no REST fallback.
func (sc *StreamClient) SendTyping(chatID string) bool {
	return sc.send(&Envelope{Type: envTyping, ChatID: chatID})
}

// MarkRead sends a read receipt over the live channel.
func (sc *StreamClient) MarkRead(messageID string) bool {
	return sc.send(&Envelope{Type: envRead, MessageID: messageID})
}

// send writes one envelope. It returns false, without error, whenever the
// session is not open or the transport rejects the write.
func (sc *StreamClient) send(env *Envelope) bool {
	sc.mu.Lock()
	conn := sc.conn
	open := sc.state == StateOpen
	sc.mu.Unlock()
	if !open || conn == nil {
		return false
	}

	data, err := json.Marshal(env)
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		sc.logger.Warn("stream write failed", "type", env.Type, "error", err)
		return false
	}
	return true
}

// ============================================================================
// Session loops
// ============================================================================

func (sc *StreamClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			sc.handleClose(err)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			sc.logger.Warn("dropping malformed envelope", "error", err)
			continue
		}
		sc.handleEnvelope(&env)
	}
}

func (sc *StreamClient) handleEnvelope(env *Envelope) {
	switch env.Type {
	case envNewMessage:
		var msg Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			sc.logger.Warn("dropping malformed message payload", "chat_id", env.ChatID, "error", err)
			return
		}
		chatID := env.ChatID
		if chatID == "" {
			chatID = msg.ChatID
		}
		sc.bus.Publish(MessageEvent{ChatID: chatID, Message: &msg})

	case envMessageSent:
		var msg Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			sc.logger.Warn("dropping malformed message_sent payload", "chat_id", env.ChatID, "error", err)
			return
		}
		chatID := env.ChatID
		if chatID == "" {
			chatID = msg.ChatID
		}
		sc.bus.Publish(MessageSentEvent{ChatID: chatID, Message: &msg})

	case envTyping:
		var p TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			sc.logger.Warn("dropping malformed typing payload", "chat_id", env.ChatID, "error", err)
			return
		}
		sc.bus.Publish(TypingEvent{ChatID: env.ChatID, UserID: p.UserID})

	case envError:
		var p ErrorPayload
		if env.Payload != nil {
			_ = json.Unmarshal(env.Payload, &p)
		}
		sc.bus.Publish(ErrorEvent{Code: p.Code, Message: p.Message})

	case envPong:
		sc.pongMu.Lock()
		sc.lastPong = time.Now()
		sc.pongMu.Unlock()

	case envSubscribed, envUnsubscribed:
		sc.logger.Debug("subscription acknowledged", "type", env.Type, "chat_id", env.ChatID)

	case envConnected:
		// Already handled during the handshake; harmless if re-sent.

	default:
		sc.logger.Debug("ignoring unknown envelope type", "type", env.Type)
	}
}

// heartbeatLoop sends a ping every interval and forces a close when no pong
// has been seen within two intervals, so a silently dead transport does not
// linger as Open.
func (sc *StreamClient) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(sc.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sc.mu.Lock()
			conn := sc.conn
			open := sc.state == StateOpen
			sc.mu.Unlock()
			if !open || conn == nil {
				return
			}

			sc.pongMu.Lock()
			stale := time.Since(sc.lastPong) > 2*sc.config.HeartbeatInterval
			sc.pongMu.Unlock()
			if stale {
				sc.logger.Warn("pong timeout, closing stream")
				conn.Close(websocket.StatusGoingAway, "pong timeout")
				return
			}

			sc.send(&Envelope{Type: envPing})
		}
	}
}

// handleClose runs when the read loop errors out. Client-initiated closes
// stop here; anything else emits DisconnectedEvent and enters the backoff
// reconnect path.
func (sc *StreamClient) handleClose(err error) {
	sc.mu.Lock()
	intentional := sc.intentional
	cancel := sc.cancelSession
	sc.cancelSession = nil
	sc.conn = nil
	if !intentional {
		sc.state = StateDisconnected
	}
	sc.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if intentional {
		return
	}

	sc.logger.Info("stream disconnected", "error", err)
	sc.bus.Publish(DisconnectedEvent{Reason: err.Error()})
	sc.scheduleReconnect()
}

// scheduleReconnect arms the next backoff attempt. Reconnection policy lives
// here and only here; consumers react to events but never dial themselves.
func (sc *StreamClient) scheduleReconnect() {
	if sc.config.DisableReconnect {
		return
	}

	sc.mu.Lock()
	if sc.intentional || !sc.recon.shouldReconnect() {
		exhausted := !sc.intentional
		sc.mu.Unlock()
		if exhausted {
			sc.logger.Warn("reconnect attempts exhausted, staying disconnected")
		}
		return
	}
	delay := sc.recon.nextDelay()
	attempt := sc.recon.attempt
	sc.reconnectTimer = time.AfterFunc(delay, func() {
		if err := sc.Connect(context.Background()); err != nil {
			sc.scheduleReconnect()
		}
	})
	sc.mu.Unlock()

	sc.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

// NextReconnectDelays previews the automatic backoff schedule from a fresh
// session: base*2^n capped at the maximum, one entry per allowed attempt.
func (sc *StreamClient) NextReconnectDelays() []time.Duration {
	r := reconnector{
		baseDelay:   sc.config.ReconnectBaseDelay,
		maxDelay:    sc.config.ReconnectMaxDelay,
		maxAttempts: sc.config.MaxReconnectAttempts,
	}
	delays := make([]time.Duration, 0, r.maxAttempts)
	for r.shouldReconnect() {
		delays = append(delays, r.nextDelay())
	}
	return delays
}
