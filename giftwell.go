// Package giftwell provides the Go client for the Giftwell chat platform.
//
// The package covers the realtime chat subsystem of the Giftwell gifting app:
// a REST client for chat CRUD and message history, a streaming client that
// keeps a live session to the message endpoint, and a reconciliation store
// that merges both into a consistent view.
//
// Example:
//
//	client := giftwell.NewClient("gw-token-...")
//	stream := giftwell.NewStreamClient(client.BaseURL(), creds, nil)
//	store := giftwell.NewChatStore("user-1", client, stream, nil)
//
//	_ = stream.Connect(ctx)
//	_ = store.LoadChats(ctx)
//	_ = store.SendMessage(ctx, chatID, "hello", giftwell.MessageText, "")
package giftwell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultBaseURL is the production API origin.
	DefaultBaseURL = "https://api.giftwell.app"

	// DefaultTimeout bounds each REST request.
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST collaborator: chat CRUD, message history, message send
// and read receipts. The reconciliation store falls back to it whenever the
// streaming session is unavailable.
type Client struct {
	token      string
	baseURL    string
	instanceID string
	httpClient *http.Client
	logger     *slog.Logger

	Chats    *ChatsClient
	Messages *MessagesClient
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API origin.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient supplies a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger supplies a structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Giftwell REST client authenticated with a bearer token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:      token,
		baseURL:    DefaultBaseURL,
		instanceID: uuid.NewString(),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.Chats = &ChatsClient{client: c}
	c.Messages = &MessagesClient{client: c}
	return c
}

// SetToken swaps the bearer token, e.g. after the host app refreshed it.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the configured API origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Giftwell-Client", c.instanceID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*APIResult, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[APIResult](data)
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// decodeData runs a request and unmarshals the result's Data field.
func decodeData[T any](res *APIResult, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	if e := res.Err(); e != nil {
		return nil, e
	}
	var out T
	if err := res.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return &out, nil
}

// ============================================================================
// Chats sub-client
// ============================================================================

// ChatsClient handles chat session CRUD.
type ChatsClient struct{ client *Client }

// Create creates a chat and returns the server's view of it.
func (cc *ChatsClient) Create(ctx context.Context, opts *CreateChatOptions) (*ChatSession, error) {
	return decodeData[ChatSession](cc.client.do(ctx, "POST", "/api/chats", opts, nil))
}

// List returns every chat the authenticated user belongs to.
func (cc *ChatsClient) List(ctx context.Context) ([]*ChatSession, error) {
	out, err := decodeData[[]*ChatSession](cc.client.do(ctx, "GET", "/api/chats", nil, nil))
	if err != nil {
		return nil, err
	}
	return *out, nil
}

// Get fetches one chat by id.
func (cc *ChatsClient) Get(ctx context.Context, chatID string) (*ChatSession, error) {
	return decodeData[ChatSession](cc.client.do(ctx, "GET", "/api/chats/"+chatID, nil, nil))
}

// Update renames a chat and/or changes its participants.
func (cc *ChatsClient) Update(ctx context.Context, chatID string, opts *UpdateChatOptions) (*ChatSession, error) {
	return decodeData[ChatSession](cc.client.do(ctx, "PATCH", "/api/chats/"+chatID, opts, nil))
}

// Leave removes the authenticated user from a chat.
func (cc *ChatsClient) Leave(ctx context.Context, chatID string) error {
	res, err := cc.client.do(ctx, "POST", "/api/chats/"+chatID+"/leave", nil, nil)
	if err != nil {
		return err
	}
	return res.Err()
}

// ============================================================================
// Messages sub-client
// ============================================================================

// MessagesClient handles message history, sends, and read receipts.
type MessagesClient struct{ client *Client }

// List pages through a chat's history, oldest first.
func (mc *MessagesClient) List(ctx context.Context, chatID string, limit, offset int) ([]*Message, error) {
	query := map[string]string{}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}
	if offset > 0 {
		query["offset"] = strconv.Itoa(offset)
	}
	if len(query) == 0 {
		query = nil
	}
	out, err := decodeData[[]*Message](mc.client.do(ctx, "GET", "/api/chats/"+chatID+"/messages", nil, query))
	if err != nil {
		return nil, err
	}
	return *out, nil
}

// Send posts a message and returns the server-assigned Message.
func (mc *MessagesClient) Send(ctx context.Context, chatID string, opts *SendMessageOptions) (*Message, error) {
	return decodeData[Message](mc.client.do(ctx, "POST", "/api/chats/"+chatID+"/messages", opts, nil))
}

// MarkRead records a read receipt. Marking an already-read message is
// harmless.
func (mc *MessagesClient) MarkRead(ctx context.Context, messageID string) error {
	res, err := mc.client.do(ctx, "POST", "/api/messages/"+messageID+"/read", nil, nil)
	if err != nil {
		return err
	}
	return res.Err()
}

// Delete removes a message.
func (mc *MessagesClient) Delete(ctx context.Context, messageID string) error {
	res, err := mc.client.do(ctx, "DELETE", "/api/messages/"+messageID, nil, nil)
	if err != nil {
		return err
	}
	return res.Err()
}
