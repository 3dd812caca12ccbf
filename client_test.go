package giftwell

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeResult writes the standard API envelope around data.
func writeResult(t *testing.T, w http.ResponseWriter, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	_ = json.NewEncoder(w).Encode(APIResult{OK: true, Data: raw})
}

func writeError(w http.ResponseWriter, code, message string) {
	_ = json.NewEncoder(w).Encode(APIResult{OK: false, Error: &APIError{Code: code, Message: message}})
}

func TestClientHeaders(t *testing.T) {
	var gotAuth, gotInstance string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotInstance = r.Header.Get("X-Giftwell-Client")
		writeResult(t, w, []*ChatSession{})
	}))
	defer srv.Close()

	client := NewClient("gw-token", WithBaseURL(srv.URL))
	_, err := client.Chats.List(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Bearer gw-token", gotAuth)
	assert.NotEmpty(t, gotInstance, "every request carries the instance id")
}

func TestClientSetToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		writeResult(t, w, []*ChatSession{})
	}))
	defer srv.Close()

	client := NewClient("old", WithBaseURL(srv.URL))
	client.SetToken("refreshed")

	_, err := client.Chats.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer refreshed", gotAuth)
}

func TestClientBaseURL(t *testing.T) {
	client := NewClient("t", WithBaseURL("https://staging.giftwell.app/"))
	assert.Equal(t, "https://staging.giftwell.app", client.BaseURL(), "trailing slash is trimmed")

	assert.Equal(t, DefaultBaseURL, NewClient("t").BaseURL())
}

func TestChatsList(t *testing.T) {
	updated := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/chats", r.URL.Path)
		writeResult(t, w, []*ChatSession{
			{ID: "chat-1", Kind: ChatGroup, Name: "Birthday crew", Participants: []string{"u1", "u2"}, UpdatedAt: updated},
			{ID: "chat-2", Kind: ChatEvent, EventID: "evt-9", Participants: []string{"u1"}},
		})
	}))
	defer srv.Close()

	client := NewClient("t", WithBaseURL(srv.URL))
	chats, err := client.Chats.List(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 2)

	assert.Equal(t, "chat-1", chats[0].ID)
	assert.Equal(t, ChatGroup, chats[0].Kind)
	assert.True(t, chats[0].UpdatedAt.Equal(updated))
	assert.True(t, chats[0].HasParticipant("u2"))
	assert.False(t, chats[0].HasParticipant("u9"))
	assert.Equal(t, "evt-9", chats[1].EventID)
}

func TestChatsCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chats", r.URL.Path)

		var opts CreateChatOptions
		require.NoError(t, json.NewDecoder(r.Body).Decode(&opts))
		assert.Equal(t, ChatDirect, opts.Kind)
		assert.Equal(t, []string{"u1", "u2"}, opts.Participants)

		writeResult(t, w, ChatSession{ID: "chat-new", Kind: opts.Kind, Participants: opts.Participants})
	}))
	defer srv.Close()

	client := NewClient("t", WithBaseURL(srv.URL))
	chat, err := client.Chats.Create(context.Background(), &CreateChatOptions{
		Kind:         ChatDirect,
		Participants: []string{"u1", "u2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "chat-new", chat.ID)
}

func TestAPIErrorPropagation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "CHAT_NOT_FOUND", "no such chat")
	}))
	defer srv.Close()

	client := NewClient("t", WithBaseURL(srv.URL))
	_, err := client.Chats.Get(context.Background(), "ghost")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "CHAT_NOT_FOUND", apiErr.Code)
	assert.Equal(t, "CHAT_NOT_FOUND: no such chat", err.Error())
}

func TestMessagesList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chats/chat-1/messages", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		assert.Equal(t, "50", r.URL.Query().Get("offset"))
		writeResult(t, w, []*Message{
			{ID: "m1", ChatID: "chat-1", SenderID: "u2", Kind: MessageText, Content: "hey"},
		})
	}))
	defer srv.Close()

	client := NewClient("t", WithBaseURL(srv.URL))
	msgs, err := client.Messages.List(context.Background(), "chat-1", 25, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hey", msgs[0].Content)
}

func TestMessagesSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chats/chat-1/messages", r.URL.Path)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var opts SendMessageOptions
		require.NoError(t, json.Unmarshal(body, &opts))
		assert.Equal(t, "happy birthday!", opts.Content)
		assert.Equal(t, MessageText, opts.Kind)

		writeResult(t, w, Message{
			ID: "m-42", ChatID: "chat-1", SenderID: "u1",
			Kind: opts.Kind, Content: opts.Content, Status: StatusSent,
		})
	}))
	defer srv.Close()

	client := NewClient("t", WithBaseURL(srv.URL))
	msg, err := client.Messages.Send(context.Background(), "chat-1", &SendMessageOptions{
		Content: "happy birthday!",
		Kind:    MessageText,
	})
	require.NoError(t, err)
	assert.Equal(t, "m-42", msg.ID)
	assert.Equal(t, StatusSent, msg.Status)
}

func TestMessagesMarkReadAndDelete(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		writeResult(t, w, map[string]bool{"acknowledged": true})
	}))
	defer srv.Close()

	client := NewClient("t", WithBaseURL(srv.URL))
	require.NoError(t, client.Messages.MarkRead(context.Background(), "m-1"))
	require.NoError(t, client.Messages.Delete(context.Background(), "m-1"))

	assert.Equal(t, []string{
		"POST /api/messages/m-1/read",
		"DELETE /api/messages/m-1",
	}, paths)
}

func TestMessageStatusAdvances(t *testing.T) {
	assert.True(t, StatusDelivered.Advances(StatusSent))
	assert.True(t, StatusRead.Advances(StatusDelivered))
	assert.True(t, StatusRead.Advances(StatusSent))

	assert.False(t, StatusSent.Advances(StatusSent))
	assert.False(t, StatusSent.Advances(StatusRead))
	assert.False(t, StatusDelivered.Advances(StatusRead))
}

func TestAPIResultErr(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		res := &APIResult{OK: true}
		assert.NoError(t, res.Err())
	})

	t.Run("error body", func(t *testing.T) {
		res := &APIResult{OK: false, Error: &APIError{Code: "NOPE", Message: "rejected"}}
		assert.EqualError(t, res.Err(), "NOPE: rejected")
	})

	t.Run("error without body", func(t *testing.T) {
		res := &APIResult{OK: false}
		var apiErr *APIError
		require.True(t, errors.As(res.Err(), &apiErr))
		assert.Equal(t, "UNKNOWN", apiErr.Code)
	})
}
