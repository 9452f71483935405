package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline-ai/conversation-gateway/internal/model"
)

func TestCreateConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/conversations", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id": "conv-1", "title": "New conversation"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	info, err := c.CreateConversation(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "conv-1", info.ID)
	assert.Equal(t, "New conversation", info.Title)
}

func TestListMessagesMapsWireFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations/conv-1/messages", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[
			{"id": "m1", "role": "user", "content": "hi", "parent_id": null, "created_at": "2024-03-01T10:00:00Z"},
			{"id": "m2", "role": "assistant", "content": "hello", "parent_id": "m1", "created_at": "2024-03-01T10:00:05Z", "metadata": {"mode": "chat"}}
		]`)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	msgs, err := c.ListMessages(context.Background(), "conv-1")

	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "", msgs[0].ParentID)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "m1", msgs[1].ParentID)
	assert.Equal(t, "chat", msgs[1].Mode)
	assert.False(t, msgs[1].CreatedAt.IsZero())
}

func TestEditMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages/m2/edit", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "What is paracetamol?", body["new_content"])
		assert.Equal(t, "chat", body["mode"])
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id": "m2b", "parent_id": "m1", "created_at": "2024-03-01T11:00:00Z"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	res, err := c.EditMessage(context.Background(), "m2", "What is paracetamol?", "chat")

	require.NoError(t, err)
	assert.Equal(t, "m2b", res.ID)
	assert.Equal(t, "m1", res.ParentID)
	assert.False(t, res.CreatedAt.IsZero())
}

func TestThread(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages/m2b/thread", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[
			{"id": "m1", "role": "user", "content": "root", "parent_id": null, "created_at": "2024-03-01T10:00:00Z"},
			{"id": "m2b", "role": "user", "content": "leaf", "parent_id": "m1", "created_at": "2024-03-01T11:00:00Z"}
		]`)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	msgs, err := c.Thread(context.Background(), "m2b")

	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2b", msgs[1].ID)
}

func TestGenerateStreamReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate/stream", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		var greq GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&greq))
		assert.Equal(t, "What is ibuprofen?", greq.Message)
		assert.Equal(t, "conv-1", greq.ConversationID)

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"text\": \"hi\"}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	body, err := c.GenerateStream(context.Background(), GenerateRequest{
		Message:        "What is ibuprofen?",
		ConversationID: "conv-1",
	})
	require.NoError(t, err)
	defer body.Close()

	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "[DONE]")
}

func TestUnauthorizedMapsToAuthExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "stale")

	_, err := c.CreateConversation(context.Background())
	assert.ErrorIs(t, err, ErrAuthExpired)

	_, err = c.GenerateStream(context.Background(), GenerateRequest{ConversationID: "c1"})
	assert.ErrorIs(t, err, ErrAuthExpired)
}

func TestNotFoundMapsToErrNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(srv.URL, "")

	_, err := c.ListMessages(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.EditMessage(context.Background(), "gone", "x", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServerErrorMapsToAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "upstream exploded")
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.Thread(context.Background(), "m1")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Contains(t, apiErr.Message, "upstream exploded")
}

func TestCredentialLifecycle(t *testing.T) {
	var lastAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastAuth = r.Header.Get("Authorization")
		io.WriteString(w, `{"id": "c", "title": ""}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "first")
	assert.True(t, c.HasCredential())

	_, err := c.CreateConversation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer first", lastAuth)

	c.SetCredential("second")
	_, err = c.CreateConversation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer second", lastAuth)

	c.ClearCredential()
	assert.False(t, c.HasCredential())
	_, err = c.CreateConversation(context.Background())
	require.NoError(t, err)
	assert.Empty(t, lastAuth)
}

func TestTransportErrorIsWrapped(t *testing.T) {
	c := New("http://127.0.0.1:1", "")

	_, err := c.CreateConversation(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAuthExpired))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "backend:")
}
