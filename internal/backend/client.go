// Package backend is the HTTP client for the persistence and generation
// collaborator: conversation and message storage plus the server-sent
// generation stream. It maps transport failures into the small error set
// the coordinator reacts to and never retries on its own.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/threadline-ai/conversation-gateway/internal/model"
	"github.com/threadline-ai/conversation-gateway/pkg/logger"
)

// Client talks to the backend over HTTP. The bearer credential is held
// under a lock so an auth failure on one stream can invalidate it for
// every caller at once.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	log          *logger.Logger

	mu    sync.RWMutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds non-streaming requests. Streaming requests are
// bounded by their context instead.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces both underlying HTTP clients, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
		c.streamClient = hc
	}
}

// WithLogger sets the client logger.
func WithLogger(log *logger.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// New creates a client for the backend at baseURL. token may be empty for
// unauthenticated deployments.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		streamClient: &http.Client{},
		log:          logger.Global(),
		token:        token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetCredential replaces the bearer credential.
func (c *Client) SetCredential(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ClearCredential discards the bearer credential. Subsequent requests go
// out unauthenticated until a new credential is set.
func (c *Client) ClearCredential() {
	c.SetCredential("")
}

// HasCredential reports whether a credential is currently held.
func (c *Client) HasCredential() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != ""
}

// ConversationInfo is the identity of a newly created conversation.
type ConversationInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// CreateConversation allocates a new conversation server-side.
func (c *Client) CreateConversation(ctx context.Context) (ConversationInfo, error) {
	var info ConversationInfo
	if err := c.doJSON(ctx, http.MethodPost, "/conversations", nil, &info); err != nil {
		return ConversationInfo{}, err
	}
	return info, nil
}

// ListMessages fetches the ordered message list of a conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var wire []wireMessage
	path := fmt.Sprintf("/conversations/%s/messages", conversationID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	return toModelMessages(wire), nil
}

// EditResult is the identity of the sibling message created by an edit.
type EditResult struct {
	ID        string
	ParentID  string
	CreatedAt time.Time
}

// EditMessage creates a sibling of messageID carrying newContent. The
// original message is untouched; the server answers with the sibling's
// identity.
func (c *Client) EditMessage(ctx context.Context, messageID, newContent, mode string) (EditResult, error) {
	body := struct {
		NewContent string `json:"new_content"`
		Mode       string `json:"mode,omitempty"`
	}{NewContent: newContent, Mode: mode}

	var wire struct {
		ID        string    `json:"id"`
		ParentID  *string   `json:"parent_id"`
		CreatedAt time.Time `json:"created_at"`
	}
	path := fmt.Sprintf("/messages/%s/edit", messageID)
	if err := c.doJSON(ctx, http.MethodPost, path, body, &wire); err != nil {
		return EditResult{}, err
	}

	res := EditResult{ID: wire.ID, CreatedAt: wire.CreatedAt}
	if wire.ParentID != nil {
		res.ParentID = *wire.ParentID
	}
	return res, nil
}

// Thread fetches the ordered messages forming the thread that ends at
// messageID, root first. Used for branch navigation.
func (c *Client) Thread(ctx context.Context, messageID string) ([]model.Message, error) {
	var wire []wireMessage
	path := fmt.Sprintf("/messages/%s/thread", messageID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	return toModelMessages(wire), nil
}

// GenerateRequest asks the backend to generate an assistant reply.
// ParentID carries the message the reply should chain from; it is set for
// edits, where the user message already exists server-side.
type GenerateRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	Mode           string `json:"mode,omitempty"`
	ParentID       string `json:"parent_id,omitempty"`
}

// GenerateStream opens the generation stream and returns the raw response
// body. The caller owns decoding and must close the body; cancelling ctx
// tears the connection down mid-stream.
func (c *Client) GenerateStream(ctx context.Context, greq GenerateRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(greq)
	if err != nil {
		return nil, fmt.Errorf("backend: encoding generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate/stream", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("backend: building generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.authorize(req)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: opening generation stream: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	c.log.Debug("generation stream opened",
		zap.String("conversation_id", greq.ConversationID),
		zap.String("mode", greq.Mode),
	)
	return resp.Body, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("backend: building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("backend: decoding %s %s response: %w", method, path, err)
		}
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrAuthExpired
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
}

type wireMessage struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ParentID  *string        `json:"parent_id"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (w wireMessage) toModel() model.Message {
	m := model.Message{
		ID:        w.ID,
		Role:      model.Role(w.Role),
		Content:   w.Content,
		CreatedAt: w.CreatedAt,
	}
	if w.ParentID != nil {
		m.ParentID = *w.ParentID
	}
	if mode, ok := w.Metadata["mode"].(string); ok {
		m.Mode = mode
	}
	return m
}

func toModelMessages(wire []wireMessage) []model.Message {
	out := make([]model.Message, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toModel())
	}
	return out
}
