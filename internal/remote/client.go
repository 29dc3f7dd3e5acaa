package remote

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
	"sync"

	"github.com/levelpath/concierge/internal/config"
	"github.com/levelpath/concierge/internal/domain"
)

// Client talks to the conversations platform over HTTP. It caches the most
// recently issued credential and attaches it to conversation calls.
type Client struct {
	cfg  config.RemoteConfig
	http *http.Client

	mu   sync.RWMutex
	cred domain.Credential
}

// NewClient creates a platform client from configuration.
func NewClient(cfg config.RemoteConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Token requests a short-lived access credential from the token service.
// The token service may answer with a bare JWT body or a JSON envelope; both
// are accepted. The issued credential is cached for subsequent calls.
func (c *Client) Token(ctx context.Context, identity, password string) (domain.Credential, error) {
	if identity == "" {
		identity = c.cfg.Identity
	}
	if password == "" {
		password = c.cfg.Password
	}

	body, err := json.Marshal(tokenRequest{Identity: identity, Password: password})
	if err != nil {
		return domain.Credential{}, fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenServiceURL, bytes.NewReader(body))
	if err != nil {
		return domain.Credential{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("token service request: %w", err)
	}
	defer closeBody(resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Credential{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Credential{}, fmt.Errorf("token service returned %d: %s", resp.StatusCode, errorBody(raw))
	}

	token := strings.TrimSpace(string(raw))
	var envelope tokenResponse
	if json.Unmarshal(raw, &envelope) == nil && envelope.Token != "" {
		token = envelope.Token
		if envelope.Identity != "" {
			identity = envelope.Identity
		}
	}
	if token == "" {
		return domain.Credential{}, fmt.Errorf("token service returned an empty token")
	}

	cred := domain.Credential{Token: token, Identity: identity}
	c.mu.Lock()
	c.cred = cred
	c.mu.Unlock()
	slog.Info("token issued", "identity", identity, "token", cred.Masked())
	return cred, nil
}

// CreateConversation creates a new conversation resource tagged with the
// assistant identifier and returns its session identifier. The platform does
// not guarantee idempotent creation, so callers must invoke this at most once
// per local session.
func (c *Client) CreateConversation(ctx context.Context, assistantID string) (string, error) {
	var out createConversationResponse
	err := c.doJSON(ctx, http.MethodPost, c.conversationsURL(""),
		createConversationRequest{AssistantID: assistantID}, &out)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("create conversation: platform returned no session id")
	}
	return out.SessionID, nil
}

// PostMessage submits a message into the conversation and returns the created
// message as the platform recorded it.
func (c *Client) PostMessage(ctx context.Context, sid, body string, author domain.Sender) (domain.Message, error) {
	var out wireMessage
	err := c.doJSON(ctx, http.MethodPost, c.conversationsURL(sid+"/messages"),
		postMessageRequest{Body: body, Author: string(author)}, &out)
	if err != nil {
		return domain.Message{}, fmt.Errorf("post message to %s: %w", sid, err)
	}
	return out.toDomain(), nil
}

// ListMessages fetches up to limit most recent messages in the conversation.
func (c *Client) ListMessages(ctx context.Context, sid string, limit int) ([]domain.Message, error) {
	u := c.conversationsURL(sid+"/messages") + "?limit=" + strconv.Itoa(limit)
	var out listMessagesResponse
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", sid, err)
	}
	msgs := make([]domain.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, m.toDomain())
	}
	return msgs, nil
}

// GetConversation fetches conversation metadata plus recent messages.
func (c *Client) GetConversation(ctx context.Context, sid string) (Conversation, []domain.Message, error) {
	var out conversationResponse
	if err := c.doJSON(ctx, http.MethodGet, c.conversationsURL(sid), nil, &out); err != nil {
		return Conversation{}, nil, fmt.Errorf("get conversation %s: %w", sid, err)
	}
	msgs := make([]domain.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, m.toDomain())
	}
	return out.Conversation, msgs, nil
}

func (c *Client) conversationsURL(suffix string) string {
	base := strings.TrimRight(c.cfg.ConversationsURL, "/")
	if suffix == "" {
		return base
	}
	return base + "/" + suffix
}

func (c *Client) doJSON(ctx context.Context, method, rawURL string, in, out interface{}) error {
	if _, err := url.Parse(rawURL); err != nil {
		return fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.cred.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cred.Token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("platform request: %w", err)
	}
	defer closeBody(resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("platform returned %d: %s", resp.StatusCode, errorBody(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func errorBody(raw []byte) string {
	var envelope errorResponse
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error != "" {
		return envelope.Error
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func closeBody(body io.Closer) {
	if err := body.Close(); err != nil {
		slog.Debug("failed to close response body", "error", err)
	}
}
