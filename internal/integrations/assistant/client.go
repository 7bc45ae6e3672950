package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chat-widget/internal/domain"
	"chat-widget/internal/retry"
)

const correlationHeader = "X-Correlation-Id"

// startRequest is the request shape for the start_chat endpoint.
type startRequest struct {
	Message string `json:"message"`
}

// startResponse is the response shape for the start_chat endpoint.
type startResponse struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Response string `json:"response"`
}

type historyResponse struct {
	Messages []domain.HistoryMessage `json:"messages"`
}

// StartResult is what the server returns when a session is opened.
type StartResult struct {
	SessionID string
	Response  string
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("assistant: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to the assistant chat API on behalf of one widget.
type Client struct {
	baseURL     string
	assistantID string
	httpClient  *http.Client
	retry       retry.Config
	logger      *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRetry overrides the backoff used by SendMessage.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a Client for the given server and assistant.
func NewClient(serverURL, assistantID string, opts ...Option) (*Client, error) {
	serverURL = strings.TrimRight(strings.TrimSpace(serverURL), "/")
	if serverURL == "" {
		return nil, errors.New("assistant: server URL must not be empty")
	}
	if _, err := url.ParseRequestURI(serverURL); err != nil {
		return nil, fmt.Errorf("assistant: invalid server URL: %w", err)
	}
	assistantID = strings.TrimSpace(assistantID)
	if assistantID == "" {
		return nil, errors.New("assistant: assistant id must not be empty")
	}
	c := &Client{
		baseURL:     serverURL,
		assistantID: assistantID,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retry:       retry.DefaultConfig(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.Logger == nil {
		c.retry.Logger = c.logger
	}
	return c, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (c *Client) startURL() string {
	return c.baseURL + "/api/v1/chat/" + url.PathEscape(c.assistantID) + "/start_chat"
}

func (c *Client) chatURL() string {
	return c.baseURL + "/api/v1/chat/" + url.PathEscape(c.assistantID) + "/chat"
}

func (c *Client) historyURL(sessionID string) string {
	return c.baseURL + "/api/v1/chat/sessions/" + url.PathEscape(sessionID) + "/history"
}

// StartSession opens a new session with the user's first message. Retrying
// is left to the caller.
func (c *Client) StartSession(ctx context.Context, message string) (StartResult, error) {
	var out startResponse
	if err := c.postJSON(ctx, c.startURL(), startRequest{Message: message}, &out); err != nil {
		return StartResult{}, fmt.Errorf("assistant: start session: %w", err)
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return StartResult{}, errors.New("assistant: start session: response missing session_id")
	}
	return StartResult{SessionID: out.SessionID, Response: out.Response}, nil
}

// SendMessage posts a message to an existing session, retrying with
// exponential backoff. Only the final failure is returned.
func (c *Client) SendMessage(ctx context.Context, sessionID, message string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", errors.New("assistant: session id must not be empty")
	}
	reply, err := retry.Do(ctx, c.retry, "send_message", func(ctx context.Context) (string, error) {
		var out chatResponse
		if err := c.postJSON(ctx, c.chatURL(), chatRequest{Message: message, SessionID: sessionID}, &out); err != nil {
			return "", err
		}
		return out.Response, nil
	})
	if err != nil {
		return "", fmt.Errorf("assistant: send message: %w", err)
	}
	return reply, nil
}

// FetchHistory returns the full ordered history of a session.
func (c *Client) FetchHistory(ctx context.Context, sessionID string) ([]domain.HistoryMessage, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.New("assistant: session id must not be empty")
	}
	u := c.historyURL(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("assistant: create history request: %w", err)
	}
	raw, err := c.doJSONRequest(req, u)
	if err != nil {
		return nil, fmt.Errorf("assistant: fetch history: %w", err)
	}
	var out historyResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("assistant: decode history: %w", err)
	}
	return out.Messages, nil
}

func (c *Client) postJSON(ctx context.Context, u string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := c.doJSONRequest(req, u)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) doJSONRequest(req *http.Request, u string) ([]byte, error) {
	correlationID := newCorrelationID()
	req.Header.Set(correlationHeader, correlationID)
	req.Header.Set("Accept", "application/json")

	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		c.logger.Debug("assistant request failed",
			zap.String("url", u),
			zap.String("correlation_id", correlationID),
			zap.Error(doErr))
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        u,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

var newCorrelationID = func() string {
	return uuid.NewString()
}
