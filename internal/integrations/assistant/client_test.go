package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-widget/internal/domain"
	"chat-widget/internal/retry"
)

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("", "support")
	require.Error(t, err)
	require.Contains(t, err.Error(), "server URL")

	_, err = NewClient("https://chat.example.com", " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "assistant id")

	_, err = NewClient("not a url", "support")
	require.Error(t, err)
}

func TestClient_URLs(t *testing.T) {
	c, err := NewClient("https://chat.example.com/", "support")
	require.NoError(t, err)
	require.Equal(t, "https://chat.example.com/api/v1/chat/support/start_chat", c.startURL())
	require.Equal(t, "https://chat.example.com/api/v1/chat/support/chat", c.chatURL())
	require.Equal(t, "https://chat.example.com/api/v1/chat/sessions/abc123/history", c.historyURL("abc123"))
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(srv.URL, "support",
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
		WithRetry(retry.Config{Attempts: 3, InitialDelay: time.Millisecond}),
	)
	require.NoError(t, err)
	return c
}

// ---------------------------------------------------------------------------
// StartSession
// ---------------------------------------------------------------------------

func TestClient_StartSession_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/chat/support/start_chat", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NotEmpty(t, r.Header.Get(correlationHeader))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, map[string]any{"message": "Hello"}, body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"session_id":"abc123","response":"Hi there"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	out, err := c.StartSession(context.Background(), "Hello")
	require.NoError(t, err)
	require.Equal(t, StartResult{SessionID: "abc123", Response: "Hi there"}, out)
}

func TestClient_StartSession_MissingSessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"Hi there"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.StartSession(context.Background(), "Hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing session_id")
}

func TestClient_StartSession_Non200IsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"down"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.StartSession(context.Background(), "Hello")
	require.Error(t, err)

	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusServiceUnavailable, statusErr.HTTPStatusCode())
	require.Equal(t, int32(1), calls.Load())
}

// ---------------------------------------------------------------------------
// SendMessage
// ---------------------------------------------------------------------------

func TestClient_SendMessage_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/chat/support/chat", r.URL.Path)
		var body chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, chatRequest{Message: "next", SessionID: "abc123"}, body)
		_, _ = w.Write([]byte(`{"response":"sure"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	reply, err := c.SendMessage(context.Background(), "abc123", "next")
	require.NoError(t, err)
	require.Equal(t, "sure", reply)
}

func TestClient_SendMessage_SucceedsOnThirdAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"response":"third time lucky"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	reply, err := c.SendMessage(context.Background(), "abc123", "ping")
	require.NoError(t, err)
	require.Equal(t, "third time lucky", reply)
	require.Equal(t, int32(3), calls.Load())
}

func TestClient_SendMessage_FailsAfterThreeAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.SendMessage(context.Background(), "abc123", "ping")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected status 500")
	require.Equal(t, int32(3), calls.Load())
}

func TestClient_SendMessage_EmptySession(t *testing.T) {
	c, err := NewClient("https://chat.example.com", "support")
	require.NoError(t, err)
	_, err = c.SendMessage(context.Background(), "", "ping")
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// FetchHistory
// ---------------------------------------------------------------------------

func TestClient_FetchHistory_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/v1/chat/sessions/abc123/history", r.URL.Path)
		_, _ = w.Write([]byte(`{"messages":[
			{"content":"Hello","role":"user","id":"m1"},
			{"content":"Hi there","role":"assistant"}
		]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	msgs, err := c.FetchHistory(context.Background(), "abc123")
	require.NoError(t, err)
	require.Equal(t, []domain.HistoryMessage{
		{ID: "m1", Content: "Hello", Role: "user"},
		{Content: "Hi there", Role: "assistant"},
	}, msgs)
}

func TestClient_FetchHistory_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not-a-json`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.FetchHistory(context.Background(), "abc123")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode history")
}

func TestClient_FetchHistory_NotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.FetchHistory(context.Background(), "abc123")
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
	require.Equal(t, int32(1), calls.Load())
}

func TestClient_NetworkError(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1", "support",
		WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}))
	require.NoError(t, err)

	_, err = c.FetchHistory(context.Background(), "abc123")
	require.Error(t, err)
	require.Contains(t, err.Error(), "fetch history")
}
