// Package client provides an HTTP and websocket client for the ALPAR chat
// server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/alpar-labs/alpar/internal/charts"
	"github.com/alpar-labs/alpar/internal/metrics"
	"github.com/gorilla/websocket"
)

// DefaultServerURL is used when neither an explicit URL nor ALPAR_SERVER_URL
// is set.
const DefaultServerURL = "http://localhost:5000"

// Client talks to alpar-server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for baseURL.
// If baseURL is empty, uses ALPAR_SERVER_URL or defaults to localhost:5000.
// A zero timeout means ALPAR_CLIENT_TIMEOUT, or 2 minutes; a turn may poll the
// agent for up to a minute.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("ALPAR_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = DefaultServerURL
	}

	if timeout <= 0 {
		timeout = 2 * time.Minute
		if t := os.Getenv("ALPAR_CLIENT_TIMEOUT"); t != "" {
			if d, err := time.ParseDuration(t); err == nil {
				timeout = d
			}
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the server URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// TYPES (matching the server's JSON)
// =============================================================================

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	ID      string `json:"id"`
}

// ChatResponse is the result of a successful turn.
type ChatResponse struct {
	Response     string    `json:"response"`
	ThreadID     string    `json:"threadId"`
	Conversation []Message `json:"conversation"`
}

// Health is the server health report.
type Health struct {
	Status     string    `json:"status"`
	Agent      string    `json:"agent"`
	Configured bool      `json:"configured"`
	Mode       string    `json:"mode"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// ChartData is the chart-data endpoint response.
type ChartData struct {
	Success bool        `json:"success"`
	Type    string      `json:"type"`
	Period  string      `json:"period"`
	Metric  string      `json:"metric"`
	Data    charts.Data `json:"data"`
}

type chatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"threadId,omitempty"`
}

// StatusError is returned when the server answers with a non-2xx status or
// the websocket turn ends with an error frame.
type StatusError struct {
	Code    int
	Message string
	Details string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Code)
	}
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	if e.Code == 0 {
		return "server error: " + msg
	}
	return fmt.Sprintf("server error: %d %s", e.Code, msg)
}

// =============================================================================
// REST
// =============================================================================

// Chat sends one message. An empty threadID starts a new conversation.
func (c *Client) Chat(ctx context.Context, message, threadID string) (*ChatResponse, error) {
	var resp ChatResponse
	if err := c.do(ctx, http.MethodPost, "/api/chat", chatRequest{Message: message, ThreadID: threadID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health fetches the server health report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// ChartData fetches sample chart data. Empty period or metric use the
// server defaults.
func (c *Client) ChartData(ctx context.Context, chartType, period, metric string) (*ChartData, error) {
	q := url.Values{}
	if period != "" {
		q.Set("period", period)
	}
	if metric != "" {
		q.Set("metric", metric)
	}
	path := "/api/chart-data/" + url.PathEscape(chartType)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out ChartData
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Metrics fetches the server's turn statistics.
func (c *Client) Metrics(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/metrics", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{Code: resp.StatusCode, Message: e.Error, Details: e.Details}
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// =============================================================================
// WEBSOCKET
// =============================================================================

// wsFrame is a server-to-client frame on /api/chat/ws.
type wsFrame struct {
	Type         string    `json:"type"`
	Status       string    `json:"status"`
	Response     string    `json:"response"`
	ThreadID     string    `json:"threadId"`
	Conversation []Message `json:"conversation"`
	Error        string    `json:"error"`
	Details      string    `json:"details"`
}

// ChatStream sends one message over the websocket endpoint. onStatus is
// called with every run status the server reports; it may be nil.
func (c *Client) ChatStream(ctx context.Context, message, threadID string, onStatus func(status string)) (*ChatResponse, error) {
	wsEndpoint := c.baseURL + "/api/chat/ws"
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	// Track connection state for proper cleanup
	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		}
	}
	defer closeConn()

	if err := conn.WriteJSON(chatRequest{Message: message, ThreadID: threadID}); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	// Handle context cancellation in a separate goroutine
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read frame: %w", err)
		}

		switch f.Type {
		case "status":
			if onStatus != nil {
				onStatus(f.Status)
			}
		case "reply":
			return &ChatResponse{Response: f.Response, ThreadID: f.ThreadID, Conversation: f.Conversation}, nil
		case "error":
			return nil, &StatusError{Message: f.Error, Details: f.Details}
		default:
			return nil, fmt.Errorf("unexpected frame type %q", f.Type)
		}
	}
}
