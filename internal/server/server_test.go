package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/alpar-labs/alpar/internal/agent"
	"github.com/alpar-labs/alpar/internal/charts"
	"github.com/alpar-labs/alpar/internal/fallback"
	"github.com/alpar-labs/alpar/internal/metrics"
	"github.com/alpar-labs/alpar/internal/server"
	"github.com/alpar-labs/alpar/internal/turn"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedAPI answers every run with the configured terminal status after
// one in_progress poll.
type scriptedAPI struct {
	mu       sync.Mutex
	final    agent.RunStatus
	lastErr  *agent.RunError
	polls    map[string]int
	messages map[string][]agent.Message
	threads  int
}

func newScriptedAPI(final agent.RunStatus) *scriptedAPI {
	return &scriptedAPI{final: final, polls: map[string]int{}, messages: map[string][]agent.Message{}}
}

func (a *scriptedAPI) CreateThread(context.Context) (agent.Thread, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.threads++
	return agent.Thread{ID: "thread_" + string(rune('0'+a.threads)), CreatedAt: time.Now()}, nil
}

func (a *scriptedAPI) CreateMessage(_ context.Context, threadID string, role agent.Role, content string) (agent.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	msg := agent.Message{ID: "msg_u", Role: role, Content: content}
	a.messages[threadID] = append(a.messages[threadID], msg)
	return msg, nil
}

func (a *scriptedAPI) CreateRun(_ context.Context, threadID, _ string) (agent.Run, error) {
	return agent.Run{ID: "run_" + threadID, ThreadID: threadID, Status: agent.RunQueued}, nil
}

func (a *scriptedAPI) GetRun(_ context.Context, threadID, runID string) (agent.Run, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.polls[runID]++
	run := agent.Run{ID: runID, ThreadID: threadID, Status: agent.RunInProgress}
	if a.polls[runID] > 1 {
		run.Status = a.final
		run.LastError = a.lastErr
		if a.final == agent.RunCompleted {
			a.messages[threadID] = append(a.messages[threadID], agent.Message{
				ID: "msg_a", Role: agent.RoleAssistant, Content: "Reasoning: x Final Answer: ¡Hola!",
			})
			a.polls[runID] = 0
		}
	}
	return run, nil
}

func (a *scriptedAPI) ListMessages(_ context.Context, threadID string) ([]agent.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]agent.Message(nil), a.messages[threadID]...), nil
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, api agent.API, cfg turn.Config) (*httptest.Server, *metrics.Collector) {
	t.Helper()
	collector := metrics.NewCollector()
	orch := turn.New(turn.Options{
		API:     api,
		Agent:   agent.Agent{ID: "asst_1", Name: "ALPAR"},
		Config:  cfg,
		Metrics: collector,
		Logger:  quiet(),
	})
	srv := server.New(server.Options{
		Orchestrator: orch,
		Charts:       charts.NewSampleSource(rand.New(rand.NewPCG(7, 7))),
		Metrics:      collector,
		Logger:       quiet(),
		Static: fstest.MapFS{
			"index.html": {Data: []byte("<html>ALPAR</html>")},
			"app.js":     {Data: []byte("console.log('alpar')")},
		},
		PingInterval: 50 * time.Millisecond,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, collector
}

var fast = turn.Config{PollInterval: time.Millisecond, RunTimeout: 2 * time.Second, MaxPolls: 10}

type chatReply struct {
	Response     string `json:"response"`
	ThreadID     string `json:"threadId"`
	Conversation []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
		ID      string `json:"id"`
	} `json:"conversation"`
	Error   string `json:"error"`
	Details string `json:"details"`
}

func postChat(t *testing.T, ts *httptest.Server, body string) (int, chatReply) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out chatReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestChatSuccess(t *testing.T) {
	ts, collector := newTestServer(t, newScriptedAPI(agent.RunCompleted), fast)

	status, out := postChat(t, ts, `{"message":"hola"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Reasoning: x Final Answer: ¡Hola!", out.Response)
	assert.Equal(t, "thread_1", out.ThreadID)
	require.Len(t, out.Conversation, 2)
	assert.Equal(t, "user", out.Conversation[0].Role)
	assert.Equal(t, "assistant", out.Conversation[1].Role)

	status, out = postChat(t, ts, `{"message":"otra vez","threadId":"thread_1"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "thread_1", out.ThreadID)
	assert.Len(t, out.Conversation, 4)

	assert.Equal(t, int64(2), collector.Snapshot().Outcomes["success"])
}

func TestChatBadRequest(t *testing.T) {
	ts, _ := newTestServer(t, newScriptedAPI(agent.RunCompleted), fast)

	for _, body := range []string{`not json`, `{}`, `{"message":"   "}`} {
		status, out := postChat(t, ts, body)
		assert.Equal(t, http.StatusBadRequest, status, body)
		assert.Equal(t, "Message is required", out.Error)
	}
}

func TestChatBodyTooLarge(t *testing.T) {
	api := newScriptedAPI(agent.RunCompleted)
	ts, _ := newTestServer(t, api, fast)

	body := `{"message":"` + strings.Repeat("a", 1<<20) + `"}`
	status, out := postChat(t, ts, body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	assert.Equal(t, "Request body too large", out.Error)
	assert.Zero(t, api.threads, "no thread for a rejected body")
}

func TestChatDemoMode(t *testing.T) {
	ts, _ := newTestServer(t, nil, fast)

	status, out := postChat(t, ts, `{"message":"hola"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "fallback-thread", out.ThreadID)
	assert.Equal(t, fallback.Generate("hola"), out.Response)
	require.Len(t, out.Conversation, 2)
	assert.True(t, strings.HasPrefix(out.Conversation[0].ID, "user-"))
}

func TestChatRunFailed(t *testing.T) {
	api := newScriptedAPI(agent.RunFailed)
	api.lastErr = &agent.RunError{Code: "server_error", Message: "boom"}
	ts, _ := newTestServer(t, api, fast)

	status, out := postChat(t, ts, `{"message":"hola"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Agent run failed", out.Error)
	assert.Equal(t, "server_error: boom", out.Details)
}

func TestChatRunTimedOut(t *testing.T) {
	ts, _ := newTestServer(t, newScriptedAPI(agent.RunQueued), turn.Config{PollInterval: time.Millisecond, MaxPolls: 3})

	status, out := postChat(t, ts, `{"message":"hola"}`)
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Equal(t, "Agent run timed out", out.Error)
	assert.Contains(t, out.Details, "after 3 polls")
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		api        agent.API
		configured bool
		mode       string
		agentName  string
	}{
		{"full", newScriptedAPI(agent.RunCompleted), true, "full", "ALPAR"},
		{"demo", nil, false, "demo", "Not initialized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _ := newTestServer(t, tt.api, fast)

			resp, err := http.Get(ts.URL + "/api/health")
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var out struct {
				Status     string    `json:"status"`
				Agent      string    `json:"agent"`
				Configured bool      `json:"configured"`
				Mode       string    `json:"mode"`
				Message    string    `json:"message"`
				Timestamp  time.Time `json:"timestamp"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			assert.Equal(t, "healthy", out.Status)
			assert.Equal(t, tt.agentName, out.Agent)
			assert.Equal(t, tt.configured, out.Configured)
			assert.Equal(t, tt.mode, out.Mode)
			assert.NotEmpty(t, out.Message)
			assert.WithinDuration(t, time.Now(), out.Timestamp, time.Minute)
		})
	}
}

func TestChartData(t *testing.T) {
	ts, _ := newTestServer(t, nil, fast)

	resp, err := http.Get(ts.URL + "/api/chart-data/line?period=7d&metric=errors")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Success bool        `json:"success"`
		Type    string      `json:"type"`
		Period  string      `json:"period"`
		Metric  string      `json:"metric"`
		Data    charts.Data `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Success)
	assert.Equal(t, "line", out.Type)
	assert.Equal(t, "7d", out.Period)
	assert.Equal(t, "errors", out.Metric)
	assert.Len(t, out.Data.Labels, 7)
	require.Len(t, out.Data.Datasets, 1)
	assert.Equal(t, "Errores", out.Data.Datasets[0].Label)
	for _, v := range out.Data.Datasets[0].Data {
		assert.True(t, v >= 0 && v <= 9)
	}

	resp2, err := http.Get(ts.URL + "/api/chart-data/bar")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&out))
	assert.Equal(t, "30d", out.Period)
	assert.Equal(t, "usage", out.Metric)
	assert.Len(t, out.Data.Labels, 30)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil, fast)
	postChat(t, ts, `{"message":"hola"}`)

	resp, err := http.Get(ts.URL + "/api/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	var snap metrics.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, int64(1), snap.Outcomes["degraded"])
	require.NotNil(t, snap.Turn)
	assert.Equal(t, int64(1), snap.Turn.Count)
}

func TestStaticFallback(t *testing.T) {
	ts, _ := newTestServer(t, nil, fast)

	for path, want := range map[string]string{
		"/":             "<html>ALPAR</html>",
		"/app.js":       "console.log('alpar')",
		"/some/spa/url": "<html>ALPAR</html>",
	} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, want, string(body), path)
	}
}

func TestMiddleware(t *testing.T) {
	ts, _ := newTestServer(t, nil, fast)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/health", nil)
	req.Header.Set("X-Request-ID", "req-fixed")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-fixed", resp.Header.Get("X-Request-ID"))

	req, _ = http.NewRequest(http.MethodOptions, ts.URL+"/api/chat", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

type frame struct {
	Type     string `json:"type"`
	Status   string `json:"status"`
	Response string `json:"response"`
	ThreadID string `json:"threadId"`
	Error    string `json:"error"`
	Details  string `json:"details"`
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

// readTerminal reads frames until a reply or error frame, returning the
// statuses seen on the way.
func readTerminal(t *testing.T, conn *websocket.Conn) ([]string, frame) {
	t.Helper()
	var statuses []string
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == "status" {
			statuses = append(statuses, f.Status)
			continue
		}
		return statuses, f
	}
}

func TestChatWebsocket(t *testing.T) {
	ts, _ := newTestServer(t, newScriptedAPI(agent.RunCompleted), fast)
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]string{"message": "hola"}))
	statuses, f := readTerminal(t, conn)
	assert.Equal(t, []string{"queued", "in_progress", "completed"}, statuses)
	assert.Equal(t, "reply", f.Type)
	assert.Equal(t, "thread_1", f.ThreadID)
	assert.Equal(t, "Reasoning: x Final Answer: ¡Hola!", f.Response)

	require.NoError(t, conn.WriteJSON(map[string]string{"message": " "}))
	_, f = readTerminal(t, conn)
	assert.Equal(t, "error", f.Type)
	assert.Equal(t, "Message is required", f.Error)

	require.NoError(t, conn.WriteJSON(map[string]string{"message": "sigo", "threadId": "thread_1"}))
	_, f = readTerminal(t, conn)
	assert.Equal(t, "reply", f.Type)
	assert.Equal(t, "thread_1", f.ThreadID)
}

func TestChatWebsocketPings(t *testing.T) {
	ts, _ := newTestServer(t, nil, fast)
	conn := dialWS(t, ts)

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
}
