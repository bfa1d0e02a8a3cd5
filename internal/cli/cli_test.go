package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/alpar-labs/alpar/internal/chat"
	"github.com/alpar-labs/alpar/internal/client"
	"github.com/alpar-labs/alpar/internal/fallback"
	"github.com/alpar-labs/alpar/internal/metrics"
	"github.com/alpar-labs/alpar/internal/render"
	"github.com/alpar-labs/alpar/internal/server"
	"github.com/alpar-labs/alpar/internal/turn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupDemoServer points the package client at a server with no agent.
func setupDemoServer(t *testing.T) {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	collector := metrics.NewCollector()
	srv := server.New(server.Options{
		Orchestrator: turn.New(turn.Options{Metrics: collector, Logger: quiet}),
		Metrics:      collector,
		Logger:       quiet,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	prevClient, prevLogger := apiClient, logger
	apiClient, logger = client.New(ts.URL, 5*time.Second), quiet
	t.Cleanup(func() { apiClient, logger = prevClient, prevLogger })
}

func newLineController(out, status io.Writer) *chat.Controller {
	display := &lineDisplay{out: out, status: status, theme: defaultTheme}
	return chat.New(apiClient, display, logger)
}

func TestChatLines(t *testing.T) {
	setupDemoServer(t)

	var out, status bytes.Buffer
	ctrl := newLineController(&out, &status)
	in := strings.NewReader("hola\n\n   \n/nuevo\nayuda por favor\n/salir\nnunca enviado\n")

	require.NoError(t, runChatLines(context.Background(), ctrl, in, &status))

	assert.Contains(t, out.String(), "› hola")
	assert.Contains(t, out.String(), fallback.Generate("hola"))
	assert.Contains(t, out.String(), fallback.Generate("ayuda por favor"))
	assert.NotContains(t, out.String(), "nunca enviado")
	assert.Equal(t, 2, strings.Count(out.String(), "› "), "blank lines are not sent")

	assert.Contains(t, status.String(), "Running in demo mode")
	assert.Contains(t, status.String(), "Conversación nueva")
	assert.Equal(t, "fallback-thread", ctrl.ThreadID())
}

func TestChatLinesServerDown(t *testing.T) {
	ts := httptest.NewServer(nil)
	url := ts.URL
	ts.Close()

	prevClient, prevLogger := apiClient, logger
	apiClient, logger = client.New(url, time.Second), slog.New(slog.NewTextHandler(io.Discard, nil))
	t.Cleanup(func() { apiClient, logger = prevClient, prevLogger })

	var out, status bytes.Buffer
	ctrl := newLineController(&out, &status)

	require.NoError(t, runChatLines(context.Background(), ctrl, strings.NewReader("hola\n"), &status))
	assert.Contains(t, status.String(), "Servidor no disponible")
	assert.Contains(t, out.String(), chat.Apology)
	assert.Empty(t, ctrl.ThreadID())
}

func TestAskOnce(t *testing.T) {
	setupDemoServer(t)
	ctx := context.Background()

	resp, err := askOnce(ctx, apiClient, "hola", "")
	require.NoError(t, err)
	assert.Equal(t, fallback.Generate("hola"), resp.Response)
	assert.Equal(t, "fallback-thread", resp.ThreadID)

	resp, err = askOnce(ctx, apiClient, "y ahora?", "thread_9")
	require.NoError(t, err)
	assert.Equal(t, "thread_9", resp.ThreadID, "the given thread is continued")

	_, err = askOnce(ctx, apiClient, "   ", "")
	assert.ErrorIs(t, err, chat.ErrRejected)
}

func TestAskOnceServerDown(t *testing.T) {
	ts := httptest.NewServer(nil)
	url := ts.URL
	ts.Close()

	prevLogger := logger
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	t.Cleanup(func() { logger = prevLogger })

	_, err := askOnce(context.Background(), client.New(url, time.Second), "hola", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute request")
}

func TestRenderReplyExpand(t *testing.T) {
	r, err := render.NewRenderer(render.Options{Width: 60})
	require.NoError(t, err)

	reply := "Reasoning: paso interno Final Answer: resultado"
	assert.NotContains(t, renderReply(r, reply, false), "paso interno")
	assert.Contains(t, renderReply(r, reply, true), "paso interno")
	assert.Equal(t, reply, renderReply(nil, reply, false))
}

func TestPrintStats(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordTiming(metrics.OpTurn, 20*time.Millisecond)
	c.RecordOutcome("success")
	c.RecordOutcome("degraded")
	c.RecordOutcome("success")

	snap := c.Snapshot()
	var buf bytes.Buffer
	printStats(&buf, &snap)

	out := buf.String()
	assert.Contains(t, out, "Turns:")
	assert.Contains(t, out, "Calls: 1")
	assert.NotContains(t, out, "Run polls:")
	assert.Less(t, strings.Index(out, "degraded"), strings.Index(out, "success"), "outcomes are sorted")
}

// runCmd executes cmd, expanding batches, and returns the produced messages.
func runCmd(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var msgs []tea.Msg
		for _, c := range batch {
			msgs = append(msgs, runCmd(c)...)
		}
		return msgs
	}
	return []tea.Msg{msg}
}

func newTestModel(t *testing.T) *chatModel {
	t.Helper()
	setupDemoServer(t)
	r, err := render.NewRenderer(render.Options{Width: 60})
	require.NoError(t, err)
	m := newChatModel(context.Background(), r)
	m.ctrl = chat.New(apiClient, m, logger)
	return m
}

func TestChatModelTurn(t *testing.T) {
	m := newTestModel(t)

	for _, msg := range runCmd(m.checkHealth) {
		m.Update(msg)
	}
	assert.Contains(t, m.health, "demo mode")
	assert.Contains(t, m.screen(), "Escribe tu mensaje para empezar")

	m.input.SetValue("hola")
	_, cmd := m.Update(tea.KeyPressMsg{Code: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, m.loading)
	assert.True(t, m.showChat)
	assert.Empty(t, m.input.Value())

	// A second enter while the turn is in flight is ignored.
	m.input.SetValue("otra")
	_, again := m.Update(tea.KeyPressMsg{Code: tea.KeyEnter})
	assert.Nil(t, again)

	for _, msg := range runCmd(cmd) {
		if _, ok := msg.(replyMsg); ok {
			m.Update(msg)
		}
	}
	assert.False(t, m.loading)
	require.Len(t, m.entries, 2)
	assert.Equal(t, chat.RoleAssistant, m.entries[1].role)
	assert.Equal(t, "fallback-thread", m.ctrl.ThreadID())
	assert.Contains(t, m.screen(), "¡Hola! Soy ALPAR")
}

func TestChatModelReset(t *testing.T) {
	m := newTestModel(t)

	m.input.SetValue("hola")
	_, cmd := m.Update(tea.KeyPressMsg{Code: tea.KeyEnter})
	m.Update(tea.KeyPressMsg{Code: tea.KeyEscape})
	assert.Empty(t, m.entries)
	assert.False(t, m.showChat)

	for _, msg := range runCmd(cmd) {
		if _, ok := msg.(replyMsg); ok {
			m.Update(msg)
		}
	}
	assert.Empty(t, m.entries, "reply for the cleared conversation is dropped")
	assert.False(t, m.loading)
	assert.Empty(t, m.ctrl.ThreadID())
}

func TestChatModelToggleAndStatus(t *testing.T) {
	m := newTestModel(t)
	m.ShowChat()
	m.AddMessage(chat.RoleAssistant, "Reasoning: oculto Final Answer: visible")

	assert.NotContains(t, m.screen(), "oculto")
	m.Update(tea.KeyPressMsg{Code: tea.KeyTab})
	assert.Contains(t, m.screen(), "oculto")

	m.Update(statusMsg("in_progress"))
	assert.Empty(t, m.runStatus, "status is ignored when idle")

	m.SetLoading(true)
	m.Update(statusMsg("in_progress"))
	assert.Contains(t, m.screen(), "(in_progress)")
	m.SetLoading(false)
	assert.Empty(t, m.runStatus)
}

func TestTranscriptCachesEmptyReply(t *testing.T) {
	m := newChatModel(context.Background(), nil)
	m.ShowChat()
	m.AddMessage(chat.RoleAssistant, "")
	e := m.entries[0]

	m.screen()
	assert.True(t, e.cached[0])
	assert.False(t, e.cached[1], "only the shown expand state is rendered")

	// A cached empty layout is reused rather than rendered again.
	e.text = "cambiado"
	assert.NotContains(t, m.screen(), "cambiado")

	m.Update(tea.KeyPressMsg{Code: tea.KeyTab})
	assert.Contains(t, m.screen(), "cambiado")
	assert.True(t, e.cached[1])
}

func TestTail(t *testing.T) {
	assert.Equal(t, "c\nd", tail("a\nb\nc\nd", 2))
	assert.Equal(t, "a", tail("a", 3))
}
