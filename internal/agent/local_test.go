package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// fakeLLM is a langchaingo model that records the prompt and replies with a
// fixed answer or error.
type fakeLLM struct {
	mu       sync.Mutex
	reply    string
	err      error
	block    chan struct{}
	messages []llms.MessageContent
}

func (f *fakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.messages = messages
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func (f *fakeLLM) prompt() []llms.MessageContent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages
}

func waitForRun(t *testing.T, api API, threadID, runID string) Run {
	t.Helper()
	var run Run
	require.Eventually(t, func() bool {
		got, err := api.GetRun(context.Background(), threadID, runID)
		if err != nil {
			return false
		}
		run = got
		return !run.Status.Pending()
	}, 2*time.Second, 5*time.Millisecond)
	return run
}

func TestLocalRunCompletes(t *testing.T) {
	ctx := context.Background()
	llm := &fakeLLM{reply: "Reasoning: pensar Final Answer: listo"}
	local := NewLocal(NewModelFrom(llm, "fake"), LocalOptions{Instructions: "be brief"})
	defer local.Close()

	th, err := local.CreateThread(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, th.ID)

	_, err = local.CreateMessage(ctx, th.ID, RoleUser, "hola")
	require.NoError(t, err)

	run, err := local.CreateRun(ctx, th.ID, "alpar-local")
	require.NoError(t, err)
	assert.Equal(t, RunQueued, run.Status)

	run = waitForRun(t, local, th.ID, run.ID)
	assert.Equal(t, RunCompleted, run.Status)
	assert.Nil(t, run.LastError)

	msgs, err := local.ListMessages(ctx, th.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Reasoning: pensar Final Answer: listo", msgs[1].Content)

	prompt := llm.prompt()
	require.Len(t, prompt, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, prompt[0].Role)
	assert.Equal(t, llms.TextContent{Text: "be brief"}, prompt[0].Parts[0])
	assert.Equal(t, llms.ChatMessageTypeHuman, prompt[1].Role)
}

func TestLocalRunSendsHistory(t *testing.T) {
	ctx := context.Background()
	llm := &fakeLLM{reply: "ok"}
	local := NewLocal(NewModelFrom(llm, "fake"), LocalOptions{})
	defer local.Close()

	th, _ := local.CreateThread(ctx)
	for i := 0; i < 2; i++ {
		_, err := local.CreateMessage(ctx, th.ID, RoleUser, "turn")
		require.NoError(t, err)
		run, err := local.CreateRun(ctx, th.ID, "a")
		require.NoError(t, err)
		waitForRun(t, local, th.ID, run.ID)
	}

	prompt := llm.prompt()
	require.Len(t, prompt, 3, "second run sees user, assistant, user")
	assert.Equal(t, llms.ChatMessageTypeAI, prompt[1].Role)
}

func TestLocalRunFails(t *testing.T) {
	ctx := context.Background()
	local := NewLocal(NewModelFrom(&fakeLLM{err: errors.New("quota exceeded")}, "fake"), LocalOptions{})
	defer local.Close()

	th, _ := local.CreateThread(ctx)
	_, _ = local.CreateMessage(ctx, th.ID, RoleUser, "hola")
	run, err := local.CreateRun(ctx, th.ID, "a")
	require.NoError(t, err)

	run = waitForRun(t, local, th.ID, run.ID)
	assert.Equal(t, RunFailed, run.Status)
	require.NotNil(t, run.LastError)
	assert.Equal(t, "fatal_api_error", run.LastError.Code)

	msgs, _ := local.ListMessages(ctx, th.ID)
	assert.Len(t, msgs, 1, "failed run adds no assistant message")
}

func TestLocalRunExpires(t *testing.T) {
	ctx := context.Background()
	llm := &fakeLLM{reply: "late", block: make(chan struct{})}
	local := NewLocal(NewModelFrom(llm, "fake"), LocalOptions{RunTimeout: 20 * time.Millisecond})
	defer local.Close()

	th, _ := local.CreateThread(ctx)
	_, _ = local.CreateMessage(ctx, th.ID, RoleUser, "hola")
	run, _ := local.CreateRun(ctx, th.ID, "a")

	run = waitForRun(t, local, th.ID, run.ID)
	assert.Equal(t, RunExpired, run.Status)
}

func TestLocalUnknownIDs(t *testing.T) {
	ctx := context.Background()
	local := NewLocal(NewModelFrom(&fakeLLM{}, "fake"), LocalOptions{})
	defer local.Close()

	_, err := local.CreateMessage(ctx, "missing", RoleUser, "x")
	assert.ErrorIs(t, err, ErrThreadNotFound)

	_, err = local.CreateRun(ctx, "missing", "a")
	assert.ErrorIs(t, err, ErrThreadNotFound)

	_, err = local.ListMessages(ctx, "missing")
	assert.ErrorIs(t, err, ErrThreadNotFound)

	_, err = local.GetRun(ctx, "missing", "run_x")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestLocalCloseCancelsRuns(t *testing.T) {
	ctx := context.Background()
	llm := &fakeLLM{block: make(chan struct{})}
	local := NewLocal(NewModelFrom(llm, "fake"), LocalOptions{RunTimeout: time.Minute})

	th, _ := local.CreateThread(ctx)
	_, _ = local.CreateMessage(ctx, th.ID, RoleUser, "hola")
	run, _ := local.CreateRun(ctx, th.ID, "a")

	require.NoError(t, local.Close())

	got, err := local.GetRun(ctx, th.ID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, got.Status)
}

func TestModelReplyNoChoices(t *testing.T) {
	m := NewModelFrom(emptyLLM{}, "empty")
	_, err := m.Reply(context.Background(), "", []Message{{Role: RoleUser, Content: "hola"}})
	assert.EqualError(t, err, "no response choices")
	assert.Equal(t, "empty", m.Model())
}

type emptyLLM struct{}

func (emptyLLM) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{}, nil
}

func (emptyLLM) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return "", nil
}
