package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Replier produces the assistant reply for a thread. *Model implements it.
type Replier interface {
	Reply(ctx context.Context, instructions string, history []Message) (string, error)
}

// LocalOptions configures a Local backend.
type LocalOptions struct {
	Instructions string
	// RunTimeout bounds a single run. Zero means 2 minutes.
	RunTimeout time.Duration
	Logger     *slog.Logger
}

// Local emulates the thread / run model in process. Each run is executed on
// its own goroutine against a Replier; threads live until the process exits.
type Local struct {
	replier      Replier
	instructions string
	runTimeout   time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu      sync.RWMutex
	threads map[string]*localThread
	runs    map[string]*Run

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type localThread struct {
	thread   Thread
	messages []Message
}

// Compile-time check that Local implements API.
var _ API = (*Local)(nil)

// NewLocal creates a Local backend answering with replier.
func NewLocal(replier Replier, opts LocalOptions) *Local {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 2 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Local{
		replier:      replier,
		instructions: opts.Instructions,
		runTimeout:   opts.RunTimeout,
		logger:       opts.Logger,
		now:          time.Now,
		threads:      make(map[string]*localThread),
		runs:         make(map[string]*Run),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func newID(prefix string) string {
	return prefix + "_" + uuid.New().String()
}

// CreateThread implements API.
func (l *Local) CreateThread(_ context.Context) (Thread, error) {
	th := Thread{ID: newID("thread"), CreatedAt: l.now()}

	l.mu.Lock()
	l.threads[th.ID] = &localThread{thread: th}
	l.mu.Unlock()

	return th, nil
}

// CreateMessage implements API.
func (l *Local) CreateMessage(_ context.Context, threadID string, role Role, content string) (Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	th, ok := l.threads[threadID]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	msg := Message{ID: newID("msg"), Role: role, Content: content, CreatedAt: l.now()}
	th.messages = append(th.messages, msg)
	return msg, nil
}

// CreateRun implements API. The run starts queued and is picked up by a
// background goroutine.
func (l *Local) CreateRun(_ context.Context, threadID, agentID string) (Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.threads[threadID]; !ok {
		return Run{}, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	run := &Run{ID: newID("run"), ThreadID: threadID, Status: RunQueued}
	l.runs[run.ID] = run

	l.wg.Add(1)
	go l.execute(run.ID, threadID, agentID)

	return *run, nil
}

// GetRun implements API.
func (l *Local) GetRun(_ context.Context, threadID, runID string) (Run, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	run, ok := l.runs[runID]
	if !ok || run.ThreadID != threadID {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return *run, nil
}

// ListMessages implements API.
func (l *Local) ListMessages(_ context.Context, threadID string) ([]Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	th, ok := l.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	out := make([]Message, len(th.messages))
	copy(out, th.messages)
	return out, nil
}

// Close cancels outstanding runs and waits for their goroutines.
func (l *Local) Close() error {
	l.cancel()
	l.wg.Wait()
	return nil
}

func (l *Local) execute(runID, threadID, agentID string) {
	defer l.wg.Done()

	log := l.logger.With("run_id", runID, "thread_id", threadID, "agent_id", agentID)

	l.mu.Lock()
	l.runs[runID].Status = RunInProgress
	history := make([]Message, len(l.threads[threadID].messages))
	copy(history, l.threads[threadID].messages)
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(l.ctx, l.runTimeout)
	defer cancel()

	start := time.Now()
	reply, err := l.replier.Reply(ctx, l.instructions, history)
	duration := time.Since(start)

	l.mu.Lock()
	defer l.mu.Unlock()

	run := l.runs[runID]
	if err != nil {
		run.Status = RunFailed
		if ctx.Err() == context.DeadlineExceeded {
			run.Status = RunExpired
		}
		run.LastError = runErrorFor(err)
		log.Warn("local run failed", "status", run.Status, "duration_ms", duration.Milliseconds(), "error", err)
		return
	}

	th := l.threads[threadID]
	th.messages = append(th.messages, Message{
		ID:        newID("msg"),
		Role:      RoleAssistant,
		Content:   reply,
		CreatedAt: l.now(),
	})
	run.Status = RunCompleted
	log.Debug("local run completed", "duration_ms", duration.Milliseconds(), "reply_len", len(reply))
}
