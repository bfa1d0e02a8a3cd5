// Package turn runs one conversation turn against the agent API: thread
// lifecycle, message submission, run polling and reply extraction, with a
// fallback reply when the agent cannot be reached.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpar-labs/alpar/internal/agent"
	"github.com/alpar-labs/alpar/internal/config"
	"github.com/alpar-labs/alpar/internal/fallback"
	"github.com/alpar-labs/alpar/internal/metrics"
	"github.com/alpar-labs/alpar/internal/session"
	"github.com/google/uuid"
)

// Sentinel thread ids returned in degraded mode.
const (
	FallbackThreadID = "fallback-thread"
	ErrorThreadID    = "error-thread"
)

// NoResponse is the reply used when a finished run left no assistant message.
const NoResponse = "No response received"

var (
	// ErrInvalidRequest means the message was empty after trimming.
	ErrInvalidRequest = errors.New("message is required")

	// ErrAgentUnavailable means no agent backend was initialized.
	ErrAgentUnavailable = errors.New("agent unavailable")

	// ErrRunFailed means the run ended with status failed.
	ErrRunFailed = errors.New("agent run failed")

	// ErrRunTimedOut means the run was still pending when the poll budget ran
	// out.
	ErrRunTimedOut = errors.New("agent run timed out")
)

// Outcome classifies how a turn ended.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeDegraded
	OutcomeInvalidRequest
	OutcomeRunFailed
	OutcomeRunTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeDegraded:
		return "degraded"
	case OutcomeInvalidRequest:
		return "invalid_request"
	case OutcomeRunFailed:
		return "run_failed"
	case OutcomeRunTimedOut:
		return "run_timed_out"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the outcome of HandleTurn. Response, ThreadID and Conversation
// are set for OutcomeSuccess and OutcomeDegraded. Err holds the sentinel
// error (possibly wrapped) for every other outcome, and the degradation
// reason for OutcomeDegraded.
type Result struct {
	Outcome      Outcome
	Response     string
	ThreadID     string
	Conversation []agent.Message
	Err          error
	// Details is the upstream error detail for OutcomeRunFailed and
	// OutcomeRunTimedOut.
	Details string
}

// OK reports whether the result carries a reply.
func (r Result) OK() bool {
	return r.Outcome == OutcomeSuccess || r.Outcome == OutcomeDegraded
}

// Config bounds run polling.
type Config struct {
	PollInterval time.Duration
	RunTimeout   time.Duration
	// MaxPolls caps the number of run status requests. Zero disables the cap.
	MaxPolls int
}

// DefaultConfig returns one poll per second for at most a minute.
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		RunTimeout:   60 * time.Second,
		MaxPolls:     60,
	}
}

// PollBudget is the longest a turn may spend polling: the larger of
// RunTimeout and MaxPolls*PollInterval. Zero means polling is unbounded.
func (c Config) PollBudget() time.Duration {
	if c.RunTimeout <= 0 && c.MaxPolls <= 0 {
		return 0
	}
	budget := max(c.RunTimeout, 0)
	if c.MaxPolls > 0 {
		budget = max(budget, time.Duration(c.MaxPolls)*c.PollInterval)
	}
	return budget
}

// StatusFunc observes run status changes while a turn is polled.
type StatusFunc func(agent.RunStatus)

// Options configures an Orchestrator.
type Options struct {
	// API is nil when no agent backend could be initialized.
	API     agent.API
	Agent   agent.Agent
	Store   session.Store
	Config  Config
	Metrics metrics.Recorder
	Logger  *slog.Logger
}

// Orchestrator executes conversation turns. It is safe for concurrent use;
// each turn polls on its caller's goroutine.
type Orchestrator struct {
	api     agent.API
	agent   agent.Agent
	store   session.Store
	cfg     Config
	metrics metrics.Recorder
	logger  *slog.Logger

	newID func() string
}

// New creates an Orchestrator. Missing store, metrics and logger are replaced
// by an in-memory store, a discarding recorder and slog.Default.
func New(opts Options) *Orchestrator {
	if opts.Store == nil {
		opts.Store = session.NewMemoryStore()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		api:     opts.API,
		agent:   opts.Agent,
		store:   opts.Store,
		cfg:     opts.Config,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		newID:   func() string { return uuid.NewString()[:8] },
	}
}

// Available reports whether an agent backend is configured.
func (o *Orchestrator) Available() bool {
	return o.api != nil
}

// Agent returns the agent turns are run against.
func (o *Orchestrator) Agent() agent.Agent {
	return o.agent
}

// HandleTurn runs one turn for message on threadID, creating a thread when
// threadID is empty.
func (o *Orchestrator) HandleTurn(ctx context.Context, message, threadID string) Result {
	return o.HandleTurnWithStatus(ctx, message, threadID, nil)
}

// HandleTurnWithStatus is HandleTurn with onStatus called for every polled
// run status. onStatus may be nil.
func (o *Orchestrator) HandleTurnWithStatus(ctx context.Context, message, threadID string, onStatus StatusFunc) Result {
	start := time.Now()
	res := o.handle(ctx, message, threadID, onStatus)
	o.metrics.RecordTiming(metrics.OpTurn, time.Since(start))
	o.metrics.RecordOutcome(res.Outcome.String())
	return res
}

func (o *Orchestrator) handle(ctx context.Context, message, threadID string, onStatus StatusFunc) Result {
	log := config.LoggerFromContext(ctx, o.logger)

	if strings.TrimSpace(message) == "" {
		return Result{Outcome: OutcomeInvalidRequest, Err: ErrInvalidRequest}
	}

	if o.api == nil {
		log.Info("agent not initialized, using fallback response")
		return o.degraded(message, threadID, FallbackThreadID, ErrAgentUnavailable)
	}

	res, err := o.run(ctx, log, message, threadID, onStatus)
	if err != nil {
		log.Warn("turn failed, using fallback response", "thread_id", threadID, "error", err)
		return o.degraded(message, threadID, ErrorThreadID, err)
	}
	return res
}

// run performs the agent round trip. A returned error is transient and
// turned into a degraded reply; run failures and timeouts come back as
// results.
func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, message, threadID string, onStatus StatusFunc) (Result, error) {
	if threadID == "" {
		var th agent.Thread
		err := o.call(func() (err error) {
			th, err = o.api.CreateThread(ctx)
			return err
		})
		if err != nil {
			return Result{}, fmt.Errorf("create thread: %w", err)
		}
		threadID = th.ID
		createdAt := th.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		o.store.PutIfAbsent(session.Thread{ID: th.ID, CreatedAt: createdAt})
		log.Info("created thread", "thread_id", threadID)
	}
	log = log.With("thread_id", threadID)

	err := o.call(func() error {
		_, err := o.api.CreateMessage(ctx, threadID, agent.RoleUser, message)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("create message: %w", err)
	}

	var run agent.Run
	err = o.call(func() (err error) {
		run, err = o.api.CreateRun(ctx, threadID, o.agent.ID)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("create run: %w", err)
	}
	log = log.With("run_id", run.ID)
	log.Debug("run started", "status", run.Status)
	if onStatus != nil {
		onStatus(run.Status)
	}

	run, err = o.awaitRun(ctx, threadID, run, onStatus)
	if errors.Is(err, ErrRunTimedOut) {
		log.Warn("run timed out", "status", run.Status, "error", err)
		return Result{
			Outcome:  OutcomeRunTimedOut,
			ThreadID: threadID,
			Err:      err,
			Details:  err.Error(),
		}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if run.Status == agent.RunFailed {
		details := ""
		if run.LastError != nil {
			details = run.LastError.String()
		}
		log.Error("run failed", "details", details)
		return Result{
			Outcome:  OutcomeRunFailed,
			ThreadID: threadID,
			Err:      fmt.Errorf("%w: %s", ErrRunFailed, details),
			Details:  details,
		}, nil
	}
	log.Debug("run finished", "status", run.Status)

	var conversation []agent.Message
	err = o.call(func() (err error) {
		conversation, err = o.api.ListMessages(ctx, threadID)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("list messages: %w", err)
	}

	return Result{
		Outcome:      OutcomeSuccess,
		Response:     latestReply(conversation),
		ThreadID:     threadID,
		Conversation: conversation,
	}, nil
}

// awaitRun polls run until it leaves queued / in_progress. The wait is bounded
// by RunTimeout and MaxPolls; exhausting either yields ErrRunTimedOut.
func (o *Orchestrator) awaitRun(ctx context.Context, threadID string, run agent.Run, onStatus StatusFunc) (agent.Run, error) {
	pollCtx := ctx
	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	timedOut := func() error {
		return fmt.Errorf("%w: run %s still %s after %s", ErrRunTimedOut, run.ID, run.Status, o.cfg.RunTimeout)
	}

	timer := time.NewTimer(o.cfg.PollInterval)
	defer timer.Stop()

	polls := 0
	for run.Status.Pending() {
		if o.cfg.MaxPolls > 0 && polls >= o.cfg.MaxPolls {
			return run, fmt.Errorf("%w: run %s still %s after %d polls", ErrRunTimedOut, run.ID, run.Status, polls)
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return run, fmt.Errorf("poll run: %w", ctx.Err())
			}
			return run, timedOut()
		case <-timer.C:
		}

		start := time.Now()
		next, err := o.api.GetRun(pollCtx, threadID, run.ID)
		o.metrics.RecordTiming(metrics.OpRunPoll, time.Since(start))
		polls++
		if err != nil {
			if pollCtx.Err() != nil && ctx.Err() == nil {
				return run, timedOut()
			}
			return run, fmt.Errorf("get run: %w", err)
		}

		if next.Status != run.Status && onStatus != nil {
			onStatus(next.Status)
		}
		run = next
		timer.Reset(o.cfg.PollInterval)
	}
	return run, nil
}

// call times one agent API request.
func (o *Orchestrator) call(fn func() error) error {
	start := time.Now()
	err := fn()
	o.metrics.RecordTiming(metrics.OpAgentCall, time.Since(start))
	return err
}

func (o *Orchestrator) degraded(message, threadID, sentinel string, reason error) Result {
	start := time.Now()
	reply := fallback.Generate(message)
	o.metrics.RecordTiming(metrics.OpFallback, time.Since(start))

	if threadID == "" {
		threadID = sentinel
	}
	return Result{
		Outcome:  OutcomeDegraded,
		Response: reply,
		ThreadID: threadID,
		Conversation: []agent.Message{
			{ID: "user-" + o.newID(), Role: agent.RoleUser, Content: message},
			{ID: "assistant-" + o.newID(), Role: agent.RoleAssistant, Content: reply},
		},
		Err: reason,
	}
}

// latestReply returns the newest assistant message in conversation.
func latestReply(conversation []agent.Message) string {
	for i := len(conversation) - 1; i >= 0; i-- {
		if conversation[i].Role == agent.RoleAssistant {
			return conversation[i].Content
		}
	}
	return NoResponse
}
