// Package agent talks to a hosted conversational agent through the
// thread / message / run model used by the Assistants API.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpar-labs/alpar/internal/config"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// RunStatus is the state of a run as reported by the agent API.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCancelled      RunStatus = "cancelled"
	RunExpired        RunStatus = "expired"
	RunIncomplete     RunStatus = "incomplete"
)

// Pending reports whether a run in this status is still being worked on.
// Only queued and in_progress count; every other value ends polling.
func (s RunStatus) Pending() bool {
	return s == RunQueued || s == RunInProgress
}

// Thread is a conversation held by the agent API.
type Thread struct {
	ID        string
	CreatedAt time.Time
}

// Message is one turn within a thread.
type Message struct {
	ID        string
	Role      Role
	Content   string
	CreatedAt time.Time
}

// RunError carries the upstream detail of a failed run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RunError) String() string {
	if e == nil {
		return ""
	}
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Run is one execution of the agent against a thread.
type Run struct {
	ID        string
	ThreadID  string
	Status    RunStatus
	LastError *RunError
}

// Agent identifies the assistant that runs are started against.
type Agent struct {
	ID   string
	Name string
}

// API is the subset of the agent service used to drive a conversation turn.
type API interface {
	CreateThread(ctx context.Context) (Thread, error)
	CreateMessage(ctx context.Context, threadID string, role Role, content string) (Message, error)
	CreateRun(ctx context.Context, threadID, agentID string) (Run, error)
	GetRun(ctx context.Context, threadID, runID string) (Run, error)
	// ListMessages returns the thread's text messages, oldest first.
	ListMessages(ctx context.Context, threadID string) ([]Message, error)
}

// Connect builds the backend selected by cfg.AgentBackend and resolves the
// agent. Any error means the caller should run in demo mode.
func Connect(ctx context.Context, cfg config.Config, logger *slog.Logger) (API, Agent, error) {
	switch cfg.AgentBackend {
	case config.BackendAssistants:
		if cfg.AgentAPIKey == "" {
			return nil, Agent{}, fmt.Errorf("%w: agent API key required", ErrNotConfigured)
		}
		if cfg.AgentID == "" {
			return nil, Agent{}, fmt.Errorf("%w: agent id required", ErrNotConfigured)
		}
		api := NewAssistants(cfg)
		a, err := api.Agent(ctx, cfg.AgentID)
		if err != nil {
			return nil, Agent{}, err
		}
		logger.Info("agent backend ready", "backend", cfg.AgentBackend, "agent", a.Name, "agent_id", a.ID)
		return api, a, nil

	case config.BackendLocal:
		model, err := NewModel(ctx, cfg)
		if err != nil {
			return nil, Agent{}, err
		}
		id := cfg.AgentID
		if id == "" {
			id = "alpar-local"
		}
		a := Agent{ID: id, Name: fmt.Sprintf("ALPAR (%s)", model.Model())}
		local := NewLocal(model, LocalOptions{
			Instructions: cfg.AgentInstructions,
			RunTimeout:   cfg.RunTimeout,
			Logger:       logger,
		})
		logger.Info("agent backend ready", "backend", cfg.AgentBackend, "provider", cfg.LLMProvider, "model", model.Model())
		return local, a, nil

	case config.BackendNone, "":
		return nil, Agent{}, ErrNotConfigured

	default:
		return nil, Agent{}, fmt.Errorf("unsupported agent backend: %s", cfg.AgentBackend)
	}
}
