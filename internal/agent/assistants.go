package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/alpar-labs/alpar/internal/config"
	openai "github.com/sashabaranov/go-openai"
)

// listPageSize is the page size used when listing thread messages.
const listPageSize = 100

// Assistants implements API on top of the OpenAI / Azure Assistants API.
type Assistants struct {
	client *openai.Client
}

// Compile-time check that Assistants implements API.
var _ API = (*Assistants)(nil)

// NewAssistants creates a client from configuration. With AgentAzure set the
// endpoint is treated as an Azure resource URL.
func NewAssistants(cfg config.Config) *Assistants {
	var clientCfg openai.ClientConfig
	if cfg.AgentAzure {
		clientCfg = openai.DefaultAzureConfig(cfg.AgentAPIKey, cfg.AgentEndpoint)
		if cfg.AgentAPIVersion != "" {
			clientCfg.APIVersion = cfg.AgentAPIVersion
		}
	} else {
		clientCfg = openai.DefaultConfig(cfg.AgentAPIKey)
		if cfg.AgentEndpoint != "" {
			clientCfg.BaseURL = cfg.AgentEndpoint
		}
	}
	return &Assistants{client: openai.NewClientWithConfig(clientCfg)}
}

// Agent resolves the assistant with the given id.
func (a *Assistants) Agent(ctx context.Context, id string) (Agent, error) {
	asst, err := a.client.RetrieveAssistant(ctx, id)
	if err != nil {
		return Agent{}, fmt.Errorf("retrieve assistant: %w", wrapFatalError(err))
	}
	name := asst.ID
	if asst.Name != nil && *asst.Name != "" {
		name = *asst.Name
	}
	return Agent{ID: asst.ID, Name: name}, nil
}

// CreateThread implements API.
func (a *Assistants) CreateThread(ctx context.Context) (Thread, error) {
	th, err := a.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return Thread{}, fmt.Errorf("create thread: %w", err)
	}
	return Thread{ID: th.ID, CreatedAt: unixTime(int64(th.CreatedAt))}, nil
}

// CreateMessage implements API.
func (a *Assistants) CreateMessage(ctx context.Context, threadID string, role Role, content string) (Message, error) {
	msg, err := a.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    string(role),
		Content: content,
	})
	if err != nil {
		return Message{}, fmt.Errorf("create message: %w", err)
	}
	out, _ := convertMessage(msg)
	if out.Content == "" {
		out.Content = content
	}
	return out, nil
}

// CreateRun implements API.
func (a *Assistants) CreateRun(ctx context.Context, threadID, agentID string) (Run, error) {
	run, err := a.client.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: agentID})
	if err != nil {
		return Run{}, fmt.Errorf("create run: %w", err)
	}
	return convertRun(run), nil
}

// GetRun implements API.
func (a *Assistants) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	run, err := a.client.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return Run{}, fmt.Errorf("retrieve run: %w", err)
	}
	return convertRun(run), nil
}

// ListMessages implements API. Messages without a text part are skipped.
func (a *Assistants) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	limit := listPageSize
	order := "asc"
	var after *string

	var out []Message
	for {
		page, err := a.client.ListMessage(ctx, threadID, &limit, &order, after, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, m := range page.Messages {
			if msg, ok := convertMessage(m); ok {
				out = append(out, msg)
			}
		}
		if !page.HasMore || page.LastID == nil || *page.LastID == "" {
			return out, nil
		}
		after = page.LastID
	}
}

// convertMessage keeps the first text part of m. ok is false when m has no
// text content.
func convertMessage(m openai.Message) (Message, bool) {
	msg := Message{
		ID:        m.ID,
		Role:      Role(m.Role),
		CreatedAt: unixTime(int64(m.CreatedAt)),
	}
	for _, c := range m.Content {
		if c.Type == "text" && c.Text != nil {
			msg.Content = c.Text.Value
			return msg, true
		}
	}
	return msg, false
}

func convertRun(r openai.Run) Run {
	run := Run{
		ID:       r.ID,
		ThreadID: r.ThreadID,
		Status:   RunStatus(r.Status),
	}
	if r.LastError != nil {
		run.LastError = &RunError{
			Code:    string(r.LastError.Code),
			Message: r.LastError.Message,
		}
	}
	return run
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
