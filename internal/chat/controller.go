// Package chat implements the client side of a conversation: input
// acceptance, thread continuity and the loading state around each turn.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alpar-labs/alpar/internal/client"
)

// Apology is shown in place of a reply when a turn fails.
const Apology = "Lo siento, hubo un error al procesar tu mensaje. Por favor, inténtalo de nuevo."

// Roles passed to Display.AddMessage.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrRejected is returned by Send when the input was empty or a turn is
// already in flight.
var ErrRejected = errors.New("message rejected")

// State is the controller state.
type State int

const (
	StateIdle State = iota
	StateAwaitingResponse
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingResponse:
		return "awaiting_response"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transport carries turns to the server. *client.Client implements it.
type Transport interface {
	Chat(ctx context.Context, message, threadID string) (*client.ChatResponse, error)
	Health(ctx context.Context) (*client.Health, error)
}

// Display receives everything the user should see.
type Display interface {
	// ShowChat switches from the welcome view to the conversation view.
	ShowChat()
	AddMessage(role, content string)
	SetLoading(loading bool)
}

// Pending is an accepted message waiting for its reply.
type Pending struct {
	Message  string
	ThreadID string
	gen      int
}

// Controller owns one client session. It is not safe for concurrent use;
// drive it from a single goroutine (the bubbletea update loop or a line
// reader) and run Exchange wherever the network call should happen.
type Controller struct {
	transport Transport
	display   Display
	logger    *slog.Logger

	state        State
	threadID     string
	firstMessage bool
	gen          int
}

// New creates a Controller in StateIdle with no thread.
func New(transport Transport, display Display, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		transport:    transport,
		display:      display,
		logger:       logger,
		firstMessage: true,
	}
}

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Loading reports whether a turn is in flight.
func (c *Controller) Loading() bool { return c.state == StateAwaitingResponse }

// ThreadID returns the pinned thread id, or "" before the first reply.
func (c *Controller) ThreadID() string { return c.threadID }

// FirstMessage reports whether nothing has been sent yet.
func (c *Controller) FirstMessage() bool { return c.firstMessage }

// Begin accepts text for sending. It returns false, with no state change,
// when the trimmed text is empty or a turn is already in flight.
func (c *Controller) Begin(text string) (Pending, bool) {
	message := strings.TrimSpace(text)
	if message == "" || c.state == StateAwaitingResponse {
		return Pending{}, false
	}

	if c.firstMessage {
		c.display.ShowChat()
		c.firstMessage = false
	}

	c.display.AddMessage(RoleUser, message)
	c.state = StateAwaitingResponse
	c.display.SetLoading(true)

	return Pending{Message: message, ThreadID: c.threadID, gen: c.gen}, true
}

// Exchange performs the network call for p. It touches no controller state
// and may run on any goroutine.
func (c *Controller) Exchange(ctx context.Context, p Pending) (*client.ChatResponse, error) {
	return c.transport.Chat(ctx, p.Message, p.ThreadID)
}

// Complete ends the turn started by Begin. On success the reply is shown and
// the thread id is adopted if none is pinned yet; on failure the apology is
// shown and the thread id is kept. A reply that arrives after Reset is
// dropped.
func (c *Controller) Complete(p Pending, resp *client.ChatResponse, err error) {
	if c.state != StateAwaitingResponse {
		return
	}
	c.state = StateIdle
	defer c.display.SetLoading(false)

	if p.gen != c.gen {
		c.logger.Debug("dropping reply for cleared conversation")
		return
	}

	if err != nil || resp == nil {
		c.logger.Error("error sending message", "error", err)
		c.display.AddMessage(RoleAssistant, Apology)
		return
	}

	if c.threadID == "" {
		c.threadID = resp.ThreadID
	}
	c.display.AddMessage(RoleAssistant, resp.Response)
}

// Send runs a whole turn synchronously. It returns ErrRejected when Begin
// refuses the text, and the transport error when the turn failed (the
// apology has been shown by then).
func (c *Controller) Send(ctx context.Context, text string) error {
	p, ok := c.Begin(text)
	if !ok {
		return ErrRejected
	}
	resp, err := c.Exchange(ctx, p)
	c.Complete(p, resp, err)
	return err
}

// CheckHealth asks the server for its health report. Failures are logged and
// returned but never change the session.
func (c *Controller) CheckHealth(ctx context.Context) (*client.Health, error) {
	h, err := c.transport.Health(ctx)
	if err != nil {
		c.logger.Warn("health check failed", "error", err)
		return nil, err
	}
	c.logger.Info("server connected", "agent", h.Agent, "mode", h.Mode)
	return h, nil
}

// Resume pins threadID so the next send continues that conversation. It is
// ignored while a turn is in flight.
func (c *Controller) Resume(threadID string) {
	if c.state == StateAwaitingResponse {
		return
	}
	c.threadID = threadID
}

// Reset clears the conversation: the next send starts a new thread and
// shows the chat view again.
func (c *Controller) Reset() {
	c.threadID = ""
	c.firstMessage = true
	c.gen++
}
