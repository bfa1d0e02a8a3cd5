package cli

import (
	"context"

	"github.com/alpar-labs/alpar/internal/chat"
	"github.com/alpar-labs/alpar/internal/client"
)

// streamTransport sends turns over the websocket endpoint so run statuses
// can be shown while the agent works.
type streamTransport struct {
	*client.Client
	onStatus func(status string)
}

var _ chat.Transport = streamTransport{}

func (t streamTransport) Chat(ctx context.Context, message, threadID string) (*client.ChatResponse, error) {
	return t.ChatStream(ctx, message, threadID, t.onStatus)
}
