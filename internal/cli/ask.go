package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alpar-labs/alpar/internal/chat"
	"github.com/alpar-labs/alpar/internal/client"
	"github.com/spf13/cobra"
)

var (
	askThread string
	askRaw    bool
	askStream bool
	askExpand bool
	askJSON   bool
)

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send a single message to the agent",
	Long: `Send one message and print the reply.

The thread id is printed on stderr so the conversation can be continued
with --thread.

Examples:
  alpar ask "¿Qué puedes hacer?"
  alpar ask --thread thread_abc "y el mes pasado?"
  alpar ask --stream --expand "compara los dos planes"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askThread, "thread", "t", "", "continue an existing thread")
	askCmd.Flags().BoolVar(&askRaw, "raw", false, "print the reply without formatting")
	askCmd.Flags().BoolVar(&askStream, "stream", false, "use the websocket endpoint and show run progress")
	askCmd.Flags().BoolVar(&askExpand, "expand", false, "show reasoning blocks opened")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full response as JSON")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	message := strings.TrimSpace(strings.Join(args, " "))
	if message == "" {
		return fmt.Errorf("message is required")
	}

	var transport chat.Transport = apiClient
	if askStream {
		transport = streamTransport{Client: apiClient, onStatus: func(status string) {
			fmt.Fprintln(errOut, defaultTheme.hintStyle().Render("estado: "+status))
		}}
	}

	resp, err := askOnce(ctx, transport, message, askThread)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if askJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	if askRaw {
		fmt.Fprintln(out, resp.Response)
	} else {
		r, err := newRenderer(out)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, renderReply(r, resp.Response, askExpand))
	}
	fmt.Fprintln(errOut, defaultTheme.hintStyle().Render("thread: "+resp.ThreadID))
	return nil
}

// capturingTransport keeps the last reply so ask can print the whole
// response, not just the text the display receives.
type capturingTransport struct {
	chat.Transport
	last *client.ChatResponse
}

func (t *capturingTransport) Chat(ctx context.Context, message, threadID string) (*client.ChatResponse, error) {
	resp, err := t.Transport.Chat(ctx, message, threadID)
	t.last = resp
	return resp, err
}

// silentDisplay discards display updates; ask prints the reply itself.
type silentDisplay struct{}

func (silentDisplay) ShowChat()                 {}
func (silentDisplay) AddMessage(string, string) {}
func (silentDisplay) SetLoading(bool)           {}

// askOnce runs a single turn through a controller, continuing threadID when
// it is set.
func askOnce(ctx context.Context, transport chat.Transport, message, threadID string) (*client.ChatResponse, error) {
	tr := &capturingTransport{Transport: transport}
	ctrl := chat.New(tr, silentDisplay{}, logger)
	if threadID != "" {
		ctrl.Resume(threadID)
	}
	if err := ctrl.Send(ctx, message); err != nil {
		return nil, err
	}
	return tr.last, nil
}
