package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	tea "charm.land/bubbletea/v2"
	"github.com/alpar-labs/alpar/internal/chat"
	"github.com/spf13/cobra"
)

var (
	chatPlain  bool
	chatStream bool
	chatExpand bool
)

// Line mode commands.
const (
	cmdNew  = "/nuevo"
	cmdQuit = "/salir"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the agent",
	Long: `Open an interactive conversation with the agent.

On a terminal this starts a full-screen chat: enter sends, tab opens or
closes the reasoning blocks, esc starts a new conversation and ctrl+c quits.
Otherwise (or with --plain) messages are read line by line from stdin;
"/nuevo" starts a new conversation and "/salir" quits.

Examples:
  alpar chat
  alpar chat --stream
  echo "hola" | alpar chat --plain`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatPlain, "plain", false, "line mode even on a terminal")
	chatCmd.Flags().BoolVar(&chatStream, "stream", false, "use the websocket endpoint and show run progress")
	chatCmd.Flags().BoolVar(&chatExpand, "expand", false, "show reasoning blocks opened (line mode)")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	if !chatPlain && isTerminal(cmd.InOrStdin()) && isTerminal(out) {
		return runChatTUI(ctx)
	}

	var transport chat.Transport = apiClient
	if chatStream {
		transport = streamTransport{Client: apiClient, onStatus: func(status string) {
			fmt.Fprintln(errOut, defaultTheme.hintStyle().Render("estado: "+status))
		}}
	}

	r, err := newRenderer(out)
	if err != nil {
		return err
	}
	display := &lineDisplay{out: out, status: errOut, renderer: r, theme: defaultTheme, expand: chatExpand}
	return runChatLines(ctx, chat.New(transport, display, logger), cmd.InOrStdin(), errOut)
}

// runChatLines drives ctrl from lines read on in until EOF or /salir.
func runChatLines(ctx context.Context, ctrl *chat.Controller, in io.Reader, status io.Writer) error {
	theme := defaultTheme

	if h, err := ctrl.CheckHealth(ctx); err != nil {
		fmt.Fprintln(status, theme.errorStyle().Render("Servidor no disponible: "+err.Error()))
	} else {
		fmt.Fprintln(status, theme.hintStyle().Render(h.Message))
	}
	fmt.Fprintln(status, theme.hintStyle().Render(
		fmt.Sprintf("Escribe tu mensaje. %s empieza otra conversación, %s termina.", cmdNew, cmdQuit)))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case cmdQuit:
			return nil
		case cmdNew:
			ctrl.Reset()
			fmt.Fprintln(status, theme.hintStyle().Render("Conversación nueva"))
			continue
		}

		if err := ctrl.Send(ctx, line); err != nil && !errors.Is(err, chat.ErrRejected) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Debug("turn failed", "error", err)
		}
	}
	return scanner.Err()
}

func runChatTUI(ctx context.Context) error {
	r, err := newRenderer(os.Stdout)
	if err != nil {
		return err
	}
	model := newChatModel(ctx, r)

	var transport chat.Transport = apiClient
	if chatStream {
		transport = streamTransport{Client: apiClient, onStatus: model.reportStatus}
	}
	model.ctrl = chat.New(transport, model, logger)

	p := tea.NewProgram(model, tea.WithContext(ctx))
	model.program = p
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	return nil
}
