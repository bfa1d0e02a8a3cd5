package cli

import (
	"context"
	"strings"

	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"github.com/alpar-labs/alpar/internal/chat"
	"github.com/alpar-labs/alpar/internal/client"
	"github.com/alpar-labs/alpar/internal/render"
)

const welcomeText = `¡Hola! Soy ALPAR, tu asistente virtual.
Escribe tu mensaje para empezar una conversación.`

const helpText = "enter enviar · tab razonamiento · esc nueva conversación · ctrl+c salir"

// replyMsg carries the result of an Exchange back into the update loop.
type replyMsg struct {
	pending chat.Pending
	resp    *client.ChatResponse
	err     error
}

type healthMsg struct {
	health *client.Health
	err    error
}

// statusMsg is a run status reported by the websocket transport.
type statusMsg string

type transcriptEntry struct {
	role   string
	text   string
	blocks []render.Block
	// rendered caches the layout per expand state; cached marks the valid
	// slots, since an empty reply renders to "".
	rendered [2]string
	cached   [2]bool
}

// chatModel is the bubbletea model of the chat screen. It is also the
// controller's Display, so every controller call happens inside Update.
type chatModel struct {
	ctx      context.Context
	ctrl     *chat.Controller
	renderer *render.Renderer
	program  *tea.Program
	theme    Theme

	input   textinput.Model
	spinner spinner.Model

	entries   []*transcriptEntry
	showChat  bool
	loading   bool
	expandAll bool
	runStatus string

	health    string
	healthErr bool
	height    int
}

var _ chat.Display = (*chatModel)(nil)

func newChatModel(ctx context.Context, r *render.Renderer) *chatModel {
	ti := textinput.New()
	ti.Placeholder = "Escribe tu mensaje..."
	ti.CharLimit = 4000

	return &chatModel{
		ctx:      ctx,
		renderer: r,
		theme:    defaultTheme,
		input:    ti,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
}

func (m *chatModel) ShowChat() { m.showChat = true }

func (m *chatModel) AddMessage(role, content string) {
	e := &transcriptEntry{role: role, text: content}
	if role == chat.RoleAssistant {
		e.blocks = render.Parse(content)
	}
	m.entries = append(m.entries, e)
}

func (m *chatModel) SetLoading(loading bool) {
	m.loading = loading
	if !loading {
		m.runStatus = ""
	}
}

func (m *chatModel) reportStatus(status string) {
	if m.program != nil {
		m.program.Send(statusMsg(status))
	}
}

func (m *chatModel) Init() tea.Cmd {
	return tea.Batch(m.input.Focus(), m.checkHealth)
}

func (m *chatModel) checkHealth() tea.Msg {
	h, err := m.ctrl.CheckHealth(m.ctx)
	return healthMsg{health: h, err: err}
}

func (m *chatModel) exchange(p chat.Pending) tea.Cmd {
	return func() tea.Msg {
		resp, err := m.ctrl.Exchange(m.ctx, p)
		return replyMsg{pending: p, resp: resp, err: err}
	}
}

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		return m, nil

	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "esc", "ctrl+l":
			m.ctrl.Reset()
			m.entries = nil
			m.showChat = false
			return m, nil
		case "tab":
			m.expandAll = !m.expandAll
			return m, nil
		case "enter":
			p, ok := m.ctrl.Begin(m.input.Value())
			if !ok {
				return m, nil
			}
			m.input.Reset()
			return m, tea.Batch(m.exchange(p), m.spinner.Tick)
		}

	case replyMsg:
		m.ctrl.Complete(msg.pending, msg.resp, msg.err)
		return m, nil

	case healthMsg:
		if msg.err != nil {
			m.health, m.healthErr = "Servidor no disponible: "+msg.err.Error(), true
		} else {
			m.health, m.healthErr = msg.health.Message, false
		}
		return m, nil

	case statusMsg:
		if m.loading {
			m.runStatus = string(msg)
		}
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *chatModel) View() tea.View {
	return tea.NewView(m.screen())
}

func (m *chatModel) screen() string {
	var header strings.Builder
	header.WriteString(m.theme.titleStyle().Render("ALPAR"))
	if m.health != "" {
		style := m.theme.hintStyle()
		if m.healthErr {
			style = m.theme.errorStyle()
		}
		header.WriteString("  " + style.Render(m.health))
	}

	var footer strings.Builder
	if m.loading {
		status := "ALPAR está pensando..."
		if m.runStatus != "" {
			status += " (" + m.runStatus + ")"
		}
		footer.WriteString(m.spinner.View() + " " + m.theme.hintStyle().Render(status) + "\n")
	}
	footer.WriteString(m.input.View() + "\n")
	footer.WriteString(m.theme.hintStyle().Render(helpText))

	body := welcomeText
	if m.showChat {
		body = m.transcript()
	}

	headerText, footerText := header.String(), footer.String()
	if m.height > 0 {
		room := m.height - lineCount(headerText) - lineCount(footerText) - 2
		body = tail(body, max(room, 1))
	}
	return headerText + "\n\n" + body + "\n\n" + footerText
}

func (m *chatModel) transcript() string {
	idx := 0
	if m.expandAll {
		idx = 1
	}
	parts := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		if e.role == chat.RoleUser {
			parts = append(parts, m.theme.userStyle().Render("› "+e.text))
			continue
		}
		if !e.cached[idx] {
			if m.renderer == nil {
				e.rendered[idx] = e.text
			} else {
				e.rendered[idx] = m.renderer.Render(e.blocks, expandedIDs(e.blocks, m.expandAll))
			}
			e.cached[idx] = true
		}
		parts = append(parts, e.rendered[idx])
	}
	return strings.Join(parts, "\n\n")
}

func lineCount(s string) int {
	return strings.Count(s, "\n") + 1
}

// tail keeps the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
