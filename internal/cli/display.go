package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/alpar-labs/alpar/internal/chat"
	"github.com/alpar-labs/alpar/internal/render"
	"golang.org/x/term"
)

// lineDisplay prints the conversation as plain scrolling output.
type lineDisplay struct {
	out      io.Writer
	status   io.Writer
	renderer *render.Renderer
	theme    Theme
	// expand shows reasoning and thinking blocks opened.
	expand bool
}

var _ chat.Display = (*lineDisplay)(nil)

func (d *lineDisplay) ShowChat() {
	fmt.Fprintln(d.status, d.theme.titleStyle().Render("ALPAR"))
}

func (d *lineDisplay) AddMessage(role, content string) {
	if role == chat.RoleUser {
		fmt.Fprintln(d.out, d.theme.userStyle().Render("› "+content))
		return
	}
	fmt.Fprintln(d.out, renderReply(d.renderer, content, d.expand))
	fmt.Fprintln(d.out)
}

func (d *lineDisplay) SetLoading(loading bool) {
	if loading {
		fmt.Fprintln(d.status, d.theme.hintStyle().Render("ALPAR está pensando..."))
	}
}

// renderReply lays out an assistant reply. A nil renderer returns it as is.
func renderReply(r *render.Renderer, content string, expand bool) string {
	if r == nil {
		return content
	}
	blocks := render.Parse(content)
	return r.Render(blocks, expandedIDs(blocks, expand))
}

func expandedIDs(blocks []render.Block, expand bool) map[string]bool {
	if !expand {
		return nil
	}
	ids := make(map[string]bool, len(blocks))
	for _, b := range blocks {
		if b.Collapsible {
			ids[b.ID] = true
		}
	}
	return ids
}

// newRenderer picks Markdown styling and width from the terminal behind out.
// Anything that is not a terminal gets plain text at 80 columns.
func newRenderer(out io.Writer) (*render.Renderer, error) {
	style, width := "", 80
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		style = "auto"
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			width = w
		}
	}
	return render.NewRenderer(render.Options{Width: width, Style: style})
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
