package render

import (
	"fmt"
	"strings"

	"github.com/alpar-labs/alpar/internal/charts"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// Options configures a Renderer.
type Options struct {
	// Width is the wrap width. Zero means 80.
	Width int
	// Style is a glamour style ("auto", "dark", "light", "notty", ...).
	// Empty disables Markdown rendering.
	Style string
	// Charts fills chart blocks. Nil means a randomly seeded sample source.
	Charts charts.Source
}

// Renderer lays blocks out as terminal text.
type Renderer struct {
	md     *glamour.TermRenderer
	charts charts.Source
	width  int

	header lipgloss.Style
	final  lipgloss.Style
	dim    lipgloss.Style
	bar    lipgloss.Style
}

// NewRenderer creates a Renderer.
func NewRenderer(opts Options) (*Renderer, error) {
	if opts.Width <= 0 {
		opts.Width = 80
	}
	if opts.Charts == nil {
		opts.Charts = charts.NewSampleSource(nil)
	}

	r := &Renderer{
		charts: opts.Charts,
		width:  opts.Width,
		header: lipgloss.NewStyle().Foreground(lipgloss.Color(charts.BorderColor)).Bold(true),
		final: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color(charts.BorderColor)).
			PaddingLeft(1),
		dim: lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C")).Italic(true),
		bar: lipgloss.NewStyle().Foreground(lipgloss.Color(charts.BorderColor)),
	}

	if opts.Style != "" {
		styleOpt := glamour.WithStylePath(opts.Style)
		if opts.Style == "auto" {
			styleOpt = glamour.WithAutoStyle()
		}
		md, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(opts.Width))
		if err != nil {
			return nil, fmt.Errorf("create markdown renderer: %w", err)
		}
		r.md = md
	}
	return r, nil
}

// Render lays out blocks top to bottom. Collapsible blocks show only their
// header unless expanded[id] is true.
func (r *Renderer) Render(blocks []Block, expanded map[string]bool) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, r.renderBlock(b, expanded[b.ID]))
	}
	return strings.Join(parts, "\n\n")
}

// RenderText parses text and renders the resulting blocks.
func (r *Renderer) RenderText(text string, expanded map[string]bool) string {
	return r.Render(Parse(text), expanded)
}

func (r *Renderer) renderBlock(b Block, expanded bool) string {
	switch b.Kind {
	case KindThinking, KindReasoning:
		if !expanded {
			return r.header.Render("▸ " + b.Title)
		}
		return r.header.Render("▾ "+b.Title) + "\n" + indent(r.markdown(b.Body), "  ")
	case KindFinal:
		return r.final.Render(r.markdown(b.Body))
	case KindChart:
		return r.renderChart(b)
	default:
		return r.markdown(b.Body)
	}
}

func (r *Renderer) renderChart(b Block) string {
	chartType := ""
	if b.Chart != nil {
		chartType = b.Chart.Type
	}
	cfg := r.charts.Demo(chartType)

	var sb strings.Builder
	sb.WriteString(r.header.Render(b.Title))
	sb.WriteString(r.dim.Render(" [" + cfg.Type + "]"))
	sb.WriteString("\n")
	sb.WriteString(Bars(cfg, r.width, r.bar))
	if b.Body != "" {
		sb.WriteString("\n")
		sb.WriteString(r.dim.Render(b.Body))
	}
	return sb.String()
}

func (r *Renderer) markdown(text string) string {
	if r.md == nil || text == "" {
		return text
	}
	out, err := r.md.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}

// Bars draws the first dataset of cfg as horizontal bars, one line per
// label, scaled to fit width.
func Bars(cfg charts.Config, width int, style lipgloss.Style) string {
	if len(cfg.Data.Datasets) == 0 {
		return ""
	}
	values := cfg.Data.Datasets[0].Data

	labelWidth, maxValue := 0, 0
	for i, v := range values {
		if i < len(cfg.Data.Labels) {
			labelWidth = max(labelWidth, lipgloss.Width(cfg.Data.Labels[i]))
		}
		maxValue = max(maxValue, v)
	}

	barWidth := max(width-labelWidth-8, 10)

	lines := make([]string, 0, len(values))
	for i, v := range values {
		label := ""
		if i < len(cfg.Data.Labels) {
			label = cfg.Data.Labels[i]
		}
		n := 0
		if maxValue > 0 {
			n = v * barWidth / maxValue
		}
		pad := strings.Repeat(" ", labelWidth-lipgloss.Width(label))
		lines = append(lines, fmt.Sprintf("%s%s %s %d", label, pad, style.Render(strings.Repeat("█", n)), v))
	}
	return strings.Join(lines, "\n")
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
