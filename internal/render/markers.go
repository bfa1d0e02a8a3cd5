// Package render turns assistant replies into display blocks and lays them
// out for the terminal.
package render

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Kind identifies a block type.
type Kind int

const (
	KindText Kind = iota
	KindThinking
	KindReasoning
	KindFinal
	KindChart
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindThinking:
		return "thinking"
	case KindReasoning:
		return "reasoning"
	case KindFinal:
		return "final"
	case KindChart:
		return "chart"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ReasoningTitle is the header of reasoning blocks.
const ReasoningTitle = "Razonamiento"

// ChartSpec is a parsed chart directive.
type ChartSpec struct {
	Type        string
	Title       string
	Description string
	Data        string
}

// Block is one display unit of a reply.
type Block struct {
	Kind        Kind
	ID          string
	Title       string
	Body        string
	Collapsible bool
	// Seconds is set for thinking blocks.
	Seconds int
	// Chart is set for chart blocks.
	Chart *ChartSpec
}

// markerPattern matches every marker family. Submatch groups:
//
//	1: thinking phrase, 2: its seconds
//	3: reasoning marker
//	4: final marker
//	5: chart directive, 6-9: type, title, description, data
var markerPattern = regexp.MustCompile(
	`(?i)(thought for (\d+) seconds?)` +
		`|(reasoning:)` +
		`|(final answer:)` +
		`|(<chart\s+type="([^"]*)"(?:\s+title="([^"]*)")?(?:\s+description="([^"]*)")?(?:\s+data="([^"]*)")?\s*(?:>\s*</chart>|/>))`,
)

// Parser converts reply text into blocks.
type Parser struct {
	// NewID returns a block id with the given prefix.
	NewID func(prefix string) string
}

// DefaultParser uses random uuid-derived ids.
var DefaultParser = Parser{NewID: randomID}

// Parse splits text into blocks using DefaultParser.
func Parse(text string) []Block {
	return DefaultParser.Parse(text)
}

func randomID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}

// Parse splits text into blocks. Text without markers comes back as a single
// text block equal to the input. Markers never fail: a reasoning or final
// block runs until the next marker or the end of the text.
func (p Parser) Parse(text string) []Block {
	matches := markerPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		if text == "" {
			return nil
		}
		return []Block{{Kind: KindText, Body: text}}
	}

	newID := p.NewID
	if newID == nil {
		newID = randomID
	}

	var (
		blocks []Block
		open   *Block
		pos    int
	)

	// flush assigns text[pos:end] to the open block, or emits it as text.
	flush := func(end int) {
		segment := strings.TrimSpace(text[pos:end])
		if open != nil {
			open.Body = segment
			blocks = append(blocks, *open)
			open = nil
			return
		}
		if segment != "" {
			blocks = append(blocks, Block{Kind: KindText, Body: segment})
		}
	}

	group := func(m []int, i int) string {
		if m[2*i] < 0 {
			return ""
		}
		return text[m[2*i]:m[2*i+1]]
	}

	for _, m := range matches {
		flush(m[0])
		pos = m[1]

		switch {
		case m[2] >= 0:
			seconds, _ := strconv.Atoi(group(m, 2))
			blocks = append(blocks, Block{
				Kind:        KindThinking,
				ID:          newID("thinking"),
				Title:       group(m, 1),
				Body:        fmt.Sprintf("Procesando pensamiento por %d segundos...", seconds),
				Collapsible: true,
				Seconds:     seconds,
			})
		case m[6] >= 0:
			open = &Block{
				Kind:        KindReasoning,
				ID:          newID("reasoning"),
				Title:       ReasoningTitle,
				Collapsible: true,
			}
		case m[8] >= 0:
			open = &Block{
				Kind:  KindFinal,
				ID:    newID("final"),
				Title: group(m, 4),
			}
		default:
			spec := &ChartSpec{
				Type:        group(m, 6),
				Title:       group(m, 7),
				Description: group(m, 8),
				Data:        group(m, 9),
			}
			if spec.Title == "" {
				spec.Title = defaultChartTitle(spec.Type)
			}
			blocks = append(blocks, Block{
				Kind:  KindChart,
				ID:    newID("chart"),
				Title: spec.Title,
				Body:  spec.Description,
				Chart: spec,
			})
		}
	}
	flush(len(text))

	return blocks
}

func defaultChartTitle(chartType string) string {
	if chartType == "" {
		return "Chart"
	}
	r := []rune(chartType)
	return string(unicode.ToUpper(r[0])) + string(r[1:]) + " Chart"
}
