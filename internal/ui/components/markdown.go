package components

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

var (
	markdownMu        sync.Mutex
	markdownRenderers = map[int]*glamour.TermRenderer{}
)

// NewMarkdownRenderer builds a renderer wrapping at width. With auto set the
// style follows the terminal background, which must not be queried while a
// Bubble Tea program owns the terminal.
func NewMarkdownRenderer(width int, auto bool) (*glamour.TermRenderer, error) {
	style := glamour.WithStandardStyle("dark")
	if auto {
		style = glamour.WithAutoStyle()
	}
	return glamour.NewTermRenderer(style, glamour.WithWordWrap(max(width, 20)))
}

// RenderMarkdown renders content for the TUI. It returns content unchanged
// if rendering fails.
func RenderMarkdown(content string, width int) string {
	markdownMu.Lock()
	r, ok := markdownRenderers[width]
	if !ok {
		var err error
		r, err = NewMarkdownRenderer(width, false)
		if err != nil {
			markdownMu.Unlock()
			return content
		}
		markdownRenderers[width] = r
	}
	out, err := r.Render(content)
	markdownMu.Unlock()

	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}
