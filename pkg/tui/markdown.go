package tui

import (
	"sync"

	"github.com/charmbracelet/glamour"
)

var (
	rendererOnce sync.Once
	renderer     *glamour.TermRenderer
)

// renderMarkdown renders the detail pane through glamour, falling back to
// the raw text when the renderer is unavailable.
func renderMarkdown(md string) string {
	rendererOnce.Do(func() {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(0), // the viewport handles wrapping
		)
		if err == nil {
			renderer = r
		}
	})
	if renderer == nil {
		return md
	}
	out, err := renderer.Render(md)
	if err != nil {
		return md
	}
	return out
}
