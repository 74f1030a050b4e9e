// Package tui implements a terminal watcher for plan runs. It polls the
// REST surface and renders live run state in a Bubble Tea app.
package tui

import "github.com/charmbracelet/lipgloss"

// Run and step glyphs convey state without relying on color alone.
const (
	GlyphRunning   = "⟳"
	GlyphSucceeded = "✓"
	GlyphFailed    = "✗"
	GlyphAborted   = "⊘"
	GlyphStepOK    = "✓"
	GlyphStepFail  = "✗"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
	colorWhite  = lipgloss.Color("255")
)

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorCyan).
	Padding(0, 1)

var (
	runNormal = lipgloss.NewStyle().
			Foreground(colorWhite)

	runSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorYellow)

	runSucceeded = lipgloss.NewStyle().
			Foreground(colorGreen)

	runFailed = lipgloss.NewStyle().
			Foreground(colorRed)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	errStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorRed)

	footerStyle = lipgloss.NewStyle().
			Foreground(colorDim).
			Padding(0, 1)
)

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "succeeded":
		return runSucceeded
	case "failed", "aborted":
		return runFailed
	default:
		return runNormal
	}
}

func statusGlyph(status string) string {
	switch status {
	case "running":
		return GlyphRunning
	case "succeeded":
		return GlyphSucceeded
	case "failed":
		return GlyphFailed
	case "aborted":
		return GlyphAborted
	default:
		return "?"
	}
}
