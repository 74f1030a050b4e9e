package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"github.com/calegria/roboplan/pkg/engine"
)

// pollEvery is the refresh interval for the run list and the focused run.
const pollEvery = time.Second

type focusArea int

const (
	focusList focusArea = iota
	focusDetail
)

// App is the Bubble Tea model for the run watcher.
type App struct {
	client *Client

	runs     []*engine.Run
	selected int
	focus    focusArea
	detail   *engine.Run

	spin     spinner.Model
	viewport viewport.Model
	width    int
	height   int
	ready    bool
	lastErr  string
}

// NewApp creates the watcher against the given REST base URL.
func NewApp(baseURL string) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return &App{
		client: NewClient(baseURL),
		spin:   sp,
	}
}

// Run starts the Bubble Tea program and blocks until quit.
func (a *App) Run() error {
	_, err := tea.NewProgram(a, tea.WithAltScreen()).Run()
	return err
}

type runsMsg struct {
	runs []*engine.Run
	err  error
}

type detailMsg struct {
	run *engine.Run
	err error
}

type tickMsg time.Time

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spin.Tick, a.fetchRuns(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (a *App) fetchRuns() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
		defer cancel()
		runs, err := a.client.ListRuns(ctx, 50)
		return runsMsg{runs: runs, err: err}
	}
}

func (a *App) fetchDetail(id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
		defer cancel()
		run, err := a.client.GetRun(ctx, id)
		return detailMsg{run: run, err: err}
	}
}

func (a *App) cancelSelected() tea.Cmd {
	if a.selected >= len(a.runs) {
		return nil
	}
	id := a.runs[a.selected].RunID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
		defer cancel()
		if err := a.client.CancelRun(ctx, id); err != nil {
			return runsMsg{err: err}
		}
		return nil
	}
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		a.viewport = viewport.New(msg.Width, msg.Height-4)
		a.ready = true
		return a, nil

	case tickMsg:
		cmds := []tea.Cmd{tick(), a.fetchRuns()}
		if a.focus == focusDetail && a.detail != nil {
			cmds = append(cmds, a.fetchDetail(a.detail.RunID))
		}
		return a, tea.Batch(cmds...)

	case runsMsg:
		if msg.err != nil {
			a.lastErr = msg.err.Error()
			return a, nil
		}
		a.lastErr = ""
		if msg.runs != nil {
			a.runs = msg.runs
			if a.selected >= len(a.runs) && len(a.runs) > 0 {
				a.selected = len(a.runs) - 1
			}
		}
		return a, nil

	case detailMsg:
		if msg.err != nil {
			a.lastErr = msg.err.Error()
			return a, nil
		}
		a.detail = msg.run
		if a.ready {
			a.viewport.SetContent(a.renderDetail())
		}
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spin, cmd = a.spin.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		return a.handleKey(msg)
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if a.focus == focusDetail {
			a.focus = focusList
			return a, nil
		}
		return a, tea.Quit

	case "up", "k":
		if a.focus == focusList && a.selected > 0 {
			a.selected--
		} else if a.focus == focusDetail {
			a.viewport.ScrollUp(1)
		}
		return a, nil

	case "down", "j":
		if a.focus == focusList && a.selected < len(a.runs)-1 {
			a.selected++
		} else if a.focus == focusDetail {
			a.viewport.ScrollDown(1)
		}
		return a, nil

	case "enter":
		if a.focus == focusList && a.selected < len(a.runs) {
			a.focus = focusDetail
			a.detail = a.runs[a.selected]
			if a.ready {
				a.viewport.SetContent(a.renderDetail())
			}
			return a, a.fetchDetail(a.detail.RunID)
		}
		return a, nil

	case "c":
		return a, a.cancelSelected()

	case "r":
		return a, a.fetchRuns()
	}
	return a, nil
}

func (a *App) View() string {
	if !a.ready {
		return a.spin.View() + " connecting..."
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("roboplan runs"))
	b.WriteString("\n")

	if a.focus == focusDetail {
		b.WriteString(a.viewport.View())
		b.WriteString("\n")
		b.WriteString(footerStyle.Render("j/k scroll · q back"))
	} else {
		b.WriteString(a.renderList())
		b.WriteString("\n")
		b.WriteString(footerStyle.Render("j/k move · enter detail · c cancel · r refresh · q quit"))
	}

	if a.lastErr != "" {
		b.WriteString("\n")
		b.WriteString(errStyle.Render("error: " + a.lastErr))
	}
	return b.String()
}

func (a *App) renderList() string {
	if len(a.runs) == 0 {
		return dimStyle.Render("  no runs yet")
	}

	var b strings.Builder
	maxRows := a.height - 4
	for i, run := range a.runs {
		if maxRows > 0 && i >= maxRows {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  … %d more", len(a.runs)-i)))
			break
		}
		glyph := statusGlyph(string(run.Status))
		if run.Status == engine.StatusRunning {
			glyph = a.spin.View()
		}

		line := fmt.Sprintf("%s %s  %-24s %s  steps:%d",
			glyph,
			shortID(run.RunID),
			truncate(run.GoalType, 24),
			run.Status,
			len(run.Trace),
		)
		style := statusStyle(string(run.Status))
		if i == a.selected {
			style = runSelected
			line = "▸ " + line
		} else {
			line = "  " + line
		}
		b.WriteString(style.Render(truncate(line, a.width)))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *App) renderDetail() string {
	run := a.detail
	if run == nil {
		return "no run selected"
	}

	var md strings.Builder
	fmt.Fprintf(&md, "# run %s\n\n", run.RunID)
	fmt.Fprintf(&md, "- goal: **%s**\n- status: **%s**\n", run.GoalType, run.Status)
	if run.Error != "" {
		fmt.Fprintf(&md, "- error: `%s` (%s)\n", run.Error, run.FailureKind)
	}
	fmt.Fprintf(&md, "- started: %s\n", run.StartedAt.Format(time.RFC3339))
	if !run.EndedAt.IsZero() && run.Status != engine.StatusRunning {
		fmt.Fprintf(&md, "- duration: %s\n", run.EndedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}

	md.WriteString("\n## trace\n\n")
	if len(run.Trace) == 0 {
		md.WriteString("_no tool steps executed_\n")
	}
	for _, rec := range run.Trace {
		glyph := GlyphStepOK
		if !rec.OK {
			glyph = GlyphStepFail
		}
		fmt.Fprintf(&md, "%s `%s` at `%s`", glyph, rec.Name, rec.Path)
		if rec.Error != "" {
			fmt.Fprintf(&md, " failed: %s", rec.Error)
		}
		md.WriteString("\n\n")
	}

	if len(run.Env) > 0 {
		md.WriteString("## environment\n\n")
		for k := range run.Env {
			fmt.Fprintf(&md, "- `%s`\n", k)
		}
	}

	return renderMarkdown(md.String())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, w int) string {
	if w <= 1 {
		return s
	}
	return runewidth.Truncate(s, w, "…")
}
