package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/sepal/internal/trace"
)

// TracePage scrolls through the tail of the message trace.
type TracePage struct {
	vp      viewport.Model
	entries []trace.Entry
	enabled bool
	loaded  bool
	follow  bool
}

// NewTracePage creates the trace page. It follows new entries until the
// user scrolls away from the bottom.
func NewTracePage() *TracePage {
	return &TracePage{vp: viewport.New(0, 0), follow: true}
}

func (p *TracePage) ID() string { return PageTrace }

func (p *TracePage) Init() tea.Cmd { return nil }

func (p *TracePage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.vp.Width = max(msg.Width, 0)
		p.vp.Height = max(msg.Height-1, 0)
		p.render()
		return nil, nil
	case SnapshotMsg:
		if msg.Err != nil {
			return nil, nil
		}
		p.loaded = true
		p.enabled = msg.Trace != nil
		p.entries = msg.Trace
		p.render()
		return nil, nil
	}

	var cmd tea.Cmd
	p.vp, cmd = p.vp.Update(msg)
	p.follow = p.vp.AtBottom()
	return cmd, nil
}

// Entries returns the entries currently shown.
func (p *TracePage) Entries() []trace.Entry { return p.entries }

func (p *TracePage) render() {
	switch {
	case !p.loaded:
		p.vp.SetContent(mutedStyle.Render("waiting for controller..."))
		return
	case !p.enabled:
		p.vp.SetContent(mutedStyle.Render("trace is disabled on the controller"))
		return
	}
	lines := make([]string, 0, len(p.entries))
	for _, e := range p.entries {
		lines = append(lines, formatEntry(e))
	}
	p.vp.SetContent(strings.Join(lines, "\n"))
	if p.follow {
		p.vp.GotoBottom()
	}
}

func formatEntry(e trace.Entry) string {
	m := e.Message
	line := fmt.Sprintf("%6d %s %-10s %-16s #%s",
		e.Seq, e.Time.Format("15:04:05.000"), e.Source, m.Type, m.SlaveID)
	if len(m.Value) > 0 {
		line += " " + mutedStyle.Render(string(m.Value))
	}
	return line
}

func (p *TracePage) View(width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	header := titleStyle.Render("trace") + " " +
		mutedStyle.Render(fmt.Sprintf("%d entries  %3.f%%", len(p.entries), p.vp.ScrollPercent()*100))
	return lipgloss.JoinVertical(lipgloss.Left, header, p.vp.View())
}
