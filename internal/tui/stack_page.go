package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/sepal/internal/model"
)

// StackPage shows the navigation history next to a chart of channel traffic.
type StackPage struct {
	keys   KeyMap
	width  int
	height int

	nodes    []model.NodeSnapshot
	cursor   int
	channels map[string]map[string]int
	channel  int
	loaded   bool
}

// NewStackPage creates the history page.
func NewStackPage() *StackPage {
	return &StackPage{keys: DefaultKeyMap()}
}

func (p *StackPage) ID() string { return PageStack }

func (p *StackPage) Init() tea.Cmd { return nil }

func (p *StackPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.width, p.height = msg.Width, msg.Height
	case SnapshotMsg:
		if msg.Err != nil {
			return nil, nil
		}
		p.loaded = true
		p.nodes = msg.Nodes
		p.channels = msg.Channels
		p.cursor = min(p.cursor, max(len(p.nodes)-1, 0))
		if n := len(p.channels); n > 0 {
			p.channel %= n
		}
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, p.keys.Up):
			p.cursor = max(p.cursor-1, 0)
		case key.Matches(msg, p.keys.Down):
			p.cursor = min(p.cursor+1, max(len(p.nodes)-1, 0))
		case key.Matches(msg, p.keys.Home):
			p.cursor = 0
		case key.Matches(msg, p.keys.End):
			p.cursor = max(len(p.nodes)-1, 0)
		case key.Matches(msg, p.keys.NextChannel):
			if n := len(p.channels); n > 0 {
				p.channel = (p.channel + 1) % n
			}
		case key.Matches(msg, p.keys.Enter):
			return nil, &PageNav{PageID: PageTrace}
		}
	}
	return nil, nil
}

// Selected returns the history entry under the cursor.
func (p *StackPage) Selected() (model.NodeSnapshot, bool) {
	if p.cursor < 0 || p.cursor >= len(p.nodes) {
		return model.NodeSnapshot{}, false
	}
	return p.nodes[p.cursor], true
}

// SelectedChannel returns the name of the charted channel.
func (p *StackPage) SelectedChannel() string {
	names := channelNames(p.channels)
	if len(names) == 0 {
		return ""
	}
	return names[p.channel%len(names)]
}

func (p *StackPage) View(width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	header := titleStyle.Render("sepal") + " " + mutedStyle.Render(fmt.Sprintf("history depth %d", len(p.nodes)))
	bodyHeight := max(height-lipgloss.Height(header), 3)

	leftWidth := width / 2
	rightWidth := width - leftWidth
	left := activeSectionStyle.
		Width(max(leftWidth-2, 1)).
		Height(max(bodyHeight-2, 1)).
		Render(p.renderStack(max(leftWidth-4, 1), max(bodyHeight-2, 1)))
	right := sectionStyle.
		Width(max(rightWidth-2, 1)).
		Height(max(bodyHeight-2, 1)).
		Render(p.renderChannels(max(rightWidth-4, 1), max(bodyHeight-3, 1)))

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		lipgloss.JoinHorizontal(lipgloss.Top, left, right),
	)
}

func (p *StackPage) renderStack(width, height int) string {
	if !p.loaded {
		return mutedStyle.Render("waiting for controller...")
	}
	if len(p.nodes) == 0 {
		return mutedStyle.Render("history is empty")
	}
	var lines []string
	for i, n := range p.nodes {
		lines = append(lines, p.nodeLine(i, n, width))
		if n.Kind == "tabs" {
			for j, child := range n.Children {
				marker := "  "
				if j == n.Active {
					marker = "▸ "
				}
				lines = append(lines, truncate("    "+marker+child.URI+" #"+child.ID.String(), width))
			}
		}
	}
	// Keep the cursor visible.
	if len(lines) > height {
		start := min(p.lineOf(p.cursor), len(lines)-height)
		lines = lines[max(start, 0):][:height]
	}
	return strings.Join(lines, "\n")
}

func (p *StackPage) nodeLine(i int, n model.NodeSnapshot, width int) string {
	cursor := "  "
	if i == p.cursor {
		cursor = "> "
	}
	uri := n.AccessURI
	if uri == "" {
		uri = n.URI
	}
	label := fmt.Sprintf("%s%d %s #%s", cursor, i, uri, n.ID)
	if n.Kind == "tabs" {
		label += " [tabs]"
	}
	if n.Closing {
		label += " closing"
	}
	label = truncate(label, max(width-len(n.Status)-1, 1))
	if i == len(p.nodes)-1 {
		label = topStyle.Render(label)
	}
	style, ok := statusStyles[n.Status]
	if !ok {
		style = mutedStyle
	}
	return label + " " + style.Render(n.Status)
}

// lineOf maps a node index to its first rendered line.
func (p *StackPage) lineOf(node int) int {
	line := 0
	for i := 0; i < node && i < len(p.nodes); i++ {
		line++
		if p.nodes[i].Kind == "tabs" {
			line += len(p.nodes[i].Children)
		}
	}
	return line
}

func (p *StackPage) renderChannels(width, height int) string {
	name := p.SelectedChannel()
	if name == "" {
		return mutedStyle.Render("no channel traffic yet")
	}
	counts := p.channels[name]
	title := fmt.Sprintf("%s (%d types)", name, len(counts))
	if len(counts) == 0 {
		return title + "\n" + mutedStyle.Render("nothing fired")
	}
	return title + "\n" + channelChart(counts, width, max(height-1, 2))
}

// channelChart draws one bar per message type.
func channelChart(counts map[string]int, width, height int) string {
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)

	barWidth := max((width-len(types))/max(len(types), 1), 1)
	bc := barchart.New(width, height,
		barchart.WithBarGap(1),
		barchart.WithBarWidth(barWidth),
	)
	for i, t := range types {
		bc.Push(barchart.BarData{
			Label: truncate(t, barWidth),
			Values: []barchart.BarValue{{
				Name:  t,
				Value: float64(counts[t]),
				Style: barColors[i%len(barColors)],
			}},
		})
	}
	bc.Draw()
	return bc.View()
}

func channelNames(channels map[string]map[string]int) []string {
	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 1 {
		return string(r[:width])
	}
	return string(r[:width-1]) + "…"
}
