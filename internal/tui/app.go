package tui

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// App is the top-level Bubble Tea model. It owns the refresh loop and the
// global keys, and routes everything else to the active page.
type App struct {
	pages      map[string]Page
	order      []string
	activePage string
	width      int
	height     int

	keys     KeyMap
	help     help.Model
	showHelp bool
	poller   *Poller
}

// NewApp creates an App over the given pages. The first page is the default.
func NewApp(poller *Poller, pages ...Page) *App {
	pageMap := make(map[string]Page, len(pages))
	order := make([]string, 0, len(pages))
	for _, p := range pages {
		pageMap[p.ID()] = p
		order = append(order, p.ID())
	}
	a := &App{
		pages:  pageMap,
		order:  order,
		keys:   DefaultKeyMap(),
		help:   help.New(),
		poller: poller,
	}
	if len(order) > 0 {
		a.activePage = order[0]
	}
	return a
}

// ActivePage returns the id of the page currently shown.
func (a *App) ActivePage() string { return a.activePage }

func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.poller.Init()}
	if p, ok := a.pages[a.activePage]; ok {
		cmds = append(cmds, p.Init())
	}
	return tea.Batch(cmds...)
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.help.Width = msg.Width
		sized := tea.WindowSizeMsg{Width: msg.Width, Height: a.pageHeight()}
		for _, p := range a.pages {
			cmd, _ := p.Update(sized)
			cmds = append(cmds, cmd)
		}
		return a, tea.Batch(cmds...)

	case TickMsg:
		return a, a.poller.Update(msg)

	case SnapshotMsg:
		cmds = append(cmds, a.poller.Update(msg))
		for _, p := range a.pages {
			cmd, _ := p.Update(msg)
			cmds = append(cmds, cmd)
		}
		return a, tea.Batch(cmds...)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, a.keys.Quit), key.Matches(msg, a.keys.ForceQuit):
			return a, tea.Quit
		case key.Matches(msg, a.keys.Help):
			a.showHelp = !a.showHelp
			return a, nil
		case key.Matches(msg, a.keys.NextPage):
			return a, a.switchTo(nextPage(a.order, a.activePage))
		case key.Matches(msg, a.keys.Pause):
			a.poller.TogglePause()
			return a, nil
		case key.Matches(msg, a.keys.IntervalUp):
			a.poller.SlowDown()
			return a, nil
		case key.Matches(msg, a.keys.IntervalDown):
			a.poller.SpeedUp()
			return a, nil
		case key.Matches(msg, a.keys.Refresh):
			return a, a.poller.Refresh()
		}
	}

	p, ok := a.pages[a.activePage]
	if !ok {
		return a, nil
	}
	cmd, nav := p.Update(msg)
	if nav != nil {
		return a, tea.Batch(cmd, a.switchTo(nav.PageID))
	}
	return a, cmd
}

func (a *App) switchTo(id string) tea.Cmd {
	p, ok := a.pages[id]
	if !ok || id == a.activePage {
		return nil
	}
	a.activePage = id
	return p.Init()
}

func (a *App) View() string {
	p, ok := a.pages[a.activePage]
	if !ok {
		return "No active page"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		p.View(a.width, a.pageHeight()),
		a.footer(),
	)
}

func (a *App) pageHeight() int {
	h := a.height - 1
	if a.showHelp {
		h -= lipgloss.Height(a.help.FullHelpView(a.keys.FullHelp()))
	}
	return max(h, 0)
}

func (a *App) footer() string {
	status := statusStyle.Render(a.poller.Status())
	if a.showHelp {
		return lipgloss.JoinVertical(lipgloss.Left, a.help.FullHelpView(a.keys.FullHelp()), status)
	}
	return status + "  " + a.help.ShortHelpView(a.keys.ShortHelp())
}

// nextPage returns the page after current in registration order.
func nextPage(order []string, current string) string {
	for i, id := range order {
		if id == current {
			return order[(i+1)%len(order)]
		}
	}
	if len(order) > 0 {
		return order[0]
	}
	return current
}
