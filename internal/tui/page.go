package tui

import tea "github.com/charmbracelet/bubbletea"

// Page is one top-level screen of the inspector (stack, trace).
type Page interface {
	ID() string
	Init() tea.Cmd
	Update(msg tea.Msg) (tea.Cmd, *PageNav)
	View(width, height int) string
}

// PageNav is returned from Update to request a page switch.
type PageNav struct {
	PageID string
}

// Page identifiers.
const (
	PageStack = "stack"
	PageTrace = "trace"
)
