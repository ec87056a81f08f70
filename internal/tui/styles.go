package tui

import "github.com/charmbracelet/lipgloss"

var (
	ColorNavy   = lipgloss.Color("#1B2A4A")
	ColorAccent = lipgloss.Color("39")
	ColorMuted  = lipgloss.Color("244")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(ColorNavy).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMuted).
			Padding(0, 1)

	activeSectionStyle = sectionStyle.
				BorderForeground(ColorAccent)

	statusStyle = lipgloss.NewStyle().Foreground(ColorMuted)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	topStyle    = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

// statusStyles colors a frame status in the stack list.
var statusStyles = map[string]lipgloss.Style{
	"initialized": lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	"creating":    lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
	"created":     lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	"closed":      lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
}

// barColors cycles through bar colors for the channel chart.
var barColors = []lipgloss.Style{
	lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
	lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
	lipgloss.NewStyle().Foreground(lipgloss.Color("201")),
	lipgloss.NewStyle().Foreground(lipgloss.Color("226")),
}
