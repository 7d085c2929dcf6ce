package style

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	Cyan    = lipgloss.Color("#00E5FF") // Primary highlight
	Magenta = lipgloss.Color("#FF1B6B") // Accent
	Yellow  = lipgloss.Color("#FFB500") // Warnings
	Green   = lipgloss.Color("#2AFFAA") // Success
	Red     = lipgloss.Color("#FF5555") // Errors
	Blue    = lipgloss.Color("#3B82F6") // Info / links

	Base01 = lipgloss.Color("#6C7280") // Muted text
	Base2  = lipgloss.Color("#ECEFF4") // Primary text
)

// Palette provides a centralized color management
type Palette struct {
	Primary   lipgloss.Color
	Success   lipgloss.Color
	Error     lipgloss.Color
	Warning   lipgloss.Color
	Info      lipgloss.Color
	Text      lipgloss.Color
	TextMuted lipgloss.Color
}

// DefaultPalette returns the default color palette
func DefaultPalette() Palette {
	return Palette{
		Primary:   Cyan,
		Success:   Green,
		Error:     Red,
		Warning:   Yellow,
		Info:      Blue,
		Text:      Base2,
		TextMuted: Base01,
	}
}

// StatusStyles are the styles of the keeper status view.
type StatusStyles struct {
	Panel   lipgloss.Style
	Title   lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Muted   lipgloss.Style
	Good    lipgloss.Style
	Bad     lipgloss.Style
	Warning lipgloss.Style
}

// NewStatusStyles builds status styles from a palette.
func NewStatusStyles(p Palette) StatusStyles {
	return StatusStyles{
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(p.Info).
			Padding(0, 1),
		Title:   lipgloss.NewStyle().Foreground(p.Primary).Bold(true),
		Label:   lipgloss.NewStyle().Foreground(p.TextMuted).Width(18),
		Value:   lipgloss.NewStyle().Foreground(p.Text),
		Muted:   lipgloss.NewStyle().Foreground(p.TextMuted),
		Good:    lipgloss.NewStyle().Foreground(p.Success).Bold(true),
		Bad:     lipgloss.NewStyle().Foreground(p.Error).Bold(true),
		Warning: lipgloss.NewStyle().Foreground(p.Warning),
	}
}
