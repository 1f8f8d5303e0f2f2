package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for different elements in the output
type ColorScheme struct {
	Title     *color.Color
	Label     *color.Color
	Value     *color.Color
	Success   *color.Color
	Warn      *color.Color
	Error     *color.Color
	Phase     *color.Color
	Latency   *color.Color
	Dim       *color.Color
	Highlight *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:     color.New(color.Bold),
		Label:     color.New(color.Bold),
		Value:     color.New(color.FgCyan),
		Success:   color.New(color.FgGreen),
		Warn:      color.New(color.FgYellow),
		Error:     color.New(color.FgRed),
		Phase:     color.New(color.FgMagenta),
		Latency:   color.New(color.FgBlue),
		Dim:       color.New(color.Faint),
		Highlight: color.New(color.FgCyan, color.Bold),
	}
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.DisableColor()
	}
	return scheme
}

// ForcedColorScheme returns the default scheme with colors enabled even
// when stdout is not a terminal.
func ForcedColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.EnableColor()
	}
	return scheme
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{
		s.Title, s.Label, s.Value, s.Success, s.Warn,
		s.Error, s.Phase, s.Latency, s.Dim, s.Highlight,
	}
}

// rateColor picks a color for a success rate between 0 and 1.
func (s *ColorScheme) rateColor(rate float64) *color.Color {
	switch {
	case rate >= 0.99:
		return s.Success
	case rate >= 0.95:
		return s.Warn
	default:
		return s.Error
	}
}

const (
	iconSuccess = "✓"
	iconWarning = "⚠"
	iconError   = "✗"
)

// statusLabel returns text followed by an icon, both in the given color.
func statusLabel(c *color.Color, text, icon string) string {
	return c.Sprintf("%s %s", text, icon)
}
