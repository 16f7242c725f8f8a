// Package output renders run progress and the end-of-run summary.
package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for different elements in the output
type ColorScheme struct {
	Title     *color.Color
	Rule      *color.Color
	Metric    *color.Color
	Value     *color.Color
	Dim       *color.Color
	Pass      *color.Color
	Warn      *color.Color
	Fail      *color.Color
	Highlight *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:     color.New(color.Bold),
		Rule:      color.New(color.FgCyan),
		Metric:    color.New(color.FgWhite),
		Value:     color.New(color.FgCyan),
		Dim:       color.New(color.Faint),
		Pass:      color.New(color.FgGreen),
		Warn:      color.New(color.FgYellow),
		Fail:      color.New(color.FgRed),
		Highlight: color.New(color.FgMagenta, color.Bold),
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

// EnableAll forces colors on, regardless of whether the output is a terminal.
func (s *ColorScheme) EnableAll() *ColorScheme {
	for _, c := range s.all() {
		c.EnableColor()
	}
	return s
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Title, s.Rule, s.Metric, s.Value, s.Dim, s.Pass, s.Warn, s.Fail, s.Highlight}
}

// Mark returns ✓ or ✗ colored by outcome.
func (s *ColorScheme) Mark(ok bool) string {
	if ok {
		return s.Pass.Sprint("✓")
	}
	return s.Fail.Sprint("✗")
}

// rateColor picks green, yellow or red for a failure ratio.
func (s *ColorScheme) rateColor(failRatio float64) *color.Color {
	switch {
	case failRatio > 0.05:
		return s.Fail
	case failRatio > 0.01:
		return s.Warn
	default:
		return s.Pass
	}
}
