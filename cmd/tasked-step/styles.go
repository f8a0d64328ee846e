package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Styles for progress output: light/dark terminal aware via
// lipgloss.AdaptiveColor.
var (
	okStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	})
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	})
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	})
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	})
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	})
	boldStyle = lipgloss.NewStyle().Bold(true)
)

const (
	defaultProgressWidth = 40
	maxProgressWidth     = 80
)

// progressWidth picks a bar width for renderProgressBar: the stdout
// terminal's column count when stdout is a terminal, capped so a wide
// terminal doesn't stretch the bar unreasonably, or defaultProgressWidth
// when output is redirected.
func progressWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return defaultProgressWidth
	}
	cols, _, err := term.GetSize(fd)
	if err != nil || cols <= 0 {
		return defaultProgressWidth
	}
	width := cols - len("progress: [] 100%")
	if width > maxProgressWidth {
		width = maxProgressWidth
	}
	if width < 10 {
		width = 10
	}
	return width
}

// renderProgressBar draws a fixed-width filled/empty bar for fraction in
// [0,1], sized to the current terminal width.
func renderProgressBar(fraction float64) string {
	width := progressWidth()
	filled := int(fraction * float64(width))
	if filled > width {
		filled = width
	}
	bar := make([]byte, width)
	for i := range bar {
		if i < filled {
			bar[i] = '='
		} else {
			bar[i] = ' '
		}
	}
	return fmt.Sprintf("progress: [%s] %.0f%%", string(bar), fraction*100)
}
