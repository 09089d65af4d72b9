package tui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1)

	failureStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	successStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("99")).
			Width(12)
)

func Title(w io.Writer, s string) {
	fmt.Fprintln(w, titleStyle.Render(s))
}

func Banner(w io.Writer, s string) {
	fmt.Fprintln(w, bannerStyle.Render(s))
}

func Failure(w io.Writer, s string) {
	fmt.Fprintln(w, failureStyle.Render(s))
}

func Success(w io.Writer, s string) {
	fmt.Fprintln(w, successStyle.Render(s))
}

// Field prints an aligned key/value line.
func Field(w io.Writer, key, value string) {
	fmt.Fprintln(w, keyStyle.Render(key)+value)
}
