package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// TranscriptBox shows raw debugger output in verbose mode.
type TranscriptBox struct {
	Title    string
	Lines    []string
	Width    int
	MaxLines int // Keep only the last MaxLines lines (0 = unlimited)
}

// NewTranscriptBox creates a box for the given output.
func NewTranscriptBox(content string) *TranscriptBox {
	return &TranscriptBox{
		Title: "GDB Output",
		Lines: strings.Split(strings.TrimRight(content, "\n"), "\n"),
		Width: GetTerminalWidth(),
	}
}

// SetWidth sets the width for rendering
func (t *TranscriptBox) SetWidth(width int) *TranscriptBox {
	t.Width = width
	return t
}

// SetMaxLines limits the box to the tail of the output.
func (t *TranscriptBox) SetMaxLines(n int) *TranscriptBox {
	t.MaxLines = n
	return t
}

// Render returns the styled box as a string
func (t *TranscriptBox) Render() string {
	width := max(t.Width, MinTerminalWidth)

	lines := t.Lines
	if t.MaxLines > 0 && len(lines) > t.MaxLines {
		skipped := len(lines) - t.MaxLines
		lines = append([]string{fmt.Sprintf("... (%d earlier lines)", skipped)}, lines[skipped:]...)
	}

	inner := lipgloss.JoinVertical(lipgloss.Left,
		TroubleshootingTitleStyle.Render(t.Title),
		"",
		ValueStyle.Render(strings.Join(lines, "\n")),
	)

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(MutedColor).
		Width(max(width-4, 40)).
		Padding(0, 1).
		MarginLeft(2).
		Render(inner)
}
