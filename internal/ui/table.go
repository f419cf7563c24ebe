package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	tableHeaderStyle = lipgloss.NewStyle().Foreground(PrimaryColor).Bold(true).Padding(0, 1)
	tableCellStyle   = lipgloss.NewStyle().Foreground(TextColor).Padding(0, 1)
	tableNumberStyle = tableCellStyle.Align(lipgloss.Right)
)

// RenderTable renders rows under headers. Columns listed in numeric are
// right-aligned.
func RenderTable(headers []string, rows [][]string, numeric ...int) string {
	right := make(map[int]bool, len(numeric))
	for _, col := range numeric {
		right[col] = true
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(MutedColor)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return tableHeaderStyle
			case right[col]:
				return tableNumberStyle
			default:
				return tableCellStyle
			}
		})
	return t.Render()
}
