// Package ui renders command line output.
package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

const (
	COLOR_GREY      = "241"
	COLOR_MAGENTA   = "170"
	COLOR_LIGHTBLUE = "69"
	COLOR_PURPLE    = "#7D56F4"
)

var (
	HelpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(COLOR_GREY)).Padding(0, 2)
	CaptionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(COLOR_MAGENTA)).Bold(true)
	HeaderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(COLOR_PURPLE)).Bold(true).Padding(0, 1)
	CellStyle    = lipgloss.NewStyle().Padding(0, 1)
	BorderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(COLOR_LIGHTBLUE))
)

// Table lays out rows under headers with the app's colors.
func Table(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(BorderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return HeaderStyle
			}
			return CellStyle
		})
	return t.Render()
}

// PrintSection writes a caption followed by body.
func PrintSection(w io.Writer, caption, body string) {
	fmt.Fprintln(w, CaptionStyle.Render(caption))
	fmt.Fprintln(w, body)
}

// Hint writes a dimmed help line.
func Hint(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, HelpStyle.Render(fmt.Sprintf(format, args...)))
}
