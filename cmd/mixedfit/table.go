package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var reportHeaders = []string{
	"Variant", "Intercept (SE)", "Slope (SE)",
	"SD(int)", "SD(slope)", "Corr", "AIC", "Converged",
}

// reportTable renders the comparison report as a plain bordered terminal
// table.
type reportTable struct {
	title string
	rows  [][]string
}

func newReportTable(title string) *reportTable {
	return &reportTable{title: title}
}

// AddRow appends one variant's cells.
func (t *reportTable) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// View renders the table.
func (t *reportTable) View() string {
	var sb strings.Builder

	titleStyle := lipgloss.NewStyle().Bold(true)
	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	if t.title != "" {
		sb.WriteString(titleStyle.Render(t.title))
		sb.WriteString("\n")
	}

	// Column widths from headers and cells.
	widths := make([]int, len(reportHeaders))
	for i, h := range reportHeaders {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}
	for i := range widths {
		widths[i] += 2 // lipgloss width includes padding
	}

	for i, h := range reportHeaders {
		sb.WriteString(headerStyle.Width(widths[i]).Render(h))
	}
	sb.WriteString("\n")

	total := 0
	for _, w := range widths {
		total += w
	}
	sb.WriteString(strings.Repeat("-", total))
	sb.WriteString("\n")

	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				sb.WriteString(cellStyle.Width(widths[i]).Render(cell))
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
