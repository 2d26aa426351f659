package render

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"dora/internal/core"
	"dora/internal/persistence"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	stateColors = map[core.ScopeState]lipgloss.Color{
		core.StateUnclustered: lipgloss.Color("241"),
		core.StateClustered:   lipgloss.Color("214"),
		core.StateLabeled:     lipgloss.Color("39"),
		core.StateGrouped:     lipgloss.Color("42"),
	}
)

// Title renders a section heading.
func Title(text string) string {
	return titleStyle.Render(text)
}

// Muted renders secondary text.
func Muted(text string) string {
	return mutedStyle.Render(text)
}

// StatusTable renders one row per scope with its state and counts.
func StatusTable(statuses []persistence.ScopeStatus) string {
	if len(statuses) == 0 {
		return Muted("No clustered scopes yet. Run `dora cluster` first.")
	}

	rows := make([][]string, len(statuses))
	for i, s := range statuses {
		rows[i] = []string{
			s.Scope.Company,
			string(s.Scope.Kind),
			string(s.Scope.EmbeddingType),
			strconv.Itoa(s.Scope.Dimensions),
			s.State.String(),
			strconv.Itoa(s.Embeddings),
			fmt.Sprintf("%d/%d", s.Labeled, s.Clusters),
			strconv.Itoa(s.Clustered),
			strconv.Itoa(s.Noise),
			strconv.Itoa(s.Groups),
		}
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("COMPANY", "KIND", "TYPE", "DIMS", "STATE", "EMBEDDINGS", "LABELED", "ITEMS", "NOISE", "GROUPS").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 4 && row >= 0 && row < len(statuses) {
				return cellStyle.Foreground(stateColors[statuses[row].State])
			}
			return cellStyle
		})
	return t.String()
}
