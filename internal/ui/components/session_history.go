package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	passedBoxStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("42")).
			Padding(0, 1)

	failedBoxStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("196")).
			Padding(0, 1)

	historyHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("252")).
				Padding(0, 1)

	groupTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)
)

type SessionResult struct {
	Name    string
	Success bool
}

// SessionHistory shows the most recent session outcomes, grouped by result.
type SessionHistory struct {
	Passed []SessionResult
	Failed []SessionResult
	Width  int
	Title  string
}

func NewSessionHistory(width int) *SessionHistory {
	return &SessionHistory{
		Width: width,
		Title: "Recent Sessions",
	}
}

func (h *SessionHistory) Add(res SessionResult, limit int) {
	if res.Success {
		h.Passed = appendWithLimit(h.Passed, res, limit)
	} else {
		h.Failed = appendWithLimit(h.Failed, res, limit)
	}
}

func appendWithLimit(slice []SessionResult, res SessionResult, limit int) []SessionResult {
	slice = append(slice, res)
	if limit > 0 && len(slice) > limit {
		return slice[len(slice)-limit:]
	}
	return slice
}

// View renders the grouped outcomes, or "" before the first session ends
// so the layout can collapse the history region entirely.
func (h *SessionHistory) View() string {
	var boxes []string

	if len(h.Passed) > 0 {
		boxes = append(boxes, h.renderBox("Passed", h.Passed, passedBoxStyle, "✓"))
	}
	if len(h.Failed) > 0 {
		boxes = append(boxes, h.renderBox("Failed", h.Failed, failedBoxStyle, "✗"))
	}

	if len(boxes) == 0 {
		return ""
	}

	content := strings.Join(boxes, "\n")
	if h.Title != "" {
		return historyHeaderStyle.Render(h.Title) + "\n" + content
	}
	return content
}

func (h *SessionHistory) renderBox(title string, results []SessionResult, style lipgloss.Style, icon string) string {
	subTitle := groupTitleStyle.Foreground(style.GetForeground()).Render(title)

	nameWidth := h.Width - 6
	if nameWidth < 0 {
		nameWidth = 0
	}

	var lines []string
	for _, r := range results {
		wrapped := lipgloss.NewStyle().Width(nameWidth).Render(r.Name)
		for i, line := range strings.Split(wrapped, "\n") {
			if i == 0 {
				lines = append(lines, fmt.Sprintf("%s %s", icon, line))
			} else {
				lines = append(lines, fmt.Sprintf("  %s", line))
			}
		}
	}

	body := strings.Join(lines, "\n")
	return style.Width(h.Width).Render(subTitle + "\n" + body)
}
