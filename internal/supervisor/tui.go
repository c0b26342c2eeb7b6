package supervisor

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/jacob8919/autonomous-coding/internal/ui/components"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Padding(0, 1)

	featureStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, true, true, false).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Margin(1, 0)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)
)

// Messages the supervisor loop sends into the TUI.
type (
	OutputMsg       string
	StatusMsg       string
	StateMsg        State
	SessionCountMsg int

	SessionMsg struct {
		FeatureID   int64
		Name        string
		Description string
	}

	ResultMsg struct {
		Name    string
		Success bool
	}

	ProgressMsg struct {
		Passing    int
		Total      int
		Percentage float64
	}
)

type TUIModel struct {
	State         State
	Sessions      int
	MaxSessions   int
	Current       SessionMsg
	Progress      ProgressMsg
	History       *components.SessionHistory
	Output        *components.SessionOutput
	ready         bool
	expanded      bool
	width         int
	height        int
	headerHeight  int
	featureHeight int
	historyHeight int
	err           error
}

func NewTUIModel(maxSessions int) *TUIModel {
	return &TUIModel{
		MaxSessions: maxSessions,
		History:     components.NewSessionHistory(0),
		Output:      components.NewSessionOutput(0, 0),
	}
}

func (m TUIModel) Init() tea.Cmd {
	return nil
}

func (m *TUIModel) SetSize(width, height int) {
	m.width = width
	m.height = height
	if !m.ready {
		m.Output.SetSize(width, 0)
		m.ready = true
	}
	m.History.Width = width
	m.recalculateLayout()
}

func (m *TUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "e", tea.KeyEnter.String():
			m.expanded = !m.expanded
			m.recalculateLayout()
		}

	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)

	case OutputMsg:
		m.Output.Append(string(msg))

	case StatusMsg:
		m.Output.AppendNotice(string(msg))

	case StateMsg:
		m.State = State(msg)

	case SessionMsg:
		m.Current = msg
		m.Output.Reset()
		m.recalculateLayout()

	case ResultMsg:
		m.History.Add(components.SessionResult(msg), 5)
		m.recalculateLayout()

	case ProgressMsg:
		m.Progress = msg

	case SessionCountMsg:
		m.Sessions = int(msg)
		m.recalculateLayout()

	case error:
		m.err = msg
		return m, tea.Quit
	}

	cmd := m.Output.Update(msg)
	return m, cmd
}

func (m *TUIModel) headerView() string {
	sessions := fmt.Sprintf("Session: %d", m.Sessions)
	if m.MaxSessions > 0 {
		sessions = fmt.Sprintf("Session: %d/%d", m.Sessions, m.MaxSessions)
	}
	progress := ""
	if m.Progress.Total > 0 {
		progress = fmt.Sprintf(" | %d/%d passing (%.1f%%)",
			m.Progress.Passing, m.Progress.Total, m.Progress.Percentage)
	}
	return headerStyle.Render(fmt.Sprintf("Autocode Supervisor | %s | %s%s", m.State, sessions, progress))
}

func (m *TUIModel) featureView() string {
	content := fmt.Sprintf("Feature: %s\n\n%s", m.Current.Name, m.Current.Description)
	return featureStyle.Width(m.width - 2).Render(content)
}

func (m *TUIModel) recalculateLayout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}

	m.headerHeight = lipgloss.Height(m.headerView())
	m.featureHeight = lipgloss.Height(m.featureView())

	m.historyHeight = 0
	if history := m.History.View(); history != "" {
		m.historyHeight = lipgloss.Height(history)
	}

	footerHeight := lipgloss.Height(m.helpView())

	extraLines := 3
	if m.historyHeight > 0 {
		extraLines = 5
	}
	occupied := m.headerHeight + m.featureHeight + m.historyHeight + footerHeight + extraLines

	vHeight := 20
	if m.expanded || occupied+vHeight > m.height {
		vHeight = m.height - occupied
	}
	if vHeight < 2 {
		vHeight = 2
	}

	m.Output.SetSize(m.width, vHeight)
}

func (m TUIModel) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	header := m.headerView()
	feature := m.featureView()

	if history := m.History.View(); history != "" {
		return fmt.Sprintf("%s\n%s\n\n%s\n%s\n%s",
			header,
			history,
			feature,
			m.Output.View(),
			m.helpView(),
		)
	}

	return fmt.Sprintf("%s\n%s\n%s\n%s",
		header,
		feature,
		m.Output.View(),
		m.helpView(),
	)
}

func (m TUIModel) helpView() string {
	help := "Press 'q' to quit • 'e'/'enter' to "
	if m.expanded {
		help += "contract"
	} else {
		help += "expand"
	}
	return helpStyle.Render(help)
}
