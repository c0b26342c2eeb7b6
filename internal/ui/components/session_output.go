package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	streamStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	trackStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("236"))

	handleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// SessionOutput renders the live output stream of the current session
// in a scrollable viewport.
type SessionOutput struct {
	viewport viewport.Model
	output   strings.Builder
	ready    bool
	width    int
	height   int
}

func NewSessionOutput(width, height int) *SessionOutput {
	return &SessionOutput{
		viewport: viewport.New(width, height),
		width:    width,
		height:   height,
	}
}

func (o *SessionOutput) SetSize(width, height int) {
	o.width = width
	o.height = height
	vpWidth := width
	if width > 0 {
		vpWidth = width - 1
	}
	if !o.ready {
		o.viewport = viewport.New(vpWidth, height)
		o.ready = true
	} else {
		o.viewport.Width = vpWidth
		o.viewport.Height = height
	}
	o.refresh()
}

func (o *SessionOutput) Append(content string) {
	o.output.WriteString(content)
	o.refresh()
}

func (o *SessionOutput) AppendNotice(notice string) {
	o.output.WriteString(noticeStyle.Render(fmt.Sprintf("\n--- %s ---\n", notice)))
	o.refresh()
}

func (o *SessionOutput) Reset() {
	o.output.Reset()
	o.refresh()
}

func (o *SessionOutput) refresh() {
	content := o.output.String()
	if o.viewport.Width > 0 {
		content = streamStyle.Width(o.viewport.Width).Render(content)
	} else {
		content = streamStyle.Render(content)
	}
	o.viewport.SetContent(content)
	o.viewport.GotoBottom()
}

func (o *SessionOutput) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	o.viewport, cmd = o.viewport.Update(msg)
	return cmd
}

func (o *SessionOutput) View() string {
	if !o.ready {
		return ""
	}

	if o.viewport.TotalLineCount() <= o.viewport.Height {
		return o.viewport.View()
	}

	h := o.viewport.Height
	handlePos := int(float64(h-1) * o.viewport.ScrollPercent())

	var sb strings.Builder
	for i := 0; i < h; i++ {
		if i == handlePos {
			sb.WriteString(handleStyle.Render("┃"))
		} else {
			sb.WriteString(trackStyle.Render("│"))
		}
		if i < h-1 {
			sb.WriteString("\n")
		}
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, o.viewport.View(), sb.String())
}

func (o *SessionOutput) Height() int {
	return o.viewport.Height
}
