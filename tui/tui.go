// Package tui renders a running interview in the terminal.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"viva/alert"
	"viva/conversation"
	"viva/interview"
	"viva/recognition"
)

const (
	maxTurns  = 200
	maxAlerts = 3
	sideWidth = 34
)

type StatusMsg struct{ Session interview.Session }
type TurnMsg struct{ Turn conversation.Turn }
type PartialMsg struct{ Text string }
type AlertMsg struct{ Alert alert.Alert }
type tickMsg time.Time

var (
	titleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	questionStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
	partialStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	alertStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	recStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	codingBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1)

	speakerStyles = map[conversation.Speaker]lipgloss.Style{
		conversation.Candidate:   lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true),
		conversation.Interviewer: lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		conversation.System:      lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Bold(true),
	}
)

type model struct {
	session       interview.Session
	turns         []conversation.Turn
	partial       string
	alerts        []alert.Alert
	frame         int
	width, height int
	onQuit        func()
	quitting      bool
}

func newModel(onQuit func()) model {
	if onQuit == nil {
		onQuit = func() {}
	}
	return model{onQuit: onQuit, session: interview.Session{QuestionIndex: -1}}
}

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tick()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.quitting {
				m.quitting = true
				m.onQuit()
			}
			return m, tea.Quit
		}

	case tickMsg:
		m.frame++
		return m, tick()

	case StatusMsg:
		m.session = msg.Session

	case TurnMsg:
		m.turns = append(m.turns, msg.Turn)
		if len(m.turns) > maxTurns {
			m.turns = m.turns[len(m.turns)-maxTurns:]
		}
		if msg.Turn.Speaker == conversation.Candidate {
			m.partial = ""
		}

	case PartialMsg:
		m.partial = strings.TrimSpace(msg.Text)

	case AlertMsg:
		m.alerts = append(m.alerts, msg.Alert)
		if len(m.alerts) > maxAlerts {
			m.alerts = m.alerts[len(m.alerts)-maxAlerts:]
		}
	}
	return m, nil
}

func (m model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	side := m.renderSide()
	mainWidth := max(m.width-sideWidth-1, 20)
	body := m.renderMain(mainWidth)

	sidePanel := lipgloss.NewStyle().Width(sideWidth).Height(m.height).Render(side)
	mainPanel := lipgloss.NewStyle().Width(mainWidth).Height(m.height).PaddingLeft(1).Render(body)
	return lipgloss.JoinHorizontal(lipgloss.Top, sidePanel, mainPanel)
}

func (m model) renderSide() string {
	s := m.session
	var lines []string
	lines = append(lines, titleStyle.Render("viva · mock interview"), "")

	lines = append(lines, m.badges()...)
	lines = append(lines, "")

	if s.QuestionIndex >= 0 && s.Questions > 0 {
		lines = append(lines, dimStyle.Render(fmt.Sprintf("Question %d of %d", s.QuestionIndex+1, s.Questions)))
		for _, l := range wrapText(s.Question, sideWidth-2) {
			lines = append(lines, questionStyle.Render(l))
		}
		lines = append(lines, "")
	}

	if s.CodingRevealed && s.CodingQuestion != "" {
		box := codingBoxStyle.Width(sideWidth - 4).Render("Coding challenge\n\n" + s.CodingQuestion)
		lines = append(lines, box, "")
	}

	for _, a := range m.alerts {
		for _, l := range wrapText("⚠ "+a.Message, sideWidth-2) {
			lines = append(lines, alertStyle.Render(l))
		}
	}
	if len(m.alerts) > 0 {
		lines = append(lines, "")
	}

	if s.Artifact != nil {
		lines = append(lines, dimStyle.Render("Saved "+s.Artifact.Name), "")
	}

	lines = append(lines, helpKeyStyle.Render("q")+helpStyle.Render(" to end the interview"))
	return strings.Join(lines, "\n")
}

// badges shows listening, speaking, processing and recording state.
func (m model) badges() []string {
	s := m.session
	var out []string
	switch {
	case s.Status == interview.Ended:
		out = append(out, dimStyle.Render("■ ENDED"))
	case s.Speaking:
		dots := strings.Repeat("·", m.frame%4)
		out = append(out, speakerStyles[conversation.Interviewer].Render("◆ SPEAKING"+dots))
	case s.Processing:
		out = append(out, lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Render("◇ THINKING"))
	case s.Listening == recognition.Active:
		out = append(out, speakerStyles[conversation.Candidate].Render("● LISTENING"))
	case s.Status == interview.Running:
		out = append(out, dimStyle.Render("○ PAUSED"))
	default:
		out = append(out, dimStyle.Render("○ STANDBY"))
	}
	if s.Recording {
		out = append(out, recStyle.Render("● REC"))
	}
	return out
}

func (m model) renderMain(width int) string {
	wrap := max(width-2, 10)

	var lines []string
	for _, t := range m.turns {
		style, ok := speakerStyles[t.Speaker]
		if !ok {
			style = dimStyle
		}
		lines = append(lines, style.Render(t.Label))
		lines = append(lines, wrapText(t.Text, wrap)...)
		lines = append(lines, "")
	}
	if m.partial != "" {
		for _, l := range wrapText(m.partial+" …", wrap) {
			lines = append(lines, partialStyle.Render(l))
		}
	}
	if len(lines) == 0 {
		lines = append(lines, dimStyle.Render("Waiting for the interview to start"))
	}

	// keep the tail visible
	if m.height > 0 && len(lines) > m.height {
		lines = lines[len(lines)-m.height:]
	}
	return strings.Join(lines, "\n")
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}

// Program runs the terminal UI and receives interview events.
type Program struct {
	p *tea.Program
}

// New builds the UI. onQuit runs once when the user asks to end the
// interview.
func New(onQuit func()) *Program {
	return &Program{p: tea.NewProgram(newModel(onQuit), tea.WithAltScreen())}
}

// Run blocks until the UI exits.
func (p *Program) Run() error {
	_, err := p.p.Run()
	return err
}

func (p *Program) Quit() { p.p.Quit() }

func (p *Program) Status(s interview.Session) { p.p.Send(StatusMsg{Session: s}) }
func (p *Program) Turn(t conversation.Turn)   { p.p.Send(TurnMsg{Turn: t}) }
func (p *Program) Partial(text string)        { p.p.Send(PartialMsg{Text: text}) }
func (p *Program) Alert(a alert.Alert)        { p.p.Send(AlertMsg{Alert: a}) }
