package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// engineUpdateMsg wraps an engineUpdate for delivery through the Bubble Tea
// message queue, which preserves Send order.
type engineUpdateMsg struct {
	update engineUpdate
}

// programSink bridges the turn goroutine's emit calls into the program's
// message queue. The program pointer is set once, before Run.
type programSink struct {
	mu      sync.Mutex
	program *tea.Program
}

func (s *programSink) attach(p *tea.Program) {
	s.mu.Lock()
	s.program = p
	s.mu.Unlock()
}

func (s *programSink) send(update engineUpdate) {
	s.mu.Lock()
	p := s.program
	s.mu.Unlock()
	if p != nil {
		p.Send(engineUpdateMsg{update: update})
	}
}

type uiTheme struct {
	header      lipgloss.Style
	panel       lipgloss.Style
	footer      lipgloss.Style
	status      lipgloss.Style
	errorStatus lipgloss.Style
	inputPanel  lipgloss.Style
	modal       lipgloss.Style
	modalTitle  lipgloss.Style
	roleLabel   map[cellRole]lipgloss.Style
	toolLine    lipgloss.Style
	errorLine   lipgloss.Style
	helpText    lipgloss.Style
}

func newTheme() uiTheme {
	pink := lipgloss.Color("#ff71ce")
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	amber := lipgloss.Color("#ffd166")
	text := lipgloss.Color("#f3f3ff")
	muted := lipgloss.Color("#9ca3d8")
	panelBg := lipgloss.Color("#1b0f35")

	return uiTheme{
		header: lipgloss.NewStyle().
			Background(panelBg).
			Foreground(text).
			Bold(true).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		footer:      lipgloss.NewStyle().Foreground(muted),
		status:      lipgloss.NewStyle().Foreground(blue).Bold(true),
		errorStatus: lipgloss.NewStyle().Foreground(pink).Bold(true),
		inputPanel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mint).
			Padding(0, 1),
		modal: lipgloss.NewStyle().
			BorderStyle(lipgloss.DoubleBorder()).
			BorderForeground(amber).
			Padding(1, 2),
		modalTitle: lipgloss.NewStyle().Foreground(amber).Bold(true),
		roleLabel: map[cellRole]lipgloss.Style{
			roleUser:      lipgloss.NewStyle().Foreground(mint).Bold(true),
			roleAssistant: lipgloss.NewStyle().Foreground(blue).Bold(true),
			roleTool:      lipgloss.NewStyle().Foreground(muted).Bold(true),
			roleError:     lipgloss.NewStyle().Foreground(pink).Bold(true),
		},
		toolLine:  lipgloss.NewStyle().Foreground(muted),
		errorLine: lipgloss.NewStyle().Foreground(pink),
		helpText:  lipgloss.NewStyle().Foreground(muted),
	}
}

type uiModel struct {
	cfg    appConfig
	mode   *interactiveMode
	rc     *runtimeContext
	policy corePolicy

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model
	theme    uiTheme
	markdown *glamour.TermRenderer

	width       int
	height      int
	statusLine  string
	statusError bool
	quitConfirm bool
}

func newUIModel(cfg appConfig, mode *interactiveMode, rc *runtimeContext, policy corePolicy) uiModel {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 4000
	input.Placeholder = "Ask about the workspace, or request an edit."
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true
	timeline.MouseWheelDelta = 4

	return uiModel{
		cfg:        cfg,
		mode:       mode,
		rc:         rc,
		policy:     policy,
		input:      input,
		timeline:   timeline,
		spinner:    sp,
		theme:      newTheme(),
		statusLine: "ready",
	}
}

func (m uiModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, textinput.Blink)
}

func (m uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case engineUpdateMsg:
		m.applyEngineUpdate(msg.update)
		m.renderTimeline()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
		if m.mode.turnInProgress() {
			m.renderTimeline()
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderTimeline()
	case tea.MouseMsg:
		if m.mode.overlayActive() || m.quitConfirm {
			break
		}
		var cmd tea.Cmd
		m.timeline, cmd = m.timeline.Update(msg)
		m.syncViewState()
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		return m.handleKey(msg, cmds)
	}
	return m, tea.Batch(cmds...)
}

func (m *uiModel) applyEngineUpdate(update engineUpdate) {
	wasInFlight := m.mode.turnInProgress()
	m.mode.onModelUpdate(update, m.rc)
	switch u := update.(type) {
	case approvalRequest:
		m.setStatus(fmt.Sprintf("approval required: %s %s · y approve / n deny", u.toolName, u.inputPreview), false)
	case toolRoundStart:
		m.setStatus("running "+u.toolName, false)
	case turnComplete:
		m.setStatus("ready", false)
	case turnError:
		m.setStatus(compactSingleLine(u.message, 120), true)
	default:
		if wasInFlight && m.mode.turnInProgress() {
			m.setStatus("streaming...", false)
		}
	}
}

func (m uiModel) handleKey(msg tea.KeyMsg, cmds []tea.Cmd) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.rc.cancelTurn()
		return m, tea.Quit
	}

	if m.quitConfirm {
		switch msg.String() {
		case "y", "Y", "enter":
			m.rc.cancelTurn()
			return m, tea.Quit
		case "n", "N", "esc":
			m.quitConfirm = false
			m.setStatus("quit canceled", false)
		}
		return m, tea.Batch(cmds...)
	}

	if overlay := m.mode.currentOverlay(); overlay != nil {
		switch overlay.(type) {
		case *approvalOverlay:
			switch msg.String() {
			case "y", "Y":
				m.mode.resolveApproval(true)
				m.setStatus("approved", false)
			case "n", "N", "esc":
				m.mode.resolveApproval(false)
				m.setStatus("denied", false)
			default:
				m.setStatus("resolve the approval first: y approve / n deny", true)
			}
		case *noticeOverlay:
			m.mode.dismissOverlay()
		}
		return m, tea.Batch(cmds...)
	}

	switch msg.String() {
	case "esc":
		if m.mode.turnInProgress() {
			m.rc.cancelTurn()
			m.setStatus("cancelling...", false)
			return m, tea.Batch(cmds...)
		}
		m.quitConfirm = true
		return m, tea.Batch(cmds...)
	case "enter":
		raw := strings.TrimSpace(m.input.Value())
		if raw == "" {
			return m, tea.Batch(cmds...)
		}
		if m.mode.turnInProgress() {
			// Open-question decision: the mode stays a silent no-op, the
			// frontend surfaces the rejection.
			m.setStatus("turn in progress · wait or press esc to cancel", true)
			return m, tea.Batch(cmds...)
		}
		m.mode.onUserInput(raw, m.rc)
		if m.mode.turnInProgress() {
			m.input.SetValue("")
			m.setStatus("thinking...", false)
			m.renderTimeline()
		}
		return m, tea.Batch(cmds...)
	case "pgup", "ctrl+b":
		m.timeline.LineUp(8)
		m.syncViewState()
		return m, tea.Batch(cmds...)
	case "pgdown", "ctrl+f":
		m.timeline.LineDown(8)
		m.syncViewState()
		return m, tea.Batch(cmds...)
	case "home":
		m.timeline.GotoTop()
		m.syncViewState()
		return m, tea.Batch(cmds...)
	case "end":
		m.timeline.GotoBottom()
		m.syncViewState()
		return m, tea.Batch(cmds...)
	case "up":
		if strings.TrimSpace(m.input.Value()) == "" {
			m.timeline.LineUp(4)
			m.syncViewState()
			return m, tea.Batch(cmds...)
		}
	case "down":
		if strings.TrimSpace(m.input.Value()) == "" {
			m.timeline.LineDown(4)
			m.syncViewState()
			return m, tea.Batch(cmds...)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *uiModel) setStatus(text string, isError bool) {
	m.statusLine = text
	m.statusError = isError
}

// syncViewState mirrors the viewport position into the mode's view state so
// auto-follow re-engages exactly when the user returns to the tail.
func (m *uiModel) syncViewState() {
	m.mode.view.offset = m.timeline.YOffset
	m.mode.view.autoFollow = m.timeline.AtBottom()
}

func (m *uiModel) resize() {
	contentWidth := maxInt(20, m.width-6)
	contentHeight := maxInt(5, m.height-8)
	m.timeline.Width = contentWidth
	m.timeline.Height = contentHeight
	m.input.Width = maxInt(20, m.width-10)

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(contentWidth),
	)
	if err == nil {
		m.markdown = renderer
	}
}

func (m *uiModel) renderTimeline() {
	var out strings.Builder
	for _, c := range m.mode.transcript.cells {
		label := m.theme.roleLabel[c.role].Render(c.role.String())
		switch {
		case !c.committed:
			text := m.policy.sanitizeAssistantText(c.composed())
			out.WriteString(label + "\n")
			out.WriteString(strings.TrimRight(text, "\n"))
			if m.mode.turnInProgress() {
				out.WriteString(" " + m.spinner.View())
			}
			out.WriteString("\n\n")
		case c.role == roleTool:
			out.WriteString(m.theme.toolLine.Render(c.text) + "\n")
		case c.role == roleError:
			out.WriteString(label + " " + m.theme.errorLine.Render(c.text) + "\n\n")
		case c.role == roleAssistant:
			out.WriteString(label + "\n" + m.renderMarkdown(c.text) + "\n")
		default:
			out.WriteString(label + "\n" + c.text + "\n\n")
		}
	}
	m.timeline.SetContent(out.String())
	if m.mode.view.autoFollow {
		m.timeline.GotoBottom()
	} else {
		m.timeline.SetYOffset(m.mode.view.offset)
	}
	m.mode.view.follow(m.timeline.TotalLineCount(), m.timeline.Height)
}

func (m *uiModel) renderMarkdown(text string) string {
	if m.markdown == nil {
		return text
	}
	rendered, err := m.markdown.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(rendered, "\n") + "\n"
}

func (m uiModel) View() string {
	if m.width == 0 {
		return "loading..."
	}

	header := m.theme.header.Width(maxInt(0, m.width-2)).Render(
		fmt.Sprintf("palaver · %s · %s", m.cfg.model, truncate(m.cfg.workDir, 48)),
	)
	timeline := m.theme.panel.Render(m.timeline.View())
	inputView := m.theme.inputPanel.Render(m.input.View())
	status := ternary(m.statusError, m.theme.errorStatus, m.theme.status).Render(m.statusLine)
	help := m.theme.helpText.Render("enter send · esc cancel/quit · pgup/pgdn scroll · ctrl+c quit")
	footer := m.theme.footer.Render(status + "  " + help)

	base := lipgloss.JoinVertical(lipgloss.Left, header, timeline, inputView, footer)

	if m.quitConfirm {
		return m.renderModal("Quit palaver?", "y confirm · n cancel")
	}
	if overlay, ok := m.mode.currentOverlay().(*approvalOverlay); ok {
		body := fmt.Sprintf("%s\n%s", overlay.req.toolName, compactSingleLine(overlay.req.inputPreview, 200))
		return m.renderModal("Tool approval", body+"\n\ny approve · n deny")
	}
	if overlay, ok := m.mode.currentOverlay().(*noticeOverlay); ok {
		return m.renderModal("Notice", overlay.text+"\n\nany key to dismiss")
	}
	return base
}

func (m uiModel) renderModal(title, body string) string {
	modal := m.theme.modal.Render(m.theme.modalTitle.Render(title) + "\n\n" + body)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal)
}
