// Package chat is a terminal conversation view with a single peer.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gezibash/up4w/cmd/up4w/render"
	"github.com/gezibash/up4w/pkg/up4w"
)

var (
	titleStyle  = lipgloss.NewStyle().Foreground(render.AccentColor).Bold(true)
	peerStyle   = lipgloss.NewStyle().Foreground(render.AccentColor).Bold(true)
	selfStyle   = lipgloss.NewStyle().Foreground(render.GreenColor).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(render.DimColor)
	errorStyle  = lipgloss.NewStyle().Foreground(render.WarnColor)
	borderStyle = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderTop(true).BorderForeground(render.DimColor)
)

const inputRows = 2

// Event is one delivery from the message subscription.
type Event struct {
	Msg *up4w.Message
	Err error
}

// SendFunc delivers text to the peer.
type SendFunc func(ctx context.Context, text string) error

// Config wires the view to a client.
type Config struct {
	Ctx      context.Context
	Peer     string
	Label    string
	Incoming <-chan Event
	Send     SendFunc
}

type line struct {
	ts   int64
	self bool
	text string
}

// Model is the bubbletea model of the chat view.
type Model struct {
	cfg Config

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	width, height int
	ready         bool
	sending       bool
	closed        bool
	err           error
	lines         []line
}

type incomingMsg struct{ ev Event }

type closedMsg struct{}

type sentMsg struct {
	text string
	err  error
}

// New builds the model.
func New(cfg Config) Model {
	if cfg.Ctx == nil {
		cfg.Ctx = context.Background()
	}
	if cfg.Label == "" {
		cfg.Label = render.ShortKey(cfg.Peer)
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(render.AccentColor)

	ta := textarea.New()
	ta.Placeholder = "Write a message..."
	ta.Focus()
	ta.CharLimit = 0
	ta.ShowLineNumbers = false
	ta.SetHeight(inputRows)
	ta.SetWidth(render.DefaultWidth - 4)

	return Model{cfg: cfg, textarea: ta, spinner: s, width: render.DefaultWidth, height: 24}
}

// Run starts the program on the alternate screen until the user quits or
// ctx ends.
func Run(ctx context.Context, cfg Config) error {
	cfg.Ctx = ctx
	_, err := tea.NewProgram(New(cfg), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func pump(ch <-chan Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return incomingMsg{ev: ev}
	}
}

func (m Model) send(text string) tea.Cmd {
	send, ctx := m.cfg.Send, m.cfg.Ctx
	return func() tea.Msg {
		return sentMsg{text: text, err: send(ctx, text)}
	}
}

// Init starts the cursor blink, the spinner and the subscription pump.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textarea.Blink, m.spinner.Tick}
	if m.cfg.Incoming != nil {
		cmds = append(cmds, pump(m.cfg.Incoming))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			text := strings.TrimSpace(m.textarea.Value())
			if text == "" || m.sending || m.cfg.Send == nil {
				return m, nil
			}
			m.sending = true
			m.textarea.Reset()
			return m, m.send(text)
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.textarea.SetWidth(max(m.width-4, 10))
		return m.rebuild(), nil

	case incomingMsg:
		if msg.ev.Err != nil {
			m.err = msg.ev.Err
		} else if msg.ev.Msg != nil {
			m.err = nil
			m.lines = append(m.lines, line{ts: msg.ev.Msg.Timestamp, text: msg.ev.Msg.Content})
		}
		return m.rebuild(), pump(m.cfg.Incoming)

	case closedMsg:
		m.closed = true
		return m, nil

	case sentMsg:
		m.sending = false
		if msg.err != nil {
			m.err = fmt.Errorf("send failed: %w", msg.err)
			return m, nil
		}
		m.err = nil
		m.lines = append(m.lines, line{self: true, text: msg.text})
		return m.rebuild(), nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	return m, cmd
}

func (m Model) viewportSize() (int, int) {
	// title, border and help each take a row.
	h := m.height - inputRows - 3
	if h < 3 {
		h = 3
	}
	return m.width, h
}

func (m Model) rebuild() Model {
	w, h := m.viewportSize()
	if !m.ready {
		m.viewport = viewport.New(w, h)
		m.ready = true
	} else {
		m.viewport.Width, m.viewport.Height = w, h
	}
	atBottom := m.viewport.AtBottom() || m.viewport.TotalLineCount() == 0
	m.viewport.SetContent(m.renderLines(w))
	if atBottom {
		m.viewport.GotoBottom()
	}
	return m
}

func (m Model) renderLines(width int) string {
	if len(m.lines) == 0 {
		return dimStyle.Render("No messages yet. Start typing below.")
	}
	var b strings.Builder
	for _, l := range m.lines {
		who := peerStyle.Render("[" + m.cfg.Label + "]")
		stamp := "     "
		if l.self {
			who = selfStyle.Render("[me]")
		}
		if l.ts != 0 {
			stamp = render.Timestamp(l.ts).Format("15:04")
		}
		text := lipgloss.NewStyle().Width(max(width-lipgloss.Width(who)-8, 10)).Render(l.text)
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, dimStyle.Render(stamp+" "), who, " ", text))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// View implements tea.Model.
func (m Model) View() string {
	title := titleStyle.Render("up4w") + " " + dimStyle.Render("chat with") + " " + peerStyle.Render(m.cfg.Label)
	if m.closed {
		title += " " + errorStyle.Render("(disconnected)")
	}

	body := dimStyle.Render("connecting...")
	if m.ready {
		body = m.viewport.View()
	}

	help := dimStyle.Render("enter: send · esc: quit")
	switch {
	case m.err != nil:
		help = errorStyle.Render(m.err.Error())
	case m.sending:
		help = m.spinner.View() + dimStyle.Render(" sending...")
	}
	return lipgloss.JoinVertical(lipgloss.Left, title, body, borderStyle.Render(m.textarea.View()), help)
}
