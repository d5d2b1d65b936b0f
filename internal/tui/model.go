// ABOUTME: Bubble Tea model for the terminal chat: thread sidebar, transcript and input
// ABOUTME: Runs turns off the UI goroutine and feeds streamed chunks back as messages

package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/2389/chatbot/internal/session"
	"github.com/2389/chatbot/internal/store"
)

const sidebarWidth = 28

type focus int

const (
	focusInput focus = iota
	focusSidebar
)

// chunkMsg carries one streamed piece of a running turn.
type chunkMsg session.Chunk

// turnDoneMsg ends a running turn.
type turnDoneMsg struct {
	reply session.DisplayMessage
	err   error
}

// actionDoneMsg reports the result of a switch or delete.
type actionDoneMsg struct {
	err error
}

// Model is the terminal chat UI.
type Model struct {
	ctx  context.Context
	sess *session.Session

	width  int
	height int
	focus  focus
	// selected is the sidebar thread under the cursor, tracked by id so the
	// cursor stays put when threads are added above it.
	selected string

	input      textinput.Model
	transcript viewport.Model

	stream    <-chan tea.Msg
	streaming bool
	live      string
	status    string
	err       error
	quitting  bool
}

// NewModel creates the UI over a session.
func NewModel(ctx context.Context, sess *session.Session) Model {
	in := textinput.New()
	in.Placeholder = "type here..."
	in.CharLimit = 4000
	in.Focus()

	m := Model{
		ctx:        ctx,
		sess:       sess,
		width:      100,
		height:     30,
		input:      in,
		transcript: viewport.New(100-sidebarWidth, 26),
	}
	m.resize()
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.refresh()
		return m, nil

	case chunkMsg:
		switch msg.Type {
		case session.ChunkText:
			m.live += msg.Text
		case session.ChunkToolCall:
			m.live = ""
			m.status = "calling " + msg.ToolName + "..."
		case session.ChunkTitle:
			m.status = "new thread: " + msg.Text
		}
		m.refresh()
		return m, waitForStream(m.stream)

	case turnDoneMsg:
		m.streaming = false
		m.stream = nil
		m.live = ""
		m.err = msg.err
		if msg.err == nil {
			m.status = ""
		}
		m.refresh()
		return m, nil

	case actionDoneMsg:
		m.err = msg.err
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.updateKey(msg)
	}

	var cmd tea.Cmd
	m.transcript, cmd = m.transcript.Update(msg)
	return m, cmd
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "tab":
		if m.focus == focusInput {
			m.focus = focusSidebar
			m.input.Blur()
			m.pinSelection()
		} else {
			m.focus = focusInput
			m.input.Focus()
		}
		return m, nil
	case "ctrl+n":
		if m.streaming {
			return m, nil
		}
		m.sess.NewChat()
		m.err = nil
		m.status = ""
		m.focus = focusInput
		m.input.Focus()
		m.refresh()
		return m, nil
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.Update(msg)
		return m, cmd
	}

	if m.focus == focusSidebar {
		return m.updateSidebar(msg)
	}
	return m.updateInput(msg)
}

func (m Model) updateSidebar(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	threads := m.sess.Threads()
	i := m.cursor(threads)
	switch msg.String() {
	case "up", "k":
		if i > 0 {
			m.selected = threads[i-1].ID
		}
	case "down", "j":
		if i < len(threads)-1 {
			m.selected = threads[i+1].ID
		}
	case "enter":
		if m.streaming || len(threads) == 0 {
			return m, nil
		}
		id := threads[i].ID
		m.selected = id
		m.focus = focusInput
		m.input.Focus()
		return m, m.action(func(ctx context.Context) error { return m.sess.Switch(ctx, id) })
	case "d", "delete":
		if m.streaming || len(threads) == 0 {
			return m, nil
		}
		id := threads[i].ID
		// The cursor moves to the thread that takes the deleted one's place.
		switch {
		case i+1 < len(threads):
			m.selected = threads[i+1].ID
		case i > 0:
			m.selected = threads[i-1].ID
		default:
			m.selected = ""
		}
		return m, m.action(func(ctx context.Context) error { return m.sess.Delete(ctx, id) })
	}
	return m, nil
}

// cursor returns the sidebar index of the selected thread, or 0 when the
// selection is gone.
func (m Model) cursor(threads []store.ThreadSummary) int {
	for i, t := range threads {
		if t.ID == m.selected {
			return i
		}
	}
	return 0
}

// pinSelection selects the active thread, or the first one, when nothing
// listed is selected yet.
func (m *Model) pinSelection() {
	threads := m.sess.Threads()
	active := m.sess.ActiveID()
	for _, t := range threads {
		if t.ID == m.selected {
			return
		}
	}
	m.selected = ""
	for _, t := range threads {
		if t.ID == active {
			m.selected = active
			return
		}
	}
	if len(threads) > 0 {
		m.selected = threads[0].ID
	}
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type != tea.KeyEnter {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.streaming {
		return m, nil
	}
	if strings.EqualFold(text, "quit") {
		m.quitting = true
		return m, tea.Quit
	}

	m.input.Reset()
	m.err = nil
	m.status = "thinking..."
	m.streaming = true
	ch := make(chan tea.Msg, 64)
	m.stream = ch
	m.refresh()
	return m, tea.Batch(runTurn(m.ctx, m.sess, text, ch), waitForStream(ch))
}

// runTurn sends text on the session, forwarding chunks into ch. It closes ch
// after the final turnDoneMsg.
func runTurn(ctx context.Context, sess *session.Session, text string, ch chan<- tea.Msg) tea.Cmd {
	return func() tea.Msg {
		reply, err := sess.Send(ctx, text, func(c session.Chunk) {
			ch <- chunkMsg(c)
		})
		ch <- turnDoneMsg{reply: reply, err: err}
		close(ch)
		return nil
	}
}

// waitForStream delivers the next message of a running turn.
func waitForStream(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func (m Model) action(fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionDoneMsg{err: fn(ctx)}
	}
}

func (m *Model) resize() {
	m.transcript.Width = max(20, m.width-sidebarWidth-3)
	m.transcript.Height = max(3, m.height-4)
	m.input.Width = max(10, m.transcript.Width-4)
}

// refresh re-renders the transcript into the viewport and keeps it scrolled
// to the newest line.
func (m *Model) refresh() {
	m.transcript.SetContent(m.renderTranscript())
	m.transcript.GotoBottom()
}

func (m Model) renderTranscript() string {
	width := m.transcript.Width
	wrap := lipgloss.NewStyle().Width(width)

	var b strings.Builder
	for _, dm := range m.sess.History() {
		switch dm.Kind {
		case session.KindUser:
			b.WriteString(userRoleStyle.Render(" you ") + "\n")
			b.WriteString(wrap.Render(dm.Content) + "\n\n")
		case session.KindAssistant:
			b.WriteString(assistantRoleStyle.Render(" assistant ") + "\n")
			b.WriteString(wrap.Render(dm.Content) + "\n\n")
		case session.KindToolCall:
			b.WriteString(toolCallStyle.Render(fmt.Sprintf("→ %s %s", dm.ToolName, dm.Content)) + "\n")
		case session.KindToolResult:
			b.WriteString(toolCallStyle.Render(fmt.Sprintf("← %s: %s", dm.ToolName, truncate(dm.Content, 200))) + "\n\n")
		}
	}
	if m.live != "" {
		b.WriteString(assistantRoleStyle.Render(" assistant ") + "\n")
		b.WriteString(wrap.Render(m.live) + "\n")
	}
	return b.String()
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	sidebar := sidebarStyle.Width(sidebarWidth).Height(m.height - 1).Render(m.renderSidebar())

	header := titleStyle.Render(m.threadTitle())
	var footer string
	switch {
	case m.err != nil:
		footer = errorStyle.Render("error: " + m.err.Error())
	case m.status != "":
		footer = dimStyle.Render(m.status)
	default:
		footer = helpStyle.Render("enter: send  tab: threads  ctrl+n: new chat  ctrl+c: quit")
	}

	main := lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.transcript.View(),
		m.input.View(),
		footer,
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, sidebar, main)
}

func (m Model) threadTitle() string {
	if t := m.sess.Title(); t != "" {
		return t
	}
	return "New chat " + session.ShortID(m.sess.ActiveID())
}

func (m Model) renderSidebar() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Threads") + "\n")

	threads := m.sess.Threads()
	if len(threads) == 0 {
		b.WriteString(dimStyle.Render("no conversations yet") + "\n")
	}
	active := m.sess.ActiveID()
	cur := m.cursor(threads)
	for i, t := range threads {
		label := truncate(session.Label(t), sidebarWidth-4)
		switch {
		case m.focus == focusSidebar && i == cur:
			label = selectedStyle.Render(label)
		case t.ID == active:
			label = activeThreadStyle.Render(label)
		}
		b.WriteString(label + "\n")
	}

	if m.focus == focusSidebar {
		b.WriteString("\n" + helpStyle.Render("enter: open  d: delete"))
	}
	return b.String()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n < 2 {
		return string(runes[:n])
	}
	return string(runes[:n-2]) + ".."
}
