// ABOUTME: Tests for the terminal chat model
// ABOUTME: Drives Update with key messages and runs the returned commands inline

package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatbot/internal/llm"
	"github.com/2389/chatbot/internal/session"
	"github.com/2389/chatbot/internal/store"
	"github.com/2389/chatbot/internal/tools"
	"github.com/2389/chatbot/internal/turn"
)

func newTestModel(t *testing.T) (Model, *llm.ScriptedModel, *session.Session) {
	t.Helper()
	st := store.NewMockStore()
	model := llm.NewScriptedModel()
	reg := tools.NewRegistry(nil)
	require.NoError(t, reg.RegisterPack(tools.MathPack()))
	proc := turn.New(model, reg, st, turn.Config{}, nil)

	sess, err := session.New(context.Background(), st, proc, nil, nil)
	require.NoError(t, err)
	return NewModel(context.Background(), sess), model, sess
}

// pump runs cmd and every command that follows from it until none remain.
func pump(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	queue := []tea.Cmd{cmd}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if next == nil {
			continue
		}
		msg := next()
		switch msg := msg.(type) {
		case nil:
		case tea.BatchMsg:
			queue = append(queue, msg...)
		default:
			updated, follow := m.Update(msg)
			m = updated.(Model)
			queue = append(queue, follow)
		}
	}
	return m
}

func press(t *testing.T, m Model, key tea.KeyMsg) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(key)
	return updated.(Model), cmd
}

func send(t *testing.T, m Model, text string) Model {
	t.Helper()
	m.input.SetValue(text)
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, m.streaming)
	return pump(t, m, cmd)
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestSend_StreamsIntoTranscript(t *testing.T) {
	m, model, sess := newTestModel(t)
	model.AddCompletions(llm.Reply{Text: "Greetings"})
	model.AddReplies(llm.Reply{Text: "Hello there friend"})

	m = send(t, m, "hi")

	assert.False(t, m.streaming)
	assert.Empty(t, m.live)
	assert.NoError(t, m.err)
	assert.Empty(t, m.input.Value())

	history := sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, "hi", history[0].Content)
	assert.Equal(t, "Hello there friend", history[1].Content)

	view := m.View()
	assert.Contains(t, view, "Greetings")
	assert.Contains(t, view, "Hello there friend")
}

func TestChunks_AccumulateLiveText(t *testing.T) {
	m, _, _ := newTestModel(t)
	m.streaming = true

	updated, _ := m.Update(chunkMsg{Type: session.ChunkText, Text: "Hel"})
	m = updated.(Model)
	updated, _ = m.Update(chunkMsg{Type: session.ChunkText, Text: "lo"})
	m = updated.(Model)
	assert.Equal(t, "Hello", m.live)

	updated, _ = m.Update(chunkMsg{Type: session.ChunkToolCall, ToolName: "calculator"})
	m = updated.(Model)
	assert.Empty(t, m.live)
	assert.Contains(t, m.status, "calculator")

	updated, _ = m.Update(turnDoneMsg{})
	m = updated.(Model)
	assert.False(t, m.streaming)
	assert.Empty(t, m.status)
}

func TestSend_ErrorShownInFooter(t *testing.T) {
	m, model, _ := newTestModel(t)
	model.AddCompletions(llm.Reply{Text: "Topic"})
	model.AddReplies(llm.Reply{Err: errors.New("upstream down")})

	m = send(t, m, "hi")

	require.Error(t, m.err)
	assert.Contains(t, m.View(), "upstream down")
}

func TestEmptyInputIsIgnored(t *testing.T) {
	m, model, _ := newTestModel(t)
	m.input.SetValue("   ")

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.False(t, m.streaming)
	assert.Empty(t, model.StreamRequests())
}

func TestQuit(t *testing.T) {
	t.Run("typed quit", func(t *testing.T) {
		m, model, _ := newTestModel(t)
		m.input.SetValue(" Quit ")
		m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
		assert.True(t, isQuit(cmd))
		assert.Empty(t, m.View())
		assert.Empty(t, model.StreamRequests(), "quit is not sent to the model")
	})

	t.Run("ctrl+c", func(t *testing.T) {
		m, _, _ := newTestModel(t)
		_, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
		assert.True(t, isQuit(cmd))
	})
}

func TestNewChat(t *testing.T) {
	m, model, sess := newTestModel(t)
	model.AddCompletions(llm.Reply{Text: "Greetings"})
	model.AddReplies(llm.Reply{Text: "Hello"})
	m = send(t, m, "hi")
	first := sess.ActiveID()

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlN})
	assert.NotEqual(t, first, sess.ActiveID())
	assert.Empty(t, sess.History())
	assert.Contains(t, m.View(), "New chat")
	assert.Len(t, sess.Threads(), 1)
}

func TestSidebar_SwitchAndDelete(t *testing.T) {
	m, model, sess := newTestModel(t)
	model.AddCompletions(llm.Reply{Text: "First"}, llm.Reply{Text: "Second"})
	model.AddReplies(llm.Reply{Text: "one"}, llm.Reply{Text: "two"})

	m = send(t, m, "a")
	firstID := sess.ActiveID()
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlN})
	m = send(t, m, "b")
	secondID := sess.ActiveID()

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, focusSidebar, m.focus)

	// Newest first: the cursor starts on "Second".
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	assert.Equal(t, 1, m.cursor(sess.Threads()))
	assert.Equal(t, firstID, m.selected)

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m = pump(t, m, cmd)
	require.NoError(t, m.err)
	assert.Equal(t, firstID, sess.ActiveID())
	assert.Equal(t, focusInput, m.focus)
	require.Len(t, sess.History(), 2)
	assert.Equal(t, "one", sess.History()[1].Content)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m, cmd = press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	m = pump(t, m, cmd)
	require.NoError(t, m.err)

	threads := sess.Threads()
	require.Len(t, threads, 1)
	assert.Equal(t, secondID, threads[0].ID)
	assert.NotEqual(t, firstID, sess.ActiveID(), "deleting the active thread starts a new chat")
	assert.Equal(t, 0, m.cursor(sess.Threads()))
	assert.Equal(t, secondID, m.selected)
}

func TestSidebar_SelectionFollowsThreadWhenNewOneIsAdded(t *testing.T) {
	m, model, sess := newTestModel(t)
	model.AddCompletions(llm.Reply{Text: "First"}, llm.Reply{Text: "Second"}, llm.Reply{Text: "Third"})
	model.AddReplies(llm.Reply{Text: "one"}, llm.Reply{Text: "two"}, llm.Reply{Text: "three"})

	m = send(t, m, "a")
	firstID := sess.ActiveID()
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlN})
	m = send(t, m, "b")
	secondID := sess.ActiveID()

	// Select "First", then leave the sidebar and start another thread.
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	require.Equal(t, firstID, m.selected)
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.Equal(t, focusInput, m.focus)
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlN})
	m = send(t, m, "c")
	thirdID := sess.ActiveID()
	require.Len(t, sess.Threads(), 3)
	require.Equal(t, thirdID, sess.Threads()[0].ID)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, firstID, m.selected)
	assert.Equal(t, 2, m.cursor(sess.Threads()))

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	m = pump(t, m, cmd)
	require.NoError(t, m.err)

	var ids []string
	for _, th := range sess.Threads() {
		ids = append(ids, th.ID)
	}
	assert.Equal(t, []string{thirdID, secondID}, ids)
	assert.Equal(t, thirdID, sess.ActiveID())
}

func TestSidebar_KeysDoNotReachInput(t *testing.T) {
	m, _, _ := newTestModel(t)
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	assert.Empty(t, m.input.Value())

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, focusInput, m.focus)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg..", truncate("abcdefghijk", 9))
	assert.Equal(t, "a", truncate("abc", 1))
}
