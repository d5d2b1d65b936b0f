// ABOUTME: Tests for the turn processor
// ABOUTME: Drives turns with a scripted model, real tools and a mock store

package turn

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatbot/internal/llm"
	"github.com/2389/chatbot/internal/store"
	"github.com/2389/chatbot/internal/tools"
)

func newTestRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(nil)
	require.NoError(t, reg.RegisterPack(tools.MathPack()))
	return reg
}

func calcCall(id string, a, b float64, op string) store.ToolCall {
	args, _ := json.Marshal(tools.CalculatorInput{FirstNum: a, SecondNum: b, Operation: op})
	return store.ToolCall{ID: id, Name: "calculator", Arguments: args}
}

func TestProcessTurn_PlainReply(t *testing.T) {
	model := llm.NewScriptedModel(llm.Reply{Text: "Hello there!"})
	ms := store.NewMockStore()
	p := New(model, newTestRegistry(t), ms, Config{}, nil)

	state, err := p.ProcessTurn(context.Background(), store.NewThreadState("t1"), store.NewMessage(store.RoleUser, "hi"))
	require.NoError(t, err)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, store.RoleUser, state.Messages[0].Role)
	assert.Equal(t, "Hello there!", state.Messages[1].Content)

	persisted, err := ms.LoadState(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, state.Messages, persisted.Messages)

	reqs := model.StreamRequests()
	require.Len(t, reqs, 1)
	assert.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "calculator", reqs[0].Tools[0].Name)
}

func TestProcessTurn_OneToolCall(t *testing.T) {
	model := llm.NewScriptedModel(
		llm.Reply{ToolCalls: []store.ToolCall{calcCall("call-1", 7, 6, "mul")}},
		llm.Reply{Text: "7 times 6 is 42."},
	)
	ms := store.NewMockStore()
	p := New(model, newTestRegistry(t), ms, Config{}, nil)

	state, err := p.ProcessTurn(context.Background(), store.NewThreadState("t1"), store.NewMessage(store.RoleUser, "what is 7 times 6"))
	require.NoError(t, err)
	require.Len(t, state.Messages, 4)

	assert.Equal(t, store.RoleUser, state.Messages[0].Role)

	assert.Equal(t, store.RoleAssistant, state.Messages[1].Role)
	require.Len(t, state.Messages[1].ToolCalls, 1)
	assert.Equal(t, "calculator", state.Messages[1].ToolCalls[0].Name)

	assert.Equal(t, store.RoleTool, state.Messages[2].Role)
	assert.Equal(t, "call-1", state.Messages[2].ToolCallID)
	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(state.Messages[2].Content), &result))
	assert.Equal(t, float64(42), result["result"])
	assert.Equal(t, "mul", result["operation"])

	assert.Equal(t, store.RoleAssistant, state.Messages[3].Role)
	assert.Contains(t, state.Messages[3].Content, "42")
	assert.False(t, state.Messages[3].HasToolCalls())

	// The second generation sees the tool result.
	reqs := model.StreamRequests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].Messages, 3)

	persisted, err := ms.LoadState(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, persisted.Messages, 4)
}

func TestStream_EventSequence(t *testing.T) {
	model := llm.NewScriptedModel(
		llm.Reply{Text: "Let me check. ", ToolCalls: []store.ToolCall{calcCall("c1", 1, 0, "div")}},
		llm.Reply{Text: "You cannot divide by zero."},
	)
	p := New(model, newTestRegistry(t), nil, Config{}, nil)

	var kinds []EventType
	var texts strings.Builder
	var transitions []State
	var final *store.ThreadState
	for ev, err := range p.Stream(context.Background(), store.NewThreadState("t"), store.NewMessage(store.RoleUser, "1/0?")) {
		require.NoError(t, err)
		kinds = append(kinds, ev.Type)
		switch ev.Type {
		case EventText:
			texts.WriteString(ev.Text)
		case EventState:
			transitions = append(transitions, ev.To)
		case EventDone:
			final = ev.State
		}
	}

	require.NotNil(t, final)
	assert.Equal(t, EventMessage, kinds[0], "user message comes first")
	assert.Equal(t, EventDone, kinds[len(kinds)-1])
	assert.Equal(t, []State{StateToolExecuting, StateGenerating}, transitions)
	assert.Equal(t, "Let me check. You cannot divide by zero.", texts.String())

	require.Len(t, final.Messages, 4)
	assert.JSONEq(t, `{"error":"Division by zero is not allowed"}`, final.Messages[2].Content)
}

func TestStream_MultipleCallsRunInOrder(t *testing.T) {
	model := llm.NewScriptedModel(
		llm.Reply{ToolCalls: []store.ToolCall{
			calcCall("a", 1, 2, "add"),
			calcCall("b", 3, 4, "mul"),
			{ID: "c", Name: "nonexistent", Arguments: json.RawMessage(`{}`)},
		}},
		llm.Reply{Text: "done"},
	)
	p := New(model, newTestRegistry(t), nil, Config{}, nil)

	state, err := p.ProcessTurn(context.Background(), store.NewThreadState("t"), store.NewMessage(store.RoleUser, "go"))
	require.NoError(t, err)
	require.Len(t, state.Messages, 6)

	assert.Equal(t, "a", state.Messages[2].ToolCallID)
	assert.Equal(t, "b", state.Messages[3].ToolCallID)
	assert.Equal(t, "c", state.Messages[4].ToolCallID)
	assert.Contains(t, state.Messages[4].Content, "Unknown tool 'nonexistent'")
}

func TestStream_DoesNotMutateInput(t *testing.T) {
	model := llm.NewScriptedModel(llm.Reply{Text: "ok"})
	p := New(model, nil, nil, Config{}, nil)

	input := store.NewThreadState("t")
	input.Messages = []store.Message{store.NewMessage(store.RoleUser, "earlier"), store.NewMessage(store.RoleAssistant, "reply")}

	out, err := p.ProcessTurn(context.Background(), input, store.NewMessage(store.RoleUser, "now"))
	require.NoError(t, err)
	assert.Len(t, input.Messages, 2)
	assert.Len(t, out.Messages, 4)
}

func TestStream_MaxToolRounds(t *testing.T) {
	model := llm.NewScriptedModel(
		llm.Reply{ToolCalls: []store.ToolCall{calcCall("1", 1, 1, "add")}},
		llm.Reply{ToolCalls: []store.ToolCall{calcCall("2", 1, 1, "add")}},
		llm.Reply{ToolCalls: []store.ToolCall{calcCall("3", 1, 1, "add")}},
	)
	ms := store.NewMockStore()
	p := New(model, newTestRegistry(t), ms, Config{MaxToolRounds: 2}, nil)

	_, err := p.ProcessTurn(context.Background(), store.NewThreadState("t"), store.NewMessage(store.RoleUser, "loop"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMaxToolRounds))

	// The rejected tool request is not persisted, so the thread never holds
	// an unanswered call.
	persisted, err := ms.LoadState(context.Background(), "t")
	require.NoError(t, err)
	require.Len(t, persisted.Messages, 5)
	assert.Equal(t, store.RoleTool, persisted.Messages[4].Role)
}

func TestStream_ModelErrorPropagates(t *testing.T) {
	boom := errors.New("model unavailable")
	model := llm.NewScriptedModel(llm.Reply{Err: boom})
	ms := store.NewMockStore()
	p := New(model, nil, ms, Config{}, nil)

	_, err := p.ProcessTurn(context.Background(), store.NewThreadState("t"), store.NewMessage(store.RoleUser, "hi"))
	assert.ErrorIs(t, err, boom)

	persisted, err := ms.LoadState(context.Background(), "t")
	require.NoError(t, err)
	assert.Len(t, persisted.Messages, 1, "user message is recorded before the model is called")
}

func TestStream_StoreErrorPropagates(t *testing.T) {
	ms := store.NewMockStore()
	ms.Err = errors.New("disk full")
	model := llm.NewScriptedModel(llm.Reply{Text: "never"})
	p := New(model, nil, ms, Config{}, nil)

	_, err := p.ProcessTurn(context.Background(), store.NewThreadState("t"), store.NewMessage(store.RoleUser, "hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, model.StreamRequests())
}

func TestStream_ProviderErrorPropagates(t *testing.T) {
	reg := tools.NewRegistry(nil)
	require.NoError(t, reg.Register(&tools.Tool{
		Definition: tools.Definition{Name: "search"},
		Handler: func(context.Context, json.RawMessage) (any, error) {
			return nil, &tools.ProviderError{Provider: "duckduckgo", Err: errors.New("timeout")}
		},
	}))
	model := llm.NewScriptedModel(llm.Reply{ToolCalls: []store.ToolCall{{ID: "s", Name: "search", Arguments: json.RawMessage(`{}`)}}})
	p := New(model, reg, nil, Config{}, nil)

	_, err := p.ProcessTurn(context.Background(), store.NewThreadState("t"), store.NewMessage(store.RoleUser, "news?"))
	var perr *tools.ProviderError
	assert.True(t, errors.As(err, &perr))
}

func TestStream_RejectsNonUserMessage(t *testing.T) {
	p := New(llm.NewScriptedModel(), nil, nil, Config{}, nil)

	_, err := p.ProcessTurn(context.Background(), store.NewThreadState("t"), store.NewMessage(store.RoleAssistant, "hi"))
	assert.ErrorIs(t, err, store.ErrInvalidMessage)
}

func TestStream_ConsumerStopsEarly(t *testing.T) {
	model := llm.NewScriptedModel(llm.Reply{Text: "a b c d"})
	ms := store.NewMockStore()
	p := New(model, nil, ms, Config{}, nil)

	for ev, err := range p.Stream(context.Background(), store.NewThreadState("t"), store.NewMessage(store.RoleUser, "hi")) {
		require.NoError(t, err)
		if ev.Type == EventText {
			break
		}
	}

	persisted, err := ms.LoadState(context.Background(), "t")
	require.NoError(t, err)
	assert.Len(t, persisted.Messages, 1)
}

func TestStream_SystemPromptSentNotStored(t *testing.T) {
	model := llm.NewScriptedModel(llm.Reply{Text: "ok"})
	p := New(model, nil, nil, Config{SystemPrompt: "You are terse."}, nil)

	state, err := p.ProcessTurn(context.Background(), store.NewThreadState("t"), store.NewMessage(store.RoleUser, "hi"))
	require.NoError(t, err)
	assert.Equal(t, "You are terse.", model.StreamRequests()[0].System)
	for _, m := range state.Messages {
		assert.NotEqual(t, "You are terse.", m.Content)
	}
}

func TestMachineTransitions(t *testing.T) {
	m := newMachine()
	assert.Equal(t, StateGenerating, m.current)

	var invalid *InvalidTransitionError
	require.True(t, errors.As(m.transition(StateGenerating), &invalid))
	assert.Equal(t, StateGenerating, invalid.From)

	require.NoError(t, m.transition(StateToolExecuting))
	require.NoError(t, m.transition(StateGenerating))
	require.NoError(t, m.transition(StateToolExecuting))
	assert.Equal(t, 2, m.rounds)
}
