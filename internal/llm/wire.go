// ABOUTME: OpenAI-compatible chat completions wire types
// ABOUTME: Converts between store messages and the request/response JSON shapes

package llm

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/chatbot/internal/store"
)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string          `json:"type"`
	Function wireToolFuncDef `json:"function"`
}

type wireToolFuncDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func toWireMessages(system string, msgs []store.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, wireMessage{Role: "system", Content: system})
	}
	for _, m := range msgs {
		switch m.Role {
		case store.RoleUser:
			out = append(out, wireMessage{Role: "user", Content: m.Content})
		case store.RoleAssistant:
			wm := wireMessage{Role: "assistant", Content: m.Content}
			for _, tc := range m.ToolCalls {
				args := string(tc.Arguments)
				if args == "" {
					args = "{}"
				}
				wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
					ID:       tc.ID,
					Type:     "function",
					Function: wireFunction{Name: tc.Name, Arguments: args},
				})
			}
			out = append(out, wm)
		case store.RoleTool:
			out = append(out, wireMessage{
				Role:       "tool",
				Content:    m.Content,
				Name:       m.ToolName,
				ToolCallID: m.ToolCallID,
			})
		}
	}
	return out
}

func toWireTools(tools []Tool) []wireTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, wireTool{
			Type: "function",
			Function: wireToolFuncDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// fromWireMessage builds the assistant message from a complete response.
func fromWireMessage(wm wireMessage) store.Message {
	msg := store.NewMessage(store.RoleAssistant, wm.Content)
	for _, tc := range wm.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, toToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}
	return msg
}

func toToolCall(id, name, args string) store.ToolCall {
	if id == "" {
		id = "call_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	args = strings.TrimSpace(args)
	if args == "" {
		args = "{}"
	}
	var raw json.RawMessage
	if json.Valid([]byte(args)) {
		raw = json.RawMessage(args)
	} else {
		// Keep malformed arguments as a JSON string so they persist and
		// fail schema validation instead of breaking the store.
		quoted, _ := json.Marshal(args)
		raw = quoted
	}
	return store.ToolCall{ID: id, Name: name, Arguments: raw}
}

// accumulator assembles streamed deltas into one assistant message.
// Tool call fragments arrive keyed by index; arguments are concatenated.
type accumulator struct {
	text         strings.Builder
	calls        []*partialCall
	byIndex      map[int]*partialCall
	finishReason string
}

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

func newAccumulator() *accumulator {
	return &accumulator{byIndex: make(map[int]*partialCall)}
}

func (a *accumulator) addText(s string) {
	a.text.WriteString(s)
}

func (a *accumulator) addToolCall(tc wireToolCall) {
	var pc *partialCall
	switch {
	case tc.Index != nil:
		pc = a.byIndex[*tc.Index]
		if pc == nil {
			pc = &partialCall{}
			a.byIndex[*tc.Index] = pc
			a.calls = append(a.calls, pc)
		}
	case tc.ID != "" || len(a.calls) == 0:
		// Some providers omit the index and send each call whole.
		pc = &partialCall{}
		a.calls = append(a.calls, pc)
	default:
		pc = a.calls[len(a.calls)-1]
	}

	if tc.ID != "" {
		pc.id = tc.ID
	}
	if tc.Function.Name != "" {
		pc.name = tc.Function.Name
	}
	pc.args.WriteString(tc.Function.Arguments)
}

func (a *accumulator) message() store.Message {
	msg := store.NewMessage(store.RoleAssistant, a.text.String())
	for _, pc := range a.calls {
		msg.ToolCalls = append(msg.ToolCalls, toToolCall(pc.id, pc.name, pc.args.String()))
	}
	return msg
}
