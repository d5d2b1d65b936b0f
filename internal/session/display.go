// ABOUTME: Display form of thread messages for the chat surfaces
// ABOUTME: Maps each stored role onto a tagged display kind with an exhaustive switch

package session

import (
	"github.com/2389/chatbot/internal/store"
)

// Kind tags what a DisplayMessage shows.
type Kind string

// Display kinds. Every stored message maps onto one or more of these.
const (
	KindUser       Kind = "user"
	KindAssistant  Kind = "assistant"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
)

// DisplayMessage is one entry of a rendered transcript.
type DisplayMessage struct {
	Kind     Kind
	Content  string
	ToolName string
}

// ToDisplay converts stored messages into transcript entries. An assistant
// message with tool calls yields its text (if any) followed by one notice per
// call.
func ToDisplay(msgs []store.Message) []DisplayMessage {
	out := make([]DisplayMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, displayOne(m)...)
	}
	return out
}

func displayOne(m store.Message) []DisplayMessage {
	switch m.Role {
	case store.RoleUser:
		return []DisplayMessage{{Kind: KindUser, Content: m.Content}}
	case store.RoleAssistant:
		var out []DisplayMessage
		if m.Content != "" || len(m.ToolCalls) == 0 {
			out = append(out, DisplayMessage{Kind: KindAssistant, Content: m.Content})
		}
		for _, call := range m.ToolCalls {
			out = append(out, DisplayMessage{
				Kind:     KindToolCall,
				Content:  string(call.Arguments),
				ToolName: call.Name,
			})
		}
		return out
	case store.RoleTool:
		return []DisplayMessage{{Kind: KindToolResult, Content: m.Content, ToolName: m.ToolName}}
	default:
		return nil
	}
}

// Label returns the sidebar label of a thread: its title, or the first eight
// characters of its id while untitled.
func Label(t store.ThreadSummary) string {
	if t.Title != "" {
		return t.Title
	}
	return ShortID(t.ID)
}

// ShortID shortens a thread id for display.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
