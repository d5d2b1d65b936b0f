// ABOUTME: Deterministic in-memory Model for tests
// ABOUTME: Replays scripted replies in order and records every request it receives

package llm

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"

	"github.com/2389/chatbot/internal/store"
)

// ErrScriptExhausted is returned when a ScriptedModel has no reply left.
var ErrScriptExhausted = errors.New("scripted model has no reply left")

// Reply is one scripted model turn.
type Reply struct {
	Text      string
	ToolCalls []store.ToolCall
	Err       error
}

// ScriptedModel is a Model that answers from fixed queues.
// Stream consumes Replies; Complete consumes Completions.
type ScriptedModel struct {
	mu          sync.Mutex
	replies     []Reply
	completions []Reply

	streamRequests   []Request
	completeRequests []Request
}

// NewScriptedModel creates a model that streams the given replies in order.
func NewScriptedModel(replies ...Reply) *ScriptedModel {
	return &ScriptedModel{replies: replies}
}

// AddReplies appends replies for Stream.
func (m *ScriptedModel) AddReplies(replies ...Reply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, replies...)
}

// AddCompletions appends replies for Complete.
func (m *ScriptedModel) AddCompletions(replies ...Reply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completions = append(m.completions, replies...)
}

// StreamRequests returns the requests Stream has received.
func (m *ScriptedModel) StreamRequests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.streamRequests...)
}

// CompleteRequests returns the requests Complete has received.
func (m *ScriptedModel) CompleteRequests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.completeRequests...)
}

func (m *ScriptedModel) next(queue *[]Reply, log *[]Request, req Request) (Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req.Messages = append([]store.Message(nil), req.Messages...)
	*log = append(*log, req)
	if len(*queue) == 0 {
		return Reply{}, ErrScriptExhausted
	}
	r := (*queue)[0]
	*queue = (*queue)[1:]
	return r, r.Err
}

func (r Reply) message() store.Message {
	msg := store.NewMessage(store.RoleAssistant, r.Text)
	msg.ToolCalls = append([]store.ToolCall(nil), r.ToolCalls...)
	return msg
}

// Stream yields the next reply word by word.
func (m *ScriptedModel) Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		r, err := m.next(&m.replies, &m.streamRequests, req)
		if err != nil {
			yield(Chunk{}, err)
			return
		}
		for _, piece := range splitKeep(r.Text) {
			if err := ctx.Err(); err != nil {
				yield(Chunk{}, err)
				return
			}
			if !yield(Chunk{Text: piece}, nil) {
				return
			}
		}
		msg := r.message()
		reason := "stop"
		if len(msg.ToolCalls) > 0 {
			reason = "tool_calls"
		}
		yield(Chunk{Done: true, Message: &msg, FinishReason: reason}, nil)
	}
}

// Complete returns the next completion.
func (m *ScriptedModel) Complete(ctx context.Context, req Request) (*Completion, error) {
	r, err := m.next(&m.completions, &m.completeRequests, req)
	if err != nil {
		return nil, err
	}
	return &Completion{Message: r.message(), FinishReason: "stop"}, nil
}

// splitKeep splits text after each space so the pieces concatenate back to text.
func splitKeep(text string) []string {
	if text == "" {
		return nil
	}
	return strings.SplitAfter(text, " ")
}

var _ Model = (*ScriptedModel)(nil)
