// ABOUTME: Store interface and data types for chatbot thread persistence
// ABOUTME: Defines Role, Message, ThreadState and the Store interface for database operations

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidMessage is returned when a message cannot be persisted as given
var ErrInvalidMessage = errors.New("invalid message")

// Role identifies who produced a message
type Role string

// Role constants. Every message carries exactly one of these.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ParseRole converts a stored role string back into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAssistant, RoleTool:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, s)
	}
}

// ToolCall is a model request to invoke a named tool with JSON arguments
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is a single immutable utterance within a thread.
// Assistant messages may carry ToolCalls; tool messages carry ToolCallID and ToolName.
type Message struct {
	ID         string
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
	CreatedAt  time.Time
}

// NewMessage creates a message with a fresh ID and timestamp.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// NewToolMessage creates the result message answering a tool call.
func NewToolMessage(call ToolCall, content string) Message {
	m := NewMessage(RoleTool, content)
	m.ToolCallID = call.ID
	m.ToolName = call.Name
	return m
}

// HasToolCalls reports whether the message requests any tool invocations.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// ThreadState is the persisted state of one conversation thread
type ThreadState struct {
	ThreadID string
	Title    string
	Messages []Message
}

// NewThreadState returns an empty state for the given thread.
func NewThreadState(threadID string) *ThreadState {
	return &ThreadState{ThreadID: threadID}
}

// Clone returns a copy whose message slice can be appended to independently.
func (s *ThreadState) Clone() *ThreadState {
	c := &ThreadState{ThreadID: s.ThreadID, Title: s.Title}
	c.Messages = append([]Message(nil), s.Messages...)
	return c
}

// ThreadSummary describes a thread for listing in a sidebar
type ThreadSummary struct {
	ID           string
	Title        string
	MessageCount int
	UpdatedAt    time.Time
}

// NewThreadID returns a random identifier for a new thread.
func NewThreadID() string {
	return uuid.New().String()
}

// Store defines the interface for thread persistence
type Store interface {
	// ListThreadIDs returns every thread id with at least one checkpoint.
	ListThreadIDs(ctx context.Context) ([]string, error)
	// ListThreads returns thread summaries, most recently updated first.
	ListThreads(ctx context.Context) ([]ThreadSummary, error)
	// LoadState returns the thread's state, empty if it has never been written.
	LoadState(ctx context.Context, threadID string) (*ThreadState, error)
	// AppendMessages durably appends messages to the thread in order.
	AppendMessages(ctx context.Context, threadID string, msgs ...Message) error
	// SetTitle records the thread's title.
	SetTitle(ctx context.Context, threadID, title string) error
	// DeleteThread removes every record of the thread. Unknown ids are a no-op.
	DeleteThread(ctx context.Context, threadID string) error

	// Close releases any resources held by the store
	Close() error
}
