// ABOUTME: Model interface and request/response types for chat model access
// ABOUTME: Streaming is exposed as a pull-driven iterator of text chunks ending in the full message

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/2389/chatbot/internal/store"
)

// ErrEmptyResponse is returned when the model produced no choices.
var ErrEmptyResponse = errors.New("model returned no choices")

// Tool describes a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Request is one model invocation.
type Request struct {
	// System is sent ahead of Messages and never persisted.
	System   string
	Messages []store.Message
	Tools    []Tool
}

// Chunk is one element of a streamed response. Text chunks carry a delta;
// the final chunk has Done set and carries the assembled assistant message.
type Chunk struct {
	Text         string
	Done         bool
	Message      *store.Message
	FinishReason string
}

// Completion is a non-streamed model response.
type Completion struct {
	Message      store.Message
	FinishReason string
}

// Model is a chat model able to request tool calls.
type Model interface {
	// Stream yields text deltas as they arrive followed by one Done chunk.
	// The consumer drives the stream; breaking out of the loop aborts it.
	Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error]
	// Complete returns the whole response at once.
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// APIError is a non-2xx response from the model endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model API error (status %d): %s", e.StatusCode, e.Body)
}

// Collect drains a stream and returns the final assistant message.
func Collect(seq iter.Seq2[Chunk, error]) (*store.Message, error) {
	for chunk, err := range seq {
		if err != nil {
			return nil, err
		}
		if chunk.Done {
			return chunk.Message, nil
		}
	}
	return nil, ErrEmptyResponse
}
