// ABOUTME: Turn processor that runs the model/tool loop for one user message
// ABOUTME: Streams events and records every produced message before reporting it

package turn

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/2389/chatbot/internal/llm"
	"github.com/2389/chatbot/internal/store"
	"github.com/2389/chatbot/internal/tools"
)

// ErrMaxToolRounds is returned when the model keeps requesting tools past the configured limit.
var ErrMaxToolRounds = errors.New("tool round limit exceeded")

// DefaultMaxToolRounds bounds how many times one turn may enter tool execution.
const DefaultMaxToolRounds = 8

// ToolExecutor runs tool calls on behalf of the processor
type ToolExecutor interface {
	Definitions() []tools.Definition
	Execute(ctx context.Context, call store.ToolCall) (string, error)
}

// Recorder persists messages as the turn produces them
type Recorder interface {
	AppendMessages(ctx context.Context, threadID string, msgs ...store.Message) error
}

// EventType identifies what an Event carries.
type EventType string

// Event types emitted by Stream.
const (
	// EventText carries a fragment of assistant text.
	EventText EventType = "text"
	// EventMessage carries a complete message that has been appended to the thread.
	EventMessage EventType = "message"
	// EventState carries a state transition.
	EventState EventType = "state"
	// EventDone is the last event and carries the final thread state.
	EventDone EventType = "done"
)

// Event is one step of a streamed turn.
type Event struct {
	Type    EventType
	Text    string
	Message *store.Message
	From    State
	To      State
	State   *store.ThreadState
}

// Config holds processor settings.
type Config struct {
	MaxToolRounds int
	SystemPrompt  string
	TitlePrompt   string
}

// Processor drives turns against a model and a tool executor.
type Processor struct {
	model    llm.Model
	tools    ToolExecutor
	recorder Recorder
	cfg      Config
	logger   *slog.Logger
}

// New creates a Processor. recorder may be nil, in which case messages are
// only returned, never persisted.
func New(model llm.Model, executor ToolExecutor, recorder Recorder, cfg Config, logger *slog.Logger) *Processor {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	if cfg.TitlePrompt == "" {
		cfg.TitlePrompt = DefaultTitlePrompt
	}
	if logger == nil {
		logger = slog.Default()
	}
	if executor == nil {
		executor = tools.NewRegistry(logger)
	}
	return &Processor{
		model:    model,
		tools:    executor,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger.With("component", "turn"),
	}
}

// ProcessTurn runs a whole turn and returns the resulting state, which holds
// the user message, every tool request and result, and the final reply.
func (p *Processor) ProcessTurn(ctx context.Context, state *store.ThreadState, newMessage store.Message) (*store.ThreadState, error) {
	for ev, err := range p.Stream(ctx, state, newMessage) {
		if err != nil {
			return nil, err
		}
		if ev.Type == EventDone {
			return ev.State, nil
		}
	}
	return nil, fmt.Errorf("turn ended without completing")
}

// Stream runs a turn, yielding events as they happen. The input state is not
// modified. Each message is recorded before its EventMessage is yielded, so a
// failure mid-turn leaves everything reported so far persisted.
func (p *Processor) Stream(ctx context.Context, state *store.ThreadState, newMessage store.Message) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		st := state.Clone()
		m := newMachine()
		start := time.Now()

		emitMessage := func(msg store.Message) bool {
			if err := p.record(ctx, st.ThreadID, msg); err != nil {
				yield(Event{}, err)
				return false
			}
			st.Messages = append(st.Messages, msg)
			return yield(Event{Type: EventMessage, Message: &msg}, nil)
		}
		emitTransition := func(to State) bool {
			from := m.current
			if err := m.transition(to); err != nil {
				yield(Event{}, err)
				return false
			}
			return yield(Event{Type: EventState, From: from, To: to}, nil)
		}

		if newMessage.Role != store.RoleUser {
			yield(Event{}, fmt.Errorf("%w: turn must start with a user message, got %s", store.ErrInvalidMessage, newMessage.Role))
			return
		}
		if !emitMessage(newMessage) {
			return
		}

		defs := p.toolSpecs()
		for {
			reply, ok := p.generate(ctx, st, defs, yield)
			if !ok {
				return
			}

			if reply.HasToolCalls() && m.rounds >= p.cfg.MaxToolRounds {
				p.logger.Warn("tool round limit reached",
					"thread_id", st.ThreadID,
					"max_tool_rounds", p.cfg.MaxToolRounds,
				)
				yield(Event{}, fmt.Errorf("%w: %d rounds", ErrMaxToolRounds, p.cfg.MaxToolRounds))
				return
			}

			if !emitMessage(*reply) {
				return
			}

			if !reply.HasToolCalls() {
				p.logger.Info("turn completed",
					"thread_id", st.ThreadID,
					"tool_rounds", m.rounds,
					"messages", len(st.Messages),
					"duration", time.Since(start),
				)
				yield(Event{Type: EventDone, State: st}, nil)
				return
			}

			if !emitTransition(StateToolExecuting) {
				return
			}
			for _, call := range reply.ToolCalls {
				content, err := p.tools.Execute(ctx, call)
				if err != nil {
					yield(Event{}, fmt.Errorf("executing tool %s: %w", call.Name, err))
					return
				}
				if !emitMessage(store.NewToolMessage(call, content)) {
					return
				}
			}
			if !emitTransition(StateGenerating) {
				return
			}
		}
	}
}

// generate streams one model response, forwarding text deltas. It reports
// false when the consumer stopped or an error was yielded.
func (p *Processor) generate(ctx context.Context, st *store.ThreadState, defs []llm.Tool, yield func(Event, error) bool) (*store.Message, bool) {
	req := llm.Request{
		System:   p.cfg.SystemPrompt,
		Messages: st.Messages,
		Tools:    defs,
	}

	for chunk, err := range p.model.Stream(ctx, req) {
		if err != nil {
			yield(Event{}, fmt.Errorf("generating response: %w", err))
			return nil, false
		}
		if chunk.Done {
			if chunk.Message == nil {
				break
			}
			return chunk.Message, true
		}
		if chunk.Text == "" {
			continue
		}
		if !yield(Event{Type: EventText, Text: chunk.Text}, nil) {
			return nil, false
		}
	}

	yield(Event{}, fmt.Errorf("generating response: %w", llm.ErrEmptyResponse))
	return nil, false
}

func (p *Processor) record(ctx context.Context, threadID string, msg store.Message) error {
	if p.recorder == nil {
		return nil
	}
	if err := p.recorder.AppendMessages(ctx, threadID, msg); err != nil {
		return fmt.Errorf("recording %s message: %w", msg.Role, err)
	}
	return nil
}

func (p *Processor) toolSpecs() []llm.Tool {
	defs := p.tools.Definitions()
	specs := make([]llm.Tool, 0, len(defs))
	for _, d := range defs {
		specs = append(specs, llm.Tool{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.InputSchema,
		})
	}
	return specs
}

var _ ToolExecutor = (*tools.Registry)(nil)
