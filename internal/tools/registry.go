// ABOUTME: Thread-safe registry of in-process tools the model may call during a turn.
// ABOUTME: Handles registration, argument validation and conversion of failures into error payloads.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/2389/chatbot/internal/store"
)

// ErrToolCollision indicates a tool name is already registered.
var ErrToolCollision = errors.New("tool name collision")

// ErrInvalidTool indicates a tool definition cannot be registered.
var ErrInvalidTool = errors.New("invalid tool")

// Handler executes a tool. It receives the call arguments as JSON and
// returns either a string, which becomes the tool message verbatim, or a
// value that is JSON encoded.
type Handler func(ctx context.Context, input json.RawMessage) (any, error)

// Definition describes a tool to the model.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"parameters"`
}

// Tool is a named capability with a schema and a handler.
type Tool struct {
	Definition Definition
	Handler    Handler

	schema *gojsonschema.Schema
}

// Pack is a group of related tools registered together.
type Pack struct {
	ID    string
	Tools []*Tool
}

type entry struct {
	tool   *Tool
	packID string
}

// Registry maintains the set of tools available to turns.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*entry
	logger *slog.Logger
}

// NewRegistry creates a new Registry instance.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*entry),
		logger: logger.With("component", "tools"),
	}
}

// RegisterPack validates and stores every tool in the pack.
// Returns ErrToolCollision if any tool name is already registered; in that
// case nothing from the pack is registered.
func (r *Registry) RegisterPack(pack *Pack) error {
	compiled := make([]*Tool, 0, len(pack.Tools))
	seen := make(map[string]bool, len(pack.Tools))
	for _, t := range pack.Tools {
		if err := compile(t); err != nil {
			return err
		}
		if seen[t.Definition.Name] {
			return fmt.Errorf("%w: tool '%s' appears twice in pack '%s'",
				ErrToolCollision, t.Definition.Name, pack.ID)
		}
		seen[t.Definition.Name] = true
		compiled = append(compiled, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range compiled {
		if existing, exists := r.tools[t.Definition.Name]; exists {
			return fmt.Errorf("%w: tool '%s' already registered by pack '%s'",
				ErrToolCollision, t.Definition.Name, existing.packID)
		}
	}
	for _, t := range compiled {
		r.tools[t.Definition.Name] = &entry{tool: t, packID: pack.ID}
	}

	r.logger.Debug("registered pack", "pack_id", pack.ID, "tools", len(compiled))
	return nil
}

// Register stores a single tool outside of any pack.
func (r *Registry) Register(t *Tool) error {
	return r.RegisterPack(&Pack{ID: "builtin", Tools: []*Tool{t}})
}

// compile checks the definition and prepares its argument validator.
func compile(t *Tool) error {
	if t == nil || t.Definition.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidTool)
	}
	if t.Handler == nil {
		return fmt.Errorf("%w: tool '%s' has no handler", ErrInvalidTool, t.Definition.Name)
	}
	if len(t.Definition.InputSchema) == 0 {
		t.Definition.InputSchema = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(t.Definition.InputSchema))
	if err != nil {
		return fmt.Errorf("%w: tool '%s' schema: %v", ErrInvalidTool, t.Definition.Name, err)
	}
	t.schema = schema
	return nil
}

// Get returns the named tool, or nil if it is not registered.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.tools[name]; ok {
		return e.tool
	}
	return nil
}

// Definitions returns every registered tool definition sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, e := range r.tools {
		defs = append(defs, e.tool.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs a tool call and returns the content of the resulting tool message.
//
// Unknown tools, invalid arguments, handler errors and panics all become
// {"error": "..."} payloads with a nil error. Only a *ProviderError, raised
// when an external backend fails, is returned as an error.
func (r *Registry) Execute(ctx context.Context, call store.ToolCall) (string, error) {
	t := r.Get(call.Name)
	if t == nil {
		r.logger.Warn("unknown tool requested", "tool_name", call.Name, "call_id", call.ID)
		return errorPayload(fmt.Sprintf("Unknown tool '%s'", call.Name)), nil
	}

	args := call.Arguments
	if len(strings.TrimSpace(string(args))) == 0 {
		args = json.RawMessage(`{}`)
	}

	if msg := validate(t.schema, args); msg != "" {
		r.logger.Info("tool arguments rejected", "tool_name", call.Name, "call_id", call.ID, "reason", msg)
		return errorPayload("invalid arguments: " + msg), nil
	}

	r.logger.Info("→ dispatching tool", "tool_name", call.Name, "call_id", call.ID)
	start := time.Now()

	result, err := invoke(ctx, t.Handler, args)
	if err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) {
			r.logger.Error("tool provider failed", "tool_name", call.Name, "call_id", call.ID, "error", err)
			return "", err
		}
		r.logger.Warn("tool error", "tool_name", call.Name, "call_id", call.ID, "error", err)
		return errorPayload(err.Error()), nil
	}

	content, err := encodeResult(result)
	if err != nil {
		r.logger.Warn("tool result not encodable", "tool_name", call.Name, "call_id", call.ID, "error", err)
		return errorPayload(err.Error()), nil
	}

	r.logger.Info("← tool completed",
		"tool_name", call.Name,
		"call_id", call.ID,
		"duration", time.Since(start),
	)
	return content, nil
}

// invoke calls the handler, converting a panic into an error.
func invoke(ctx context.Context, h Handler, args json.RawMessage) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = fmt.Errorf("tool panicked: %v", p)
		}
	}()
	return h(ctx, args)
}

func validate(schema *gojsonschema.Schema, args json.RawMessage) string {
	res, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return err.Error()
	}
	if res.Valid() {
		return ""
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; ")
}

func encodeResult(result any) (string, error) {
	switch v := result.(type) {
	case string:
		return v, nil
	case json.RawMessage:
		return string(v), nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encoding tool result: %w", err)
	}
	return string(data), nil
}

func errorPayload(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}
