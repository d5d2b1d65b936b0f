// ABOUTME: Tests for the tool registry
// ABOUTME: Covers registration collisions, validation and conversion of failures to payloads

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatbot/internal/store"
)

func echoTool(name string) *Tool {
	return &Tool{
		Definition: Definition{
			Name:        name,
			Description: "echo input",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
		},
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			var in struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, err
			}
			return in.Text, nil
		},
	}
}

func TestRegistry_RegisterAndDefinitions(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.RegisterPack(&Pack{ID: "p", Tools: []*Tool{echoTool("zeta"), echoTool("alpha")}}))

	defs := reg.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "zeta", defs[1].Name)
	assert.NotNil(t, reg.Get("alpha"))
	assert.Nil(t, reg.Get("missing"))
}

func TestRegistry_Collision(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.RegisterPack(&Pack{ID: "first", Tools: []*Tool{echoTool("echo")}}))

	err := reg.RegisterPack(&Pack{ID: "second", Tools: []*Tool{echoTool("other"), echoTool("echo")}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrToolCollision))
	assert.Contains(t, err.Error(), "first")

	assert.Nil(t, reg.Get("other"), "a rejected pack must not be partially registered")
}

func TestRegistry_DuplicateInsidePack(t *testing.T) {
	reg := NewRegistry(nil)
	err := reg.RegisterPack(&Pack{ID: "p", Tools: []*Tool{echoTool("a"), echoTool("a")}})
	assert.True(t, errors.Is(err, ErrToolCollision))
}

func TestRegistry_InvalidTool(t *testing.T) {
	reg := NewRegistry(nil)

	err := reg.Register(&Tool{Definition: Definition{Name: "nohandler"}})
	assert.True(t, errors.Is(err, ErrInvalidTool))

	err = reg.Register(&Tool{
		Definition: Definition{Name: "badschema", InputSchema: json.RawMessage(`{"type": 12}`)},
		Handler:    func(context.Context, json.RawMessage) (any, error) { return "", nil },
	})
	assert.True(t, errors.Is(err, ErrInvalidTool))
}

func TestExecute_StringResultIsVerbatim(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(echoTool("echo")))

	out, err := reg.Execute(context.Background(), store.ToolCall{ID: "1", Name: "echo", Arguments: json.RawMessage(`{"text":"hello"}`)})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestExecute_UnknownTool(t *testing.T) {
	reg := NewRegistry(nil)

	out, err := reg.Execute(context.Background(), store.ToolCall{ID: "1", Name: "nope"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Unknown tool 'nope'"}`, out)
}

func TestExecute_InvalidArguments(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(echoTool("echo")))

	out, err := reg.Execute(context.Background(), store.ToolCall{ID: "1", Name: "echo", Arguments: json.RawMessage(`{"text": 5}`)})
	require.NoError(t, err)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Contains(t, payload["error"], "invalid arguments")

	out, err = reg.Execute(context.Background(), store.ToolCall{ID: "2", Name: "echo", Arguments: json.RawMessage(`not json`)})
	require.NoError(t, err)
	assert.Contains(t, out, "error")
}

func TestExecute_HandlerErrorAndPanic(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.RegisterPack(&Pack{ID: "faulty", Tools: []*Tool{
		{
			Definition: Definition{Name: "fails"},
			Handler: func(context.Context, json.RawMessage) (any, error) {
				return nil, errors.New("boom")
			},
		},
		{
			Definition: Definition{Name: "panics"},
			Handler: func(context.Context, json.RawMessage) (any, error) {
				panic("kaboom")
			},
		},
		{
			Definition: Definition{Name: "unencodable"},
			Handler: func(context.Context, json.RawMessage) (any, error) {
				return map[string]any{"ch": make(chan int)}, nil
			},
		},
	}}))

	out, err := reg.Execute(context.Background(), store.ToolCall{Name: "fails"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"boom"}`, out)

	out, err = reg.Execute(context.Background(), store.ToolCall{Name: "panics"})
	require.NoError(t, err)
	assert.Contains(t, out, "kaboom")

	out, err = reg.Execute(context.Background(), store.ToolCall{Name: "unencodable"})
	require.NoError(t, err)
	assert.Contains(t, out, "error")
}

func TestExecute_ProviderErrorPropagates(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(&Tool{
		Definition: Definition{Name: "remote"},
		Handler: func(context.Context, json.RawMessage) (any, error) {
			return nil, &ProviderError{Provider: "backend", Err: errors.New("unreachable")}
		},
	}))

	_, err := reg.Execute(context.Background(), store.ToolCall{Name: "remote"})
	require.Error(t, err)

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "backend", perr.Provider)
}
