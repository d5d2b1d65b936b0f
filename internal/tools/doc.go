// Package tools provides the in-process tools a model may call during a turn.
//
// # Registry
//
// Tools are registered in packs. Tool names are global; registering a name
// twice fails with ErrToolCollision and leaves the registry unchanged.
//
//	reg := tools.NewRegistry(logger)
//	reg.RegisterPack(tools.MathPack())
//	reg.RegisterPack(searcher.WebPack())
//
// # Execution
//
// Registry.Execute validates the call's arguments against the tool's JSON
// schema and runs the handler. Failures stay inside the conversation: an
// unknown tool, schema violations, handler errors and panics all yield a
// payload of the form
//
//	{"error": "<message>"}
//
// as the tool message content. The exception is *ProviderError, which
// signals that an external backend (the search engine) is unavailable and is
// returned to the caller.
//
// # Built-in tools
//
//   - calculator: add, sub, mul, div on two numbers
//   - search: DuckDuckGo web search
//
// Input schemas are reflected from the Go input structs with
// github.com/invopop/jsonschema.
package tools
