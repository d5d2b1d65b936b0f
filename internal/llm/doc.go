// Package llm provides access to chat models that support tool calling.
//
// Client speaks the OpenAI-compatible chat completions protocol, which the
// default Gemini endpoint also serves:
//
//	c := llm.NewClient(llm.Config{
//	    BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai",
//	    APIKey:  key,
//	    Model:   "gemini-2.0-flash",
//	}, logger)
//
// Stream returns an iterator. Text deltas are yielded as they arrive and the
// last chunk (Done) carries the assembled assistant message, including any
// tool calls whose fragments were spread across events. Nothing runs in the
// background: the HTTP body is read only as the caller pulls.
//
//	for chunk, err := range c.Stream(ctx, req) {
//	    if err != nil {
//	        return err
//	    }
//	    if chunk.Done {
//	        final = chunk.Message
//	    }
//	}
//
// ScriptedModel replays fixed replies and is used by tests throughout the
// module.
package llm
