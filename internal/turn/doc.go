// Package turn runs one conversational turn: the loop between the model and
// the tools it requests.
//
// # State Machine
//
// A turn has two states:
//
//	generating ──(reply has tool calls)──▶ tool_executing
//	     ▲                                      │
//	     └────────(all results appended)────────┘
//
// The turn ends in generating, when the model replies without tool calls.
// Tool calls within a round run sequentially in the order requested. A turn
// that asks for more than Config.MaxToolRounds rounds fails with
// ErrMaxToolRounds.
//
// # Streaming
//
// Processor.Stream returns an iterator of Events: text deltas, each appended
// message, state transitions and a final EventDone carrying the thread state.
// Processor.ProcessTurn drains the same iterator.
//
// # Persistence
//
// When a Recorder is supplied every message is appended to the store before
// its event is yielded. Failures of the model, the store or an external tool
// backend end the turn with an error; ordinary tool failures arrive as tool
// messages with an {"error": ...} payload and the turn continues.
//
// # Titles
//
// Processor.Title summarizes a thread's first message with a separate model
// call that carries no thread history.
package turn
