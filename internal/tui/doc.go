// Package tui is the full-screen terminal surface for the chatbot.
//
// The Model shows the visible thread list in a sidebar next to the active
// thread's transcript and an input line. Turns run in a command goroutine
// and stream their chunks back into Update through a channel, so deltas
// render while the model is still generating.
package tui
