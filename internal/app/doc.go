// Package app assembles the chatbot from its configuration.
//
// It opens the thread store, registers the tools, connects the model
// client, and builds the turn processor that every surface shares. The web
// chat is served by Run; the terminal front ends ask for sessions with
// NewSession.
package app
