// Package session maps chat actions onto turns and stored threads.
//
// A Session is what one surface (line CLI, web tab, terminal UI) shows:
//
//   - the visible thread list, newest first, labelled by title or short id
//   - the active thread id
//   - the displayed history of the active thread
//
// NewChat picks a fresh id without listing it. The first Send on a thread
// asks for a title, stores it and lists the thread, then runs the turn.
// Switch loads stored messages into the display; Delete removes a thread and
// starts a new chat when it was active.
//
// Sessions publish thread list changes on an optional Bus so other open
// surfaces can refresh their sidebars.
package session
