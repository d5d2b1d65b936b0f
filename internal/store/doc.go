// Package store provides persistent storage for conversation threads using SQLite.
//
// # Architecture
//
// The Store interface is a thin contract over checkpointed thread state:
//
//   - ListThreadIDs / ListThreads: enumerate threads found in the checkpoint table
//   - LoadState: ordered messages and latest title of one thread
//   - AppendMessages / SetTitle: each call writes one checkpoint
//   - DeleteThread: removes every record of one thread
//
// SQLiteStore implements the interface; MockStore is an in-memory double for
// tests in other packages.
//
// # Data Models
//
//   - Message: one utterance with a Role (user, assistant, tool). Assistant
//     messages may carry ToolCalls; tool messages carry ToolCallID and ToolName.
//   - ThreadState: thread id, title and ordered messages.
//   - ThreadSummary: sidebar listing entry.
//
// There is no threads table. The set of threads is derived by scanning the
// checkpoints table, so a thread exists from its first write until it is
// deleted.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Two drivers are supported: "sqlite" (modernc.org/sqlite, pure Go, default)
// and "sqlite3" (github.com/mattn/go-sqlite3, requires cgo).
//
// DeleteThread runs on a dedicated pooled connection so it never shares a
// session with the long-lived read/write path.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrInvalidMessage: message has an unknown role or the thread id is empty
//
// # Usage
//
//	s, err := store.Open("sqlite", "/path/to/chatbot.db", logger)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	state, err := s.LoadState(ctx, threadID)
package store
