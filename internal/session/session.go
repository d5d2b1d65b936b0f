// ABOUTME: Session controller mapping chat actions onto the turn processor and thread store
// ABOUTME: Tracks the visible thread list, the active thread and its displayed history

package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/2389/chatbot/internal/store"
	"github.com/2389/chatbot/internal/turn"
)

// ErrEmptyMessage is returned when Send is given only whitespace.
var ErrEmptyMessage = errors.New("message is empty")

// Turner runs turns and titles threads.
type Turner interface {
	Stream(ctx context.Context, state *store.ThreadState, newMessage store.Message) iter.Seq2[turn.Event, error]
	Title(ctx context.Context, firstMessage string) (string, error)
}

// ChunkType identifies what a Chunk carries.
type ChunkType string

// Chunk types delivered to Send callers.
const (
	ChunkText       ChunkType = "text"
	ChunkToolCall   ChunkType = "tool_call"
	ChunkToolResult ChunkType = "tool_result"
	ChunkTitle      ChunkType = "title"
)

// Chunk is one incremental piece of a Send, delivered as it is produced.
type Chunk struct {
	Type     ChunkType
	Text     string
	ToolName string
}

// Session is one user's view of the chat: the visible threads, the active
// thread and what is displayed for it. Turns are serialized.
type Session struct {
	store  store.Store
	turns  Turner
	bus    *Bus
	logger *slog.Logger

	// turnMu serializes operations that touch the store for the active thread.
	turnMu sync.Mutex

	mu       sync.RWMutex
	threads  []store.ThreadSummary
	activeID string
	history  []DisplayMessage
}

// New creates a session over the stored threads and starts a new chat.
// bus may be nil.
func New(ctx context.Context, st store.Store, turns Turner, bus *Bus, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		store:  st,
		turns:  turns,
		bus:    bus,
		logger: logger.With("component", "session"),
	}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	s.NewChat()
	return s, nil
}

// Refresh reloads the visible thread list from the store. A new chat that
// has not been sent yet stays invisible.
func (s *Session) Refresh(ctx context.Context) error {
	threads, err := s.store.ListThreads(ctx)
	if err != nil {
		return fmt.Errorf("listing threads: %w", err)
	}
	s.mu.Lock()
	s.threads = threads
	s.mu.Unlock()
	return nil
}

// NewChat starts a fresh thread. The id is not listed until its first
// message is sent.
func (s *Session) NewChat() string {
	id := store.NewThreadID()

	s.mu.Lock()
	s.activeID = id
	s.history = nil
	s.mu.Unlock()

	s.logger.Debug("new chat", "thread_id", id)
	return id
}

// ActiveID returns the active thread id.
func (s *Session) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Threads returns the visible thread list, newest first.
func (s *Session) Threads() []store.ThreadSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.ThreadSummary(nil), s.threads...)
}

// History returns the displayed messages of the active thread.
func (s *Session) History() []DisplayMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]DisplayMessage(nil), s.history...)
}

// Title returns the active thread's title, empty while untitled.
func (s *Session) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(s.activeID); i >= 0 {
		return s.threads[i].Title
	}
	return ""
}

// IsNew reports whether the active thread has not been listed yet.
func (s *Session) IsNew() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexLocked(s.activeID) < 0
}

// Resolve maps a full id, an id prefix, or a 1-based position in the visible
// list to a thread id.
func (s *Session) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(s.threads) {
		return s.threads[n-1].ID, nil
	}

	match := ""
	for _, t := range s.threads {
		if t.ID == ref {
			return t.ID, nil
		}
		if ref != "" && strings.HasPrefix(t.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("thread reference %q is ambiguous", ref)
			}
			match = t.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("thread %q: %w", ref, store.ErrNotFound)
	}
	return match, nil
}

// Send runs one turn on the active thread. On a thread's first message it
// first assigns the title and lists the thread. onChunk, which may be nil,
// receives text deltas and tool notices as they are produced. It returns the
// final assistant reply.
func (s *Session) Send(ctx context.Context, text string, onChunk func(Chunk)) (DisplayMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return DisplayMessage{}, ErrEmptyMessage
	}
	if onChunk == nil {
		onChunk = func(Chunk) {}
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	threadID := s.ActiveID()
	state, err := s.store.LoadState(ctx, threadID)
	if err != nil {
		return DisplayMessage{}, fmt.Errorf("loading thread %s: %w", threadID, err)
	}

	if s.IsNew() {
		if stored(state) {
			// Another session already started this thread; its title stands.
			s.list(state)
		} else {
			if err := s.register(ctx, threadID, text, onChunk); err != nil {
				return DisplayMessage{}, err
			}
			state.Title = s.Title()
		}
	}

	s.appendHistory(threadID, DisplayMessage{Kind: KindUser, Content: text})

	start := time.Now()
	var reply DisplayMessage
	for ev, err := range s.turns.Stream(ctx, state, store.NewMessage(store.RoleUser, text)) {
		if err != nil {
			s.logger.Error("turn failed", "thread_id", threadID, "error", err)
			return DisplayMessage{}, err
		}
		switch ev.Type {
		case turn.EventText:
			onChunk(Chunk{Type: ChunkText, Text: ev.Text})
		case turn.EventMessage:
			s.touch(threadID, 1)
			if ev.Message.Role == store.RoleUser {
				continue
			}
			for _, dm := range displayOne(*ev.Message) {
				switch dm.Kind {
				case KindToolCall:
					onChunk(Chunk{Type: ChunkToolCall, Text: dm.Content, ToolName: dm.ToolName})
				case KindToolResult:
					onChunk(Chunk{Type: ChunkToolResult, Text: dm.Content, ToolName: dm.ToolName})
				case KindAssistant:
					reply = dm
				}
				s.appendHistory(threadID, dm)
			}
		case turn.EventDone:
			s.publish(Update{Type: ThreadUpdated, ThreadID: threadID})
		}
	}

	s.logger.Info("message sent",
		"thread_id", threadID,
		"duration", time.Since(start),
	)
	return reply, nil
}

// register titles a thread from its first message and adds it to the top of
// the visible list.
func (s *Session) register(ctx context.Context, threadID, first string, onChunk func(Chunk)) error {
	title, err := s.turns.Title(ctx, first)
	if err != nil {
		return err
	}
	// An empty title leaves the thread labelled by its short id.
	if title != "" {
		if err := s.store.SetTitle(ctx, threadID, title); err != nil {
			return fmt.Errorf("storing title: %w", err)
		}
	}

	s.mu.Lock()
	s.threads = append([]store.ThreadSummary{{ID: threadID, Title: title, UpdatedAt: time.Now().UTC()}}, s.threads...)
	s.mu.Unlock()

	onChunk(Chunk{Type: ChunkTitle, Text: title})
	s.publish(Update{Type: ThreadCreated, ThreadID: threadID, Title: title})
	s.logger.Info("thread created", "thread_id", threadID, "title", title)
	return nil
}

// Switch makes the given thread active and displays its stored messages.
func (s *Session) Switch(ctx context.Context, threadID string) error {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	state, err := s.store.LoadState(ctx, threadID)
	if err != nil {
		return fmt.Errorf("loading thread %s: %w", threadID, err)
	}

	if !stored(state) {
		if !s.listed(threadID) {
			return fmt.Errorf("thread %s: %w", threadID, store.ErrNotFound)
		}
	} else if !s.listed(threadID) {
		// Created by another session after the list was loaded.
		if err := s.Refresh(ctx); err != nil {
			return err
		}
		s.list(state)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = threadID
	s.history = ToDisplay(state.Messages)
	return nil
}

// stored reports whether a thread has anything persisted.
func stored(state *store.ThreadState) bool {
	return len(state.Messages) > 0 || state.Title != ""
}

func (s *Session) listed(threadID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexLocked(threadID) >= 0
}

// list adds a stored thread to the top of the visible list unless it is
// already there.
func (s *Session) list(state *store.ThreadState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(state.ThreadID) >= 0 {
		return
	}
	s.threads = append([]store.ThreadSummary{{
		ID:           state.ThreadID,
		Title:        state.Title,
		MessageCount: len(state.Messages),
		UpdatedAt:    time.Now().UTC(),
	}}, s.threads...)
}

// Delete removes a thread from the store and the visible list. Deleting the
// active thread starts a new chat.
func (s *Session) Delete(ctx context.Context, threadID string) error {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	if err := s.store.DeleteThread(ctx, threadID); err != nil {
		return fmt.Errorf("deleting thread %s: %w", threadID, err)
	}

	s.mu.Lock()
	if i := s.indexLocked(threadID); i >= 0 {
		s.threads = append(s.threads[:i], s.threads[i+1:]...)
	}
	wasActive := s.activeID == threadID
	s.mu.Unlock()

	if wasActive {
		s.NewChat()
	}
	s.publish(Update{Type: ThreadDeleted, ThreadID: threadID})
	s.logger.Info("thread deleted", "thread_id", threadID, "was_active", wasActive)
	return nil
}

// State returns the stored state of the active thread.
func (s *Session) State(ctx context.Context) (*store.ThreadState, error) {
	return s.store.LoadState(ctx, s.ActiveID())
}

// appendHistory adds to the displayed history if threadID is still active.
func (s *Session) appendHistory(threadID string, dm DisplayMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID == threadID {
		s.history = append(s.history, dm)
	}
}

// touch refreshes the summary of a listed thread after added messages.
func (s *Session) touch(threadID string, added int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(threadID); i >= 0 {
		s.threads[i].MessageCount += added
		s.threads[i].UpdatedAt = time.Now().UTC()
	}
}

func (s *Session) indexLocked(threadID string) int {
	for i, t := range s.threads {
		if t.ID == threadID {
			return i
		}
	}
	return -1
}

func (s *Session) publish(u Update) {
	if s.bus != nil {
		s.bus.Publish(u, "")
	}
}
