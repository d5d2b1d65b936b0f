// ABOUTME: Per-browser session tracking for the web chat
// ABOUTME: Creates a chat session per cookie and evicts sessions left idle

package webchat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/chatbot/internal/session"
)

// SessionFactory creates the chat session for a new browser.
type SessionFactory func(ctx context.Context) (*session.Session, error)

// hubEntry is one browser's chat session.
type hubEntry struct {
	sess      *session.Session
	createdAt time.Time
	lastUsed  time.Time
}

// hub manages active chat sessions keyed by browser cookie
type hub struct {
	mu       sync.Mutex
	sessions map[string]*hubEntry
	factory  SessionFactory
	idle     time.Duration
	cancel   context.CancelFunc
	logger   *slog.Logger
}

func newHub(factory SessionFactory, idle time.Duration, logger *slog.Logger) *hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &hub{
		sessions: make(map[string]*hubEntry),
		factory:  factory,
		idle:     idle,
		cancel:   cancel,
		logger:   logger,
	}
	go h.cleanupLoop(ctx)
	return h
}

// cleanupLoop periodically removes stale sessions
func (h *hub) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.cleanupStaleSessions(time.Now())
		}
	}
}

// cleanupStaleSessions removes sessions idle for longer than the hub's idle limit
func (h *hub) cleanupStaleSessions(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for key, e := range h.sessions {
		if now.Sub(e.lastUsed) > h.idle {
			delete(h.sessions, key)
			removed++
		}
	}
	if removed > 0 {
		h.logger.Debug("evicted idle chat sessions", "count", removed)
	}
	return removed
}

// getOrCreate returns the session for key, creating it with the factory if needed.
func (h *hub) getOrCreate(ctx context.Context, key string) (*session.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	if e, ok := h.sessions[key]; ok {
		e.lastUsed = now
		return e.sess, nil
	}

	sess, err := h.factory(ctx)
	if err != nil {
		return nil, err
	}
	h.sessions[key] = &hubEntry{sess: sess, createdAt: now, lastUsed: now}
	h.logger.Debug("chat session created", "active_sessions", len(h.sessions))
	return sess, nil
}

// len returns the number of tracked sessions.
func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close drops all sessions and stops the cleanup goroutine
func (h *hub) Close() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	for key := range h.sessions {
		delete(h.sessions, key)
	}
}
