// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	order    []string             // thread ids in creation order
	titles   map[string]string    // keyed by thread ID
	messages map[string][]Message // keyed by thread ID
	updated  map[string]time.Time // keyed by thread ID

	// Err, when set, is returned by every write operation.
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		titles:   make(map[string]string),
		messages: make(map[string][]Message),
		updated:  make(map[string]time.Time),
	}
}

// touch registers the thread on first write. Caller holds the lock.
func (m *MockStore) touch(threadID string) {
	if _, ok := m.updated[threadID]; !ok {
		m.order = append(m.order, threadID)
	}
	m.updated[threadID] = time.Now().UTC()
}

// ListThreadIDs returns every thread that has been written.
func (m *MockStore) ListThreadIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]string(nil), m.order...), nil
}

// ListThreads returns summaries, newest thread first.
func (m *MockStore) ListThreads(ctx context.Context) ([]ThreadSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := make([]ThreadSummary, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		id := m.order[i]
		summaries = append(summaries, ThreadSummary{
			ID:           id,
			Title:        m.titles[id],
			MessageCount: len(m.messages[id]),
			UpdatedAt:    m.updated[id],
		})
	}
	return summaries, nil
}

// LoadState returns a copy of the thread's state.
func (m *MockStore) LoadState(ctx context.Context, threadID string) (*ThreadState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state := NewThreadState(threadID)
	state.Title = m.titles[threadID]
	state.Messages = append([]Message(nil), m.messages[threadID]...)
	return state, nil
}

// AppendMessages appends copies of the messages to the thread.
func (m *MockStore) AppendMessages(ctx context.Context, threadID string, msgs ...Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if threadID == "" {
		return fmt.Errorf("%w: empty thread id", ErrInvalidMessage)
	}
	if len(msgs) == 0 {
		return nil
	}
	for _, msg := range msgs {
		if _, err := ParseRole(string(msg.Role)); err != nil {
			return err
		}
	}

	m.touch(threadID)
	m.messages[threadID] = append(m.messages[threadID], msgs...)
	return nil
}

// SetTitle stores the thread's title.
func (m *MockStore) SetTitle(ctx context.Context, threadID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	m.touch(threadID)
	m.titles[threadID] = title
	return nil
}

// DeleteThread forgets the thread.
func (m *MockStore) DeleteThread(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	delete(m.titles, threadID)
	delete(m.messages, threadID)
	delete(m.updated, threadID)
	for i, id := range m.order {
		if id == threadID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
