// ABOUTME: In-memory fan-out of thread list changes between sessions
// ABOUTME: Lets every open surface refresh its sidebar when another one creates or deletes a thread

package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// UpdateType identifies a thread list change.
type UpdateType string

// Update types published by sessions.
const (
	ThreadCreated UpdateType = "created"
	ThreadDeleted UpdateType = "deleted"
	ThreadUpdated UpdateType = "updated"
)

// Update describes one change to the thread list.
type Update struct {
	Type     UpdateType
	ThreadID string
	Title    string
}

// Bus provides in-memory pub/sub for thread list updates.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Update
	logger      *slog.Logger
}

// NewBus creates a bus. Pass nil logger for default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string]chan Update),
		logger:      logger.With("component", "bus"),
	}
}

// Subscribe registers a subscriber and returns its channel and id. The
// subscription is removed when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Update, string) {
	subID := uuid.New().String()
	ch := make(chan Update, subscriberBufferSize)

	b.mu.Lock()
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish sends an update to every subscriber except excludeSubID.
// Updates are dropped for subscribers whose channels are full.
func (b *Bus) Publish(u Update, excludeSubID string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		if excludeSubID != "" && id == excludeSubID {
			continue
		}
		select {
		case ch <- u:
		default:
			b.logger.Debug("dropped update for slow subscriber", "sub_id", id, "thread_id", u.ThreadID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
