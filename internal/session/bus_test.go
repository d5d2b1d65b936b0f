// ABOUTME: Tests for the thread update bus
// ABOUTME: Covers fan-out, exclusion, unsubscription and context cancellation

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u, ok := <-ch:
		require.True(t, ok, "channel closed")
		return u
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
		return Update{}
	}
}

func TestBus_FanOut(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context())
	ch2, _ := b.Subscribe(t.Context())

	u := Update{Type: ThreadCreated, ThreadID: "t1", Title: "Hello"}
	b.Publish(u, "")

	assert.Equal(t, u, receive(t, ch1))
	assert.Equal(t, u, receive(t, ch2))
}

func TestBus_ExcludesOriginator(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	own, ownID := b.Subscribe(t.Context())
	other, _ := b.Subscribe(t.Context())

	b.Publish(Update{Type: ThreadDeleted, ThreadID: "t1"}, ownID)

	assert.Equal(t, "t1", receive(t, other).ThreadID)
	select {
	case u := <-own:
		t.Fatalf("originator received %v", u)
	default:
	}
}

func TestBus_UnsubscribeOnCancel(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}

	// Publishing after removal must not panic.
	b.Publish(Update{Type: ThreadUpdated, ThreadID: "t"}, "")
}

func TestBus_SlowSubscriberDropsUpdates(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context())
	for i := 0; i < subscriberBufferSize+10; i++ {
		b.Publish(Update{Type: ThreadUpdated, ThreadID: "t"}, "")
	}
	assert.Len(t, ch, subscriberBufferSize)
}
