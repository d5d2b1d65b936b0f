// ABOUTME: Tests for authentication context helpers
// ABOUTME: Verifies the user name round-trips through context.Context

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, UserFromContext(ctx))

	ctx = WithUser(ctx, "alice")
	assert.Equal(t, "alice", UserFromContext(ctx))
}
