package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lumenfeed/lumenfeed/internal/domain"
)

// A nil cache must behave as a transparent miss so callers can run without redis.
func TestSettingsCache_NilIsNoOp(t *testing.T) {
	ctx := context.Background()
	var c *SettingsCache

	settings, ok := c.Get(ctx, "proj-1")
	assert.Nil(t, settings)
	assert.False(t, ok)

	assert.NoError(t, c.Set(ctx, &domain.ProjectSettings{ProjectID: "proj-1"}))
	assert.NoError(t, c.Invalidate(ctx, "proj-1"))
	assert.NoError(t, c.Close())
}

func TestNewSettingsCache_RequiresAddr(t *testing.T) {
	_, err := NewSettingsCache(context.Background(), Config{})
	assert.Error(t, err)
}
