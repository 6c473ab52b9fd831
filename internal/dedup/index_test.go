package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndexPutIfAbsent(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	existing, inserted, err := idx.PutIfAbsent(ctx, "k", "doc-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Empty(t, existing)

	existing, inserted, err = idx.PutIfAbsent(ctx, "k", "doc-2", time.Hour)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, "doc-1", existing)
}

func TestMemoryIndexExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	idx := NewMemoryIndexWithClock(func() time.Time { return now })

	_, inserted, err := idx.PutIfAbsent(ctx, "k", "doc-1", 48*time.Hour)
	require.NoError(t, err)
	require.True(t, inserted)

	now = now.Add(47 * time.Hour)
	_, found, err := idx.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)

	now = now.Add(2 * time.Hour)
	_, found, err = idx.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	// The slot is free again for a new original.
	existing, inserted, err := idx.PutIfAbsent(ctx, "k", "doc-2", 48*time.Hour)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Empty(t, existing)
}

func TestMemoryIndexGetIsReadOnly(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	_, found, err := idx.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, idx.Len())
}

func TestMemoryIndexCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	idx := NewMemoryIndex()
	_, _, err := idx.PutIfAbsent(ctx, "k", "doc-1", time.Hour)
	assert.Error(t, err)
}
