package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryUserRepository_InsertFind(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	created, err := repo.Insert(ctx, "Alice", "alice@example.com", "digest")
	require.NoError(t, err)

	found, err := repo.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, created.CreatedAt, found.CreatedAt)

	exists, err := repo.ExistsByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = repo.FindByEmail(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryUserRepository_ConcurrentDuplicates(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	var ok, dup atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Insert(ctx, "Alice", "alice@example.com", "digest")
			switch {
			case err == nil:
				ok.Add(1)
			case assert.ErrorIs(t, err, ErrDuplicateEmail):
				dup.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(15), dup.Load())
	assert.Equal(t, 1, repo.Count())
}
