package divergence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func le(n uint64) Check {
	return func(_ context.Context, ix uint64) (bool, error) {
		return ix <= n, nil
	}
}

func always(v bool) Check {
	return func(_ context.Context, _ uint64) (bool, error) {
		return v, nil
	}
}

// Grounded on original_source/src/utils.rs's own #[tokio::test] table.
func TestFind(t *testing.T) {
	ctx := context.Background()

	ix, ok, err := Find(ctx, 10, le(7))
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(7), ix)

	ix, ok, err = Find(ctx, 10, le(1))
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), ix)

	ix, ok, err = Find(ctx, 10, le(9))
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(9), ix)

	ix, ok, err = Find(ctx, 10, le(5))
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(5), ix)

	_, ok, err = Find(ctx, 10, always(false))
	assert.NoError(t, err)
	assert.False(t, ok)

	ix, ok, err = Find(ctx, 10, always(true))
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(10), ix)

	_, ok, err = Find(ctx, 0, always(false))
	assert.NoError(t, err)
	assert.False(t, ok)

	ix, ok, err = Find(ctx, 0, always(true))
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(0), ix)
}

func TestFindProbeBound(t *testing.T) {
	ctx := context.Background()
	calls := 0
	counting := func(_ context.Context, ix uint64) (bool, error) {
		calls++
		return ix <= 123, nil
	}
	ix, ok, err := Find(ctx, 100000, counting)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(123), ix)
	// O(log d) probes for a fork depth d = 100000-123.
	assert.Less(t, calls, 40)
}
