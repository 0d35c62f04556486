package throttle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldReport_SuppressesImmediateDuplicate(t *testing.T) {
	ctx := context.Background()
	th := New(NewMemorySwapper())

	ok, err := th.ShouldReport(ctx, 1, "X")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = th.ShouldReport(ctx, 1, "X")
	assert.False(t, ok)

	ok, _ = th.ShouldReport(ctx, 1, "Y")
	assert.True(t, ok)

	// back to X after Y is a different message again
	ok, _ = th.ShouldReport(ctx, 1, "X")
	assert.True(t, ok)
}

func TestShouldReport_PerUser(t *testing.T) {
	ctx := context.Background()
	th := New(NewMemorySwapper())

	ok, _ := th.ShouldReport(ctx, 1, "X")
	assert.True(t, ok)
	ok, _ = th.ShouldReport(ctx, 2, "X")
	assert.True(t, ok)
}

func TestShouldReport_FreshStateAfterRestart(t *testing.T) {
	ctx := context.Background()
	ok, _ := New(NewMemorySwapper()).ShouldReport(ctx, 1, "X")
	assert.True(t, ok)
	ok, _ = New(NewMemorySwapper()).ShouldReport(ctx, 1, "X")
	assert.True(t, ok)
}

func TestShouldReport_ConcurrentIdenticalFiresOnce(t *testing.T) {
	ctx := context.Background()
	th := New(NewMemorySwapper())

	var fired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := th.ShouldReport(ctx, 7, "same scam"); ok {
				fired.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fired.Load())
}
