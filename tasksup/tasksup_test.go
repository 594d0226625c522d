package tasksup

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSuperviseRestartsAfterError(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	Supervise(ctx, "flaky", func(ctx context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return assert.AnError
		}
		<-ctx.Done()
		return ctx.Err()
	})

	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
}

func TestSuperviseRestartsAfterPanic(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()

	Supervise(ctx, "panicky", func(ctx context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			panic("boom")
		}
		<-ctx.Done()
		return ctx.Err()
	})

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSuperviseReturnsPromptlyOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Supervise(ctx, "clean", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Supervise did not return after cancellation")
	}
}
