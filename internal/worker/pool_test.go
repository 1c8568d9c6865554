package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool(t *testing.T) {
	t.Run("runs submitted tasks", func(t *testing.T) {
		p := NewPool(2, time.Second)
		defer p.Close()

		var wg sync.WaitGroup
		wg.Add(1)
		ok := p.Submit(func(ctx context.Context) { wg.Done() })
		require.True(t, ok)
		wg.Wait()
	})

	t.Run("rejects when saturated", func(t *testing.T) {
		p := NewPool(1, time.Second)
		defer p.Close()

		block := make(chan struct{})
		started := make(chan struct{})
		require.True(t, p.Submit(func(ctx context.Context) {
			close(started)
			<-block
		}))
		<-started

		assert.False(t, p.Submit(func(ctx context.Context) {}))
		assert.ErrorIs(t, p.Do(context.Background(), func(ctx context.Context) error { return nil }), ErrSaturated)
		assert.Equal(t, 1, p.InFlight())

		close(block)
	})

	t.Run("Do returns task error", func(t *testing.T) {
		p := NewPool(1, time.Second)
		defer p.Close()

		boom := errors.New("boom")
		err := p.Do(context.Background(), func(ctx context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 0, p.InFlight())
	})

	t.Run("tasks get a deadline", func(t *testing.T) {
		p := NewPool(1, 50*time.Millisecond)
		defer p.Close()

		err := p.Do(context.Background(), func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("closed pool refuses work", func(t *testing.T) {
		p := NewPool(1, time.Second)
		p.Close()
		assert.False(t, p.Submit(func(ctx context.Context) {}))
	})

	t.Run("panicking task releases its slot", func(t *testing.T) {
		p := NewPool(1, time.Second)
		defer p.Close()

		done := make(chan struct{})
		require.True(t, p.Submit(func(ctx context.Context) {
			defer close(done)
			panic("boom")
		}))
		<-done
		assert.Eventually(t, func() bool { return p.InFlight() == 0 }, time.Second, 5*time.Millisecond)
	})
}
