// Package worker runs blocking external calls (receipt verification,
// push delivery, ban audits) on a bounded number of goroutines.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrSaturated is returned when every slot is busy. Callers report it to
// clients as "server under high load" instead of queueing.
var ErrSaturated = errors.New("worker: pool saturated")

type Pool struct {
	slots   chan struct{}
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a pool running at most size tasks at once. Each task
// gets a context bounded by timeout.
func NewPool(size int, timeout time.Duration) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		slots:   make(chan struct{}, size),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (p *Pool) acquire() bool {
	select {
	case p.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (p *Pool) release() {
	<-p.slots
}

// Submit starts task in the background. It returns false without running
// the task when the pool is saturated or closed.
func (p *Pool) Submit(task func(ctx context.Context)) bool {
	if p.ctx.Err() != nil || !p.acquire() {
		return false
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("worker task panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
		defer cancel()
		task(ctx)
	}()
	return true
}

// Do runs task on the caller's goroutine while holding a slot, so that
// synchronous callers share the same bound as background tasks.
func (p *Pool) Do(ctx context.Context, task func(ctx context.Context) error) error {
	if p.ctx.Err() != nil || !p.acquire() {
		return ErrSaturated
	}
	defer p.release()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return task(ctx)
}

// InFlight returns the number of occupied slots.
func (p *Pool) InFlight() int {
	return len(p.slots)
}

// Close cancels running tasks and waits for them to return.
func (p *Pool) Close() {
	p.cancel()
	p.wg.Wait()
	log.Info().Msg("worker pool stopped")
}
