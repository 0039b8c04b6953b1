// Package worker runs detached background refreshes on a bounded pool.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Pool runs tasks that outlive the request that scheduled them. Tasks receive the pool's
// context, never the caller's, and are not cancelled once started.
type Pool struct {
	mu     sync.RWMutex
	g      errgroup.Group
	ctx    context.Context
	closed bool
}

// NewPool creates a pool running at most size tasks at once.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 4
	}
	p := &Pool{ctx: context.Background()}
	p.g.SetLimit(size)
	return p
}

// TryGo schedules task unless the pool is saturated or closed.
func (p *Pool) TryGo(name string, task func(ctx context.Context)) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	return p.g.TryGo(func() error {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("task", name).Str("panic", fmt.Sprint(r)).Bytes("stack", debug.Stack()).Msg("background task panicked")
			}
		}()
		task(p.ctx)
		return nil
	})
}

// Close stops accepting tasks and waits for in-flight ones until ctx is done.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = p.g.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background tasks: %w", ctx.Err())
	}
}
