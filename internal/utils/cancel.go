package utils

import (
	"context"
	"sync"
	"sync/atomic"
)

// CancelSignal is the run-scoped, one-way stop flag. It is derived from the
// caller's context, so an interrupt on the parent sets it as well. Once set it
// is never cleared.
type CancelSignal struct {
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	set    atomic.Bool
}

func NewCancelSignal(parent context.Context) *CancelSignal {
	ctx, cancel := context.WithCancel(parent)
	return &CancelSignal{parent: parent, ctx: ctx, cancel: cancel}
}

// Set is idempotent.
func (s *CancelSignal) Set() {
	s.once.Do(func() {
		s.set.Store(true)
		s.cancel()
	})
}

func (s *CancelSignal) IsSet() bool {
	return s.set.Load() || s.parent.Err() != nil
}

func (s *CancelSignal) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Context is cancelled when the signal is set or the run is released.
func (s *CancelSignal) Context() context.Context {
	return s.ctx
}

// Release frees the derived context at run end. It does not mark the signal set.
func (s *CancelSignal) Release() {
	s.cancel()
}
