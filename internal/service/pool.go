package service

import (
	"context"
	"sync"
)

// Pool manages a fixed number of run slots
type Pool struct {
	maxRuns        int
	slots          chan struct{}
	mu             sync.Mutex
	onSlotsChanged func(available int) // Callback when slots change
}

// NewPool creates a pool with the given capacity
func NewPool(maxRuns int) *Pool {
	if maxRuns < 1 {
		maxRuns = 1
	}
	slots := make(chan struct{}, maxRuns)
	for i := 0; i < maxRuns; i++ {
		slots <- struct{}{}
	}
	return &Pool{maxRuns: maxRuns, slots: slots}
}

// SetOnSlotsChanged sets a callback to be invoked when slot availability changes
func (p *Pool) SetOnSlotsChanged(callback func(available int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSlotsChanged = callback
}

// Acquire tries to claim a run slot. Returns true if successful.
func (p *Pool) Acquire() bool {
	select {
	case <-p.slots:
		p.notify()
		return true
	default:
		return false
	}
}

// AcquireWait blocks until a slot is free or the context is done.
func (p *Pool) AcquireWait(ctx context.Context) error {
	select {
	case <-p.slots:
		p.notify()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a run slot to the pool.
func (p *Pool) Release() {
	select {
	case p.slots <- struct{}{}:
	default:
	}
	p.notify()
}

// Available returns the number of free slots.
func (p *Pool) Available() int {
	return len(p.slots)
}

// MaxRuns returns the pool capacity.
func (p *Pool) MaxRuns() int {
	return p.maxRuns
}

func (p *Pool) notify() {
	p.mu.Lock()
	callback := p.onSlotsChanged
	p.mu.Unlock()

	// Notify outside of lock to avoid deadlock
	if callback != nil {
		callback(len(p.slots))
	}
}
