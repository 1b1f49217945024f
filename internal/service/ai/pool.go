package ai

import (
	"context"
	"errors"
	"sync"
)

var errPoolClosed = errors.New("model pool is closed")

// pool hands out model instances exclusively; an instance is never used by two inferences at once.
type pool[T any] struct {
	items   chan T
	destroy func(T)
	mu      sync.RWMutex
	closed  bool
}

func newPool[T any](size int, create func() (T, error), destroy func(T)) (*pool[T], error) {
	if size <= 0 {
		size = 1
	}
	p := &pool[T]{
		items:   make(chan T, size),
		destroy: destroy,
	}
	for i := 0; i < size; i++ {
		item, err := create()
		if err != nil {
			p.Close()
			return nil, err
		}
		p.items <- item
	}
	return p, nil
}

// acquire blocks until an instance is free or ctx is done.
func (p *pool[T]) acquire(ctx context.Context) (T, error) {
	var zero T
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return zero, errPoolClosed
	}

	select {
	case item, ok := <-p.items:
		if !ok {
			return zero, errPoolClosed
		}
		return item, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (p *pool[T]) release(item T) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.destroy(item)
		return
	}
	p.items <- item
}

// Close destroys idle instances; borrowed ones are destroyed on release.
func (p *pool[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.items)
	for item := range p.items {
		p.destroy(item)
	}
}
