// Package syncq provides a serialized FIFO chain for asynchronous side
// effects. Functions submitted to a Chain run one at a time, in submission
// order, regardless of which goroutines submit them.
package syncq

import "sync"

// Chain orders submitted functions strictly by submission time.
// The zero value is ready to use.
type Chain struct {
	mu   sync.Mutex
	tail chan struct{}
}

// Do waits until every previously submitted function has settled, runs fn,
// then releases the next waiter. The returned error is fn's own; a failing
// function does not break the chain.
func (c *Chain) Do(fn func() error) error {
	c.mu.Lock()
	prev := c.tail
	done := make(chan struct{})
	c.tail = done
	c.mu.Unlock()

	if prev != nil {
		<-prev
	}
	defer close(done)
	return fn()
}

// Wait blocks until every function submitted before the call has settled.
func (c *Chain) Wait() {
	c.mu.Lock()
	tail := c.tail
	c.mu.Unlock()
	if tail != nil {
		<-tail
	}
}
