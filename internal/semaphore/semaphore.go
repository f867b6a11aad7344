// Package semaphore limits the number of goroutines doing an operation at the same time.
package semaphore

import "context"

// Semaphore is a counting semaphore.
type Semaphore struct {
	c chan struct{}
}

// New returns a Semaphore that allows n holders.
func New(n int) *Semaphore {
	if n < 1 {
		n = 1
	}
	return &Semaphore{c: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.c <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (s *Semaphore) Release() {
	<-s.c
}

// Len returns the number of current holders.
func (s *Semaphore) Len() int {
	return len(s.c)
}
