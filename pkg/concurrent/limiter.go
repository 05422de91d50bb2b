package concurrent

import "context"

type Limiter interface {
	// Add enqueue one working credential, blocks while the limiter is full.
	Add()
	// AddContext is Add that gives up when ctx is done.
	AddContext(ctx context.Context) error
	// Done dequeue one working credential.
	Done()
	// Working reports the credentials currently held.
	Working() int
}

type limiter struct {
	working chan struct{}
}

// NewLimiter allows at most maxConcurrency holders at a time, values below 1 mean 1.
func NewLimiter(maxConcurrency int) Limiter {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &limiter{
		working: make(chan struct{}, maxConcurrency),
	}
}

func (in *limiter) Add() {
	in.working <- struct{}{}
}

func (in *limiter) AddContext(ctx context.Context) error {
	select {
	case in.working <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (in *limiter) Done() {
	<-in.working
}

func (in *limiter) Working() int {
	return len(in.working)
}
