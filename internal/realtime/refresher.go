package realtime

import (
	"context"
	"sync"
)

// Result is the outcome of one load.
type Result[T any] struct {
	Value T
	Err   error
	// Generation identifies the Refresh call that produced the result.
	Generation uint64
}

// Refresher reruns a load on demand and publishes only the result of the most recent
// request. Starting a refresh cancels the one in flight; a superseded load that still
// finishes is discarded.
type Refresher[T any] struct {
	load func(context.Context) (T, error)

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	closed     bool
	out        chan Result[T]
	wg         sync.WaitGroup
}

// NewRefresher constructs a Refresher around load.
func NewRefresher[T any](load func(context.Context) (T, error)) *Refresher[T] {
	return &Refresher[T]{
		load: load,
		out:  make(chan Result[T], 1),
	}
}

// Results yields the latest result. An unread result is replaced by a newer one. The
// channel is closed by Close.
func (r *Refresher[T]) Results() <-chan Result[T] {
	return r.out
}

// Refresh starts a new load derived from ctx and returns its generation. It returns 0
// once the Refresher is closed.
func (r *Refresher[T]) Refresh(ctx context.Context) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0
	}

	if r.cancel != nil {
		r.cancel()
	}
	r.generation++
	gen := r.generation
	loadCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		value, err := r.load(loadCtx)
		r.deliver(Result[T]{Value: value, Err: err, Generation: gen})
	}()
	return gen
}

func (r *Refresher[T]) deliver(res Result[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || res.Generation != r.generation {
		staleResultCounter.Inc()
		return
	}
	select {
	case <-r.out:
		staleResultCounter.Inc()
	default:
	}
	r.out <- res
}

// Close cancels any load in flight, waits for it to return and closes Results.
func (r *Refresher[T]) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()
	close(r.out)
}
