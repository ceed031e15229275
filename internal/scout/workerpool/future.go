package workerpool

import "context"

// Future is the handle for a submitted task. Wait blocks until the task
// completes or the caller's context is done.
type Future struct {
	done  chan struct{}
	value interface{}
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(value interface{}, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Wait returns the task outcome. A context error here means the caller
// stopped waiting; the task itself keeps running to completion.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done exposes completion for select loops.
func (f *Future) Done() <-chan struct{} {
	return f.done
}
