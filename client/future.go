package client

import (
	"context"
	"sync/atomic"
)

// CompletionHandler receives the outcome of an asynchronous request.
// Exactly one of result and err is meaningful: err == nil means success.
type CompletionHandler[T any] func(result T, err error)

// Request is the cancellation handle shared by every Future.
type Request interface {
	// Cancel stops the request and suppresses its completion handler.
	// It reports whether this call changed anything.
	Cancel() bool
	// IsCancelled reports whether Cancel won.
	IsCancelled() bool
	// IsFinished reports whether the work has ended, by completing or by
	// being cancelled.
	IsFinished() bool
}

const (
	futurePending int32 = iota
	futureCompleted
	futureDelivered
	futureCancelled
)

// Future tracks one asynchronous request. State moves forward only:
// pending, then completed, then delivered; cancelled can be reached from
// pending or completed but never after delivery began.
type Future[T any] struct {
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}

	result T
	err    error
}

var _ Request = (*Future[struct{}])(nil)

// Submit runs work on requestExec and hands its outcome to onComplete on
// completionExec, unless the future is cancelled first. onComplete may be
// nil when the caller only uses Wait. The context passed to work is derived
// from parent and is cancelled by Cancel.
func Submit[T any](parent context.Context, requestExec, completionExec Executor, work func(context.Context) (T, error), onComplete CompletionHandler[T]) *Future[T] {
	if parent == nil {
		parent = context.Background()
	}
	if requestExec == nil {
		requestExec = GoExecutor
	}
	if completionExec == nil {
		completionExec = InlineExecutor
	}
	ctx, cancel := context.WithCancel(parent)
	f := &Future[T]{cancel: cancel, done: make(chan struct{})}
	run := func() {
		var (
			res T
			err error
		)
		if ctx.Err() != nil {
			err = ctx.Err()
		} else {
			res, err = work(ctx)
		}
		f.complete(res, err, completionExec, onComplete)
	}
	if err := requestExec.Execute(run); err != nil {
		var zero T
		f.complete(zero, err, completionExec, onComplete)
	}
	return f
}

func (f *Future[T]) complete(res T, err error, completionExec Executor, onComplete CompletionHandler[T]) {
	f.result, f.err = res, err
	if !f.state.CompareAndSwap(futurePending, futureCompleted) {
		return
	}
	deliver := func() {
		if !f.state.CompareAndSwap(futureCompleted, futureDelivered) {
			return
		}
		defer close(f.done)
		defer f.cancel()
		if onComplete != nil {
			onComplete(f.result, f.err)
		}
	}
	if completionExec.Execute(deliver) != nil {
		deliver()
	}
}

// Cancel aborts the request. In-flight HTTP calls are interrupted through
// the work context. Work already applied by the service is not undone.
func (f *Future[T]) Cancel() bool {
	for {
		st := f.state.Load()
		if st == futureDelivered || st == futureCancelled {
			return false
		}
		if f.state.CompareAndSwap(st, futureCancelled) {
			f.cancel()
			close(f.done)
			return true
		}
	}
}

// IsCancelled reports whether Cancel won.
func (f *Future[T]) IsCancelled() bool {
	return f.state.Load() == futureCancelled
}

// IsFinished reports whether the work is over.
func (f *Future[T]) IsFinished() bool {
	return f.state.Load() != futurePending
}

// Done is closed once the handler has returned or the future was cancelled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until Done and returns the outcome. A cancelled future
// returns ErrCancelled.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.done:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	if f.state.Load() == futureCancelled {
		return zero, ErrCancelled
	}
	return f.result, f.err
}

// Go runs work asynchronously on c's request executor and delivers the
// outcome on c's completion executor.
func Go[T any](ctx context.Context, c *Client, work func(context.Context) (T, error), onComplete CompletionHandler[T]) *Future[T] {
	return Submit(ctx, c.requestExec, c.completionExec, work, onComplete)
}
