package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout is used by Wait when no positive timeout is given.
const DefaultTimeout = 5 * time.Minute

var (
	// ErrTimeout is returned when Wait's timer fires before the operation settles.
	ErrTimeout = errors.New("job: timed out waiting for completion")
	// ErrStopped is returned after Stop settled the runner.
	ErrStopped = errors.New("job: stopped by caller")
	// ErrFailed wraps every error raised by the wrapped operation.
	ErrFailed = errors.New("job: operation failed")
	// ErrNotStarted is returned by Wait before Start was called.
	ErrNotStarted = errors.New("job: not started")
)

// State is the runner lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// Status describes how a runner settled.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusStopped   Status = "stopped"
)

// Result is the single settlement of a runner.
type Result[T any] struct {
	Status   Status
	Value    T
	Err      error
	Duration time.Duration
}

// Func is the unit of work wrapped by a Runner.
type Func[T any] func(ctx context.Context) (T, error)

// SettleHook observes the settlement of a runner. It is called exactly once.
type SettleHook func(name string, status Status, duration time.Duration)

// Option configures a Runner.
type Option func(*options)

type options struct {
	logger *zap.Logger
	hook   SettleHook
}

// WithLogger sets the runner logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSettleHook registers a settlement observer.
func WithSettleHook(hook SettleHook) Option {
	return func(o *options) {
		o.hook = hook
	}
}

// Runner wraps one asynchronous operation so that it can be started once,
// awaited with a timeout, and stopped. Whatever settles first (the operation,
// a Wait timer, or Stop) wins; every later settlement attempt is dropped.
type Runner[T any] struct {
	name   string
	fn     Func[T]
	logger *zap.Logger
	hook   SettleHook

	mu      sync.Mutex
	state   State
	result  Result[T]
	done    chan struct{}
	cancel  context.CancelFunc
	started time.Time
}

// New creates a runner for fn. Nothing runs until Start is called.
func New[T any](name string, fn Func[T], opts ...Option) *Runner[T] {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Runner[T]{
		name:   name,
		fn:     fn,
		logger: o.logger.With(zap.String("component", "job_runner"), zap.String("job", name)),
		hook:   o.hook,
		done:   make(chan struct{}),
	}
}

// Start begins the wrapped operation. Calling Start more than once is a no-op.
func (r *Runner[T]) Start(ctx context.Context) {
	r.mu.Lock()
	if r.state != StateCreated {
		r.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.state = StateRunning
	r.started = time.Now()
	r.mu.Unlock()

	r.logger.Debug("job started")
	go r.run(runCtx, cancel)
}

func (r *Runner[T]) run(ctx context.Context, cancel context.CancelFunc) {
	// 操作返回后其 ctx 不再需要
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("job panicked", zap.Any("panic", rec))
			r.settle(Result[T]{Status: StatusFailed, Err: fmt.Errorf("%w: panic: %v", ErrFailed, rec)})
		}
	}()

	value, err := r.fn(ctx)
	if err != nil {
		r.settle(Result[T]{Status: StatusFailed, Err: fmt.Errorf("%w: %w", ErrFailed, err)})
		return
	}
	r.settle(Result[T]{Status: StatusSucceeded, Value: value})
}

// settle records res if the runner has not settled yet and reports whether
// this call won.
func (r *Runner[T]) settle(res Result[T]) bool {
	r.mu.Lock()
	if r.state == StateSettled {
		r.mu.Unlock()
		r.logger.Debug("late settlement dropped", zap.String("status", string(res.Status)))
		return false
	}
	if !r.started.IsZero() {
		res.Duration = time.Since(r.started)
	}
	r.result = res
	r.state = StateSettled
	close(r.done)
	r.mu.Unlock()

	if res.Err != nil {
		r.logger.Debug("job settled", zap.String("status", string(res.Status)), zap.Error(res.Err))
	} else {
		r.logger.Debug("job settled", zap.String("status", string(res.Status)))
	}
	if r.hook != nil {
		r.hook(r.name, res.Status, res.Duration)
	}
	return true
}

// Wait blocks until the runner settles or timeout elapses. A timeout settles
// the runner with ErrTimeout but does not cancel the operation; use Stop for
// that. Cancelling ctx abandons this wait without settling anything.
func (r *Runner[T]) Wait(ctx context.Context, timeout time.Duration) (T, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	r.mu.Lock()
	state := r.state
	r.mu.Unlock()
	if state == StateCreated {
		var zero T
		return zero, ErrNotStarted
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.done:
	case <-timer.C:
		r.settle(Result[T]{Status: StatusTimeout, Err: fmt.Errorf("%w after %s", ErrTimeout, timeout)})
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}

	res, _ := r.Result()
	return res.Value, res.Err
}

// Run starts the runner and waits for it.
func (r *Runner[T]) Run(ctx context.Context, timeout time.Duration) (T, error) {
	r.Start(ctx)
	return r.Wait(ctx, timeout)
}

// Stop settles the runner with ErrStopped if it has not settled, and cancels
// the operation's context in every case.
func (r *Runner[T]) Stop() {
	r.settle(Result[T]{Status: StatusStopped, Err: ErrStopped})

	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// State returns the current lifecycle state.
func (r *Runner[T]) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Result returns the settlement, if any.
func (r *Runner[T]) Result() (Result[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.state == StateSettled
}

// Done is closed once the runner settles.
func (r *Runner[T]) Done() <-chan struct{} {
	return r.done
}

// Name returns the runner name.
func (r *Runner[T]) Name() string {
	return r.name
}
