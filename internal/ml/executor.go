package ml

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aimguard/pkg/constants"
	"github.com/inferloop/aimguard/pkg/errors"
)

const (
	taskQueued int32 = iota
	taskStarted
	taskAbandoned
)

type task struct {
	ctx    context.Context
	fn     func() error
	result chan error
	state  *int32
}

// Executor runs submitted functions one at a time on a dedicated goroutine.
// Every model owns one, so inference and training on a model never overlap.
type Executor struct {
	name   string
	logger *logrus.Logger
	tasks  chan task
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewExecutor starts an executor with room for queueSize waiting tasks
func NewExecutor(name string, queueSize int, logger *logrus.Logger) *Executor {
	if queueSize <= 0 {
		queueSize = constants.DefaultExecutorQueueSize
	}
	if logger == nil {
		logger = logrus.New()
	}

	e := &Executor{
		name:   name,
		logger: logger,
		tasks:  make(chan task, queueSize),
		done:   make(chan struct{}),
	}
	go e.loop()

	return e
}

// Submit runs fn on the executor goroutine and waits for its result. A task whose
// context is cancelled before it starts is skipped. A cancelled context stops the
// wait but not a task that already started, so fn must not share unsynchronized
// state with the caller.
func (e *Executor) Submit(ctx context.Context, fn func() error) error {
	return e.submit(ctx, fn, false)
}

// Run is Submit, except that once fn has started it is waited for even if ctx
// is cancelled.
func (e *Executor) Run(ctx context.Context, fn func() error) error {
	return e.submit(ctx, fn, true)
}

func (e *Executor) submit(ctx context.Context, fn func() error, waitStarted bool) error {
	t := task{ctx: ctx, fn: fn, result: make(chan error, 1), state: new(int32)}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return errors.ErrExecutorClosed.WithDetails(e.name)
	}
	select {
	case e.tasks <- t:
	case <-ctx.Done():
		e.mu.RUnlock()
		return ctx.Err()
	}
	e.mu.RUnlock()

	select {
	case err := <-t.result:
		return err
	case <-ctx.Done():
	}

	if atomic.CompareAndSwapInt32(t.state, taskQueued, taskAbandoned) || !waitStarted {
		return ctx.Err()
	}
	return <-t.result
}

// Pending returns the number of queued tasks
func (e *Executor) Pending() int {
	return len(e.tasks)
}

// Close stops accepting tasks and waits until the queued ones have run
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return
	}
	e.closed = true
	close(e.tasks)
	e.mu.Unlock()

	<-e.done
}

func (e *Executor) loop() {
	defer close(e.done)

	for t := range e.tasks {
		if !atomic.CompareAndSwapInt32(t.state, taskQueued, taskStarted) {
			continue
		}
		if err := t.ctx.Err(); err != nil {
			t.result <- err
			continue
		}
		t.result <- e.run(t.fn)
	}

	e.logger.WithField("model", e.name).Debug("Executor stopped")
}

func (e *Executor) run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(logrus.Fields{
				"model": e.name,
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Executor task panicked")
			err = errors.NewInternalError(fmt.Sprintf("task panicked: %v", r))
		}
	}()
	return fn()
}
