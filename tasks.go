package sfstreaming

import (
	"context"
	"sync"
	"time"
)

// TaskGroup runs fire-and-forget work off the long-poll loop. Tasks get a
// context that is independent of the consumer's and is only cancelled by
// Close.
type TaskGroup struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger Logger

	mu      sync.Mutex
	running int
	idle    chan struct{}
}

// NewTaskGroup creates an empty TaskGroup
func NewTaskGroup(logger Logger) *TaskGroup {
	if logger == nil {
		logger = newNullLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskGroup{ctx: ctx, cancel: cancel, logger: logger}
}

// Go starts fn in the background. A returned error is logged, never
// propagated.
func (g *TaskGroup) Go(name string, fn func(ctx context.Context) error) {
	g.mu.Lock()
	if g.running == 0 {
		g.idle = make(chan struct{})
	}
	g.running++
	g.mu.Unlock()

	go func() {
		defer g.done()
		start := time.Now()
		logger := g.logger.WithField("task", name)
		if err := fn(g.ctx); err != nil {
			logger.WithError(err).Warn("background task failed")
			return
		}
		logger.WithField("duration", time.Since(start)).Debug("background task finished")
	}()
}

func (g *TaskGroup) done() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.running--
	if g.running == 0 {
		close(g.idle)
	}
}

// Running returns the number of tasks that haven't returned yet
func (g *TaskGroup) Running() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Wait blocks until no task is running or ctx is done. Tasks may start
// other tasks; Wait only returns once all of them are finished.
func (g *TaskGroup) Wait(ctx context.Context) error {
	g.mu.Lock()
	if g.running == 0 {
		g.mu.Unlock()
		return nil
	}
	idle := g.idle
	g.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits for running tasks like Wait and then cancels whatever is still
// running
func (g *TaskGroup) Close(ctx context.Context) error {
	err := g.Wait(ctx)
	g.cancel()
	return err
}
