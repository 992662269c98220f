// ABOUTME: Lazy, single-flight engine construction shared by all endpoints.
// ABOUTME: One build attempt at a time; failures broadcast, then retryable.

package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Builder constructs the engine. Called at most once per build attempt.
type Builder func(ctx context.Context) (*Engine, error)

// Coordinator hands out the shared engine, constructing it on first use.
// Concurrent callers during construction all wait on the same attempt and
// receive the same result. A failed attempt is discarded so a later call
// starts fresh.
type Coordinator struct {
	mu      sync.Mutex
	build   Builder
	timeout time.Duration
	engine  *Engine
	current *attempt
	logger  *slog.Logger
}

type attempt struct {
	done   chan struct{}
	engine *Engine
	err    error
}

// NewCoordinator creates a coordinator. timeout bounds each build attempt;
// zero means 30 seconds.
func NewCoordinator(build Builder, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Coordinator{
		build:   build,
		timeout: timeout,
		logger:  slog.Default().With("component", "engine-coordinator"),
	}
}

// Engine returns the shared engine, building it if needed. Waiting is bounded
// by ctx; a caller that gives up does not abort the build for others.
func (c *Coordinator) Engine(ctx context.Context) (*Engine, error) {
	c.mu.Lock()
	if c.engine != nil {
		eng := c.engine
		c.mu.Unlock()
		return eng, nil
	}
	if c.current == nil {
		c.current = &attempt{done: make(chan struct{})}
		go c.run(c.current)
	}
	a := c.current
	c.mu.Unlock()

	select {
	case <-a.done:
		return a.engine, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ready reports whether the engine has been constructed.
func (c *Coordinator) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine != nil
}

func (c *Coordinator) run(a *attempt) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	c.logger.Info("constructing engine")
	start := time.Now()
	eng, err := c.build(ctx)

	c.mu.Lock()
	if err != nil {
		a.err = err
		c.current = nil
		c.logger.Error("engine construction failed", "error", err, "duration", time.Since(start))
	} else {
		a.engine = eng
		c.engine = eng
		c.logger.Info("engine ready", "duration", time.Since(start))
	}
	c.mu.Unlock()
	close(a.done)
}
