package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apysky/broadcast-scheduler/pkg/logger"
)

// Runner drives the dispatcher on a fixed polling interval. One runner per
// process; a tick that panics is recovered and logged so a bad record cannot
// kill the loop.
type Runner struct {
	interval time.Duration
	tickFn   func(context.Context)

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRunner(interval time.Duration, tickFn func(context.Context)) *Runner {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Runner{
		interval: interval,
		tickFn:   tickFn,
		done:     make(chan struct{}),
	}
}

// Start launches the polling loop, firing one tick immediately. Returns false
// when already running.
func (r *Runner) Start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running.Store(true)

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		logger.Info("dispatch runner started", "interval", r.interval.String())

		r.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				logger.Info("dispatch runner stopping")
				return
			case <-ticker.C:
				r.safeTick(ctx)
			}
		}
	}()

	return true
}

// Stop halts the loop and waits for an in-flight tick to finish. An
// in-progress schedule always runs to completion before the tick returns.
func (r *Runner) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Load() {
		return false
	}

	r.cancel()
	<-r.done
	r.running.Store(false)

	logger.Info("dispatch runner stopped")
	return true
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

func (r *Runner) safeTick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("dispatch tick panic recovered", "panic", rec)
		}
	}()

	start := time.Now()
	r.tickFn(ctx)
	logger.Debug("dispatch tick completed", "duration_ms", time.Since(start).Milliseconds())
}
