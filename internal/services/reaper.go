package services

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
)

// IdleReaper periodically removes navigation sessions whose clients have gone quiet
type IdleReaper struct {
	service  *NavigationService
	interval time.Duration

	// Background loop control
	mu       sync.Mutex
	stopChan chan struct{}
	running  bool
}

// NewIdleReaper creates a reaper that checks every interval
func NewIdleReaper(service *NavigationService, interval time.Duration) *IdleReaper {
	return &IdleReaper{
		service:  service,
		interval: interval,
	}
}

// Start begins the reaping loop
func (p *IdleReaper) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return // Already running
	}

	p.running = true
	p.stopChan = make(chan struct{})

	logging.Infow(ctx, "Starting idle session reaper", "interval", p.interval)
	go p.loop(ctx, p.stopChan)
}

// Stop gracefully stops the reaper
func (p *IdleReaper) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}

	p.running = false
	close(p.stopChan)
}

// IsRunning returns whether the reaper loop is active
func (p *IdleReaper) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *IdleReaper) loop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Infow(ctx, "Idle session reaper stopping due to context cancellation")
			return
		case <-stop:
			logging.Infow(ctx, "Idle session reaper stopping due to stop signal")
			return
		case <-ticker.C:
			p.reap(ctx)
		}
	}
}

func (p *IdleReaper) reap(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			stack, _ := errors.ParseStack(debug.Stack())
			logging.Errorw(ctx, "Idle session reaper: recovered from panic",
				"error", r, "error.stack_trace", stack.MinimalStack(3, 5))
		}
	}()

	if n := p.service.ReapIdle(ctx); n > 0 {
		logging.Infow(ctx, "Idle sessions reaped", "count", n, "remaining", p.service.Count())
	}
}
