// Package poller runs a refresh action on a fixed interval and on demand.
package poller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Action is one refresh cycle. It may run concurrently with itself when a
// manual trigger coincides with a scheduled tick.
type Action func(ctx context.Context) error

// ticker abstracts time.Ticker so tests can drive the schedule.
type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// Poller invokes an Action once per elapsed interval until stopped. Manual
// triggers run the same Action immediately and leave the schedule's phase
// untouched. A failing or panicking Action never stops the schedule.
type Poller struct {
	name      string
	log       *zap.Logger
	newTicker func(time.Duration) ticker

	mu       sync.Mutex
	action   Action
	interval time.Duration
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	runs     atomic.Int64
	failures atomic.Int64
}

// New creates a stopped poller. name is used in log lines.
func New(name string, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		name: name,
		log:  logger,
		newTicker: func(d time.Duration) ticker {
			return timeTicker{time.NewTicker(d)}
		},
	}
}

// Start begins invoking action every interval. Calling Start on a running
// poller returns an error.
func (p *Poller) Start(interval time.Duration, action Action) error {
	if interval <= 0 {
		return fmt.Errorf("poller %s: interval must be positive, got %v", p.name, interval)
	}
	if action == nil {
		return fmt.Errorf("poller %s: nil action", p.name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("poller %s: already running", p.name)
	}
	p.action = action
	p.interval = interval
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.running = true

	t := p.newTicker(interval)
	p.wg.Add(1)
	go p.run(p.ctx, t)

	p.log.Info("poller started", zap.String("poller", p.name), zap.Duration("interval", interval))
	return nil
}

// Trigger runs the action once, right now, in its own goroutine. It returns
// false when the poller is not running.
func (p *Poller) Trigger() bool {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return false
	}
	ctx, action := p.ctx, p.action
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		p.invoke(ctx, action, "manual")
	}()
	return true
}

// Stop halts the schedule, cancels the context passed to in-flight actions
// and waits for them to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("poller stopped", zap.String("poller", p.name))
}

// Running reports whether the schedule is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Interval returns the configured interval.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// Runs returns how many times the action has been invoked.
func (p *Poller) Runs() int64 { return p.runs.Load() }

// Failures returns how many invocations returned an error or panicked.
func (p *Poller) Failures() int64 { return p.failures.Load() }

func (p *Poller) run(ctx context.Context, t ticker) {
	defer p.wg.Done()
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.invoke(ctx, p.action, "scheduled")
			}()
		}
	}
}

func (p *Poller) invoke(ctx context.Context, action Action, source string) {
	p.runs.Add(1)
	defer func() {
		if r := recover(); r != nil {
			p.failures.Add(1)
			p.log.Error("poller action panicked",
				zap.String("poller", p.name), zap.String("source", source), zap.Any("panic", r))
		}
	}()
	if err := action(ctx); err != nil {
		p.failures.Add(1)
		p.log.Warn("poller action failed",
			zap.String("poller", p.name), zap.String("source", source), zap.Error(err))
	}
}
