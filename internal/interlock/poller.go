package interlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Source is the hardware collaborator the poller reads interlock state from
type Source interface {
	CheckAllInterlocks(ctx context.Context) (Status, error)
}

// Poller keeps the gate snapshot current by periodically reading the
// hardware interlock source. Guard evaluation never touches hardware
// directly; it reads the in-memory snapshot this poller maintains.
type Poller struct {
	gate     *Gate
	source   Source
	interval time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewPoller creates a poller refreshing the gate at the given interval
func NewPoller(gate *Gate, source Source, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		gate:     gate,
		source:   source,
		interval: interval,
		logger:   logger,
	}
}

// Name returns the worker name
func (p *Poller) Name() string {
	return "interlock-poller"
}

// Start starts the polling loop
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isRunning {
		return fmt.Errorf("interlock poller is already running")
	}

	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.isRunning = true

	go p.run(pollCtx)

	p.logger.Info("Interlock poller started", zap.Duration("interval", p.interval))
	return nil
}

// Stop stops the polling loop and waits for it to exit
func (p *Poller) Stop() error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done

	p.logger.Info("Interlock poller stopped")
	return nil
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

func (p *Poller) refresh(ctx context.Context) {
	readCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	status, err := p.source.CheckAllInterlocks(readCtx)
	if err != nil {
		// A source fault is treated as all-unsafe: fail-safe, never fail-open.
		p.logger.Error("Interlock source read failed, forcing unsafe snapshot", zap.Error(err))
		p.gate.Apply(Status{})
		return
	}

	p.gate.Apply(status)
}
