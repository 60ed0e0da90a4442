package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// TickFunc runs one reconciliation pass.
type TickFunc func(ctx context.Context) error

// Scheduler invokes the reconciler on a fixed cadence. Ticks run inline in
// the scheduler loop, so two invocations can never overlap; an on-demand
// trigger received while a tick is in flight coalesces into one extra run.
type Scheduler struct {
	interval time.Duration
	tick     TickFunc
	logger   *zap.Logger
	trigger  chan struct{}
}

// NewScheduler creates a new scheduler
func NewScheduler(interval time.Duration, tick TickFunc, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		interval: interval,
		tick:     tick,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// TriggerNow requests an immediate tick. It never blocks; while a request is
// already pending the call is a no-op.
func (s *Scheduler) TriggerNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Start runs the scheduler loop until the context is cancelled. The first
// tick runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))

	s.runTick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.runTick(ctx)
		case <-s.trigger:
			s.logger.Info("running on-demand tick")
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := s.tick(ctx); err != nil {
		// Failed ticks are logged and retried on the next interval;
		// backoff policy does not live here.
		s.logger.Error("reconciliation tick failed",
			zap.Error(err),
			zap.Duration("elapsed", time.Since(start)),
		)
		return
	}
	s.logger.Debug("tick completed", zap.Duration("elapsed", time.Since(start)))
}
