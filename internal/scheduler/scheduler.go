// Package scheduler runs the background sweep that lapses subscription
// periods the webhooks never settled.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/juftlik/tolov/internal/clock"
	"github.com/juftlik/tolov/internal/config"
	"github.com/juftlik/tolov/internal/events"
)

// Scheduler periodically moves active subscriptions whose period has ended
// into past_due, and cancels past_due subscriptions once the grace period
// lapses. Every transition is a guarded conditional update, so concurrent
// sweepers cannot double-apply it.
type Scheduler struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	outbox *events.Outbox
	cfg    config.SchedulerConfig
}

func New(db *gorm.DB, log *zap.Logger, clk clock.Clock, outbox *events.Outbox, cfg config.SchedulerConfig) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Scheduler{
		db:     db,
		log:    log.Named("scheduler"),
		clock:  clk,
		outbox: outbox,
		cfg:    cfg,
	}
}

// Run sweeps on a fixed interval until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info("sweeper started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Duration("grace_period", s.cfg.GracePeriod),
	)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.log.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce applies one batch of each pending transition.
func (s *Scheduler) SweepOnce(ctx context.Context) error {
	now := s.clock.Now()

	lapsed, err := s.lapseExpiredPeriods(ctx, now)
	if err != nil {
		return err
	}
	canceled, err := s.cancelLapsedGrace(ctx, now)
	if err != nil {
		return err
	}

	if lapsed > 0 || canceled > 0 {
		s.log.Info("sweep applied transitions",
			zap.Int("past_due", lapsed),
			zap.Int("canceled", canceled),
		)
	}
	return nil
}
