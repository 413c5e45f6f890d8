package scheduler

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/juftlik/tolov/internal/clock"
	"github.com/juftlik/tolov/internal/config"
	"github.com/juftlik/tolov/internal/events"
)

var Module = fx.Module("scheduler",
	fx.Provide(newScheduler),
	fx.Invoke(registerSweeper),
)

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	DB     *gorm.DB
	Clock  clock.Clock
	Outbox *events.Outbox `optional:"true"`
}

func newScheduler(p Params) *Scheduler {
	return New(p.DB, p.Log, p.Clock, p.Outbox, p.Config.Scheduler)
}

func registerSweeper(lc fx.Lifecycle, s *Scheduler, cfg config.Config) {
	if !cfg.Scheduler.Enabled {
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.Run(runCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
}
