package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/juftlik/tolov/internal/billing"
	"github.com/juftlik/tolov/internal/clock"
	"github.com/juftlik/tolov/internal/config"
	"github.com/juftlik/tolov/internal/events"
	"github.com/juftlik/tolov/internal/ledger"
	"github.com/juftlik/tolov/internal/logger"
	"github.com/juftlik/tolov/internal/migration"
	"github.com/juftlik/tolov/internal/observability"
	"github.com/juftlik/tolov/internal/paymentmethod"
	"github.com/juftlik/tolov/internal/plan"
	"github.com/juftlik/tolov/internal/provider"
	"github.com/juftlik/tolov/internal/scheduler"
	"github.com/juftlik/tolov/internal/seed"
	"github.com/juftlik/tolov/internal/server"
	"github.com/juftlik/tolov/internal/subscription"
	"github.com/juftlik/tolov/internal/user"
	"github.com/juftlik/tolov/pkg/db"
)

var version = "dev"

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		clock.Module,
		observability.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		db.Module,
		fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := migration.RunMigrations(sqlDB); err != nil {
				return err
			}
			if err := seed.EnsureDefaultCatalog(conn); err != nil {
				return err
			}
			if cfg.Bootstrap.SeedDemoData {
				return seed.EnsureDemoUser(conn)
			}
			return nil
		}),
		user.Module,
		events.Module,
		plan.Module,
		ledger.Module,
		subscription.Module,
		provider.Module,
		paymentmethod.Module,
		billing.Module,
		scheduler.Module,
		server.Module,
	)
	app.Run()
}
