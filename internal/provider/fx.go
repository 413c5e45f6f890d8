package provider

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/juftlik/tolov/internal/clock"
	"github.com/juftlik/tolov/internal/config"
	ledgerdomain "github.com/juftlik/tolov/internal/ledger/domain"
	plandomain "github.com/juftlik/tolov/internal/plan/domain"
	"github.com/juftlik/tolov/internal/provider/click"
	"github.com/juftlik/tolov/internal/provider/domain"
	"github.com/juftlik/tolov/internal/provider/payme"
	"github.com/juftlik/tolov/internal/provider/stripe"
	subscriptiondomain "github.com/juftlik/tolov/internal/subscription/domain"
	userdomain "github.com/juftlik/tolov/internal/user/domain"
)

// Params collects everything the adapters need.
type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Ledger ledgerdomain.Service
	Users  userdomain.Repository
	Plans  plandomain.Service
	Subs   subscriptiondomain.Service
	Clock  clock.Clock
}

func newRegistry(p Params) *domain.Registry {
	return domain.NewRegistry(
		stripe.NewAdapter(p.Config.Stripe, p.Log, p.Users, p.Clock),
		payme.NewAdapter(p.Config.Payme, p.Log, p.Ledger, p.Users, p.Subs, p.Clock),
		click.NewAdapter(p.Config.Click, p.Log, p.Ledger, p.Users, p.Plans, p.Subs, p.Clock),
	)
}

var Module = fx.Module("provider",
	fx.Provide(newRegistry),
)
