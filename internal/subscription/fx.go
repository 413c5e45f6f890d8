package subscription

import (
	"go.uber.org/fx"

	"github.com/juftlik/tolov/internal/subscription/service"
)

var Module = fx.Module("subscription.service",
	fx.Provide(service.NewService),
)
