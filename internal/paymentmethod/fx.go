package paymentmethod

import (
	"go.uber.org/fx"

	"github.com/juftlik/tolov/internal/paymentmethod/repository"
	"github.com/juftlik/tolov/internal/paymentmethod/service"
)

var Module = fx.Module("paymentmethod.service",
	fx.Provide(repository.New),
	fx.Provide(service.NewService),
)
