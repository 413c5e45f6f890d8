package user

import (
	"go.uber.org/fx"

	"github.com/juftlik/tolov/internal/user/repository"
)

var Module = fx.Module("user",
	fx.Provide(repository.New),
)
