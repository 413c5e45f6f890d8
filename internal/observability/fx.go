package observability

import (
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/juftlik/tolov/internal/config"
	"github.com/juftlik/tolov/internal/observability/metrics"
	"github.com/juftlik/tolov/internal/observability/tracing"
)

var Module = fx.Module("observability",
	fx.Invoke(func(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) error {
		_, err := tracing.NewProvider(lc, tracing.FromAppConfig(cfg), log.Named("tracing"))
		return err
	}),
	fx.Provide(func() (*metrics.HTTPMetrics, error) {
		return metrics.NewHTTPMetrics(metrics.Config{ServiceName: "tolov"}, otel.GetMeterProvider())
	}),
)
