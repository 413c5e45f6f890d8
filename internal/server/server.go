package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/juftlik/tolov/internal/billing/domain"
	"github.com/juftlik/tolov/internal/config"
	ledgerdomain "github.com/juftlik/tolov/internal/ledger/domain"
	"github.com/juftlik/tolov/internal/observability/metrics"
	paymentmethoddomain "github.com/juftlik/tolov/internal/paymentmethod/domain"
	providerdomain "github.com/juftlik/tolov/internal/provider/domain"
	subscriptiondomain "github.com/juftlik/tolov/internal/subscription/domain"
)

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	DB         *gorm.DB
	BillingSvc billingdomain.Service
	LedgerSvc  ledgerdomain.Service
	SubSvc     subscriptiondomain.Service
	MethodSvc  paymentmethoddomain.Service
	Providers  *providerdomain.Registry
	Metrics    *metrics.HTTPMetrics `optional:"true"`
}

// Server wires the HTTP surface: the provider webhook endpoints and the
// billing API.
type Server struct {
	cfg        config.Config
	log        *zap.Logger
	db         *gorm.DB
	billingSvc billingdomain.Service
	ledgerSvc  ledgerdomain.Service
	subSvc     subscriptiondomain.Service
	methodSvc  paymentmethoddomain.Service
	providers  *providerdomain.Registry
	metrics    *metrics.HTTPMetrics
	limiter    *rateLimiter
}

func NewServer(p Params) *Server {
	return &Server{
		cfg:        p.Cfg,
		log:        p.Log.Named("server"),
		db:         p.DB,
		billingSvc: p.BillingSvc,
		ledgerSvc:  p.LedgerSvc,
		subSvc:     p.SubSvc,
		methodSvc:  p.MethodSvc,
		providers:  p.Providers,
		metrics:    p.Metrics,
		limiter:    newRateLimiter(120, time.Minute),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	if s.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	if s.metrics != nil {
		r.Use(metrics.GinMiddleware(s.metrics))
	}

	r.GET("/healthz", s.Health)

	r.POST("/webhooks/:provider", s.rateLimit(), s.HandleProviderWebhook)

	api := r.Group("/api/v1")
	{
		api.POST("/checkout", s.Checkout)
		api.POST("/subscriptions/cancel", s.CancelSubscription)
		api.POST("/subscriptions/change-plan", s.ChangePlan)
		api.GET("/subscriptions/current", s.CurrentSubscription)

		api.POST("/payments", s.Pay)
		api.GET("/transactions/:provider/:id", s.GetTransaction)

		api.POST("/payment-methods", s.CreatePaymentMethod)
		api.GET("/payment-methods", s.ListPaymentMethods)
		api.DELETE("/payment-methods/:id", s.DeletePaymentMethod)
		api.POST("/payment-methods/:id/default", s.SetDefaultPaymentMethod)

		api.GET("/providers", s.ListProviders)
	}

	return r
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP() + ":" + c.Param("provider")
		if !s.limiter.Allow(key) {
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
