package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/marketledger/internal/audit/domain"
	checkoutdomain "github.com/smallbiznis/marketledger/internal/checkout/domain"
	"github.com/smallbiznis/marketledger/internal/config"
	creditdomain "github.com/smallbiznis/marketledger/internal/credit/domain"
	earningsdomain "github.com/smallbiznis/marketledger/internal/earnings/domain"
	fulfillmentdomain "github.com/smallbiznis/marketledger/internal/fulfillment/domain"
	"github.com/smallbiznis/marketledger/internal/lock"
	obstracing "github.com/smallbiznis/marketledger/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/marketledger/internal/payment/domain"
	payoutdomain "github.com/smallbiznis/marketledger/internal/payout/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log.Named("http")))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	checkoutSvc     checkoutdomain.Service
	refundSvc       paymentdomain.Reconciler
	paymentSvc      paymentdomain.Service
	creditSvc       creditdomain.Service
	earningsSvc     earningsdomain.Service
	payoutSvc       payoutdomain.Service
	fulfillmentSvc  fulfillmentdomain.Service
	auditSvc        auditdomain.Service
	checkoutLimiter *lock.TokenBucket
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	CheckoutSvc     checkoutdomain.Service
	RefundSvc       paymentdomain.Reconciler
	PaymentSvc      paymentdomain.Service
	CreditSvc       creditdomain.Service
	EarningsSvc     earningsdomain.Service
	PayoutSvc       payoutdomain.Service
	FulfillmentSvc  fulfillmentdomain.Service
	AuditSvc        auditdomain.Service `optional:"true"`
	CheckoutLimiter *lock.TokenBucket   `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		checkoutSvc:     p.CheckoutSvc,
		refundSvc:       p.RefundSvc,
		paymentSvc:      p.PaymentSvc,
		creditSvc:       p.CreditSvc,
		earningsSvc:     p.EarningsSvc,
		payoutSvc:       p.PayoutSvc,
		fulfillmentSvc:  p.FulfillmentSvc,
		auditSvc:        p.AuditSvc,
		checkoutLimiter: p.CheckoutLimiter,
	}
}

// RegisterRoutes mounts the buyer API, the practitioner and operator API, and
// the gateway webhooks.
func (s *Server) RegisterRoutes() {
	r := s.engine

	r.POST("/webhooks/:provider", s.HandlePaymentWebhook)

	buyer := r.Group("/v1", RequireUser())
	{
		buyer.POST("/checkout/preview", s.PreviewCheckout)
		buyer.POST("/checkout", s.CheckoutRateLimit(), s.Checkout)
		buyer.POST("/checkout/confirm", s.ConfirmCheckout)
		buyer.GET("/orders/:id", s.GetOrder)
		buyer.POST("/orders/:id/cancel", s.CancelOrder)
		buyer.POST("/orders/:id/sessions", s.SchedulePackageSession)
		buyer.GET("/credits/balance", s.GetCreditBalance)
		buyer.GET("/credits/history", s.ListCreditHistory)
		buyer.POST("/credits/transfer", s.TransferCredits)
	}

	ops := r.Group("/v1")
	{
		ops.POST("/orders/:id/refund", s.RefundOrder)

		ops.GET("/practitioners/:id/earnings", s.GetEarnings)
		ops.GET("/practitioners/:id/payouts", s.ListPayouts)
		ops.GET("/practitioners/:id/payouts/eligibility", s.GetPayoutEligibility)
		ops.POST("/practitioners/:id/payouts", s.CreatePayout)

		ops.GET("/payouts/:id", s.GetPayout)
		ops.POST("/payouts/:id/processing", s.MarkPayoutProcessing)
		ops.POST("/payouts/:id/complete", s.CompletePayout)
		ops.POST("/payouts/:id/fail", s.FailPayout)
		ops.POST("/payouts/:id/cancel", s.CancelPayout)
		ops.GET("/payouts/:id/statement", s.GetPayoutStatement)

		ops.POST("/bookings/:id/completed", s.BookingCompleted)
		ops.POST("/bookings/:id/canceled", s.BookingCanceled)

		if s.auditSvc != nil {
			ops.GET("/audit-logs", s.ListAuditLogs)
		}
	}
}
