package payment

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/marketledger/internal/config"
	"github.com/smallbiznis/marketledger/internal/payment/adapters"
	midtransadapter "github.com/smallbiznis/marketledger/internal/payment/adapters/midtrans"
	"github.com/smallbiznis/marketledger/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/marketledger/internal/payment/domain"
	midtransgateway "github.com/smallbiznis/marketledger/internal/payment/gateway/midtrans"
	"github.com/smallbiznis/marketledger/internal/payment/repository"
	paymentservice "github.com/smallbiznis/marketledger/internal/payment/service"
	"github.com/smallbiznis/marketledger/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(NewRegistry),
	fx.Provide(NewGateway),
	fx.Provide(paymentservice.NewService),
	fx.Provide(func(svc *paymentservice.Service) paymentdomain.Reconciler { return svc }),
	fx.Provide(webhook.NewService),
)

// NewRegistry builds the webhook adapters for every provider with a
// configured secret.
func NewRegistry(cfg config.Config, log *zap.Logger) (*adapters.Registry, error) {
	registry, err := adapters.NewRegistry(map[string]string{
		"midtrans": cfg.Payment.MidtransServerKey,
		"stripe":   cfg.Payment.StripeWebhookSecret,
	}, midtransadapter.NewFactory(), stripe.NewFactory())
	if err != nil {
		return nil, err
	}
	log.Info("payment webhook providers", zap.Strings("providers", registry.Providers()))
	return registry, nil
}

// NewGateway builds the charge gateway named by PAYMENT_PROVIDER.
func NewGateway(cfg config.Config, log *zap.Logger) (paymentdomain.Gateway, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Payment.Provider)) {
	case "", "midtrans":
		return midtransgateway.New(cfg.Payment, log)
	}
	return nil, fmt.Errorf("unsupported payment provider %q", cfg.Payment.Provider)
}
