package checkout

import (
	checkoutdomain "github.com/smallbiznis/marketledger/internal/checkout/domain"
	"github.com/smallbiznis/marketledger/internal/checkout/service"
	paymentdomain "github.com/smallbiznis/marketledger/internal/payment/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("checkout.service",
	fx.Provide(service.NewService),
	// webhooks settle orders through the same path as confirmations
	fx.Provide(func(svc checkoutdomain.Service) paymentdomain.Settlement { return svc }),
)
