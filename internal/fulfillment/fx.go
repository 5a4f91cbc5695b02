package fulfillment

import (
	"github.com/smallbiznis/marketledger/internal/fulfillment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("fulfillment.service",
	fx.Provide(service.NewService),
)
