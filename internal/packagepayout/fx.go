package packagepayout

import (
	"github.com/smallbiznis/marketledger/internal/packagepayout/repository"
	"github.com/smallbiznis/marketledger/internal/packagepayout/service"
	"go.uber.org/fx"
)

var Module = fx.Module("packagepayout.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
