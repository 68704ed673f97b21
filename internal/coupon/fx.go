package coupon

import (
	"github.com/smallbiznis/profitledger/internal/coupon/repository"
	"github.com/smallbiznis/profitledger/internal/coupon/service"
	"go.uber.org/fx"
)

var Module = fx.Module("coupon.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
