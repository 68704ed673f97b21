package userdiscount

import (
	"github.com/smallbiznis/profitledger/internal/userdiscount/repository"
	"github.com/smallbiznis/profitledger/internal/userdiscount/service"
	"go.uber.org/fx"
)

var Module = fx.Module("userdiscount.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
