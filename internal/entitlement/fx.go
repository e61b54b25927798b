package entitlement

import (
	"github.com/smallbiznis/creatorpay/internal/entitlement/repository"
	"github.com/smallbiznis/creatorpay/internal/entitlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
