package order

import (
	"github.com/smallbiznis/creatorpay/internal/order/repository"
	"github.com/smallbiznis/creatorpay/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order.reconciler",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(
		fx.Annotate(service.Routes, fx.ResultTags(`group:"webhook_routes,flatten"`)),
	),
)
