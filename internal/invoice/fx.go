package invoice

import (
	"github.com/smallbiznis/creatorpay/internal/invoice/repository"
	"github.com/smallbiznis/creatorpay/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.recorder",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
