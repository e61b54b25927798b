package automation

import (
	"github.com/smallbiznis/creatorpay/internal/automation/crypto"
	"github.com/smallbiznis/creatorpay/internal/automation/domain"
	"github.com/smallbiznis/creatorpay/internal/automation/repository"
	"github.com/smallbiznis/creatorpay/internal/automation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("automation",
	fx.Provide(
		fx.Annotate(crypto.FromConfig, fx.As(new(domain.TokenDecrypter))),
	),
	fx.Provide(repository.NewQueue),
	fx.Provide(repository.NewCatalog),
	fx.Provide(service.NewFulfiller),
	fx.Provide(service.NewDispatcher),
	fx.Provide(service.NewDunning),
)
