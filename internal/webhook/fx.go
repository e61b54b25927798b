package webhook

import (
	"github.com/smallbiznis/creatorpay/internal/webhook/ledger"
	"github.com/smallbiznis/creatorpay/internal/webhook/router"
	"github.com/smallbiznis/creatorpay/internal/webhook/service"
	"github.com/smallbiznis/creatorpay/internal/webhook/signature"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook",
	fx.Provide(ledger.Provide),
	fx.Provide(signature.NewSecretSource),
	fx.Provide(router.Provide),
	fx.Provide(service.NewService),
)
