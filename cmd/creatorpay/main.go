package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creatorpay/internal/automation"
	"github.com/smallbiznis/creatorpay/internal/clock"
	"github.com/smallbiznis/creatorpay/internal/config"
	"github.com/smallbiznis/creatorpay/internal/entitlement"
	"github.com/smallbiznis/creatorpay/internal/invoice"
	"github.com/smallbiznis/creatorpay/internal/migration"
	"github.com/smallbiznis/creatorpay/internal/observability"
	"github.com/smallbiznis/creatorpay/internal/order"
	"github.com/smallbiznis/creatorpay/internal/ratelimit"
	"github.com/smallbiznis/creatorpay/internal/scheduler"
	"github.com/smallbiznis/creatorpay/internal/server"
	"github.com/smallbiznis/creatorpay/internal/subscription"
	"github.com/smallbiznis/creatorpay/internal/webhook"
	"github.com/smallbiznis/creatorpay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),

		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		ratelimit.Module,

		// Functional Domains
		webhook.Module,
		entitlement.Module,
		invoice.Module,
		automation.Module,
		subscription.Module,
		order.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
