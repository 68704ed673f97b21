package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/profitledger/internal/audit"
	"github.com/smallbiznis/profitledger/internal/authorization"
	"github.com/smallbiznis/profitledger/internal/catalog"
	"github.com/smallbiznis/profitledger/internal/clock"
	"github.com/smallbiznis/profitledger/internal/commission"
	"github.com/smallbiznis/profitledger/internal/config"
	"github.com/smallbiznis/profitledger/internal/coupon"
	"github.com/smallbiznis/profitledger/internal/entitlement"
	"github.com/smallbiznis/profitledger/internal/events"
	"github.com/smallbiznis/profitledger/internal/migration"
	"github.com/smallbiznis/profitledger/internal/observability"
	"github.com/smallbiznis/profitledger/internal/payout"
	"github.com/smallbiznis/profitledger/internal/providers"
	"github.com/smallbiznis/profitledger/internal/purchase"
	"github.com/smallbiznis/profitledger/internal/ratelimit"
	"github.com/smallbiznis/profitledger/internal/referral"
	"github.com/smallbiznis/profitledger/internal/scheduler"
	"github.com/smallbiznis/profitledger/internal/server"
	"github.com/smallbiznis/profitledger/internal/userdiscount"
	"github.com/smallbiznis/profitledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		events.Module,
		ratelimit.Module,
		providers.Module,

		// Ledger domains
		audit.Module,
		authorization.Module,
		catalog.Module,
		entitlement.Module,
		coupon.Module,
		userdiscount.Module,
		referral.Module,
		commission.Module,
		purchase.Module,
		payout.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
