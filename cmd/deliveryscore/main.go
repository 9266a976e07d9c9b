package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/deliveryscore/internal/clock"
	"github.com/smallbiznis/deliveryscore/internal/config"
	"github.com/smallbiznis/deliveryscore/internal/customer"
	"github.com/smallbiznis/deliveryscore/internal/events"
	"github.com/smallbiznis/deliveryscore/internal/ledger"
	"github.com/smallbiznis/deliveryscore/internal/lock"
	"github.com/smallbiznis/deliveryscore/internal/migration"
	"github.com/smallbiznis/deliveryscore/internal/observability"
	"github.com/smallbiznis/deliveryscore/internal/reconcile"
	"github.com/smallbiznis/deliveryscore/internal/redisclient"
	"github.com/smallbiznis/deliveryscore/internal/reputation"
	"github.com/smallbiznis/deliveryscore/internal/scoring"
	"github.com/smallbiznis/deliveryscore/internal/server"
	"github.com/smallbiznis/deliveryscore/internal/shipment"
	"github.com/smallbiznis/deliveryscore/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		redisclient.Module,
		lock.Module,
		events.Module,

		// Functional Domains
		customer.Module,
		shipment.Module,
		ledger.Module,
		scoring.Module,
		reputation.Module,
		reconcile.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
