package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/revlens/internal/analytics"
	"github.com/smallbiznis/revlens/internal/billing"
	"github.com/smallbiznis/revlens/internal/clock"
	"github.com/smallbiznis/revlens/internal/cohort"
	"github.com/smallbiznis/revlens/internal/config"
	"github.com/smallbiznis/revlens/internal/conversion"
	"github.com/smallbiznis/revlens/internal/curated"
	"github.com/smallbiznis/revlens/internal/migration"
	"github.com/smallbiznis/revlens/internal/observability"
	"github.com/smallbiznis/revlens/internal/scheduler"
	"github.com/smallbiznis/revlens/internal/server"
	"github.com/smallbiznis/revlens/internal/snapshot"
	"github.com/smallbiznis/revlens/internal/subscription"
	"github.com/smallbiznis/revlens/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Domain services behind the read endpoints
		billing.Module,
		subscription.Module,
		curated.Module,
		snapshot.Module,
		cohort.Module,
		conversion.Module,
		analytics.Module,

		// Manual rebuild endpoint needs the pipeline, not the ticker
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
