package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/skillvouch/skillvouch/internal/clock"
	"github.com/skillvouch/skillvouch/internal/config"
	"github.com/skillvouch/skillvouch/internal/migration"
	"github.com/skillvouch/skillvouch/internal/observability"
	"github.com/skillvouch/skillvouch/internal/scheduler"
	"github.com/skillvouch/skillvouch/internal/server"
	"github.com/skillvouch/skillvouch/pkg/db"
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

		server.Module,
		scheduler.Module,
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
