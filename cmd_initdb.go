package main

import (
	"github.com/urfave/cli/v2"

	"github.com/outlierventures/buyco_settlement/initdb"
)

var cmdInitDb = &cli.Command{
	Name:  "initdb",
	Usage: "Create the settlement tables",
	Flags: flags(storeFlags, []cli.Flag{registryFlag}),
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context

		registry, err := parseAddress(cctx, "registry")
		if err != nil {
			return err
		}

		db, err := openDB(cctx)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}

		rds, err := openRedis(ctx, cctx)
		if err != nil {
			return err
		}
		if rds != nil {
			defer rds.Close()
			return initdb.InitDatabase(ctx, db, rds, registry.String())
		}
		return initdb.InitDatabase(ctx, db, nil, registry.String())
	},
}
