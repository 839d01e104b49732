package main

import (
	"net/http"
	"time"

	"github.com/urfave/cli/v2"
	"go.opencensus.io/stats/view"
	"golang.org/x/xerrors"

	"github.com/outlierventures/buyco_settlement/dao"
	"github.com/outlierventures/buyco_settlement/initdb"
	"github.com/outlierventures/buyco_settlement/metrics"
	"github.com/outlierventures/buyco_settlement/porter"
	"github.com/outlierventures/buyco_settlement/util"

	_ "net/http/pprof"
)

var cmdDaemon = &cli.Command{
	Name:  "daemon",
	Usage: "Run scheduled reconcile, closing and settlement",
	Flags: flags(ledgerFlags, storeFlags, paymentFlags, []cli.Flag{
		&cli.StringFlag{
			Name:    "pprof",
			Value:   ":6060",
			EnvVars: []string{"BUYCO_PPROF"},
		},
		&cli.StringFlag{
			Name:    "reconcile-cron",
			Value:   "@every 1m",
			EnvVars: []string{"BUYCO_RECONCILE_CRON"},
		},
		&cli.StringFlag{
			Name:    "close-cron",
			Value:   "@every 5m",
			EnvVars: []string{"BUYCO_CLOSE_CRON"},
		},
		&cli.StringFlag{
			Name:    "settle-cron",
			Value:   "@every 10m",
			EnvVars: []string{"BUYCO_SETTLE_CRON"},
		},
		&cli.DurationFlag{
			Name:    "metrics-interval",
			Usage:   "how often metric views are logged, 0 disables",
			Value:   time.Minute,
			EnvVars: []string{"BUYCO_METRICS_INTERVAL"},
		},
	}),
	Action: func(cctx *cli.Context) error {
		if addr := cctx.String("pprof"); addr != "" {
			go func() {
				http.ListenAndServe(addr, nil) //nolint:errcheck
			}()
		}

		ctx := util.ReqContext(cctx)

		if err := view.Register(metrics.DefaultViews...); err != nil {
			return xerrors.Errorf("register metric views: %w", err)
		}
		if interval := cctx.Duration("metrics-interval"); interval > 0 {
			view.SetReportingPeriod(interval)
			view.RegisterExporter(metrics.LogExporter{})
			defer view.UnregisterExporter(metrics.LogExporter{})
		}

		svc, err := openServices(ctx, cctx)
		if err != nil {
			return err
		}
		defer svc.Close()
		if err := svc.requireEngine(); err != nil {
			return err
		}

		version, err := initdb.LoadSchemaVersion(ctx, svc.db)
		if err != nil {
			return err
		}
		registry, err := parseAddress(cctx, "registry")
		if err != nil {
			return err
		}
		if version.Registry != registry.String() {
			return xerrors.Errorf("database belongs to registry %s, not %s", version.Registry, registry)
		}

		if err := dao.GetDatabaseLock(svc.db); err != nil {
			return xerrors.Errorf("another daemon holds the database: %w", err)
		}
		defer dao.ReleaseDatabaseLock(svc.db) //nolint:errcheck

		p := porter.NewPorter(ctx, svc.engine, svc.closer, svc.sync, porter.Schedule{
			Reconcile: cctx.String("reconcile-cron"),
			CloseDue:  cctx.String("close-cron"),
			SettleAll: cctx.String("settle-cron"),
		})
		if err := p.Start(); err != nil {
			return err
		}
		log.Infow("daemon started", "operator", svc.ledger.operator, "registry", registry)

		<-ctx.Done()

		p.Stop()
		log.Info("daemon stopped")
		return nil
	},
}
