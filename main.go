package main

import (
	"os"

	"github.com/filecoin-project/lotus/build"
	logging "github.com/ipfs/go-log/v2"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/outlierventures/buyco_settlement/common"
)

var (
	log = logging.Logger("buyco_settlement")
)

func main() {
	if err := logging.SetLogLevel("*", "info"); err != nil {
		log.Fatal(err)
	}
	app := &cli.App{
		Name:    "buyco_settlement",
		Usage:   "escrow settlement for group-buying proposals",
		Version: build.UserVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "optional dotenv file with BUYCO_* settings",
				Value:   ".env",
				EnvVars: []string{"BUYCO_ENV_FILE"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				EnvVars: []string{"BUYCO_LOG_LEVEL"},
			},
		},
		Before: func(cctx *cli.Context) error {
			if err := loadEnv(cctx.String("env-file")); err != nil {
				return err
			}
			if err := logging.SetLogLevel("*", cctx.String("log-level")); err != nil {
				return err
			}
			return logging.SetLogLevel("rpc", "error")
		},
		Commands: []*cli.Command{
			cmdInitDb,
			cmdDaemon,
			cmdReconcile,
			cmdClearCache,
			cmdClose,
			cmdSettle,
			cmdPropose,
			cmdBack,
			cmdOffer,
			cmdReportDelivery,
			cmdRegisterAccount,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalw("command failed", "kind", common.KindName(err), "err", err)
	}
}

// loadEnv fills unset environment variables from path; a missing file is fine.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}
