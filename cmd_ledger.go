package main

import (
	"context"
	"fmt"
	"time"

	"github.com/filecoin-project/go-address"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/outlierventures/buyco_settlement/common"
	"github.com/outlierventures/buyco_settlement/dao"
	"github.com/outlierventures/buyco_settlement/payment"
	"github.com/outlierventures/buyco_settlement/util"
)

var fromFlag = &cli.StringFlag{
	Name:  "from",
	Usage: "sending wallet, defaults to the operator",
}

func fromAddress(cctx *cli.Context, lc *ledgerConn) (address.Address, error) {
	if cctx.String("from") == "" {
		return lc.operator, nil
	}
	return parseAddress(cctx, "from")
}

func parseDate(cctx *cli.Context, name string) (time.Time, error) {
	s := cctx.String(name)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, xerrors.Errorf("--%s: %w", name, err)
	}
	return t, nil
}

var cmdPropose = &cli.Command{
	Name:  "propose",
	Usage: "Create a proposal through the registry",
	Flags: flags(ledgerFlags, []cli.Flag{
		fromFlag,
		&cli.StringFlag{Name: "name", Required: true},
		&cli.StringFlag{Name: "description"},
		&cli.StringFlag{Name: "sku"},
		&cli.StringFlag{Name: "unit-size"},
		&cli.StringFlag{Name: "main-category"},
		&cli.StringFlag{Name: "sub-category"},
		&cli.Int64Flag{Name: "max-price", Usage: "maximum price per unit in minor units", Required: true},
		&cli.StringFlag{Name: "end-date", Usage: "RFC3339", Required: true},
		&cli.StringFlag{Name: "delivery-date", Usage: "RFC3339"},
	}),
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx)

		end, err := parseDate(cctx, "end-date")
		if err != nil {
			return err
		}
		delivery, err := parseDate(cctx, "delivery-date")
		if err != nil {
			return err
		}

		lc, err := openLedger(ctx, cctx)
		if err != nil {
			return err
		}
		defer lc.Close()
		from, err := fromAddress(cctx, lc)
		if err != nil {
			return err
		}

		reg, err := lc.gw.Registry(ctx)
		if err != nil {
			return err
		}
		addr, err := reg.CreateProposal(ctx, from, common.ProposalParams{
			ProductName:          cctx.String("name"),
			ProductDescription:   cctx.String("description"),
			ProductSku:           cctx.String("sku"),
			ProductUnitSize:      cctx.String("unit-size"),
			MainCategory:         cctx.String("main-category"),
			SubCategory:          cctx.String("sub-category"),
			MaxPricePerUnit:      cctx.Int64("max-price"),
			EndDate:              end,
			UltimateDeliveryDate: delivery,
		})
		if err != nil {
			return common.AtStage(common.StageSubmit, err)
		}
		fmt.Println(addr)
		return nil
	},
}

var cmdBack = &cli.Command{
	Name:      "back",
	Usage:     "Back a proposal and collect the pledge payment",
	ArgsUsage: "<proposal>",
	Flags: flags(ledgerFlags, storeFlags, paymentFlags, []cli.Flag{
		&cli.StringFlag{Name: "backer", Usage: "backing wallet", Required: true},
		&cli.Uint64Flag{Name: "quantity", Required: true},
	}),
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx)

		prop, err := argAddress(cctx, "proposal")
		if err != nil {
			return err
		}
		backer, err := parseAddress(cctx, "backer")
		if err != nil {
			return err
		}
		if cctx.Uint64("quantity") == 0 {
			return xerrors.New("--quantity must be positive")
		}

		svc, err := openServices(ctx, cctx)
		if err != nil {
			return err
		}
		defer svc.Close()
		if err := svc.requireEngine(); err != nil {
			return err
		}

		res, err := svc.engine.Pledge(ctx, prop, backer, cctx.Uint64("quantity"))
		if err != nil {
			return err
		}
		fmt.Printf("backer #%d pledge: %s", res.Index, res.Status)
		if res.TxID != "" {
			fmt.Printf(" tx=%s amount=%d", res.TxID, res.Amount)
		}
		fmt.Println()
		return res.Err
	},
}

var cmdOffer = &cli.Command{
	Name:      "offer",
	Usage:     "Submit a seller offer on a proposal",
	ArgsUsage: "<proposal>",
	Flags: flags(ledgerFlags, []cli.Flag{
		fromFlag,
		&cli.Int64Flag{Name: "price", Usage: "price per unit in minor units", Required: true},
		&cli.Uint64Flag{Name: "min-quantity"},
		&cli.StringFlag{Name: "payout-account", Usage: "payment gateway card receiving payouts", Required: true},
	}),
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx)

		prop, err := argAddress(cctx, "proposal")
		if err != nil {
			return err
		}
		if cctx.Int64("price") <= 0 {
			return xerrors.New("--price must be positive")
		}

		lc, err := openLedger(ctx, cctx)
		if err != nil {
			return err
		}
		defer lc.Close()
		from, err := fromAddress(cctx, lc)
		if err != nil {
			return err
		}

		offer, err := lc.gw.Proposal(prop).SubmitOffer(ctx, from, common.OfferParams{
			Price:         cctx.Int64("price"),
			MinQuantity:   cctx.Uint64("min-quantity"),
			PayoutAccount: cctx.String("payout-account"),
		})
		if err != nil {
			return common.AtStage(common.StageSubmit, err)
		}
		fmt.Println(offer)
		return nil
	},
}

var cmdReportDelivery = &cli.Command{
	Name:      "report-delivery",
	Usage:     "Report whether a backer received a correct delivery",
	ArgsUsage: "<proposal>",
	Flags: flags(ledgerFlags, []cli.Flag{
		&cli.StringFlag{Name: "backer", Usage: "reporting backer wallet", Required: true},
		&cli.BoolFlag{Name: "correct", Value: true},
	}),
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx)

		prop, err := argAddress(cctx, "proposal")
		if err != nil {
			return err
		}
		backer, err := parseAddress(cctx, "backer")
		if err != nil {
			return err
		}

		lc, err := openLedger(ctx, cctx)
		if err != nil {
			return err
		}
		defer lc.Close()

		h := lc.gw.Proposal(prop)
		index, err := h.BackerIndex(ctx, backer)
		if err != nil {
			return common.AtStage(common.StageRead, err)
		}
		if index == 0 {
			return xerrors.Errorf("%s does not back %s", backer, prop)
		}
		msg, err := h.ReportDelivery(ctx, backer, index, cctx.Bool("correct"))
		if err != nil {
			return common.AtStage(common.StageSubmit, err)
		}
		fmt.Println(msg)
		return nil
	},
}

var cmdRegisterAccount = &cli.Command{
	Name:  "register-account",
	Usage: "Map a ledger wallet to the payment card it pays with",
	Flags: flags(storeFlags, []cli.Flag{
		paymentURLFlag,
		paymentTimeoutFlag,
		&cli.StringFlag{Name: "address", Usage: "ledger wallet", Required: true},
		&cli.StringFlag{Name: "user", Required: true},
		&cli.StringFlag{Name: "token", Usage: "payment gateway access token", Required: true},
		&cli.StringFlag{Name: "card", Required: true},
	}),
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx)

		addr, err := parseAddress(cctx, "address")
		if err != nil {
			return err
		}

		if url := cctx.String("payment-url"); url != "" {
			pay := payment.NewClient(payment.Config{BaseURL: url, Timeout: cctx.Duration("payment-timeout")})
			if err := checkCard(ctx, pay, cctx.String("token"), cctx.String("card")); err != nil {
				return err
			}
		}

		db, err := openDB(cctx)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}

		return dao.NewAccountDirectory(db).Register(ctx, &common.PaymentAccount{
			LedgerAddress: addr,
			UserID:        cctx.String("user"),
			AccessToken:   cctx.String("token"),
			CardID:        cctx.String("card"),
		})
	},
}

// checkCard fails unless card is one of the token owner's funded cards.
func checkCard(ctx context.Context, pay payment.Gateway, token, card string) error {
	accounts, err := pay.AccountsWithBalance(ctx, token)
	if err != nil {
		return err
	}
	for _, a := range accounts {
		if a.ID == card {
			log.Infow("card verified", "card", card, "currency", a.Currency, "available", a.Available.String())
			return nil
		}
	}
	return xerrors.Errorf("card %s not found among %d funded cards", card, len(accounts))
}
