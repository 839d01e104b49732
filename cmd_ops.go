package main

import (
	"fmt"

	"github.com/filecoin-project/go-address"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/outlierventures/buyco_settlement/porter"
	"github.com/outlierventures/buyco_settlement/settlement"
	"github.com/outlierventures/buyco_settlement/util"
)

// withPorter opens the service stack for a one-shot command.
func withPorter(cctx *cli.Context, needPayment bool, fn func(p *porter.Porter) error) error {
	ctx := util.ReqContext(cctx)

	svc, err := openServices(ctx, cctx)
	if err != nil {
		return err
	}
	defer svc.Close()
	if needPayment {
		if err := svc.requireEngine(); err != nil {
			return err
		}
	}

	return fn(porter.NewPorter(ctx, svc.engine, svc.closer, svc.sync, porter.Schedule{}))
}

var cmdReconcile = &cli.Command{
	Name:  "reconcile",
	Usage: "Refresh cached proposal documents from the ledger",
	Flags: flags(ledgerFlags, storeFlags),
	Action: func(cctx *cli.Context) error {
		return withPorter(cctx, false, func(p *porter.Porter) error {
			res, err := p.ReconcileCache(cctx.Context)
			if err != nil {
				return err
			}
			fmt.Printf("created: %d\nupdated: %d\n", res.Created, res.Updated)
			return nil
		})
	},
}

var cmdClearCache = &cli.Command{
	Name:  "clear-cache",
	Usage: "Delete every cached proposal document and digest",
	Flags: flags(ledgerFlags, storeFlags),
	Action: func(cctx *cli.Context) error {
		return withPorter(cctx, false, func(p *porter.Porter) error {
			removed, err := p.ClearCache(cctx.Context)
			if err != nil {
				return err
			}
			fmt.Printf("removed: %d\n", removed)
			return nil
		})
	},
}

var cmdClose = &cli.Command{
	Name:      "close",
	Usage:     "Close a proposal and show the offer the ledger accepted",
	ArgsUsage: "<proposal>",
	Flags:     flags(ledgerFlags, storeFlags),
	Action: func(cctx *cli.Context) error {
		addr, err := argAddress(cctx, "proposal")
		if err != nil {
			return err
		}
		return withPorter(cctx, false, func(p *porter.Porter) error {
			res, err := p.CloseProposal(cctx.Context, addr)
			if err != nil {
				return err
			}
			if res.AlreadyClosed {
				fmt.Println("proposal was already closed")
			}
			if !res.HasAcceptedOffer() {
				fmt.Println("accepted offer: none")
				return nil
			}
			fmt.Printf("accepted offer: %s\n", res.AcceptedOffer)
			fmt.Printf("seller: %s\nprice: %d\nmin quantity: %d\n", res.Offer.Seller, res.Offer.Price, res.Offer.MinQuantity)
			return nil
		})
	},
}

var cmdSettle = &cli.Command{
	Name:      "settle",
	Usage:     "Collect due backer payments and pay the seller",
	ArgsUsage: "<proposal>",
	Flags:     flags(ledgerFlags, storeFlags, paymentFlags),
	Action: func(cctx *cli.Context) error {
		addr, err := argAddress(cctx, "proposal")
		if err != nil {
			return err
		}
		return withPorter(cctx, true, func(p *porter.Porter) error {
			report, err := p.TriggerSettlement(cctx.Context, addr)
			if err != nil {
				return err
			}
			printReport(report)
			if failed := report.Failed(); len(failed) > 0 {
				return xerrors.Errorf("%d backer payments failed", len(failed))
			}
			return nil
		})
	},
}

func printReport(r *settlement.Report) {
	fmt.Printf("proposal: %s\n", r.Proposal)
	if r.Skipped != "" {
		fmt.Printf("skipped: %s\n", r.Skipped)
		return
	}
	if r.AcceptedOffer != address.Undef {
		fmt.Printf("accepted offer: %s\n", r.AcceptedOffer)
	}
	for _, b := range r.Backers {
		line := fmt.Sprintf("  backer #%d %s %s: %s", b.Index, b.Backer, b.Phase, b.Status)
		if b.TxID != "" {
			line += fmt.Sprintf(" tx=%s amount=%d", b.TxID, b.Amount)
		}
		if b.Err != nil {
			line += fmt.Sprintf(" err=%v", b.Err)
		}
		fmt.Println(line)
	}
	for _, po := range r.Payouts {
		line := fmt.Sprintf("  payout %s: %s", po.Phase, po.Status)
		if po.TxID != "" {
			line += fmt.Sprintf(" tx=%s amount=%d", po.TxID, po.Amount)
		}
		if po.Err != nil {
			line += fmt.Sprintf(" err=%v", po.Err)
		}
		fmt.Println(line)
	}
}
