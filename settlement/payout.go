package settlement

import (
	"context"
	"fmt"

	"github.com/filecoin-project/go-address"
	"github.com/ipfs/go-cid"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/outlierventures/buyco_settlement/common"
	"github.com/outlierventures/buyco_settlement/dao"
	"github.com/outlierventures/buyco_settlement/metrics"
	"github.com/outlierventures/buyco_settlement/model"
	"github.com/outlierventures/buyco_settlement/payment"
)

// payout transfers the phase total from the vault to the seller once every
// backer has paid the phase, and registers it on the ledger once.
func (e *Engine) payout(ctx context.Context, p *common.Proposal, offer *common.Offer, phase common.Phase) (res PayoutResult) {
	res = PayoutResult{Phase: phase}
	defer func() {
		metrics.RecordTagged(ctx, []tag.Mutator{
			tag.Upsert(metrics.Phase, phase.String()),
			tag.Upsert(metrics.Status, string(res.Status)),
		}, metrics.Payouts.M(1))
	}()

	h := e.gw.Proposal(p.Address)
	slot := dao.JournalSlot{Proposal: p.Address, Index: model.PayoutIndex, Phase: phase}

	txID, err := h.PayoutTxID(ctx, phase)
	if err != nil {
		res.Status, res.Err = StatusFailed, common.AtStage(common.StageRead, err)
		return res
	}
	if txID != "" {
		amount, err := h.PayoutAmount(ctx, phase)
		if err != nil {
			res.Status, res.Err = StatusFailed, common.AtStage(common.StageRead, err)
			return res
		}
		res.Status, res.TxID, res.Amount = StatusAlreadyPaid, txID, amount
		e.markRecorded(ctx, slot)
		return res
	}

	backers, err := e.asm.Backers(ctx, p.Address)
	if err != nil {
		res.Status, res.Err = StatusFailed, common.AtStage(common.StageRead, err)
		return res
	}

	var total int64
	for _, b := range backers {
		pp := b.Payment(phase)
		if !pp.Paid() {
			log.Debugw("payout waits for backer", "proposal", p.Address, "phase", phase, "backer", b.Index)
			res.Status = StatusPending
			return res
		}
		total += pp.Amount
	}
	if total <= 0 {
		res.Status = StatusPending
		return res
	}
	if offer.PayoutAccount == "" {
		res.Status = StatusFailed
		res.Err = common.AtStage(common.StagePayout, xerrors.Errorf("offer %s has no payout account: %w", offer.Address, common.ErrInconsistentState))
		return res
	}

	txID, amount, reused, err := e.transferOnce(ctx, slot, func(ctx context.Context) (*transfer, error) {
		return &transfer{
			token:  e.cfg.VaultToken,
			from:   e.cfg.VaultCard,
			to:     offer.PayoutAccount,
			amount: total,
			memo:   fmt.Sprintf("%s payout for %s", phase, p.Address),
		}, nil
	})
	if err != nil {
		res.Status, res.Err = StatusFailed, common.AtStage(common.StagePayout, err)
		return res
	}
	res.TxID, res.Amount, res.Reused = txID, amount, reused

	if _, err := e.registerPayout(ctx, p.Address, phase, txID, amount); err != nil {
		log.Errorw("register payout failed, transfer kept in journal", "proposal", p.Address, "phase", phase, "tx", txID, "err", err)
		res.Status, res.Err = StatusFailed, common.AtStage(common.StagePayout, err)
		return res
	}
	e.markRecorded(ctx, slot)

	log.Infow("payout registered", "proposal", p.Address, "phase", phase, "seller", offer.Seller, "tx", txID, "amount", payment.FormatAmount(amount), "reused", reused)
	res.Status = StatusPaid
	return res
}

func (e *Engine) registerPayout(ctx context.Context, addr address.Address, phase common.Phase, txID string, amount int64) (cid.Cid, error) {
	h := e.gw.Proposal(addr)
	switch phase {
	case common.PhaseStart:
		return h.RegisterStartPayout(ctx, e.cfg.Operator, txID, amount)
	case common.PhaseEnd:
		return h.RegisterEndPayout(ctx, e.cfg.Operator, txID, amount)
	}
	return cid.Undef, xerrors.Errorf("no payout for phase %s", phase)
}
