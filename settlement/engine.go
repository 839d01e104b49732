package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/filecoin-project/go-address"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/outlierventures/buyco_settlement/assembler"
	"github.com/outlierventures/buyco_settlement/common"
	"github.com/outlierventures/buyco_settlement/dao"
	"github.com/outlierventures/buyco_settlement/ledger"
	"github.com/outlierventures/buyco_settlement/metrics"
	"github.com/outlierventures/buyco_settlement/payment"
)

type Engine struct {
	gw       ledger.Gateway
	asm      *assembler.Assembler
	pay      payment.Gateway
	accounts Accounts
	journal  Journal
	cfg      Config
}

// NewEngine builds an engine; a nil journal disables the double-charge guard.
func NewEngine(asm *assembler.Assembler, pay payment.Gateway, accounts Accounts, journal Journal, cfg Config) *Engine {
	if journal == nil {
		journal = noJournal{}
	}
	return &Engine{
		gw:       asm.Gateway(),
		asm:      asm,
		pay:      pay,
		accounts: accounts,
		journal:  journal,
		cfg:      cfg,
	}
}

// Settle pays every due phase of a proposal that is not paid yet. Pledges
// are due as soon as a backing exists, so a pledge that failed earlier is
// retried here. The returned error covers only the reads deciding what is
// due; payment failures are entries of the report.
func (e *Engine) Settle(ctx context.Context, addr address.Address) (*Report, error) {
	start := time.Now()
	defer func() {
		log.Infow("settle", "proposal", addr, "duration", time.Since(start).String())
	}()

	p, err := e.asm.Proposal(ctx, addr)
	if err != nil {
		return nil, common.AtStage(common.StageRead, err)
	}

	report := &Report{Proposal: addr, Closed: p.Closed, AcceptedOffer: p.AcceptedOffer}
	if !p.Closed {
		report.Skipped = "proposal open"
		report.Backers = e.payBackers(ctx, addr, p.BackerCount, common.PhasePledge)
		e.logFailures(report, p)
		return report, nil
	}
	if !p.HasAcceptedOffer() {
		log.Warnw("proposal closed without accepted offer, nothing to settle", "proposal", addr, "backers", p.BackerCount)
		report.Skipped = "no accepted offer"
		return report, nil
	}

	offer, err := e.asm.Offer(ctx, p.AcceptedOffer)
	if err != nil {
		return nil, common.AtStage(common.StageRead, err)
	}

	delivered, err := e.gw.Proposal(addr).DeliveryComplete(ctx)
	if err != nil {
		return nil, common.AtStage(common.StageRead, &common.PartialReadError{Address: addr, Field: "deliveryComplete", Err: err})
	}

	report.Backers = e.payBackers(ctx, addr, p.BackerCount, common.PhasePledge)

	phases := []common.Phase{common.PhaseStart}
	if delivered {
		phases = append(phases, common.PhaseEnd)
	}
	for _, phase := range phases {
		report.Backers = append(report.Backers, e.payBackers(ctx, addr, p.BackerCount, phase)...)
		report.Payouts = append(report.Payouts, e.payout(ctx, p, offer, phase))
	}

	e.logFailures(report, p)
	return report, nil
}

func (e *Engine) logFailures(report *Report, p *common.Proposal) {
	if failed := report.Failed(); len(failed) > 0 {
		log.Warnw("settle finished with failures", "proposal", p.Address, "failed", len(failed), "backers", p.BackerCount, "kind", common.KindName(failed[0].Err))
	}
}

// SettleAll settles every proposal of the registry that can still owe a
// payment: open ones for their pledges, closed ones with an accepted offer
// for every due phase. Proposals are settled concurrently; a failed proposal
// does not stop the others.
func (e *Engine) SettleAll(ctx context.Context) ([]*Report, error) {
	proposals, err := e.asm.ListProposals(ctx)
	if err != nil {
		return nil, common.AtStage(common.StageRead, err)
	}

	reports := make([]*Report, len(proposals))
	var wg sync.WaitGroup
	for i, p := range proposals {
		if p.BackerCount == 0 || (p.Closed && !p.HasAcceptedOffer()) {
			continue
		}
		wg.Add(1)
		go func(i int, addr address.Address) {
			defer wg.Done()
			r, err := e.Settle(ctx, addr)
			if err != nil {
				log.Errorw("settle failed", "proposal", addr, "kind", common.KindName(err), "err", err)
				return
			}
			reports[i] = r
		}(i, p.Address)
	}
	wg.Wait()

	out := reports[:0]
	for _, r := range reports {
		if r != nil {
			out = append(out, r)
		}
	}

	e.warnUnrecorded(ctx)
	return out, nil
}

// warnUnrecorded logs journaled transfers the ledger still does not show.
func (e *Engine) warnUnrecorded(ctx context.Context) {
	pending, err := e.journal.Unrecorded(ctx)
	if err != nil {
		log.Warnw("list unrecorded transfers failed", "err", err)
		return
	}
	for _, p := range pending {
		log.Warnw("transfer not recorded on ledger", "proposal", p.Proposal, "index", p.Index, "phase", p.Phase, "tx", p.TxID, "amount", payment.FormatAmount(p.Amount))
	}
}

// Unrecorded lists journaled transfers whose ledger write never committed.
func (e *Engine) Unrecorded(ctx context.Context) ([]*dao.JournalEntry, error) {
	return e.journal.Unrecorded(ctx)
}

// payBackers runs every backer's payment for phase concurrently and waits
// for all of them.
func (e *Engine) payBackers(ctx context.Context, addr address.Address, count uint64, phase common.Phase) []BackerResult {
	results := make([]BackerResult, count)
	var wg sync.WaitGroup
	for i := uint64(1); i <= count; i++ {
		wg.Add(1)
		go func(index uint64) {
			defer wg.Done()
			results[index-1] = e.payBacker(ctx, addr, index, phase)
		}(i)
	}
	wg.Wait()
	return results
}

// payBacker moves one backer's phase amount into the vault and marks it paid
// on the ledger, unless the ledger already shows it paid.
func (e *Engine) payBacker(ctx context.Context, addr address.Address, index uint64, phase common.Phase) (res BackerResult) {
	res = BackerResult{Index: index, Phase: phase}
	defer func() { e.recordBacker(ctx, res) }()

	h := e.gw.Proposal(addr)
	slot := dao.JournalSlot{Proposal: addr, Index: index, Phase: phase}

	paid, err := h.PhasePaid(ctx, index, phase)
	if err != nil {
		res.Status, res.Err = StatusFailed, common.AtStage(common.StageRead, err)
		return res
	}
	if paid.Paid() {
		res.Status, res.TxID, res.Amount = StatusAlreadyPaid, paid.TxID, paid.Amount
		e.markRecorded(ctx, slot)
		return res
	}

	if prev, ok := phase.Previous(); ok {
		prevPaid, err := h.PhasePaid(ctx, index, prev)
		if err != nil {
			res.Status, res.Err = StatusFailed, common.AtStage(common.StageRead, err)
			return res
		}
		if !prevPaid.Paid() {
			log.Debugw("backer phase waits for earlier phase", "proposal", addr, "backer", index, "phase", phase, "waiting", prev)
			res.Status = StatusPending
			return res
		}
	}

	backer, err := h.Backer(ctx, index)
	if err != nil {
		res.Status, res.Err = StatusFailed, common.AtStage(common.StageRead, err)
		return res
	}
	res.Backer = backer.Address

	txID, amount, reused, err := e.transferOnce(ctx, slot, func(ctx context.Context) (*transfer, error) {
		acc, err := e.accounts.Lookup(ctx, backer.Address)
		if err != nil {
			return nil, err
		}
		amount, err := h.PhaseAmount(ctx, index, phase)
		if err != nil {
			return nil, xerrors.Errorf("read %s amount: %w", phase, err)
		}
		if amount <= 0 {
			return nil, xerrors.Errorf("%s amount of backer %d is %d: %w", phase, index, amount, common.ErrInconsistentState)
		}
		return &transfer{
			token:  acc.AccessToken,
			from:   acc.CardID,
			to:     e.cfg.VaultCard,
			amount: amount,
			memo:   fmt.Sprintf("%s payment for %s", phase, addr),
		}, nil
	})
	if err != nil {
		res.Status, res.Err = StatusFailed, common.AtStage(common.StageSettle, err)
		return res
	}
	res.TxID, res.Amount, res.Reused = txID, amount, reused

	if _, err := h.SetPhasePaid(ctx, e.cfg.Operator, index, phase, txID, amount); err != nil {
		log.Errorw("set phase paid failed, transfer kept in journal", "proposal", addr, "backer", index, "phase", phase, "tx", txID, "err", err)
		res.Status, res.Err = StatusFailed, common.AtStage(common.StageSettle, err)
		return res
	}
	e.markRecorded(ctx, slot)

	log.Infow("backer paid", "proposal", addr, "backer", index, "phase", phase, "tx", txID, "amount", payment.FormatAmount(amount), "reused", reused)
	res.Status = StatusPaid
	return res
}

type transfer struct {
	token  string
	from   string
	to     string
	amount int64
	memo   string
}

// transferOnce returns the transfer already journaled for slot, or prepares,
// executes and journals a new one. The journal is consulted before anything
// is charged; if it cannot be read nothing is charged.
func (e *Engine) transferOnce(ctx context.Context, slot dao.JournalSlot, prepare func(ctx context.Context) (*transfer, error)) (string, int64, bool, error) {
	prev, err := e.journal.Find(ctx, slot)
	if err == nil {
		log.Infow("reusing journaled transfer", "proposal", slot.Proposal, "index", slot.Index, "phase", slot.Phase, "tx", prev.TxID)
		return prev.TxID, prev.Amount, true, nil
	}
	if !xerrors.Is(err, dao.ErrNotFound) {
		return "", 0, false, xerrors.Errorf("journal lookup: %w", err)
	}

	t, err := prepare(ctx)
	if err != nil {
		return "", 0, false, err
	}

	tx, err := e.pay.Transfer(ctx, t.token, payment.TransferRequest{
		From:     t.from,
		To:       t.to,
		Amount:   t.amount,
		Currency: e.cfg.Currency,
		Message:  t.memo,
	})
	if err != nil {
		return "", 0, false, err
	}

	entry := &dao.JournalEntry{
		JournalSlot: slot,
		TxID:        tx.ID,
		Amount:      t.amount,
		Currency:    e.cfg.Currency,
		Source:      t.from,
		Destination: t.to,
	}
	if err := e.journal.Record(ctx, entry); err != nil {
		log.Errorw("journal transfer failed", "proposal", slot.Proposal, "index", slot.Index, "phase", slot.Phase, "tx", tx.ID, "err", err)
	}
	return tx.ID, t.amount, false, nil
}

func (e *Engine) markRecorded(ctx context.Context, slot dao.JournalSlot) {
	if err := e.journal.MarkRecorded(ctx, slot); err != nil {
		log.Warnw("mark journal recorded failed", "proposal", slot.Proposal, "index", slot.Index, "phase", slot.Phase, "err", err)
	}
}

func (e *Engine) recordBacker(ctx context.Context, res BackerResult) {
	mutators := []tag.Mutator{
		tag.Upsert(metrics.Phase, res.Phase.String()),
		tag.Upsert(metrics.Status, string(res.Status)),
	}
	metrics.RecordTagged(ctx, mutators, metrics.BackerPayments.M(1))
	if res.Status == StatusPaid && !res.Reused {
		metrics.RecordTagged(ctx, mutators[:1], metrics.VaultInflow.M(res.Amount))
	}
}

type noJournal struct{}

func (noJournal) Find(context.Context, dao.JournalSlot) (*dao.JournalEntry, error) {
	return nil, dao.ErrNotFound
}

func (noJournal) Record(context.Context, *dao.JournalEntry) error { return nil }

func (noJournal) MarkRecorded(context.Context, dao.JournalSlot) error { return nil }

func (noJournal) Unrecorded(context.Context) ([]*dao.JournalEntry, error) { return nil, nil }
