// Package assembler joins the per-field ledger reads of an entity into one
// value. Every field of an entity is read concurrently and the entity exists
// only when all reads succeeded.
package assembler

import (
	"context"
	"time"

	"github.com/filecoin-project/go-address"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/outlierventures/buyco_settlement/common"
	"github.com/outlierventures/buyco_settlement/ledger"
)

var log = logging.Logger("assembler")

// Field reads one ledger value into the entity under assembly. Read
// functions of one entity must write disjoint fields.
type Field struct {
	Name string
	Read func(ctx context.Context) error
}

// Assemble runs all field reads concurrently and waits for every one of them.
// The first failure is returned as a *common.PartialReadError.
func Assemble(ctx context.Context, addr address.Address, fields []Field) error {
	grp, gctx := errgroup.WithContext(ctx)
	for _, f := range fields {
		f := f
		grp.Go(func() error {
			if err := f.Read(gctx); err != nil {
				return partial(addr, f.Name, err)
			}
			return nil
		})
	}
	return grp.Wait()
}

func partial(addr address.Address, field string, err error) error {
	var pe *common.PartialReadError
	if xerrors.As(err, &pe) {
		return err
	}
	return &common.PartialReadError{Address: addr, Field: field, Err: err}
}

type Assembler struct {
	gw ledger.Gateway
}

func New(gw ledger.Gateway) *Assembler {
	return &Assembler{gw: gw}
}

func (a *Assembler) Gateway() ledger.Gateway {
	return a.gw
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func (a *Assembler) Proposal(ctx context.Context, addr address.Address) (*common.Proposal, error) {
	h := a.gw.Proposal(addr)
	p := &common.Proposal{Address: addr}

	var endDate, deliveryDate int64
	fields := []Field{
		{"productName", func(ctx context.Context) (err error) { p.ProductName, err = h.ProductName(ctx); return }},
		{"productDescription", func(ctx context.Context) (err error) { p.ProductDescription, err = h.ProductDescription(ctx); return }},
		{"productSku", func(ctx context.Context) (err error) { p.ProductSku, err = h.ProductSku(ctx); return }},
		{"productUnitSize", func(ctx context.Context) (err error) { p.ProductUnitSize, err = h.ProductUnitSize(ctx); return }},
		{"mainCategory", func(ctx context.Context) (err error) { p.MainCategory, err = h.MainCategory(ctx); return }},
		{"subCategory", func(ctx context.Context) (err error) { p.SubCategory, err = h.SubCategory(ctx); return }},
		{"maxPricePerUnit", func(ctx context.Context) (err error) { p.MaxPricePerUnit, err = h.MaxPricePerUnit(ctx); return }},
		{"endDate", func(ctx context.Context) (err error) { endDate, err = h.EndDate(ctx); return }},
		{"ultimateDeliveryDate", func(ctx context.Context) (err error) { deliveryDate, err = h.UltimateDeliveryDate(ctx); return }},
		{"owner", func(ctx context.Context) (err error) { p.Owner, err = h.Owner(ctx); return }},
		{"closed", func(ctx context.Context) (err error) { p.Closed, err = h.Closed(ctx); return }},
		{"acceptedOffer", func(ctx context.Context) (err error) { p.AcceptedOffer, err = h.AcceptedOffer(ctx); return }},
		{"offerCount", func(ctx context.Context) (err error) { p.OfferCount, err = h.OfferCount(ctx); return }},
		{"backerCount", func(ctx context.Context) (err error) { p.BackerCount, err = h.BackerCount(ctx); return }},
		{"pledgePercentage", func(ctx context.Context) (err error) {
			p.PledgePercentage, err = h.PhasePercentage(ctx, common.PhasePledge)
			return
		}},
		{"startPercentage", func(ctx context.Context) (err error) {
			p.StartPercentage, err = h.PhasePercentage(ctx, common.PhaseStart)
			return
		}},
		{"endPercentage", func(ctx context.Context) (err error) {
			p.EndPercentage, err = h.PhasePercentage(ctx, common.PhaseEnd)
			return
		}},
		{"minDeliveryPercentage", func(ctx context.Context) (err error) { p.MinDeliveryPercentage, err = h.MinDeliveryPercentage(ctx); return }},
		{"startPayoutTxId", func(ctx context.Context) (err error) { p.StartPayout.TxID, err = h.PayoutTxID(ctx, common.PhaseStart); return }},
		{"startPayoutAmount", func(ctx context.Context) (err error) { p.StartPayout.Amount, err = h.PayoutAmount(ctx, common.PhaseStart); return }},
		{"endPayoutTxId", func(ctx context.Context) (err error) { p.EndPayout.TxID, err = h.PayoutTxID(ctx, common.PhaseEnd); return }},
		{"endPayoutAmount", func(ctx context.Context) (err error) { p.EndPayout.Amount, err = h.PayoutAmount(ctx, common.PhaseEnd); return }},
	}
	if err := Assemble(ctx, addr, fields); err != nil {
		return nil, err
	}

	p.EndDate = unixTime(endDate)
	p.UltimateDeliveryDate = unixTime(deliveryDate)
	return p, nil
}

func (a *Assembler) Offer(ctx context.Context, addr address.Address) (*common.Offer, error) {
	h := a.gw.Offer(addr)
	o := &common.Offer{Address: addr}

	fields := []Field{
		{"proposal", func(ctx context.Context) (err error) { o.Proposal, err = h.Proposal(ctx); return }},
		{"seller", func(ctx context.Context) (err error) { o.Seller, err = h.Seller(ctx); return }},
		{"price", func(ctx context.Context) (err error) { o.Price, err = h.Price(ctx); return }},
		{"minQuantity", func(ctx context.Context) (err error) { o.MinQuantity, err = h.MinQuantity(ctx); return }},
		{"payoutAccount", func(ctx context.Context) (err error) { o.PayoutAccount, err = h.PayoutAccount(ctx); return }},
	}
	if err := Assemble(ctx, addr, fields); err != nil {
		return nil, err
	}
	return o, nil
}

// Backer reads the backer at a 1-based index. The ledger returns a backer as
// one tuple, so this is a single-field assembly.
func (a *Assembler) Backer(ctx context.Context, addr address.Address, index uint64) (*common.Backing, error) {
	var b *common.Backing
	err := Assemble(ctx, addr, []Field{{"backer", func(ctx context.Context) (err error) {
		b, err = a.gw.Proposal(addr).Backer(ctx, index)
		return
	}}})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Backers reads every backer of a proposal, all or nothing.
func (a *Assembler) Backers(ctx context.Context, addr address.Address) ([]*common.Backing, error) {
	count, err := a.gw.Proposal(addr).BackerCount(ctx)
	if err != nil {
		return nil, partial(addr, "backerCount", err)
	}

	backers := make([]*common.Backing, count)
	fields := make([]Field, 0, count)
	for i := uint64(1); i <= count; i++ {
		i := i
		fields = append(fields, Field{
			Name: "backer",
			Read: func(ctx context.Context) (err error) {
				backers[i-1], err = a.gw.Proposal(addr).Backer(ctx, i)
				return
			},
		})
	}
	if err := Assemble(ctx, addr, fields); err != nil {
		return nil, err
	}
	return backers, nil
}

// Offers reads every offer submitted to a proposal, all or nothing.
func (a *Assembler) Offers(ctx context.Context, addr address.Address) ([]*common.Offer, error) {
	h := a.gw.Proposal(addr)
	count, err := h.OfferCount(ctx)
	if err != nil {
		return nil, partial(addr, "offerCount", err)
	}

	offers := make([]*common.Offer, count)
	grp, gctx := errgroup.WithContext(ctx)
	for i := uint64(1); i <= count; i++ {
		i := i
		grp.Go(func() error {
			oaddr, err := h.OfferAt(gctx, i)
			if err != nil {
				return partial(addr, "offerAt", err)
			}
			offers[i-1], err = a.Offer(gctx, oaddr)
			return err
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return offers, nil
}

// ListProposals assembles every proposal in the registry. One failed
// assembly fails the listing.
func (a *Assembler) ListProposals(ctx context.Context) ([]*common.Proposal, error) {
	start := time.Now()

	reg, err := a.gw.Registry(ctx)
	if err != nil {
		return nil, xerrors.Errorf("registry: %w", err)
	}
	count, err := reg.ProposalCount(ctx)
	if err != nil {
		return nil, partial(reg.Address(), "proposalCount", err)
	}

	proposals := make([]*common.Proposal, count)
	grp, gctx := errgroup.WithContext(ctx)
	for i := uint64(1); i <= count; i++ {
		i := i
		grp.Go(func() error {
			addr, err := reg.ProposalAt(gctx, i)
			if err != nil {
				return partial(reg.Address(), "proposalAt", err)
			}
			proposals[i-1], err = a.Proposal(gctx, addr)
			return err
		})
	}
	if err := grp.Wait(); err != nil {
		log.Warnw("list proposals failed", "count", count, "err", err)
		return nil, err
	}

	log.Debugw("list proposals", "count", count, "duration", time.Since(start).String())
	return proposals, nil
}
