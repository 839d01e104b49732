package ledger

import (
	"context"

	"github.com/filecoin-project/go-address"
	"github.com/ipfs/go-cid"
	"golang.org/x/xerrors"

	"github.com/outlierventures/buyco_settlement/common"
)

type proposalActor struct {
	c    *Client
	addr address.Address
}

func (p *proposalActor) Address() address.Address { return p.addr }

func (p *proposalActor) ProductName(ctx context.Context) (string, error) {
	return p.c.callString(ctx, p.addr, MethodProductName)
}

func (p *proposalActor) ProductDescription(ctx context.Context) (string, error) {
	return p.c.callString(ctx, p.addr, MethodProductDescription)
}

func (p *proposalActor) ProductSku(ctx context.Context) (string, error) {
	return p.c.callString(ctx, p.addr, MethodProductSku)
}

func (p *proposalActor) ProductUnitSize(ctx context.Context) (string, error) {
	return p.c.callString(ctx, p.addr, MethodProductUnitSize)
}

func (p *proposalActor) MainCategory(ctx context.Context) (string, error) {
	return p.c.callString(ctx, p.addr, MethodMainCategory)
}

func (p *proposalActor) SubCategory(ctx context.Context) (string, error) {
	return p.c.callString(ctx, p.addr, MethodSubCategory)
}

func (p *proposalActor) MaxPricePerUnit(ctx context.Context) (int64, error) {
	return p.c.callInt(ctx, p.addr, MethodMaxPricePerUnit)
}

// EndDate is in unix seconds.
func (p *proposalActor) EndDate(ctx context.Context) (int64, error) {
	return p.c.callInt(ctx, p.addr, MethodEndDate)
}

func (p *proposalActor) UltimateDeliveryDate(ctx context.Context) (int64, error) {
	return p.c.callInt(ctx, p.addr, MethodUltimateDeliveryDate)
}

func (p *proposalActor) Owner(ctx context.Context) (address.Address, error) {
	return p.c.callAddress(ctx, p.addr, MethodOwner)
}

func (p *proposalActor) Closed(ctx context.Context) (bool, error) {
	return p.c.callBool(ctx, p.addr, MethodClosed)
}

// AcceptedOffer is address.Undef until the proposal closes with a winner.
func (p *proposalActor) AcceptedOffer(ctx context.Context) (address.Address, error) {
	return p.c.callAddress(ctx, p.addr, MethodAcceptedOffer)
}

func (p *proposalActor) OfferCount(ctx context.Context) (uint64, error) {
	return p.c.callUint(ctx, p.addr, MethodOfferCount)
}

func (p *proposalActor) BackerCount(ctx context.Context) (uint64, error) {
	return p.c.callUint(ctx, p.addr, MethodBackerCount)
}

func (p *proposalActor) PhasePercentage(ctx context.Context, phase common.Phase) (uint64, error) {
	return p.c.callUint(ctx, p.addr, MethodPhasePercentage, phase)
}

func (p *proposalActor) MinDeliveryPercentage(ctx context.Context) (uint64, error) {
	return p.c.callUint(ctx, p.addr, MethodMinDeliveryPercentage)
}

func (p *proposalActor) PayoutTxID(ctx context.Context, phase common.Phase) (string, error) {
	return p.c.callString(ctx, p.addr, MethodPayoutTxID, phase)
}

func (p *proposalActor) PayoutAmount(ctx context.Context, phase common.Phase) (int64, error) {
	return p.c.callInt(ctx, p.addr, MethodPayoutAmount, phase)
}

func (p *proposalActor) DeliveryComplete(ctx context.Context) (bool, error) {
	return p.c.callBool(ctx, p.addr, MethodDeliveryComplete)
}

func (p *proposalActor) OfferAt(ctx context.Context, index uint64) (address.Address, error) {
	if index == 0 {
		return address.Undef, xerrors.New("offer index is 1-based")
	}
	return p.c.callAddress(ctx, p.addr, MethodOfferAt, index)
}

func (p *proposalActor) Backer(ctx context.Context, index uint64) (*common.Backing, error) {
	if index == 0 {
		return nil, xerrors.New("backer index is 1-based")
	}
	d, err := p.c.call(ctx, p.addr, MethodBacker, index)
	if err != nil {
		return nil, err
	}
	b, err := d.readBacking(index)
	if err != nil {
		return nil, xerrors.Errorf("decode backer %d of %s: %w", index, p.addr, err)
	}
	return b, nil
}

// BackerIndex returns 0 when addr never backed the proposal.
func (p *proposalActor) BackerIndex(ctx context.Context, backer address.Address) (uint64, error) {
	return p.c.callUint(ctx, p.addr, MethodBackerIndex, backer)
}

func (p *proposalActor) PhasePaid(ctx context.Context, index uint64, phase common.Phase) (common.PhasePayment, error) {
	d, err := p.c.call(ctx, p.addr, MethodPhasePaid, index, phase)
	if err != nil {
		return common.PhasePayment{}, err
	}
	if _, err := d.readArray(); err != nil {
		return common.PhasePayment{}, xerrors.Errorf("decode %s payment of backer %d: %w", phase, index, err)
	}
	pp, err := d.readPhasePayment()
	if err != nil {
		return common.PhasePayment{}, xerrors.Errorf("decode %s payment of backer %d: %w", phase, index, err)
	}
	return pp, nil
}

func (p *proposalActor) PhaseAmount(ctx context.Context, index uint64, phase common.Phase) (int64, error) {
	return p.c.callInt(ctx, p.addr, MethodPhaseAmount, index, phase)
}

func (p *proposalActor) Back(ctx context.Context, from address.Address, quantity uint64) (cid.Cid, error) {
	id, _, err := p.c.send(ctx, from, p.addr, MethodBack, quantity)
	return id, err
}

func (p *proposalActor) SubmitOffer(ctx context.Context, from address.Address, params common.OfferParams) (address.Address, error) {
	_, d, err := p.c.send(ctx, from, p.addr, MethodSubmitOffer, params.Price, params.MinQuantity, params.PayoutAccount)
	if err != nil {
		return address.Undef, err
	}
	addr, err := d.readAddress()
	if err != nil {
		return address.Undef, xerrors.Errorf("decode offer address: %w", err)
	}
	return addr, nil
}

func (p *proposalActor) Close(ctx context.Context, from address.Address) (cid.Cid, error) {
	id, _, err := p.c.send(ctx, from, p.addr, MethodClose)
	return id, err
}

func (p *proposalActor) SetPhasePaid(ctx context.Context, from address.Address, index uint64, phase common.Phase, txID string, amount int64) (cid.Cid, error) {
	id, _, err := p.c.send(ctx, from, p.addr, MethodSetPhasePaid, index, phase, txID, amount)
	return id, err
}

func (p *proposalActor) RegisterStartPayout(ctx context.Context, from address.Address, txID string, amount int64) (cid.Cid, error) {
	id, _, err := p.c.send(ctx, from, p.addr, MethodRegisterStartPayout, txID, amount)
	return id, err
}

func (p *proposalActor) RegisterEndPayout(ctx context.Context, from address.Address, txID string, amount int64) (cid.Cid, error) {
	id, _, err := p.c.send(ctx, from, p.addr, MethodRegisterEndPayout, txID, amount)
	return id, err
}

func (p *proposalActor) ReportDelivery(ctx context.Context, from address.Address, index uint64, correct bool) (cid.Cid, error) {
	id, _, err := p.c.send(ctx, from, p.addr, MethodReportDelivery, index, correct)
	return id, err
}
