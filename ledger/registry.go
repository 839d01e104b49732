package ledger

import (
	"context"

	"github.com/filecoin-project/go-address"
	"golang.org/x/xerrors"

	"github.com/outlierventures/buyco_settlement/common"
)

type registryActor struct {
	c    *Client
	addr address.Address
	id   address.Address
}

func (r *registryActor) Address() address.Address { return r.addr }

func (r *registryActor) ProposalCount(ctx context.Context) (uint64, error) {
	return r.c.callUint(ctx, r.id, MethodProposalCount)
}

func (r *registryActor) ProposalAt(ctx context.Context, index uint64) (address.Address, error) {
	if index == 0 {
		return address.Undef, xerrors.New("proposal index is 1-based")
	}
	return r.c.callAddress(ctx, r.id, MethodProposalAt, index)
}

func (r *registryActor) CreateProposal(ctx context.Context, from address.Address, p common.ProposalParams) (address.Address, error) {
	_, d, err := r.c.send(ctx, from, r.id, MethodCreateProposal,
		p.ProductName,
		p.ProductDescription,
		p.ProductSku,
		p.ProductUnitSize,
		p.MainCategory,
		p.SubCategory,
		p.MaxPricePerUnit,
		p.EndDate,
		p.UltimateDeliveryDate,
	)
	if err != nil {
		return address.Undef, err
	}
	addr, err := d.readAddress()
	if err != nil {
		return address.Undef, xerrors.Errorf("decode created proposal address: %w", err)
	}
	return addr, nil
}
