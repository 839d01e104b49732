package ledger

import (
	"context"

	"github.com/filecoin-project/go-address"
)

type offerActor struct {
	c    *Client
	addr address.Address
}

func (o *offerActor) Address() address.Address { return o.addr }

func (o *offerActor) Proposal(ctx context.Context) (address.Address, error) {
	return o.c.callAddress(ctx, o.addr, MethodOfferProposal)
}

func (o *offerActor) Seller(ctx context.Context) (address.Address, error) {
	return o.c.callAddress(ctx, o.addr, MethodOfferSeller)
}

func (o *offerActor) Price(ctx context.Context) (int64, error) {
	return o.c.callInt(ctx, o.addr, MethodOfferPrice)
}

func (o *offerActor) MinQuantity(ctx context.Context) (uint64, error) {
	return o.c.callUint(ctx, o.addr, MethodOfferMinQuantity)
}

func (o *offerActor) PayoutAccount(ctx context.Context) (string, error) {
	return o.c.callString(ctx, o.addr, MethodOfferPayoutAccount)
}
