// Package ledger is the boundary to the on-chain proposal registry. Reads are
// read-only actor calls; writes are pushed to the mempool and awaited until
// the message is committed.
package ledger

import (
	"context"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/lotus/api"
	"github.com/filecoin-project/lotus/chain/types"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/outlierventures/buyco_settlement/common"
)

var log = logging.Logger("ledger")

// ChainAPI is the subset of the full node API the client drives.
type ChainAPI interface {
	StateCall(ctx context.Context, msg *types.Message, tsk types.TipSetKey) (*api.InvocResult, error)
	StateLookupID(ctx context.Context, addr address.Address, tsk types.TipSetKey) (address.Address, error)
	MpoolPushMessage(ctx context.Context, msg *types.Message, spec *api.MessageSendSpec) (*types.SignedMessage, error)
	StateWaitMsg(ctx context.Context, msg cid.Cid, confidence uint64, limit abi.ChainEpoch, allowReplaced bool) (*api.MsgLookup, error)
}

var _ ChainAPI = (api.FullNode)(nil)

// Gateway resolves ledger addresses to typed actor handles.
type Gateway interface {
	Registry(ctx context.Context) (Registry, error)
	Proposal(addr address.Address) Proposal
	Offer(addr address.Address) Offer
}

type Registry interface {
	Address() address.Address
	ProposalCount(ctx context.Context) (uint64, error)
	// ProposalAt takes a 1-based index.
	ProposalAt(ctx context.Context, index uint64) (address.Address, error)
	CreateProposal(ctx context.Context, from address.Address, params common.ProposalParams) (address.Address, error)
}

// Proposal lists exactly the proposal actor methods the settlement service uses.
type Proposal interface {
	Address() address.Address

	ProductName(ctx context.Context) (string, error)
	ProductDescription(ctx context.Context) (string, error)
	ProductSku(ctx context.Context) (string, error)
	ProductUnitSize(ctx context.Context) (string, error)
	MainCategory(ctx context.Context) (string, error)
	SubCategory(ctx context.Context) (string, error)
	MaxPricePerUnit(ctx context.Context) (int64, error)
	EndDate(ctx context.Context) (int64, error)
	UltimateDeliveryDate(ctx context.Context) (int64, error)
	Owner(ctx context.Context) (address.Address, error)
	Closed(ctx context.Context) (bool, error)
	AcceptedOffer(ctx context.Context) (address.Address, error)
	OfferCount(ctx context.Context) (uint64, error)
	BackerCount(ctx context.Context) (uint64, error)
	PhasePercentage(ctx context.Context, phase common.Phase) (uint64, error)
	MinDeliveryPercentage(ctx context.Context) (uint64, error)
	PayoutTxID(ctx context.Context, phase common.Phase) (string, error)
	PayoutAmount(ctx context.Context, phase common.Phase) (int64, error)
	DeliveryComplete(ctx context.Context) (bool, error)

	OfferAt(ctx context.Context, index uint64) (address.Address, error)
	Backer(ctx context.Context, index uint64) (*common.Backing, error)
	BackerIndex(ctx context.Context, backer address.Address) (uint64, error)
	PhasePaid(ctx context.Context, index uint64, phase common.Phase) (common.PhasePayment, error)
	PhaseAmount(ctx context.Context, index uint64, phase common.Phase) (int64, error)

	Back(ctx context.Context, from address.Address, quantity uint64) (cid.Cid, error)
	SubmitOffer(ctx context.Context, from address.Address, params common.OfferParams) (address.Address, error)
	Close(ctx context.Context, from address.Address) (cid.Cid, error)
	SetPhasePaid(ctx context.Context, from address.Address, index uint64, phase common.Phase, txID string, amount int64) (cid.Cid, error)
	RegisterStartPayout(ctx context.Context, from address.Address, txID string, amount int64) (cid.Cid, error)
	RegisterEndPayout(ctx context.Context, from address.Address, txID string, amount int64) (cid.Cid, error)
	ReportDelivery(ctx context.Context, from address.Address, index uint64, correct bool) (cid.Cid, error)
}

type Offer interface {
	Address() address.Address

	Proposal(ctx context.Context) (address.Address, error)
	Seller(ctx context.Context) (address.Address, error)
	Price(ctx context.Context) (int64, error)
	MinQuantity(ctx context.Context) (uint64, error)
	PayoutAccount(ctx context.Context) (string, error)
}
