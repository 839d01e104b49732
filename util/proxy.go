package util

import (
	"context"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/lotus/api"
	"github.com/filecoin-project/lotus/chain/types"
	lmetrics "github.com/filecoin-project/lotus/metrics"
	"github.com/ipfs/go-cid"
	"go.opencensus.io/tag"

	"github.com/outlierventures/buyco_settlement/ledger"
	"github.com/outlierventures/buyco_settlement/metrics"
)

// MeteredChain times every node request under its method name.
type MeteredChain struct {
	next ledger.ChainAPI
}

var _ ledger.ChainAPI = (*MeteredChain)(nil)

func NewMeteredChain(next ledger.ChainAPI) *MeteredChain {
	return &MeteredChain{next: next}
}

func timed(ctx context.Context, endpoint string) (context.Context, func()) {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Endpoint, endpoint))
	return ctx, lmetrics.Timer(ctx, metrics.NodeRequestDuration)
}

func (m *MeteredChain) StateCall(ctx context.Context, msg *types.Message, tsk types.TipSetKey) (*api.InvocResult, error) {
	ctx, stop := timed(ctx, "StateCall")
	defer stop()
	return m.next.StateCall(ctx, msg, tsk)
}

func (m *MeteredChain) StateLookupID(ctx context.Context, addr address.Address, tsk types.TipSetKey) (address.Address, error) {
	ctx, stop := timed(ctx, "StateLookupID")
	defer stop()
	return m.next.StateLookupID(ctx, addr, tsk)
}

func (m *MeteredChain) MpoolPushMessage(ctx context.Context, msg *types.Message, spec *api.MessageSendSpec) (*types.SignedMessage, error) {
	ctx, stop := timed(ctx, "MpoolPushMessage")
	defer stop()
	return m.next.MpoolPushMessage(ctx, msg, spec)
}

func (m *MeteredChain) StateWaitMsg(ctx context.Context, msg cid.Cid, confidence uint64, limit abi.ChainEpoch, allowReplaced bool) (*api.MsgLookup, error) {
	ctx, stop := timed(ctx, "StateWaitMsg")
	defer stop()
	return m.next.StateWaitMsg(ctx, msg, confidence, limit, allowReplaced)
}
