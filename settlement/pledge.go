package settlement

import (
	"context"

	"github.com/filecoin-project/go-address"
	"golang.org/x/xerrors"

	"github.com/outlierventures/buyco_settlement/common"
)

// Pledge records a backing on the ledger and collects its pledge payment
// through the same once-per-backer path as the later phases. Calling it again
// for a backer whose pledge is paid only updates the quantity.
func (e *Engine) Pledge(ctx context.Context, addr, backer address.Address, quantity uint64) (BackerResult, error) {
	h := e.gw.Proposal(addr)

	if _, err := h.Back(ctx, backer, quantity); err != nil {
		return BackerResult{}, common.AtStage(common.StageSubmit, err)
	}

	index, err := h.BackerIndex(ctx, backer)
	if err != nil {
		return BackerResult{}, common.AtStage(common.StageRead, &common.PartialReadError{Address: addr, Field: "backerIndex", Err: err})
	}
	if index == 0 {
		return BackerResult{}, common.AtStage(common.StageRead, xerrors.Errorf("backing of %s on %s committed but not indexed: %w", backer, addr, common.ErrInconsistentState))
	}

	res := e.payBacker(ctx, addr, index, common.PhasePledge)
	return res, nil
}
