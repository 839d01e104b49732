package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/filecoin-project/go-address"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/outlierventures/buyco_settlement/assembler"
	"github.com/outlierventures/buyco_settlement/common"
	"github.com/outlierventures/buyco_settlement/metrics"
)

// ClosedProposal is the ledger's decision after closing. Offer is nil when no
// offer was accepted.
type ClosedProposal struct {
	Proposal      address.Address
	AcceptedOffer address.Address
	Offer         *common.Offer
	// AlreadyClosed is set when the proposal was closed before this call.
	AlreadyClosed bool
}

func (c *ClosedProposal) HasAcceptedOffer() bool {
	return c.AcceptedOffer != address.Undef
}

// Closer submits close transactions. The accepted offer is whatever the
// ledger chose; it is never computed here.
type Closer struct {
	asm      *assembler.Assembler
	operator address.Address
}

func NewCloser(asm *assembler.Assembler, operator address.Address) *Closer {
	return &Closer{asm: asm, operator: operator}
}

func (c *Closer) Close(ctx context.Context, addr address.Address) (res *ClosedProposal, err error) {
	defer func() {
		status := "closed"
		switch {
		case err != nil:
			status = "rejected"
		case res.AlreadyClosed:
			status = "already_closed"
		}
		metrics.RecordTagged(ctx, []tag.Mutator{tag.Upsert(metrics.Status, status)}, metrics.ProposalsClosed.M(1))
	}()

	h := c.asm.Gateway().Proposal(addr)

	closed, err := h.Closed(ctx)
	if err != nil {
		return nil, common.AtStage(common.StageRead, &common.PartialReadError{Address: addr, Field: "closed", Err: err})
	}

	already := closed
	if closed {
		log.Warnw("close requested for closed proposal", "proposal", addr, "err", xerrors.Errorf("proposal %s: %w", addr, common.ErrInconsistentState))
	} else {
		id, err := h.Close(ctx, c.operator)
		if err != nil {
			return nil, common.AtStage(common.StageClose, err)
		}
		log.Infow("proposal closed", "proposal", addr, "message", id)
	}

	accepted, err := h.AcceptedOffer(ctx)
	if err != nil {
		return nil, common.AtStage(common.StageRead, &common.PartialReadError{Address: addr, Field: "acceptedOffer", Err: err})
	}

	res = &ClosedProposal{Proposal: addr, AcceptedOffer: accepted, AlreadyClosed: already}
	if accepted == address.Undef {
		log.Infow("no offer accepted", "proposal", addr)
		return res, nil
	}

	if res.Offer, err = c.asm.Offer(ctx, accepted); err != nil {
		return nil, common.AtStage(common.StageRead, err)
	}
	return res, nil
}

type CloseResult struct {
	Proposal address.Address
	Closed   *ClosedProposal
	Err      error
}

// CloseDue closes every open proposal whose end date is not after now and
// that received at least one offer. Closes run concurrently and fail
// independently.
func (c *Closer) CloseDue(ctx context.Context, now time.Time) ([]CloseResult, error) {
	proposals, err := c.asm.ListProposals(ctx)
	if err != nil {
		return nil, common.AtStage(common.StageRead, err)
	}

	var due []*common.Proposal
	for _, p := range proposals {
		if p.Closed || p.EndDate.After(now) {
			continue
		}
		if p.OfferCount == 0 {
			log.Debugw("proposal ended without offers", "proposal", p.Address, "end", p.EndDate)
			continue
		}
		due = append(due, p)
	}

	results := make([]CloseResult, len(due))
	var wg sync.WaitGroup
	for i, p := range due {
		wg.Add(1)
		go func(i int, addr address.Address) {
			defer wg.Done()
			closed, err := c.Close(ctx, addr)
			if err != nil {
				log.Warnw("close due proposal failed", "proposal", addr, "kind", common.KindName(err), "err", err)
			}
			results[i] = CloseResult{Proposal: addr, Closed: closed, Err: err}
		}(i, p.Address)
	}
	wg.Wait()

	log.Infow("close due", "listed", len(proposals), "due", len(due))
	return results, nil
}
