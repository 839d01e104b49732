package settlement

import (
	"github.com/filecoin-project/go-address"

	"github.com/outlierventures/buyco_settlement/common"
)

type Status string

const (
	StatusPaid        Status = "paid"
	StatusAlreadyPaid Status = "already_paid"
	StatusFailed      Status = "failed"
	// StatusPending marks a backer phase waiting for the backer's earlier
	// phase, or a payout waiting for backer payments.
	StatusPending Status = "pending"
)

type BackerResult struct {
	Index  uint64
	Backer address.Address
	Phase  common.Phase
	Status Status
	TxID   string
	Amount int64
	// Reused is set when the ledger write used a journaled transfer.
	Reused bool
	Err    error
}

type PayoutResult struct {
	Phase  common.Phase
	Status Status
	TxID   string
	Amount int64
	Reused bool
	Err    error
}

// Report is the outcome of one settlement run. Failures are per entry; a
// report is returned whenever the proposal could be read.
type Report struct {
	Proposal      address.Address
	Closed        bool
	AcceptedOffer address.Address
	// Skipped explains why no phase was due.
	Skipped string
	Backers []BackerResult
	Payouts []PayoutResult
}

func (r *Report) Failed() []BackerResult {
	var out []BackerResult
	for _, b := range r.Backers {
		if b.Status == StatusFailed {
			out = append(out, b)
		}
	}
	return out
}

func (r *Report) Count(phase common.Phase, status Status) int {
	n := 0
	for _, b := range r.Backers {
		if b.Phase == phase && b.Status == status {
			n++
		}
	}
	return n
}

func (r *Report) Payout(phase common.Phase) (PayoutResult, bool) {
	for _, p := range r.Payouts {
		if p.Phase == phase {
			return p, true
		}
	}
	return PayoutResult{}, false
}

// Complete reports whether every backer and payout entry ended paid.
func (r *Report) Complete() bool {
	for _, b := range r.Backers {
		if b.Status != StatusPaid && b.Status != StatusAlreadyPaid {
			return false
		}
	}
	for _, p := range r.Payouts {
		if p.Status != StatusPaid && p.Status != StatusAlreadyPaid {
			return false
		}
	}
	return true
}
