package common

import (
	"fmt"

	"github.com/filecoin-project/go-state-types/big"
)

type Phase uint64

// Phase codes as the proposal actor stores them.
const (
	PhasePledge Phase = 1
	PhaseStart  Phase = 2
	PhaseEnd    Phase = 3
)

func (p Phase) String() string {
	switch p {
	case PhasePledge:
		return "pledge"
	case PhaseStart:
		return "start"
	case PhaseEnd:
		return "end"
	default:
		return fmt.Sprintf("phase(%d)", uint64(p))
	}
}

func (p Phase) Valid() bool {
	return p >= PhasePledge && p <= PhaseEnd
}

// Previous is the phase a backer must have paid before p is charged.
func (p Phase) Previous() (Phase, bool) {
	switch p {
	case PhaseStart:
		return PhasePledge, true
	case PhaseEnd:
		return PhaseStart, true
	}
	return 0, false
}

// PhaseAmount is price*quantity*percentage/100 truncated toward zero, the way
// the ledger computes it.
func PhaseAmount(price int64, quantity uint64, percentage uint64) int64 {
	total := big.Mul(big.NewInt(price), big.NewIntUnsigned(quantity))
	total = big.Mul(total, big.NewIntUnsigned(percentage))
	return big.Div(total, big.NewInt(100)).Int64()
}
