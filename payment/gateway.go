// Package payment talks to the external card payment API that holds backer
// funds, the escrow vault and seller payout cards.
package payment

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	"github.com/shopspring/decimal"
)

var log = logging.Logger("payment")

// Gateway is stateless per call; every call carries the access token of the
// card owner.
type Gateway interface {
	AccountsWithBalance(ctx context.Context, token string) ([]Account, error)
	// Transfer creates a transaction from one card to a destination and
	// commits it.
	Transfer(ctx context.Context, token string, req TransferRequest) (*Transaction, error)
}

type Account struct {
	ID        string
	Label     string
	Currency  string
	Balance   decimal.Decimal
	Available decimal.Decimal
}

// TransferRequest amounts are in minor units of Currency.
type TransferRequest struct {
	From     string
	To       string
	Amount   int64
	Currency string
	Message  string
}

type Transaction struct {
	ID       string
	Status   string
	Amount   decimal.Decimal
	Currency string
}

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// MinorUnitExponent is the number of decimals of a transfer amount.
const MinorUnitExponent = 2

// FormatAmount renders minor units as a decimal string, 10050 -> "100.50".
func FormatAmount(amount int64) string {
	return decimal.New(amount, -MinorUnitExponent).StringFixed(MinorUnitExponent)
}
