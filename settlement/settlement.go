// Package settlement drives a proposal through closing and its phased
// payments. The ledger is read before every decision and is the only record
// of what has been paid; a run repeated without external change moves no
// money and writes nothing.
package settlement

import (
	"context"

	"github.com/filecoin-project/go-address"
	logging "github.com/ipfs/go-log/v2"

	"github.com/outlierventures/buyco_settlement/common"
	"github.com/outlierventures/buyco_settlement/dao"
)

var log = logging.Logger("settlement")

// Accounts resolves a ledger account to the card it pays with.
type Accounts interface {
	Lookup(ctx context.Context, addr address.Address) (*common.PaymentAccount, error)
}

// Journal remembers gateway transfers whose ledger write may not have
// committed.
type Journal interface {
	Find(ctx context.Context, slot dao.JournalSlot) (*dao.JournalEntry, error)
	Record(ctx context.Context, e *dao.JournalEntry) error
	MarkRecorded(ctx context.Context, slot dao.JournalSlot) error
	Unrecorded(ctx context.Context) ([]*dao.JournalEntry, error)
}

var (
	_ Accounts = (*dao.AccountDirectory)(nil)
	_ Journal  = (*dao.PaymentJournal)(nil)
)

type Config struct {
	// Operator signs the service's ledger transactions.
	Operator address.Address
	// VaultCard holds escrowed funds between backer payments and payouts.
	VaultCard  string
	VaultToken string
	Currency   string
}
