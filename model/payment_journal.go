package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutIndex is the backer index of a seller payout slot.
const PayoutIndex = 0

// PaymentJournalEntry records a gateway transfer before its ledger write.
// One row per (proposal, backer index, phase) slot.
type PaymentJournalEntry struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement:true"`
	Proposal    string          `gorm:"uniqueIndex:idx_journal_slot;type:varchar(255)"`
	BackerIndex uint64          `gorm:"uniqueIndex:idx_journal_slot"`
	Phase       uint64          `gorm:"uniqueIndex:idx_journal_slot"`
	TxID        string          `gorm:"index;type:varchar(255);column:tx_id"`
	Amount      decimal.Decimal `gorm:"type:DECIMAL(38,0)"`
	Currency    string          `gorm:"type:varchar(16)"`
	Source      string          `gorm:"type:varchar(255)"`
	Destination string          `gorm:"type:varchar(255)"`
	Recorded    bool            `gorm:"type:bool;default:false;column:is_recorded"`
	CreatedAt   time.Time
	RecordedAt  *time.Time
}

func (PaymentJournalEntry) TableName() string {
	return "payment_journal"
}
