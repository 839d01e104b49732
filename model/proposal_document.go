package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProposalDocument is the cached projection of a ledger proposal. The ledger
// stays authoritative; rows are only written by reconciliation.
type ProposalDocument struct {
	ID                   uint64          `gorm:"primaryKey;autoIncrement:true"`
	Address              string          `gorm:"uniqueIndex;type:varchar(255)"`
	ProductName          string          `gorm:"type:varchar(255)"`
	ProductDescription   string          `gorm:"type:text"`
	ProductSku           string          `gorm:"index;type:varchar(255)"`
	ProductUnitSize      string          `gorm:"type:varchar(255)"`
	MainCategory         string          `gorm:"index:idx_category;type:varchar(255)"`
	SubCategory          string          `gorm:"index:idx_category;type:varchar(255)"`
	MaxPricePerUnit      decimal.Decimal `gorm:"type:DECIMAL(38,0)"`
	EndDate              time.Time
	UltimateDeliveryDate time.Time
	Closed               bool   `gorm:"type:bool;default:false;column:is_closed"`
	AcceptedOffer        string `gorm:"type:varchar(255)"`
	BackerCount          uint64
	OfferCount           uint64
	LastSyncedAt         time.Time
}

func (ProposalDocument) TableName() string {
	return "proposal_document"
}
