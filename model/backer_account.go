package model

// BackerAccount maps a ledger account to the payment gateway card it pays
// with.
type BackerAccount struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement:true"`
	LedgerAddress string `gorm:"uniqueIndex;type:varchar(255)"`
	UserID        string `gorm:"index;type:varchar(255)"`
	AccessToken   string `gorm:"type:text"`
	CardID        string `gorm:"type:varchar(255)"`
}

func (BackerAccount) TableName() string {
	return "backer_account"
}
