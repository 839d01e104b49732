package dao

import (
	"context"

	"github.com/filecoin-project/go-address"
	"golang.org/x/xerrors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/outlierventures/buyco_settlement/common"
	"github.com/outlierventures/buyco_settlement/model"
)

type AccountDirectory struct {
	db *gorm.DB
}

func NewAccountDirectory(db *gorm.DB) *AccountDirectory {
	return &AccountDirectory{db: db}
}

// Lookup returns ErrNotFound when addr never registered a card.
func (d *AccountDirectory) Lookup(ctx context.Context, addr address.Address) (*common.PaymentAccount, error) {
	var row model.BackerAccount
	err := d.db.WithContext(ctx).Where("ledger_address = ?", addr.String()).Take(&row).Error
	if xerrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, xerrors.Errorf("payment account of %s: %w", addr, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &common.PaymentAccount{
		LedgerAddress: addr,
		UserID:        row.UserID,
		AccessToken:   row.AccessToken,
		CardID:        row.CardID,
	}, nil
}

// Register creates or replaces the card mapping of an account.
func (d *AccountDirectory) Register(ctx context.Context, acc *common.PaymentAccount) error {
	if acc.LedgerAddress == address.Undef {
		return xerrors.New("register payment account without ledger address")
	}
	row := model.BackerAccount{
		LedgerAddress: acc.LedgerAddress.String(),
		UserID:        acc.UserID,
		AccessToken:   acc.AccessToken,
		CardID:        acc.CardID,
	}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ledger_address"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "access_token", "card_id"}),
	}).Create(&row).Error
	if err != nil {
		return err
	}
	log.Infow("payment account registered", "address", acc.LedgerAddress, "user", acc.UserID, "card", acc.CardID)
	return nil
}
