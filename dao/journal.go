package dao

import (
	"context"
	"time"

	"github.com/filecoin-project/go-address"
	"github.com/shopspring/decimal"
	"golang.org/x/xerrors"
	"gorm.io/gorm"

	"github.com/outlierventures/buyco_settlement/common"
	"github.com/outlierventures/buyco_settlement/model"
)

// JournalSlot identifies one payment: a backer phase payment, or a seller
// payout when Index is model.PayoutIndex.
type JournalSlot struct {
	Proposal address.Address
	Index    uint64
	Phase    common.Phase
}

type JournalEntry struct {
	JournalSlot
	TxID        string
	Amount      int64
	Currency    string
	Source      string
	Destination string
	Recorded    bool
}

type PaymentJournal struct {
	db *gorm.DB
}

func NewPaymentJournal(db *gorm.DB) *PaymentJournal {
	return &PaymentJournal{db: db}
}

func (j *PaymentJournal) slotQuery(ctx context.Context, slot JournalSlot) *gorm.DB {
	return j.db.WithContext(ctx).
		Where("proposal = ? AND backer_index = ? AND phase = ?", slot.Proposal.String(), slot.Index, uint64(slot.Phase))
}

// Find returns ErrNotFound when no transfer was journaled for slot.
func (j *PaymentJournal) Find(ctx context.Context, slot JournalSlot) (*JournalEntry, error) {
	var row model.PaymentJournalEntry
	err := j.slotQuery(ctx, slot).Take(&row).Error
	if xerrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &JournalEntry{
		JournalSlot: slot,
		TxID:        row.TxID,
		Amount:      row.Amount.IntPart(),
		Currency:    row.Currency,
		Source:      row.Source,
		Destination: row.Destination,
		Recorded:    row.Recorded,
	}, nil
}

// Record journals a completed transfer. A slot holds one transfer.
func (j *PaymentJournal) Record(ctx context.Context, e *JournalEntry) error {
	row := model.PaymentJournalEntry{
		Proposal:    e.Proposal.String(),
		BackerIndex: e.Index,
		Phase:       uint64(e.Phase),
		TxID:        e.TxID,
		Amount:      decimal.NewFromInt(e.Amount),
		Currency:    e.Currency,
		Source:      e.Source,
		Destination: e.Destination,
		CreatedAt:   time.Now(),
	}
	if err := j.db.WithContext(ctx).Create(&row).Error; err != nil {
		return xerrors.Errorf("journal %s/%d/%s tx %s: %w", e.Proposal, e.Index, e.Phase, e.TxID, err)
	}
	return nil
}

// MarkRecorded notes that the ledger committed the slot's transfer.
func (j *PaymentJournal) MarkRecorded(ctx context.Context, slot JournalSlot) error {
	now := time.Now()
	return j.slotQuery(ctx, slot).Model(&model.PaymentJournalEntry{}).
		Updates(map[string]interface{}{"is_recorded": true, "recorded_at": &now}).Error
}

// Unrecorded lists transfers whose ledger write never committed.
func (j *PaymentJournal) Unrecorded(ctx context.Context) ([]*JournalEntry, error) {
	var rows []*model.PaymentJournalEntry
	if err := j.db.WithContext(ctx).Where("is_recorded = ?", false).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*JournalEntry, 0, len(rows))
	for _, row := range rows {
		prop, err := address.NewFromString(row.Proposal)
		if err != nil {
			return nil, xerrors.Errorf("journal row %d: %w", row.ID, err)
		}
		out = append(out, &JournalEntry{
			JournalSlot: JournalSlot{Proposal: prop, Index: row.BackerIndex, Phase: common.Phase(row.Phase)},
			TxID:        row.TxID,
			Amount:      row.Amount.IntPart(),
			Currency:    row.Currency,
			Source:      row.Source,
			Destination: row.Destination,
			Recorded:    row.Recorded,
		})
	}
	return out, nil
}
