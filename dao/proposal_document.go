package dao

import (
	"context"

	"golang.org/x/xerrors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/outlierventures/buyco_settlement/model"
)

type ProposalDocuments struct {
	db *gorm.DB
}

func NewProposalDocuments(db *gorm.DB) *ProposalDocuments {
	return &ProposalDocuments{db: db}
}

// FindByAddress returns ErrNotFound when no document is cached for addr.
func (s *ProposalDocuments) FindByAddress(ctx context.Context, addr string) (*model.ProposalDocument, error) {
	var doc model.ProposalDocument
	err := s.db.WithContext(ctx).Where("address = ?", addr).Take(&doc).Error
	if xerrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

var projectedColumns = []string{
	"product_name", "product_description", "product_sku", "product_unit_size",
	"main_category", "sub_category", "max_price_per_unit", "end_date",
	"ultimate_delivery_date", "is_closed", "accepted_offer", "backer_count",
	"offer_count", "last_synced_at",
}

// Upsert inserts doc or, when its address is already cached, overwrites every
// projected column of the existing row. The existing row id is kept.
func (s *ProposalDocuments) Upsert(ctx context.Context, doc *model.ProposalDocument) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns(projectedColumns),
	}).Create(doc).Error
}

func (s *ProposalDocuments) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.ProposalDocument{}).Count(&count).Error
	return count, err
}

// DeleteAll purges the cache and returns the number of removed documents.
func (s *ProposalDocuments) DeleteAll(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.ProposalDocument{})
	return res.RowsAffected, res.Error
}
