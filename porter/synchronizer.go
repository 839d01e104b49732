package porter

import (
	"context"
	"time"

	"github.com/filecoin-project/go-address"
	"github.com/shopspring/decimal"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/outlierventures/buyco_settlement/assembler"
	"github.com/outlierventures/buyco_settlement/common"
	"github.com/outlierventures/buyco_settlement/dao"
	"github.com/outlierventures/buyco_settlement/metrics"
	"github.com/outlierventures/buyco_settlement/model"
)

type ReconcileResult struct {
	Created int64
	Updated int64
}

// Synchronizer projects the ledger's proposals into the local document store.
// It only ever inserts or overwrites; documents disappear only through Clear.
type Synchronizer struct {
	asm     *assembler.Assembler
	docs    *dao.ProposalDocuments
	digests *dao.DigestCache
}

// NewSynchronizer builds a synchronizer; digests may be nil.
func NewSynchronizer(asm *assembler.Assembler, docs *dao.ProposalDocuments, digests *dao.DigestCache) *Synchronizer {
	return &Synchronizer{asm: asm, docs: docs, digests: digests}
}

// Reconcile reads the full ledger listing and upserts one document per
// proposal. Nothing is written unless the whole listing was read.
func (s *Synchronizer) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	start := time.Now()

	proposals, err := s.asm.ListProposals(ctx)
	if err != nil {
		return nil, common.AtStage(common.StageReconcile, err)
	}

	created := atomic.NewInt64(0)
	updated := atomic.NewInt64(0)
	docs := make([]*model.ProposalDocument, len(proposals))

	grp, gctx := errgroup.WithContext(ctx)
	for i, p := range proposals {
		i, p := i, p
		grp.Go(func() error {
			doc, isNew, err := s.upsert(gctx, p, start)
			if err != nil {
				return xerrors.Errorf("upsert %s: %w", p.Address, err)
			}
			if isNew {
				created.Inc()
			} else {
				updated.Inc()
			}
			docs[i] = doc
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, common.AtStage(common.StageReconcile, err)
	}

	res := &ReconcileResult{Created: created.Load(), Updated: updated.Load()}
	s.publish(ctx, docs, res)

	stats.Record(ctx, metrics.ReconcileDuration.M(float64(time.Since(start).Milliseconds())))
	metrics.RecordTagged(ctx, []tag.Mutator{tag.Upsert(metrics.Status, "created")}, metrics.ReconciledDocuments.M(res.Created))
	metrics.RecordTagged(ctx, []tag.Mutator{tag.Upsert(metrics.Status, "updated")}, metrics.ReconciledDocuments.M(res.Updated))

	log.Infow("reconcile", "proposals", len(proposals), "created", res.Created, "updated", res.Updated, "duration", time.Since(start).String())
	return res, nil
}

func (s *Synchronizer) upsert(ctx context.Context, p *common.Proposal, syncedAt time.Time) (*model.ProposalDocument, bool, error) {
	existing, err := s.docs.FindByAddress(ctx, p.Address.String())
	if err != nil && !xerrors.Is(err, dao.ErrNotFound) {
		return nil, false, err
	}

	doc := &model.ProposalDocument{}
	project(doc, p, syncedAt)
	if err := s.docs.Upsert(ctx, doc); err != nil {
		return nil, false, err
	}
	if existing != nil {
		doc.ID = existing.ID
	}
	return doc, existing == nil, nil
}

// project overwrites every projected field; the document id is kept.
func project(doc *model.ProposalDocument, p *common.Proposal, syncedAt time.Time) {
	doc.Address = p.Address.String()
	doc.ProductName = p.ProductName
	doc.ProductDescription = p.ProductDescription
	doc.ProductSku = p.ProductSku
	doc.ProductUnitSize = p.ProductUnitSize
	doc.MainCategory = p.MainCategory
	doc.SubCategory = p.SubCategory
	doc.MaxPricePerUnit = decimal.NewFromInt(p.MaxPricePerUnit)
	doc.EndDate = p.EndDate
	doc.UltimateDeliveryDate = p.UltimateDeliveryDate
	doc.Closed = p.Closed
	doc.AcceptedOffer = ""
	if p.AcceptedOffer != address.Undef {
		doc.AcceptedOffer = p.AcceptedOffer.String()
	}
	doc.BackerCount = p.BackerCount
	doc.OfferCount = p.OfferCount
	doc.LastSyncedAt = syncedAt
}

// publish refreshes the redis digests. The documents are already stored, so
// a failure here is only logged.
func (s *Synchronizer) publish(ctx context.Context, docs []*model.ProposalDocument, res *ReconcileResult) {
	if s.digests == nil {
		return
	}
	digests := make([]*dao.ProposalDigest, 0, len(docs))
	for _, d := range docs {
		digests = append(digests, dao.NewProposalDigest(d))
	}
	notice := dao.ReconcileNotice{Created: res.Created, Updated: res.Updated, Total: len(docs), At: time.Now().Unix()}
	if err := s.digests.Publish(ctx, digests, notice); err != nil {
		log.Warnw("publish proposal digests failed", "err", err)
	}
}

// Clear purges every cached document and digest.
func (s *Synchronizer) Clear(ctx context.Context) (int64, error) {
	removed, err := s.docs.DeleteAll(ctx)
	if err != nil {
		return 0, common.AtStage(common.StageClear, err)
	}
	if s.digests != nil {
		if _, err := s.digests.Clear(ctx); err != nil {
			return removed, common.AtStage(common.StageClear, err)
		}
	}
	log.Infow("cache cleared", "documents", removed)
	return removed, nil
}
