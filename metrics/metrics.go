// Package metrics declares the opencensus measures and views of the
// settlement service.
package metrics

import (
	"context"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	Endpoint, _ = tag.NewKey("endpoint")
	Phase, _    = tag.NewKey("phase")
	Status, _   = tag.NewKey("status")
)

var (
	NodeRequestDuration = stats.Float64("buyco/node/request_ms", "Duration of ledger node requests", stats.UnitMilliseconds)
	BackerPayments      = stats.Int64("buyco/settlement/backer_payments", "Backer phase payments by outcome", stats.UnitDimensionless)
	VaultInflow         = stats.Int64("buyco/settlement/vault_inflow", "Minor units transferred into the vault", stats.UnitDimensionless)
	Payouts             = stats.Int64("buyco/settlement/payouts", "Seller payouts by outcome", stats.UnitDimensionless)
	ProposalsClosed     = stats.Int64("buyco/settlement/proposals_closed", "Proposals closed by outcome", stats.UnitDimensionless)
	ReconcileDuration   = stats.Float64("buyco/porter/reconcile_ms", "Duration of cache reconciliation", stats.UnitMilliseconds)
	ReconciledDocuments = stats.Int64("buyco/porter/reconciled_documents", "Documents created or updated by reconciliation", stats.UnitDimensionless)
)

var (
	NodeRequestDurationView = &view.View{
		Measure:     NodeRequestDuration,
		Aggregation: view.Distribution(1, 5, 10, 50, 100, 500, 1000, 5000, 30000, 120000),
		TagKeys:     []tag.Key{Endpoint},
	}
	BackerPaymentsView = &view.View{
		Measure:     BackerPayments,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Phase, Status},
	}
	VaultInflowView = &view.View{
		Measure:     VaultInflow,
		Aggregation: view.Sum(),
		TagKeys:     []tag.Key{Phase},
	}
	PayoutsView = &view.View{
		Measure:     Payouts,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Phase, Status},
	}
	ProposalsClosedView = &view.View{
		Measure:     ProposalsClosed,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Status},
	}
	ReconcileDurationView = &view.View{
		Measure:     ReconcileDuration,
		Aggregation: view.Distribution(10, 100, 1000, 10000, 60000, 300000),
	}
	ReconciledDocumentsView = &view.View{
		Measure:     ReconciledDocuments,
		Aggregation: view.Sum(),
		TagKeys:     []tag.Key{Status},
	}
)

var DefaultViews = []*view.View{
	NodeRequestDurationView,
	BackerPaymentsView,
	VaultInflowView,
	PayoutsView,
	ProposalsClosedView,
	ReconcileDurationView,
	ReconciledDocumentsView,
}

// RecordTagged records ms under the given tag values. Tagging errors are
// dropped.
func RecordTagged(ctx context.Context, mutators []tag.Mutator, ms ...stats.Measurement) {
	ctx, err := tag.New(ctx, mutators...)
	if err != nil {
		return
	}
	stats.Record(ctx, ms...)
}
