// Package porter is the service surface: the operations callers trigger and
// the daemon's schedule of them.
package porter

import (
	"context"
	"time"

	"github.com/filecoin-project/go-address"
	logging "github.com/ipfs/go-log/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/atomic"
	"golang.org/x/xerrors"

	"github.com/outlierventures/buyco_settlement/common"
	"github.com/outlierventures/buyco_settlement/settlement"
)

var log = logging.Logger("porter")

// Schedule holds cron specs of the daemon jobs; an empty spec disables a job.
type Schedule struct {
	Reconcile string
	CloseDue  string
	SettleAll string
}

type Porter struct {
	ctx      context.Context
	engine   *settlement.Engine
	closer   *settlement.Closer
	sync     *Synchronizer
	schedule Schedule
	cron     *cron.Cron
}

func NewPorter(ctx context.Context, engine *settlement.Engine, closer *settlement.Closer, sync *Synchronizer, schedule Schedule) *Porter {
	return &Porter{
		ctx:      ctx,
		engine:   engine,
		closer:   closer,
		sync:     sync,
		schedule: schedule,
		cron:     cron.New(),
	}
}

func (p *Porter) ReconcileCache(ctx context.Context) (*ReconcileResult, error) {
	return p.sync.Reconcile(ctx)
}

func (p *Porter) TriggerSettlement(ctx context.Context, addr address.Address) (*settlement.Report, error) {
	return p.engine.Settle(ctx, addr)
}

func (p *Porter) CloseProposal(ctx context.Context, addr address.Address) (*settlement.ClosedProposal, error) {
	return p.closer.Close(ctx, addr)
}

func (p *Porter) ClearCache(ctx context.Context) (int64, error) {
	return p.sync.Clear(ctx)
}

// Start registers the scheduled jobs and starts the scheduler.
func (p *Porter) Start() error {
	jobs := []struct {
		name string
		spec string
		fn   func(ctx context.Context) error
	}{
		{"reconcile", p.schedule.Reconcile, func(ctx context.Context) error {
			_, err := p.sync.Reconcile(ctx)
			return err
		}},
		{"close-due", p.schedule.CloseDue, func(ctx context.Context) error {
			_, err := p.closer.CloseDue(ctx, time.Now())
			return err
		}},
		{"settle-all", p.schedule.SettleAll, func(ctx context.Context) error {
			reports, err := p.engine.SettleAll(ctx)
			for _, r := range reports {
				if failed := r.Failed(); len(failed) > 0 {
					log.Warnw("settlement incomplete", "proposal", r.Proposal, "failed", len(failed))
				}
			}
			return err
		}},
	}

	for _, j := range jobs {
		if j.spec == "" {
			log.Infow("job disabled", "job", j.name)
			continue
		}
		if _, err := p.cron.AddFunc(j.spec, p.job(j.name, j.fn)); err != nil {
			return xerrors.Errorf("schedule %s %q: %w", j.name, j.spec, err)
		}
		log.Infow("job scheduled", "job", j.name, "spec", j.spec)
	}

	p.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (p *Porter) Stop() {
	<-p.cron.Stop().Done()
}

// job wraps fn so that a run still in progress makes the next tick a no-op.
func (p *Porter) job(name string, fn func(ctx context.Context) error) func() {
	inProcess := atomic.NewBool(false)
	return func() {
		if !inProcess.CAS(false, true) {
			log.Debugw("job still running, tick skipped", "job", name)
			return
		}
		defer inProcess.Store(false)

		start := time.Now()
		if err := fn(p.ctx); err != nil {
			log.Errorw("job failed", "job", name, "kind", common.KindName(err), "err", err, "duration", time.Since(start).String())
			return
		}
		log.Debugw("job done", "job", name, "duration", time.Since(start).String())
	}
}
