package porter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/filecoin-project/go-address"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/outlierventures/buyco_settlement/assembler"
	"github.com/outlierventures/buyco_settlement/common"
	"github.com/outlierventures/buyco_settlement/dao"
	"github.com/outlierventures/buyco_settlement/ledger/ledgertest"
	"github.com/outlierventures/buyco_settlement/model"
	"github.com/outlierventures/buyco_settlement/payment/paymenttest"
	"github.com/outlierventures/buyco_settlement/settlement"
)

type env struct {
	ctx     context.Context
	l       *ledgertest.Ledger
	docs    *dao.ProposalDocuments
	digests *dao.DigestCache
	rds     *redis.Client
	sync    *Synchronizer
	porter  *Porter
	owner   address.Address
}

func newEnv(t *testing.T) *env {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.ProposalDocument{}, &model.BackerAccount{}, &model.PaymentJournalEntry{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rds := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rds.Close() })

	owner, err := address.NewIDAddress(10)
	require.NoError(t, err)
	operator, err := address.NewIDAddress(9)
	require.NoError(t, err)

	e := &env{
		ctx:     context.Background(),
		l:       ledgertest.New(),
		docs:    dao.NewProposalDocuments(db),
		digests: dao.NewDigestCache(rds),
		rds:     rds,
		owner:   owner,
	}
	asm := assembler.New(e.l)
	e.sync = NewSynchronizer(asm, e.docs, e.digests)
	engine := settlement.NewEngine(asm, paymenttest.New(), dao.NewAccountDirectory(db), dao.NewPaymentJournal(db), settlement.Config{Operator: operator, VaultCard: "vault", Currency: "EUR"})
	e.porter = NewPorter(e.ctx, engine, settlement.NewCloser(asm, operator), e.sync, Schedule{})
	return e
}

func (e *env) proposal(name string, end time.Time) address.Address {
	return e.l.AddProposal(common.ProposalParams{
		ProductName:     name,
		MainCategory:    "food",
		MaxPricePerUnit: 10100,
		EndDate:         end,
	}, e.owner)
}

func TestReconcileUpsert(t *testing.T) {
	e := newEnv(t)
	a := e.proposal("olive", time.Now().Add(time.Hour))
	e.proposal("rice", time.Now().Add(time.Hour))
	e.proposal("flour", time.Now().Add(time.Hour))

	res, err := e.porter.ReconcileCache(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, &ReconcileResult{Created: 3, Updated: 0}, res)

	first, err := e.docs.FindByAddress(e.ctx, a.String())
	require.NoError(t, err)
	assert.Equal(t, "olive", first.ProductName)
	assert.False(t, first.Closed)

	e.l.UpdateProposal(a, func(p *common.Proposal) { p.Closed = true })

	res, err = e.porter.ReconcileCache(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, &ReconcileResult{Created: 0, Updated: 3}, res)

	count, err := e.docs.Count(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	second, err := e.docs.FindByAddress(e.ctx, a.String())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Closed)

	digest, err := e.digests.Get(e.ctx, a.String())
	require.NoError(t, err)
	assert.True(t, digest.Closed)
}

func TestConcurrentReconcile(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 4; i++ {
		e.proposal(fmt.Sprintf("item-%d", i), time.Now().Add(time.Hour))
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.sync.Reconcile(e.ctx)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	count, err := e.docs.Count(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestReconcileAllOrNothing(t *testing.T) {
	e := newEnv(t)
	e.proposal("olive", time.Now())
	bad := e.proposal("rice", time.Now())
	e.l.FailRead(bad, "ProductSku", errors.New("decode error"))

	res, err := e.porter.ReconcileCache(e.ctx)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, common.ErrPartialRead))

	var se *common.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, common.StageReconcile, se.Stage)

	count, err := e.docs.Count(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestReconcileNotifies(t *testing.T) {
	e := newEnv(t)
	e.proposal("olive", time.Now())

	sub := e.rds.Subscribe(e.ctx, dao.BuildProposalNotifyKey())
	defer sub.Close()
	_, err := sub.Receive(e.ctx)
	require.NoError(t, err)

	_, err = e.porter.ReconcileCache(e.ctx)
	require.NoError(t, err)

	msg, err := sub.ReceiveMessage(e.ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, `"created":1`)
}

func TestClearCache(t *testing.T) {
	e := newEnv(t)
	e.proposal("olive", time.Now())
	e.proposal("rice", time.Now())
	_, err := e.porter.ReconcileCache(e.ctx)
	require.NoError(t, err)

	removed, err := e.porter.ClearCache(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	list, err := e.digests.List(e.ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	res, err := e.porter.ReconcileCache(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Created)
}

func TestFacadeDelegates(t *testing.T) {
	e := newEnv(t)
	open := e.proposal("olive", time.Now().Add(time.Hour))

	report, err := e.porter.TriggerSettlement(e.ctx, open)
	require.NoError(t, err)
	assert.Equal(t, "proposal open", report.Skipped)

	_, err = e.porter.CloseProposal(e.ctx, open)
	assert.True(t, errors.Is(err, common.ErrTransactionRejected))
}

func TestScheduleValidation(t *testing.T) {
	e := newEnv(t)
	p := NewPorter(e.ctx, nil, nil, e.sync, Schedule{Reconcile: "not a cron expression"})
	assert.Error(t, p.Start())

	p = NewPorter(e.ctx, nil, nil, e.sync, Schedule{Reconcile: "@every 1h"})
	require.NoError(t, p.Start())
	p.Stop()
}

func TestJobSkipsOverlappingRuns(t *testing.T) {
	e := newEnv(t)
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	runs := 0
	job := e.porter.job("test", func(ctx context.Context) error {
		runs++
		started <- struct{}{}
		<-release
		return nil
	})

	done := make(chan struct{})
	go func() {
		job()
		close(done)
	}()
	<-started
	job()
	close(release)
	<-done
	assert.Equal(t, 1, runs)
}
