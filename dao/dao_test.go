package dao

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/filecoin-project/go-address"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/outlierventures/buyco_settlement/common"
	"github.com/outlierventures/buyco_settlement/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.ProposalDocument{}, &model.BackerAccount{}, &model.PaymentJournalEntry{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rds := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rds.Close() })
	return mr, rds
}

func idAddr(t *testing.T, id uint64) address.Address {
	addr, err := address.NewIDAddress(id)
	require.NoError(t, err)
	return addr
}

func TestProposalDocuments(t *testing.T) {
	ctx := context.Background()
	store := NewProposalDocuments(newTestDB(t))

	_, err := store.FindByAddress(ctx, "f01001")
	assert.True(t, errors.Is(err, ErrNotFound))

	doc := &model.ProposalDocument{
		Address:         "f01001",
		ProductName:     "olive",
		MaxPricePerUnit: decimal.NewFromInt(10100),
		EndDate:         time.Unix(1700000000, 0),
	}
	require.NoError(t, store.Upsert(ctx, doc))

	found, err := store.FindByAddress(ctx, "f01001")
	require.NoError(t, err)
	require.NotZero(t, found.ID)
	assert.True(t, found.MaxPricePerUnit.Equal(decimal.NewFromInt(10100)))

	// a fresh row for the same address overwrites in place
	require.NoError(t, store.Upsert(ctx, &model.ProposalDocument{
		Address:         "f01001",
		ProductName:     "olive oil",
		MaxPricePerUnit: decimal.NewFromInt(9900),
		EndDate:         time.Unix(1700000000, 0),
		Closed:          true,
		AcceptedOffer:   "f01010",
		BackerCount:     3,
	}))

	again, err := store.FindByAddress(ctx, "f01001")
	require.NoError(t, err)
	assert.Equal(t, found.ID, again.ID)
	assert.True(t, again.Closed)
	assert.Equal(t, "olive oil", again.ProductName)
	assert.Equal(t, "f01010", again.AcceptedOffer)
	assert.Equal(t, uint64(3), again.BackerCount)
	assert.True(t, again.MaxPricePerUnit.Equal(decimal.NewFromInt(9900)))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, store.Upsert(ctx, &model.ProposalDocument{Address: "f01002"}))
	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	removed, err := store.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAccountDirectory(t *testing.T) {
	ctx := context.Background()
	dir := NewAccountDirectory(newTestDB(t))
	backer := idAddr(t, 501)

	_, err := dir.Lookup(ctx, backer)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, dir.Register(ctx, &common.PaymentAccount{LedgerAddress: backer, UserID: "u1", AccessToken: "t1", CardID: "c1"}))
	require.NoError(t, dir.Register(ctx, &common.PaymentAccount{LedgerAddress: backer, UserID: "u1", AccessToken: "t2", CardID: "c2"}))

	acc, err := dir.Lookup(ctx, backer)
	require.NoError(t, err)
	assert.Equal(t, "t2", acc.AccessToken)
	assert.Equal(t, "c2", acc.CardID)
	assert.Equal(t, backer, acc.LedgerAddress)

	assert.Error(t, dir.Register(ctx, &common.PaymentAccount{}))
}

func TestPaymentJournal(t *testing.T) {
	ctx := context.Background()
	j := NewPaymentJournal(newTestDB(t))
	slot := JournalSlot{Proposal: idAddr(t, 1001), Index: 2, Phase: common.PhaseStart}

	_, err := j.Find(ctx, slot)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, j.Record(ctx, &JournalEntry{JournalSlot: slot, TxID: "tx-1", Amount: 45000, Currency: "EUR", Source: "card", Destination: "vault"}))
	assert.Error(t, j.Record(ctx, &JournalEntry{JournalSlot: slot, TxID: "tx-2", Amount: 45000}))

	e, err := j.Find(ctx, slot)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", e.TxID)
	assert.Equal(t, int64(45000), e.Amount)
	assert.False(t, e.Recorded)

	pending, err := j.Unrecorded(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, slot, pending[0].JournalSlot)
	assert.Equal(t, "tx-1", pending[0].TxID)

	require.NoError(t, j.MarkRecorded(ctx, slot))
	e, err = j.Find(ctx, slot)
	require.NoError(t, err)
	assert.True(t, e.Recorded)

	pending, err = j.Unrecorded(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDigestCache(t *testing.T) {
	ctx := context.Background()
	mr, rds := newTestRedis(t)
	cache := NewDigestCache(rds)

	sub := rds.Subscribe(ctx, BuildProposalNotifyKey())
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	docs := []*model.ProposalDocument{
		{Address: "f01001", ProductName: "olive", MaxPricePerUnit: decimal.NewFromInt(10100)},
		{Address: "f01002", ProductName: "rice", Closed: true, AcceptedOffer: "f01500"},
	}
	var digests []*ProposalDigest
	for _, d := range docs {
		digests = append(digests, NewProposalDigest(d))
	}
	require.NoError(t, cache.Publish(ctx, digests, ReconcileNotice{Created: 2, Total: 2}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, `"created":2`)

	d, err := cache.Get(ctx, "f01002")
	require.NoError(t, err)
	assert.True(t, d.Closed)
	assert.Equal(t, "f01500", d.AcceptedOffer)
	assert.Equal(t, CacheTimeout, mr.TTL(BuildProposalDigestKey("f01002")))

	list, err := cache.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"f01001", "f01002"}, list)

	require.NoError(t, cache.Publish(ctx, digests[:1], ReconcileNotice{Updated: 1, Total: 1}))
	list, err = cache.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"f01001"}, list)

	removed, err := cache.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	_, err = cache.Get(ctx, "f01001")
	assert.True(t, errors.Is(err, ErrNotFound))
}
