package initdb

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/outlierventures/buyco_settlement/dao"
	"github.com/outlierventures/buyco_settlement/model"
)

func TestInitDatabase(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rds := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rds.Close()
	require.NoError(t, rds.Set(ctx, dao.BuildProposalDigestKey("f01001"), "{}", 0).Err())

	_, err = LoadSchemaVersion(ctx, db)
	assert.Error(t, err)

	require.NoError(t, InitDatabase(ctx, db, rds, "f01000"))

	for _, m := range []interface{}{&model.ProposalDocument{}, &model.BackerAccount{}, &model.PaymentJournalEntry{}, &model.SchemaVersion{}} {
		assert.True(t, db.Migrator().HasTable(m))
	}
	assert.False(t, db.Migrator().HasTable(&model.DaemonLock{}))
	assert.False(t, mr.Exists(dao.BuildProposalDigestKey("f01001")))

	v, err := LoadSchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v.Version)
	assert.Equal(t, "f01000", v.Registry)

	err = InitDatabase(ctx, db, nil, "f01000")
	assert.True(t, errors.Is(err, ErrInitialized))
}
