package initdb

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"
	"gorm.io/gorm"

	"github.com/outlierventures/buyco_settlement/dao"
	"github.com/outlierventures/buyco_settlement/model"
)

var log = logging.Logger("initdb")

const SchemaVersion = 1

var ErrInitialized = xerrors.New("database has been initialized")

// InitDatabase creates the service tables and stamps the schema version with
// the registry the database belongs to. Stale digests left in redis by an
// earlier deployment are dropped; rds may be nil.
func InitDatabase(ctx context.Context, db *gorm.DB, rds redis.UniversalClient, registry string) error {
	if checkExist(db) {
		return ErrInitialized
	}

	if err := createTables(db); err != nil {
		return err
	}

	if err := db.WithContext(ctx).Create(&model.SchemaVersion{
		Version:       SchemaVersion,
		Registry:      registry,
		InitializedAt: time.Now(),
	}).Error; err != nil {
		return err
	}

	if rds != nil {
		removed, err := dao.NewDigestCache(rds).Clear(ctx)
		if err != nil {
			return xerrors.Errorf("clear digest cache: %w", err)
		}
		log.Infow("digest cache cleared", "keys", removed)
	}

	log.Infow("database initialized", "version", SchemaVersion, "registry", registry)
	return nil
}

// LoadSchemaVersion returns the stamp written by InitDatabase.
func LoadSchemaVersion(ctx context.Context, db *gorm.DB) (*model.SchemaVersion, error) {
	if !checkExist(db) {
		return nil, xerrors.New("database not initialized, run initdb first")
	}
	var v model.SchemaVersion
	if err := db.WithContext(ctx).Order("id desc").Take(&v).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

func checkExist(db *gorm.DB) bool {
	return db.Migrator().HasTable(&model.SchemaVersion{})
}

func createTables(db *gorm.DB) error {
	startTime := time.Now()
	defer func() {
		log.Infow("createTables", "duration", time.Since(startTime).String())
	}()

	// DaemonLock is created when the daemon starts
	return db.AutoMigrate(
		&model.ProposalDocument{},
		&model.BackerAccount{},
		&model.PaymentJournalEntry{},
		&model.SchemaVersion{},
	)
}
