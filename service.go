package main

import (
	"context"
	syslog "log"
	"os"
	"time"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-jsonrpc"
	"github.com/go-redis/redis/v8"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/outlierventures/buyco_settlement/assembler"
	"github.com/outlierventures/buyco_settlement/dao"
	"github.com/outlierventures/buyco_settlement/ledger"
	"github.com/outlierventures/buyco_settlement/payment"
	"github.com/outlierventures/buyco_settlement/porter"
	"github.com/outlierventures/buyco_settlement/settlement"
	"github.com/outlierventures/buyco_settlement/util"
)

var (
	nodeFlag = &cli.StringFlag{
		Name:    "node",
		Usage:   "lotus fullnode rpc, <token>:<multiaddr>",
		EnvVars: []string{"BUYCO_NODE"},
	}
	dbFlag = &cli.StringFlag{
		Name:    "db",
		Usage:   "root:123456@tcp(127.0.0.1:3306)/buyco?parseTime=true",
		EnvVars: []string{"BUYCO_DB"},
	}
	redisFlag = &cli.StringFlag{
		Name:    "redis",
		Usage:   "127.0.0.1:6379",
		EnvVars: []string{"BUYCO_REDIS"},
	}
	registryFlag = &cli.StringFlag{
		Name:    "registry",
		Usage:   "address of the proposal registry actor",
		EnvVars: []string{"BUYCO_REGISTRY"},
	}
	operatorFlag = &cli.StringFlag{
		Name:    "operator",
		Usage:   "wallet address signing the service's ledger transactions",
		EnvVars: []string{"BUYCO_OPERATOR"},
	}
	confidenceFlag = &cli.Uint64Flag{
		Name:    "confidence",
		Usage:   "epochs a ledger write must be buried under",
		Value:   5,
		EnvVars: []string{"BUYCO_CONFIDENCE"},
	}
	paymentURLFlag = &cli.StringFlag{
		Name:    "payment-url",
		Usage:   "payment gateway base url",
		EnvVars: []string{"BUYCO_PAYMENT_URL"},
	}
	paymentTimeoutFlag = &cli.DurationFlag{
		Name:    "payment-timeout",
		Value:   30 * time.Second,
		EnvVars: []string{"BUYCO_PAYMENT_TIMEOUT"},
	}
	vaultCardFlag = &cli.StringFlag{
		Name:    "vault-card",
		Usage:   "card holding escrowed funds",
		EnvVars: []string{"BUYCO_VAULT_CARD"},
	}
	vaultTokenFlag = &cli.StringFlag{
		Name:    "vault-token",
		Usage:   "access token of the vault card owner",
		EnvVars: []string{"BUYCO_VAULT_TOKEN"},
	}
	currencyFlag = &cli.StringFlag{
		Name:    "currency",
		Value:   "EUR",
		EnvVars: []string{"BUYCO_CURRENCY"},
	}
)

var (
	ledgerFlags  = []cli.Flag{nodeFlag, registryFlag, operatorFlag, confidenceFlag}
	storeFlags   = []cli.Flag{dbFlag, redisFlag}
	paymentFlags = []cli.Flag{paymentURLFlag, paymentTimeoutFlag, vaultCardFlag, vaultTokenFlag, currencyFlag}
)

func flags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func parseAddress(cctx *cli.Context, name string) (address.Address, error) {
	s := cctx.String(name)
	if s == "" {
		return address.Undef, xerrors.Errorf("--%s is required", name)
	}
	addr, err := address.NewFromString(s)
	if err != nil {
		return address.Undef, xerrors.Errorf("--%s: %w", name, err)
	}
	return addr, nil
}

func argAddress(cctx *cli.Context, what string) (address.Address, error) {
	if cctx.NArg() < 1 {
		return address.Undef, xerrors.Errorf("missing %s address argument", what)
	}
	addr, err := address.NewFromString(cctx.Args().First())
	if err != nil {
		return address.Undef, xerrors.Errorf("%s address: %w", what, err)
	}
	return addr, nil
}

func openDB(cctx *cli.Context) (*gorm.DB, error) {
	dsn := cctx.String("db")
	if dsn == "" {
		return nil, xerrors.New("--db is required")
	}

	newLogger := logger.New(
		syslog.New(os.Stdout, "\r\n", syslog.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, err
	}
	log.Info("sql ping success")
	return db, nil
}

// openRedis returns nil without error when no redis address is configured.
func openRedis(ctx context.Context, cctx *cli.Context) (*redis.Client, error) {
	addr := cctx.String("redis")
	if addr == "" {
		return nil, nil
	}
	rds := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "",
		DB:       0,
	})
	pong, err := rds.Ping(ctx).Result()
	if err != nil {
		_ = rds.Close()
		return nil, err
	}
	log.Info("redis response ", pong)
	return rds, nil
}

type ledgerConn struct {
	gw       *ledger.Client
	asm      *assembler.Assembler
	operator address.Address
	closer   jsonrpc.ClientCloser
}

func openLedger(ctx context.Context, cctx *cli.Context) (*ledgerConn, error) {
	registry, err := parseAddress(cctx, "registry")
	if err != nil {
		return nil, err
	}
	operator, err := parseAddress(cctx, "operator")
	if err != nil {
		return nil, err
	}
	if cctx.String("node") == "" {
		return nil, xerrors.New("no api info, set --node")
	}

	node, closer, err := util.ConnectNode(ctx, cctx.String("node"))
	if err != nil {
		return nil, err
	}

	gw := ledger.NewClient(util.NewMeteredChain(node), ledger.Config{
		Registry:   registry,
		Caller:     operator,
		Confidence: cctx.Uint64("confidence"),
	})
	return &ledgerConn{
		gw:       gw,
		asm:      assembler.New(gw),
		operator: operator,
		closer:   closer,
	}, nil
}

func (c *ledgerConn) Close() {
	c.closer()
}

// services is the fully wired stack used by the daemon and the one-shot
// commands.
type services struct {
	ledger *ledgerConn
	db     *gorm.DB
	rds    *redis.Client

	engine *settlement.Engine
	closer *settlement.Closer
	sync   *porter.Synchronizer
}

func openServices(ctx context.Context, cctx *cli.Context) (*services, error) {
	lc, err := openLedger(ctx, cctx)
	if err != nil {
		return nil, err
	}

	db, err := openDB(cctx)
	if err != nil {
		lc.Close()
		return nil, err
	}

	rds, err := openRedis(ctx, cctx)
	if err != nil {
		lc.Close()
		return nil, err
	}

	s := &services{
		ledger: lc,
		db:     db,
		rds:    rds,
		closer: settlement.NewCloser(lc.asm, lc.operator),
	}

	var digests *dao.DigestCache
	if rds != nil {
		digests = dao.NewDigestCache(rds)
	}
	s.sync = porter.NewSynchronizer(lc.asm, dao.NewProposalDocuments(db), digests)

	if url := cctx.String("payment-url"); url != "" {
		pay := payment.NewClient(payment.Config{
			BaseURL: url,
			Timeout: cctx.Duration("payment-timeout"),
		})
		s.engine = settlement.NewEngine(lc.asm, pay, dao.NewAccountDirectory(db), dao.NewPaymentJournal(db), settlement.Config{
			Operator:   lc.operator,
			VaultCard:  cctx.String("vault-card"),
			VaultToken: cctx.String("vault-token"),
			Currency:   cctx.String("currency"),
		})
	}
	return s, nil
}

func (s *services) requireEngine() error {
	if s.engine == nil {
		return xerrors.New("payment gateway not configured, set --payment-url")
	}
	return nil
}

func (s *services) Close() {
	if s.rds != nil {
		_ = s.rds.Close()
	}
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	s.ledger.Close()
}
