// Package app assembles the service graph shared by every binary.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"memorial-credits/internal/audit"
	"memorial-credits/internal/config"
	"memorial-credits/internal/events"
	"memorial-credits/internal/payments"
	"memorial-credits/internal/pricing"
	"memorial-credits/internal/reconcile"
	"memorial-credits/internal/reporting"
	"memorial-credits/internal/wallet"
	"memorial-credits/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

// App holds the wired services and the connections they own.
type App struct {
	DB    *sql.DB
	Redis *redis.Client

	Ledger      *wallet.PostgresLedger
	Wallet      *wallet.Service
	Coordinator *wallet.Coordinator
	Payments    *payments.Service
	Orphans     *payments.PostgresOrphanStore
	Reconcile   *reconcile.Job
	Reporting   *reporting.Service
	Audit       *audit.Service
	Prices      *pricing.Table

	publisher events.Publisher
}

// Open connects to Postgres (and Redis and Kafka when configured) and builds
// every service. Close releases what Open acquired.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	prices := pricing.DefaultTable()
	if cfg.Payments.PriceTablePath != "" {
		t, err := pricing.LoadFile(cfg.Payments.PriceTablePath)
		if err != nil {
			return nil, fmt.Errorf("price table: %w", err)
		}
		prices = t
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a := &App{DB: db, Prices: prices, publisher: events.Nop{}}

	var lease reconcile.Lease
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.Redis = rdb
		lease = utils.NewRedisLease(rdb, "memorial-credits")
	} else {
		log.Warn("redis not configured; reconcile sweeps are not coordinated across instances")
	}

	if cfg.KafkaEnabled() {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("kafka: %w", err)
		}
		a.publisher = kp
	}

	a.Audit = audit.NewService(audit.NewPostgresRepo(db))
	retry := utils.RetryPolicy{Attempts: cfg.DB.TxRetryAttempts, Backoff: cfg.DB.TxRetryBackoff}
	a.Ledger = wallet.NewPostgresLedger(db).WithRetryPolicy(retry)
	a.Wallet = wallet.NewService(a.Ledger, a.Audit)
	a.Coordinator = wallet.NewCoordinator(a.Ledger, a.publisher)
	a.Orphans = payments.NewPostgresOrphanStore(db).WithRetryPolicy(retry)
	a.Payments = payments.NewService(payments.Deps{
		Journal:   a.Ledger,
		Credits:   a.Wallet,
		Directory: payments.NewSQLDirectory(db),
		Orphans:   a.Orphans,
		Prices:    prices,
		Audit:     a.Audit,
		Publisher: a.publisher,
	})
	a.Reconcile = reconcile.New(a.Payments, a.Orphans, a.Payments.Directory(), lease, a.Audit, reconcile.Config{
		BatchSize: cfg.Reconcile.BatchSize,
		LeaseTTL:  cfg.Reconcile.LeaseTTL,
	})
	a.Reporting = reporting.NewService(a.Wallet)
	return a, nil
}

func (a *App) Close() {
	if c, ok := a.publisher.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
