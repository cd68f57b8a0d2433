package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/hivewager/custodian/internal/blob/s3"
	"github.com/hivewager/custodian/internal/cache/redis"
	"github.com/hivewager/custodian/internal/config"
	"github.com/hivewager/custodian/internal/domain"
	"github.com/hivewager/custodian/internal/hiveengine"
	"github.com/hivewager/custodian/internal/ledger"
	"github.com/hivewager/custodian/internal/relay"
	"github.com/hivewager/custodian/internal/settlement"
	"github.com/hivewager/custodian/internal/store/postgres"
	"github.com/hivewager/custodian/internal/vault"
	"github.com/hivewager/custodian/internal/wallet"
)

// Dependencies bundles every constructed component the application needs. It
// is built by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Predictions domain.PredictionStore
	Keys        domain.CustodialKeyStore
	Audit       domain.AuditStore

	// Cache-backed infrastructure
	RateLimiter domain.RateLimiter
	EventBus    domain.EventBus

	// Signing and broadcast
	Vault    *vault.Vault
	Ledger   *ledger.Client
	Signer   *ledger.Signer
	Builder  *hiveengine.Builder
	Treasury *relay.Treasury
	Relay    *relay.SigningRelay
	Bridge   *wallet.Bridge
	Facade   *relay.Facade

	// Settlement
	Engine *settlement.Engine
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Predictions = postgres.NewPredictionStore(pool)
	deps.Keys = postgres.NewCustodialKeyStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.EventBus = redis.NewEventBus(redisClient)

	// --- Key vault ---
	deps.Vault, err = vault.New(cfg.Vault.MasterSecret)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: vault: %w", err)
	}

	// --- Ledger client and signer ---
	deps.Ledger = ledger.NewClient(ledger.ClientConfig{
		Endpoint:   cfg.Ledger.RPCURL,
		ChainID:    cfg.Ledger.ChainID,
		Timeout:    cfg.Ledger.Timeout.Duration,
		TxLifetime: cfg.Ledger.Expiration.Duration,
	})
	deps.Signer, err = ledger.NewSigner(cfg.Ledger.ChainID)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: signer: %w", err)
	}

	// --- Token operation builder ---
	deps.Builder = hiveengine.NewBuilder(hiveengine.Token{
		Symbol:    cfg.Token.Symbol,
		Precision: cfg.Token.Precision,
	}, cfg.Token.SidechainID)

	// --- Treasury (settlement payment path) ---
	deps.Treasury, err = relay.NewTreasury(
		cfg.Treasury.Account, cfg.Treasury.ActiveKey,
		deps.Builder, deps.Ledger, deps.Signer,
		logger.With(slog.String("component", "treasury")),
	)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: treasury: %w", err)
	}

	// --- Custodial relay, wallet bridge, broadcast facade ---
	deps.Relay = relay.NewSigningRelay(
		deps.Keys, deps.Vault, deps.Ledger, deps.Signer, deps.Audit,
		logger.With(slog.String("component", "relay")),
	)
	deps.Bridge = wallet.NewBridge(
		cfg.Wallet.SignTimeout.Duration,
		logger.With(slog.String("component", "wallet")),
	)
	deps.Facade = relay.NewFacade(
		deps.Relay, deps.Bridge, deps.RateLimiter,
		logger.With(slog.String("component", "facade")),
	)

	// --- Settlement engine, with optional S3 report archival ---
	var archiver *settlement.ReportArchiver
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		archiver = settlement.NewReportArchiver(s3blob.NewWriter(s3Client), cfg.S3.ReportPrefix)
	}

	deps.Engine = settlement.NewEngine(
		deps.Predictions, deps.Builder, deps.Treasury, deps.Audit,
		deps.EventBus, archiver,
		settlement.Config{
			FeeRate:       cfg.Settlement.FeeRate,
			BurnShare:     cfg.Settlement.BurnShare,
			BurnAccount:   cfg.Settlement.BurnAccount,
			RewardAccount: cfg.Settlement.RewardAccount,
		},
		logger.With(slog.String("component", "settlement")),
	)

	return deps, cleanup, nil
}
