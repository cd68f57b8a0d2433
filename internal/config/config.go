// Package config defines the top-level configuration for the custodian
// service and provides validation helpers.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CUSTODIAN_* environment variables.
type Config struct {
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Vault      VaultConfig      `toml:"vault"`
	Token      TokenConfig      `toml:"token"`
	Settlement SettlementConfig `toml:"settlement"`
	Treasury   TreasuryConfig   `toml:"treasury"`
	Wallet     WalletConfig     `toml:"wallet"`
	Server     ServerConfig     `toml:"server"`
	S3         S3Config         `toml:"s3"`
	LogLevel   string           `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// LedgerConfig holds the blockchain RPC endpoint and signing parameters.
type LedgerConfig struct {
	// RPCURL is the JSON-RPC endpoint of a ledger API node.
	RPCURL string `toml:"rpc_url"`
	// ChainID is the 32-byte hex chain identifier mixed into every signing
	// digest.
	ChainID string `toml:"chain_id"`
	// Timeout bounds each RPC call.
	Timeout duration `toml:"timeout"`
	// Expiration is how far in the future broadcast transactions expire.
	Expiration duration `toml:"expiration"`
}

// VaultConfig holds the key vault's master secret.
type VaultConfig struct {
	// MasterSecret derives the AES key that encrypts custodial posting keys.
	// Rotating it invalidates every stored ciphertext.
	MasterSecret string `toml:"master_secret"`
}

// TokenConfig describes the platform token on the sidechain.
type TokenConfig struct {
	Symbol      string `toml:"symbol"`
	Precision   int    `toml:"precision"`
	SidechainID string `toml:"sidechain_id"`
}

// SettlementConfig holds the fee schedule and fee sink accounts.
type SettlementConfig struct {
	FeeRate       float64 `toml:"fee_rate"`
	BurnShare     float64 `toml:"burn_share"`
	BurnAccount   string  `toml:"burn_account"`
	RewardAccount string  `toml:"reward_account"`
}

// TreasuryConfig holds the platform treasury account that funds payouts.
type TreasuryConfig struct {
	Account string `toml:"account"`
	// ActiveKey is the treasury's active private key in hex. Inject it via
	// CUSTODIAN_TREASURY_ACTIVE_KEY rather than the TOML file.
	ActiveKey string `toml:"active_key"`
}

// WalletConfig holds parameters for the self-custody wallet bridge.
type WalletConfig struct {
	// SignTimeout is how long a broadcast waits for the user's wallet to
	// answer a sign request.
	SignTimeout duration `toml:"sign_timeout"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// AdminToken authorizes the settlement and void endpoints.
	AdminToken string `toml:"admin_token"`
}

// S3Config holds S3-compatible object storage parameters for settlement
// report archival. Leave Bucket empty to disable archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	ReportPrefix   string `toml:"report_prefix"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "custodian",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Ledger: LedgerConfig{
			RPCURL:     "https://api.hive.blog",
			ChainID:    "beeab0de00000000000000000000000000000000000000000000000000000000",
			Timeout:    duration{10 * time.Second},
			Expiration: duration{time.Minute},
		},
		Token: TokenConfig{
			Symbol:      "WAGER",
			Precision:   3,
			SidechainID: "ssc-mainnet-hive",
		},
		Settlement: SettlementConfig{
			FeeRate:       0.10,
			BurnShare:     0.50,
			BurnAccount:   "null",
			RewardAccount: "wager.rewards",
		},
		Wallet: WalletConfig{
			SignTimeout: duration{60 * time.Second},
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			UseSSL:         false,
			ForcePathStyle: true,
			ReportPrefix:   "settlements",
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Ledger
	if c.Ledger.RPCURL == "" {
		errs = append(errs, "ledger: rpc_url must not be empty")
	}
	if raw, err := hex.DecodeString(c.Ledger.ChainID); err != nil || len(raw) != 32 {
		errs = append(errs, "ledger: chain_id must be 64 hex characters")
	}

	// Vault
	if c.Vault.MasterSecret == "" {
		errs = append(errs, "vault: master_secret must not be empty")
	}

	// Token
	if c.Token.Symbol == "" {
		errs = append(errs, "token: symbol must not be empty")
	}
	if c.Token.Precision < 0 || c.Token.Precision > 8 {
		errs = append(errs, fmt.Sprintf("token: precision must be 0-8, got %d", c.Token.Precision))
	}

	// Settlement
	if c.Settlement.FeeRate < 0 || c.Settlement.FeeRate >= 1 {
		errs = append(errs, fmt.Sprintf("settlement: fee_rate must be in [0, 1), got %g", c.Settlement.FeeRate))
	}
	if c.Settlement.BurnShare < 0 || c.Settlement.BurnShare > 1 {
		errs = append(errs, fmt.Sprintf("settlement: burn_share must be in [0, 1], got %g", c.Settlement.BurnShare))
	}
	if c.Settlement.BurnAccount == "" {
		errs = append(errs, "settlement: burn_account must not be empty")
	}
	if c.Settlement.RewardAccount == "" {
		errs = append(errs, "settlement: reward_account must not be empty")
	}

	// Treasury
	if c.Treasury.Account == "" {
		errs = append(errs, "treasury: account must not be empty")
	}
	if c.Treasury.ActiveKey == "" {
		errs = append(errs, "treasury: active_key must not be empty")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.AdminToken == "" {
		errs = append(errs, "server: admin_token must not be empty")
	}

	// S3 is optional; only checked when archival is enabled.
	if c.S3.Bucket != "" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when a bucket is set")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when a bucket is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
