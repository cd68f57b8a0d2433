package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CUSTODIAN_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CUSTODIAN_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CUSTODIAN_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CUSTODIAN_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CUSTODIAN_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CUSTODIAN_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CUSTODIAN_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CUSTODIAN_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CUSTODIAN_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CUSTODIAN_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CUSTODIAN_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CUSTODIAN_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CUSTODIAN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CUSTODIAN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CUSTODIAN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CUSTODIAN_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CUSTODIAN_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CUSTODIAN_REDIS_TLS_ENABLED")

	// ── Ledger ──
	setStr(&cfg.Ledger.RPCURL, "CUSTODIAN_LEDGER_RPC_URL")
	setStr(&cfg.Ledger.ChainID, "CUSTODIAN_LEDGER_CHAIN_ID")
	setDuration(&cfg.Ledger.Timeout, "CUSTODIAN_LEDGER_TIMEOUT")
	setDuration(&cfg.Ledger.Expiration, "CUSTODIAN_LEDGER_EXPIRATION")

	// ── Vault ──
	setStr(&cfg.Vault.MasterSecret, "CUSTODIAN_VAULT_MASTER_SECRET")

	// ── Token ──
	setStr(&cfg.Token.Symbol, "CUSTODIAN_TOKEN_SYMBOL")
	setInt(&cfg.Token.Precision, "CUSTODIAN_TOKEN_PRECISION")
	setStr(&cfg.Token.SidechainID, "CUSTODIAN_TOKEN_SIDECHAIN_ID")

	// ── Settlement ──
	setFloat64(&cfg.Settlement.FeeRate, "CUSTODIAN_SETTLEMENT_FEE_RATE")
	setFloat64(&cfg.Settlement.BurnShare, "CUSTODIAN_SETTLEMENT_BURN_SHARE")
	setStr(&cfg.Settlement.BurnAccount, "CUSTODIAN_SETTLEMENT_BURN_ACCOUNT")
	setStr(&cfg.Settlement.RewardAccount, "CUSTODIAN_SETTLEMENT_REWARD_ACCOUNT")

	// ── Treasury ──
	setStr(&cfg.Treasury.Account, "CUSTODIAN_TREASURY_ACCOUNT")
	setStr(&cfg.Treasury.ActiveKey, "CUSTODIAN_TREASURY_ACTIVE_KEY")

	// ── Wallet ──
	setDuration(&cfg.Wallet.SignTimeout, "CUSTODIAN_WALLET_SIGN_TIMEOUT")

	// ── Server ──
	setInt(&cfg.Server.Port, "CUSTODIAN_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CUSTODIAN_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminToken, "CUSTODIAN_SERVER_ADMIN_TOKEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CUSTODIAN_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CUSTODIAN_S3_REGION")
	setStr(&cfg.S3.Bucket, "CUSTODIAN_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CUSTODIAN_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CUSTODIAN_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CUSTODIAN_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CUSTODIAN_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.ReportPrefix, "CUSTODIAN_S3_REPORT_PREFIX")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "CUSTODIAN_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
