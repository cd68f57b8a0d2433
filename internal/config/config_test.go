package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Vault.MasterSecret = "test-master-secret"
	cfg.Treasury.Account = "wager.treasury"
	cfg.Treasury.ActiveKey = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d"
	cfg.Server.AdminToken = "test-admin-token"
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsMissingSecrets(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault: master_secret")
	assert.Contains(t, err.Error(), "treasury: account")
	assert.Contains(t, err.Error(), "treasury: active_key")
	assert.Contains(t, err.Error(), "server: admin_token")
}

func TestValidateRejectsBadFeeSchedule(t *testing.T) {
	cfg := validConfig()
	cfg.Settlement.FeeRate = 1.0
	cfg.Settlement.BurnShare = 1.5
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fee_rate")
	assert.Contains(t, err.Error(), "burn_share")
}

func TestValidateRejectsBadChainID(t *testing.T) {
	cfg := validConfig()
	cfg.Ledger.ChainID = "not-hex"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain_id")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
log_level = "debug"

[token]
symbol = "BETS"
precision = 5

[settlement]
fee_rate = 0.05
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "BETS", cfg.Token.Symbol)
	assert.Equal(t, 5, cfg.Token.Precision)
	assert.InDelta(t, 0.05, cfg.Settlement.FeeRate, 1e-9)
	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.InDelta(t, 0.50, cfg.Settlement.BurnShare, 1e-9)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	t.Setenv("CUSTODIAN_VAULT_MASTER_SECRET", "from-env")
	t.Setenv("CUSTODIAN_SETTLEMENT_FEE_RATE", "0.02")
	t.Setenv("CUSTODIAN_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Vault.MasterSecret)
	assert.InDelta(t, 0.02, cfg.Settlement.FeeRate, 1e-9)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pg-pass"
	cfg.Redis.Password = "redis-pass"
	cfg.S3.SecretKey = "s3-secret"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Vault.MasterSecret)
	assert.Equal(t, "***", red.Treasury.ActiveKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Server.AdminToken)

	// The original is untouched.
	assert.Equal(t, "test-master-secret", cfg.Vault.MasterSecret)
}
