package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Deriv.APIToken = "token"
	return cfg
}

func TestDefaultsValidateWithToken(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestDefaultsRequireAPIToken(t *testing.T) {
	t.Parallel()
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_token")
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.LogLevel = "verbose"
	cfg.Risk.MaxDailyLoss = 0
	cfg.Trade.Stake = -1
	cfg.Symbols = []string{"R_25", "R_25"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "max_daily_loss")
	assert.Contains(t, err.Error(), "stake")
	assert.Contains(t, err.Error(), `duplicate symbol "R_25"`)
}

func TestValidateRejectsBadTimezone(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Risk.DailyResetTimezone = "Mars/Olympus_Mons"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daily_reset_timezone")
}

func TestValidateS3OnlyWhenEnabled(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.S3.Bucket = ""
	assert.NoError(t, cfg.Validate())

	cfg.S3.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: bucket")
}

func TestValidateDSNSkipsHostChecks(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Postgres.DSN = "postgres://user:pass@db:5432/r25bot"
	cfg.Postgres.Host = ""
	cfg.Postgres.Database = ""
	assert.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"
symbols = ["R_25", "R_50"]

[deriv]
api_token = "secret"

[risk]
max_daily_loss = 50.0
cooldown = "45m"

[trade]
stake = 2.5
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Overridden by the file.
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"R_25", "R_50"}, cfg.Symbols)
	assert.Equal(t, "secret", cfg.Deriv.APIToken)
	assert.Equal(t, 50.0, cfg.Risk.MaxDailyLoss)
	assert.Equal(t, 45*time.Minute, cfg.Risk.Cooldown.Duration)
	assert.Equal(t, 2.5, cfg.Trade.Stake)

	// Untouched defaults survive the merge.
	assert.Equal(t, "wss://ws.derivws.com/websockets/v3", cfg.Deriv.WSHost)
	assert.Equal(t, 3, cfg.Risk.CooldownAfterLosses)
	assert.Equal(t, 100, cfg.Trade.Multiplier)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[deriv]
api_token = "from-file"
`), 0o600))

	t.Setenv("R25_DERIV_API_TOKEN", "from-env")
	t.Setenv("R25_TRADE_STAKE", "7.5")
	t.Setenv("R25_RISK_COOLDOWN", "1h")
	t.Setenv("R25_SYMBOLS", "R_25, R_75 ,")
	t.Setenv("R25_POSTGRES_RUN_MIGRATIONS", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Deriv.APIToken)
	assert.Equal(t, 7.5, cfg.Trade.Stake)
	assert.Equal(t, time.Hour, cfg.Risk.Cooldown.Duration)
	assert.Equal(t, []string{"R_25", "R_75"}, cfg.Symbols)
	assert.False(t, cfg.Postgres.RunMigrations)
}

func TestLoadMissingFileFails(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	assert.Error(t, err)
}

func TestDurationRoundTrip(t *testing.T) {
	t.Parallel()
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(out))

	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
