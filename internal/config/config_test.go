package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaultsAreValid(t *testing.T) {
	c := Defaults()
	require.NoError(t, c.Validate())
	assert.Equal(t, 30.0, c.BasePolicies().MaxLegMiles)
	assert.True(t, c.BasePolicies().EnableMeetAndSwap)
}

func TestApplyEnv(t *testing.T) {
	c := Defaults()
	err := c.applyEnv(envMap(map[string]string{
		"PORT":                 "9090",
		"KAFKA_BROKERS":        "k1:9092, k2:9092,",
		"ETA_CACHE_TTL":        "90s",
		"RATE_RPS":             "2.5",
		"DB_MIGRATE":           "false",
		"WEBHOOK_MAX_ATTEMPTS": "4",
	}))
	require.NoError(t, err)
	assert.Equal(t, "9090", c.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, 90*time.Second, c.ETA.CacheTTL)
	assert.Equal(t, 2.5, c.RateRPS)
	assert.False(t, c.DBMigrate)
	assert.Equal(t, 4, c.WebhookMaxAttempts)
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
	c := Defaults()
	err := c.applyEnv(envMap(map[string]string{"RATE_BURST": "lots"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RATE_BURST")
}

func TestLoadFileWithPolicies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7000"
eta:
  provider: haversine
policies:
  maxLegMiles: 45
  enableMeetAndSwap: false
`), 0o600))
	c := Defaults()
	require.NoError(t, c.loadFile(path))
	assert.Equal(t, "7000", c.Port)
	p := c.BasePolicies()
	assert.Equal(t, 45.0, p.MaxLegMiles)
	assert.False(t, p.EnableMeetAndSwap)
	assert.Equal(t, 60.0, p.NoNewJobLastMinutes)
}

func TestValidate(t *testing.T) {
	c := Defaults()
	c.ETA.Provider = "google"
	assert.Error(t, c.Validate())
	c.ETA.GoogleKey = "k"
	assert.NoError(t, c.Validate())

	c.Auth.Mode = "hmac"
	assert.Error(t, c.Validate())
	c.Auth.HMACSecret = "s"
	assert.NoError(t, c.Validate())

	c.Auth.Mode = "oauth"
	assert.Error(t, c.Validate())
}

func TestLoadReadsConfigFileFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"7100\"\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "")
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7100", c.Port)
}
