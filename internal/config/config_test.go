// internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 14*24*time.Hour, cfg.Reservation.Horizon)
	assert.Equal(t, 5, cfg.Payout.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Payout.RetryBaseDelay)
	assert.Equal(t, int64(0), cfg.Payout.PlatformFeeBps)
	assert.Equal(t, int64(10), cfg.Payout.AmountTolerancePct)
	assert.Equal(t, 3*time.Second, cfg.DB.LockTimeout)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PAYOUT_STORE_DRIVER", "memory")
	t.Setenv("PAYOUT_PAYOUT_PLATFORM_FEE_BPS", "150")
	t.Setenv("PAYOUT_PAYOUT_MAX_RETRIES", "3")
	t.Setenv("PAYOUT_DB_HOST", "db.internal")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, int64(150), cfg.Payout.PlatformFeeBps)
	assert.Equal(t, 3, cfg.Payout.MaxRetries)
	assert.Equal(t, "db.internal", cfg.DB.Host)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown store driver", env: map[string]string{"PAYOUT_STORE_DRIVER": "sqlite"}},
		{name: "memory store in production", env: map[string]string{"PAYOUT_ENV": "production", "PAYOUT_STORE_DRIVER": "memory"}},
		{name: "unknown env", env: map[string]string{"PAYOUT_ENV": "staging-eu"}},
		{name: "fee of 100%", env: map[string]string{"PAYOUT_PAYOUT_PLATFORM_FEE_BPS": "10000"}},
		{name: "zero retries", env: map[string]string{"PAYOUT_PAYOUT_MAX_RETRIES": "0"}},
		{name: "bad platform user", env: map[string]string{"PAYOUT_PAYOUT_PLATFORM_WALLET_USER_ID": "nope"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
