package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/motodesk/backoffice/testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, "live", cfg.AllocationMode)
	assert.Equal(t, "supplied", cfg.SaleTotalPolicy)
	assert.True(t, cfg.AllowCrossBranchDuplicates)
	assert.Equal(t, 15*time.Second, cfg.UnitLockTTL)
	assert.Equal(t, 3, cfg.TxMaxRetries)
	assert.InDelta(t, 0.34, cfg.ResolverThreshold, 1e-9)
	assert.Equal(t, "0 3 * * *", cfg.ReconcileCron)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ALLOCATION_MODE", "backfill")
	t.Setenv("SALE_TOTAL_POLICY", "derived")
	t.Setenv("ALLOW_CROSS_BRANCH_DUPLICATES", "false")
	t.Setenv("APP_ENV", "production")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, "backfill", cfg.AllocationMode)
	assert.Equal(t, "derived", cfg.SaleTotalPolicy)
	assert.False(t, cfg.AllowCrossBranchDuplicates)
	assert.True(t, cfg.IsProduction())
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"driver":    {"STORE_DRIVER": "sqlite"},
		"mode":      {"ALLOCATION_MODE": "sometimes"},
		"policy":    {"SALE_TOTAL_POLICY": "average"},
		"threshold": {"RESOLVER_THRESHOLD": "1.5"},
		"zero":      {"RESOLVER_THRESHOLD": "0"},
		"retries":   {"TX_MAX_RETRIES": "-1"},
		"duration":  {"UNIT_LOCK_TTL": "soon"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestInTestMode(t *testing.T) {
	RefreshTestMode()
	assert.True(t, InTestMode())
}
