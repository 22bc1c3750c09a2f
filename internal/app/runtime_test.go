package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/larder-hq/larder/internal/testing/guard"
)

func TestInTestModeReflectsEnvironment(t *testing.T) {
	// The guard import sets LARDER_TEST_MODE before any test runs.
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv("LARDER_TEST_MODE", "0")
	RefreshTestMode()
	require.False(t, InTestMode())

	t.Setenv("LARDER_TEST_MODE", "1")
	RefreshTestMode()
	require.True(t, InTestMode())
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "larder_session", cfg.SessionCookie)
	require.Positive(t, cfg.SessionTTL)
	require.Positive(t, cfg.PresenceTTL)
	require.Positive(t, cfg.LowStockThreshold)
	require.False(t, cfg.IsProduction())
}
