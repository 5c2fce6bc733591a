package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearMetaEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"META_APP_ID", "META_APP_SECRET", "META_WEBHOOK_VERIFY_TOKEN", "APP_URL", "DB_URL"} {
		orig, had := os.LookupEnv(k)
		_ = os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, orig)
			}
		})
	}
}

func TestLoad_MissingRequiredVarsIsFatal(t *testing.T) {
	clearMetaEnv(t)
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_AllRequiredVarsPresentSucceeds(t *testing.T) {
	clearMetaEnv(t)
	os.Setenv("META_APP_ID", "app-1")
	os.Setenv("META_APP_SECRET", "secret")
	os.Setenv("META_WEBHOOK_VERIFY_TOKEN", "verify-token")
	os.Setenv("APP_URL", "https://hub.example.com")
	os.Setenv("DB_URL", "postgres://localhost/hub")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "app-1", cfg.MetaAppID)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.True(t, cfg.IsDevelopment())
}
