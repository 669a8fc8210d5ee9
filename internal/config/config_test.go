package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	os.Unsetenv("APP_SESSION_ID")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, "default", cfg.App.SessionID)
	assert.Equal(t, "file", cfg.Env.Caching.Driver)
}

func TestLoadOverridesFromEnvWithUnderscoreReplacer(t *testing.T) {
	t.Setenv("APP_SESSION_ID", "session-xyz")
	t.Setenv("APP_PORT", "9090")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "session-xyz", cfg.App.SessionID)
	assert.Equal(t, 9090, cfg.App.Port)
}

func TestValidateRejectsPersistStateWithoutFile(t *testing.T) {
	cfg := Config{App: App{SessionID: "s", PersistState: true, StateFile: ""}}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownCachingDriver(t *testing.T) {
	cfg := Config{App: App{SessionID: "s"}, Env: Env{Caching: Caching{Driver: "memcached"}}}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsRedisDriverWithoutURL(t *testing.T) {
	cfg := Config{App: App{SessionID: "s"}, Env: Env{Caching: Caching{Driver: "redis"}}}
	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := Config{App: App{SessionID: "s"}, Env: Env{Caching: Caching{Driver: "file"}}}
	assert.NoError(t, cfg.Validate())
}
