package config

import (
	"log/slog"
	"os"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createMainFile(fpath string) error {
	contents := `---
runningEnvironment: development
client:
  baseURL: https://api.example.org
  refreshPath: /api/auth/refresh
  authEndpoints:
    - /api/auth/login
    - /api/auth/refresh
  refresh:
    transientCooldown: 5s
    terminalCooldown: 2m
    oauth2:
      clientID: cli
mirror:
  redis:
    enabled: true
    clientID: web
redis:
  type: redis-mock
`
	return os.WriteFile(fpath, []byte(contents), 0666)
}

func createSecretFile(fpath string) error {
	contents := `---
client:
  refresh:
    oauth2:
      clientSecret: client-secret-from-secret-file
mirror:
  redis:
    encryption:
      enabled: true
      secretKey: eBfR0WfHBTrRrVdLpsTYmWtPwJfQqOEq
`
	return os.WriteFile(fpath, []byte(contents), 0666)
}

func TestReadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_LOCATION", t.TempDir())
	ch := NewConfigHandler()
	config, err := ch.Config()
	require.NoError(t, err)
	assert.Equal(t, Production, config.RunningEnvironment)
	assert.Equal(t, "http://localhost:8080", config.Client.BaseURL.String())
	assert.Equal(t, "/auth/refresh", config.Client.RefreshPath)
	assert.Contains(t, config.Client.AuthEndpoints, "/auth/login")
	assert.Equal(t, 30*time.Second, config.Client.Refresh.TransientCooldown)
	assert.Equal(t, 30*time.Second, config.Client.Refresh.TerminalCooldown)
	assert.Equal(t, 15*time.Second, config.Client.Refresh.Timeout)
	assert.Equal(t, 3*time.Minute, config.Client.Refresh.Proactive.ExpiryMargin)
	assert.True(t, config.Mirror.Cookie.Enabled)
	assert.Equal(t, 168*time.Hour, config.Mirror.Cookie.RefreshIndicatorTTL)
	assert.False(t, config.Mirror.Redis.Enabled)
}

func TestReadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("CONFIG_LOCATION", tmpDir)
	require.NoError(t, createMainFile(path.Join(tmpDir, "config.yaml")))
	require.NoError(t, createSecretFile(path.Join(tmpDir, "secret_config.yaml")))
	ch := NewConfigHandler()
	config, err := ch.Config()
	require.NoError(t, err)
	assert.Equal(t, Development, config.RunningEnvironment)
	assert.Equal(t, "https://api.example.org", config.Client.BaseURL.String())
	assert.Equal(t, "https://api.example.org/api/auth/refresh", config.Client.RefreshURL())
	assert.Equal(t, []string{"/api/auth/login", "/api/auth/refresh"}, config.Client.AuthEndpoints)
	assert.Equal(t, 5*time.Second, config.Client.Refresh.TransientCooldown)
	assert.Equal(t, 2*time.Minute, config.Client.Refresh.TerminalCooldown)
	assert.Equal(t, "cli", config.Client.Refresh.OAuth2.ClientID)
	assert.Equal(t, RedactedString("client-secret-from-secret-file"), config.Client.Refresh.OAuth2.ClientSecret)
	assert.Equal(t, RedactedString("eBfR0WfHBTrRrVdLpsTYmWtPwJfQqOEq"), config.Mirror.Redis.Encryption.SecretKey)
	assert.Equal(t, "web", config.Mirror.Redis.ClientID)
	assert.Equal(t, DBTypeRedisMock, config.Redis.Type)
}

func TestReadConfigWithEnvVars(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("CONFIG_LOCATION", tmpDir)
	require.NoError(t, createMainFile(path.Join(tmpDir, "config.yaml")))
	require.NoError(t, createSecretFile(path.Join(tmpDir, "secret_config.yaml")))
	t.Setenv("AUTHCLIENT_CLIENT_REFRESH_OAUTH2_CLIENTSECRET", "env-var-secret")
	t.Setenv("AUTHCLIENT_CLIENT_BASEURL", "https://dev.example.org")
	t.Setenv("AUTHCLIENT_CLIENT_REFRESH_TERMINALCOOLDOWN", "45s")
	t.Setenv("AUTHCLIENT_CLIENT_AUTHENDPOINTS", "/login,/refresh")
	ch := NewConfigHandler()
	config, err := ch.Config()
	require.NoError(t, err)
	slog.Info("configuration data", "config", config)
	assert.Equal(t, "https://dev.example.org", config.Client.BaseURL.String())
	assert.Equal(t, RedactedString("env-var-secret"), config.Client.Refresh.OAuth2.ClientSecret)
	assert.Equal(t, 45*time.Second, config.Client.Refresh.TerminalCooldown)
	assert.Equal(t, []string{"/login", "/refresh"}, config.Client.AuthEndpoints)
	assert.Equal(t, RedactedString("eBfR0WfHBTrRrVdLpsTYmWtPwJfQqOEq"), config.Mirror.Redis.Encryption.SecretKey)
}

func TestReadConfigValidationFails(t *testing.T) {
	t.Setenv("CONFIG_LOCATION", t.TempDir())
	t.Setenv("AUTHCLIENT_CLIENT_REFRESH_TIMEOUT", "0s")
	ch := NewConfigHandler()
	_, err := ch.Config()
	assert.ErrorContains(t, err, "refresh timeout has to be positive")
}
