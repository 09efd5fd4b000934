package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unset(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	unset(t, "STORE_BACKEND", "NOTIFY_DISPATCHER", "CACHE_TTL", "APP_PORT", "CREDENTIAL_LENGTH")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, DispatcherLog, cfg.Dispatcher)
	assert.Equal(t, 30*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 8080, cfg.AppPort)
	assert.Equal(t, 12, cfg.CredentialLength)
}

func TestLoadConfig_DotEnvFile(t *testing.T) {
	unset(t, "STORE_BACKEND", "APP_PORT", "CACHE_TTL")

	file := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(file, []byte("STORE_BACKEND=memory\nAPP_PORT=9090\nCACHE_TTL=5m\n"), 0o600))

	cfg, err := LoadConfig(file)
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, 9090, cfg.AppPort)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
}

func TestLoadConfig_EnvironmentWinsOverFile(t *testing.T) {
	t.Setenv("STORE_BACKEND", "mongo")

	file := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(file, []byte("STORE_BACKEND=memory\n"), 0o600))

	cfg, err := LoadConfig(file)
	require.NoError(t, err)
	assert.Equal(t, BackendMongo, cfg.Backend)
}

func TestLoadConfig_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "cassandra")

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cassandra")
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := &Config{Backend: "x", Dispatcher: "smtp", CredentialLength: 0, AppPort: 0}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_BACKEND")
	assert.Contains(t, err.Error(), "NOTIFY_DISPATCHER")
	assert.Contains(t, err.Error(), "CREDENTIAL_LENGTH")
	assert.Contains(t, err.Error(), "APP_PORT")
}

func TestPostgresDSN(t *testing.T) {
	cfg := &Config{PostgresHost: "db", PostgresPort: 5433, PostgresUser: "u", PostgresPassword: "p", PostgresDB: "m"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=m sslmode=disable", cfg.PostgresDSN())
}
