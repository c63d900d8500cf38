package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/clinic")
	t.Setenv("REDIS_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, StorePostgres, cfg.StoreBackend)
	assert.Equal(t, LockRedis, cfg.LockBackend)
	assert.Equal(t, 5*time.Second, cfg.LockTTL)
	assert.Equal(t, "dev-secret", cfg.JWTSecret)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, 3, cfg.RetryAttempts)
}

func TestLoadRequiresDSNForPostgres(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("POSTGRES_DSN", "")

	_, err := Load()
	assert.EqualError(t, err, "POSTGRES_DSN is required")
}

func TestLoadMemoryBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("LOCK_BACKEND", "local")
	t.Setenv("LOCK_WAIT", "250ms")
	t.Setenv("RECONCILE_INTERVAL", "30")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, LockLocal, cfg.LockBackend)
	assert.Equal(t, 250*time.Millisecond, cfg.LockWait)
	assert.Equal(t, 30*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoadRejectsUnknownBackends(t *testing.T) {
	t.Setenv("STORE_BACKEND", "mongo")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("LOCK_BACKEND", "zookeeper")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadRequiresSecretOutsideDev(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.EqualError(t, err, "JWT_SECRET is required outside dev")

	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
}

func TestLoadRedisURL(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("REDIS_URL", "redis://user:pw@cache:6380")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", cfg.RedisAddr)
	assert.Equal(t, "user", cfg.RedisUsername)
	assert.Equal(t, "pw", cfg.RedisPassword)
}

func TestParseRedisURLRejectsMissingHost(t *testing.T) {
	_, _, _, err := parseRedisURL("not a url")
	assert.Error(t, err)
}
