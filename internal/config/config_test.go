package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"GATEWAY_PORT", "REST_PORT", "METRICS_PORT", "ENABLE_METRICS", "JWT_SECRET", "STORE_BACKEND",
		"SUBSCRIPTION_BUFFER", "FEED_RETENTION", "SNAPSHOT_CACHE_TTL", "TLS_CERT_PATH", "TLS_KEY_PATH", "CORS_ORIGINS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 50051, cfg.GRPCPort)
	assert.Equal(t, 51051, cfg.RESTPort)
	assert.Equal(t, 52051, cfg.MetricsPort)
	assert.Equal(t, "badger", cfg.StoreBackend)
	assert.True(t, cfg.UsesDevelopmentSecret())
	assert.Equal(t, 128, cfg.SubscriptionBuffer)
	assert.Equal(t, 24*time.Hour, cfg.SnapshotCacheTTL)
	assert.False(t, cfg.TLSEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GATEWAY_PORT", "9000")
	t.Setenv("REST_PORT", "8080")
	t.Setenv("ENABLE_METRICS", "false")
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SNAPSHOT_CACHE_TTL", "5m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.GRPCPort)
	assert.Equal(t, 8080, cfg.RESTPort)
	assert.Equal(t, 11000, cfg.MetricsPort)
	assert.False(t, cfg.EnableMetrics)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 5*time.Minute, cfg.SnapshotCacheTTL)
	assert.Equal(t, "0.0.0.0:9000", cfg.GRPCAddress())
}

func TestValidate(t *testing.T) {
	valid := Config{StoreBackend: "badger", SubscriptionBuffer: 1, FeedRetention: 1, GRPCPort: 1, RESTPort: 2, MetricsPort: 3}
	assert.NoError(t, valid.Validate())

	tls := valid
	tls.TLSCertPath = "cert.pem"
	assert.Error(t, tls.Validate())
	tls.TLSKeyPath = "key.pem"
	assert.NoError(t, tls.Validate())

	backend := valid
	backend.StoreBackend = "mongo"
	assert.Error(t, backend.Validate())

	buffer := valid
	buffer.SubscriptionBuffer = 0
	assert.Error(t, buffer.Validate())

	port := valid
	port.RESTPort = 70000
	assert.Error(t, port.Validate())
}
