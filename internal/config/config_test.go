package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadValid(t *testing.T) *Config {
	t.Helper()

	cfg, err := Load(filepath.Join("testdata", "valid_config.yaml"))
	require.NoError(t, err)
	return cfg
}

func TestLoad(t *testing.T) {
	cfg := loadValid(t)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 30*time.Minute, cfg.Database.ConnMaxLifetime)

	assert.Equal(t, "jobs_changed", cfg.RabbitMQ.Exchange)
	assert.Equal(t, "jobs.changed", cfg.RabbitMQ.RoutingKey)
	assert.Equal(t, 3, cfg.RabbitMQ.Connection.RetryAttempts)

	require.Len(t, cfg.Feed.Hosts, 1)
	assert.Equal(t, "feed-1.example.com", cfg.Feed.Hosts[0].Host)
	assert.Equal(t, 8194, cfg.Feed.Hosts[0].Port)
	assert.Nil(t, cfg.Feed.TLS)

	assert.Equal(t, 5*time.Second, cfg.Reconciler.PollInterval)
	assert.Equal(t, time.Minute, cfg.Reconciler.CacheUpdateInterval)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "test", cfg.App.Environment)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "does_not_exist.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "malformed.yaml"))
	assert.Error(t, err)
}

func TestValidateAPIConfig(t *testing.T) {
	cfg := loadValid(t)
	assert.NoError(t, cfg.ValidateAPIConfig())
}

func TestValidateAPIConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"server port zero", func(c *Config) { c.Server.Port = 0 }},
		{"server port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"missing database host", func(c *Config) { c.Database.Host = "" }},
		{"invalid database port", func(c *Config) { c.Database.Port = -1 }},
		{"missing database name", func(c *Config) { c.Database.Database = "" }},
		{"missing rabbitmq host", func(c *Config) { c.RabbitMQ.Host = "" }},
		{"missing rabbitmq exchange", func(c *Config) { c.RabbitMQ.Exchange = "" }},
		{"missing rabbitmq queue", func(c *Config) { c.RabbitMQ.Queue = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadValid(t)
			tt.mutate(cfg)
			assert.Error(t, cfg.ValidateAPIConfig())
		})
	}
}

func TestValidateReconcilerConfig(t *testing.T) {
	cfg := loadValid(t)
	assert.NoError(t, cfg.ValidateReconcilerConfig())
}

func TestValidateReconcilerConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing app name", func(c *Config) { c.Feed.AppName = "" }},
		{"no feed hosts", func(c *Config) { c.Feed.Hosts = nil }},
		{"empty feed host", func(c *Config) { c.Feed.Hosts[0].Host = "" }},
		{"invalid feed port", func(c *Config) { c.Feed.Hosts[0].Port = 0 }},
		{"negative poll interval", func(c *Config) { c.Reconciler.PollInterval = -time.Second }},
		{"negative cache interval", func(c *Config) { c.Reconciler.CacheUpdateInterval = -time.Second }},
		{"missing database host", func(c *Config) { c.Database.Host = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadValid(t)
			tt.mutate(cfg)
			assert.Error(t, cfg.ValidateReconcilerConfig())
		})
	}
}

func TestValidateReconcilerConfigIgnoresServerPort(t *testing.T) {
	cfg := loadValid(t)
	cfg.Server.Port = 0

	// the reconciler runs no HTTP server; its validation must not care
	assert.NoError(t, cfg.ValidateReconcilerConfig())
}
