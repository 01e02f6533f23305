package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, uint32(1000000), cfg.Database.WordSpaceSize)
	assert.Equal(t, "classic", cfg.Search.DefaultScoring)
	assert.Equal(t, "local", cfg.Snapshot.Backend)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlDoc := []byte(`
database:
  wordSpaceSize: 4096
  compression: lz4
  reweightInterval: 2s
search:
  defaultTopK: 5
  maxTopK: 50
`)
	require.NoError(t, os.WriteFile(path, yamlDoc, 0o644))
	t.Setenv("VT_SNAPSHOT_DIR", "/tmp/vt-snapshots")
	t.Setenv("VT_KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(4096), cfg.Database.WordSpaceSize)
	assert.Equal(t, "lz4", cfg.Database.Compression)
	assert.Equal(t, 2*time.Second, cfg.Database.ReweightInterval)
	assert.Equal(t, 5, cfg.Search.DefaultTopK)
	assert.Equal(t, "/tmp/vt-snapshots", cfg.Snapshot.Dir)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	// Untouched sections keep their defaults.
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero word space", func(c *Config) { c.Database.WordSpaceSize = 0 }},
		{"oversized word space", func(c *Config) { c.Database.WordSpaceSize = maxWordSpaceSize + 1 }},
		{"unknown compression", func(c *Config) { c.Database.Compression = "brotli" }},
		{"unknown backend", func(c *Config) { c.Snapshot.Backend = "ftp" }},
		{"minio without bucket", func(c *Config) { c.Snapshot.Backend = "minio"; c.Snapshot.Endpoint = "localhost:9000" }},
		{"topK above max", func(c *Config) { c.Search.DefaultTopK = 20; c.Search.MaxTopK = 10 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, defaultConfig().Validate())
}
