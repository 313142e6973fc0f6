package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	content := `
store:
  host: localhost
  type: postgres
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := Load(configFile)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "100,50,25", cfg.Compaction.LevelSizes)
	assert.Equal(t, int64(500), cfg.Scheduler.ChunkSize)
	assert.Equal(t, 2, cfg.Scheduler.PollInterval)
	assert.True(t, cfg.OneShot.Transactions)
}

func TestLoad_CustomValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	content := `
store:
  type: postgres
  host: db.example.com
  port: 5432
  database: synapse
  user: admin
  password: secret
compaction:
  room_id: "!abc:example.org"
  level_sizes: "1000,100"
scheduler:
  chunk_size: 1000
  number_of_chunks: 50
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, "db.example.com", cfg.Store.Host)
	assert.Equal(t, 5432, cfg.Store.Port)
	assert.Equal(t, "synapse", cfg.Store.Database)
	assert.Equal(t, "!abc:example.org", cfg.Compaction.RoomID)
	assert.Equal(t, "1000,100", cfg.Compaction.LevelSizes)
	assert.Equal(t, int64(1000), cfg.Scheduler.ChunkSize)
	assert.Equal(t, int64(50), cfg.Scheduler.NumberOfChunks)
}

func TestLoad_InvalidStoreType(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	content := `
store:
  type: oracle
  host: localhost
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	_, err = Load(configFile)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store type")
}

func TestValidate_EmptyHost(t *testing.T) {
	cfg := &Config{
		Store:     StoreConfig{Type: "postgres", Host: ""},
		Scheduler: SchedulerConfig{ChunkSize: 500},
	}

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store host is required")
}

func TestValidate_InvalidChunkSize(t *testing.T) {
	cfg := &Config{
		Store:     StoreConfig{Type: "postgres", Host: "localhost"},
		Scheduler: SchedulerConfig{ChunkSize: 0},
	}

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "chunk size must be at least 1")
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestLoadFromReader(t *testing.T) {
	content := []byte(`
store:
  type: mysql
  host: mysql.local
`)
	cfg, err := LoadFromReader("yaml", content)
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Store.Type)
	assert.Equal(t, "mysql.local", cfg.Store.Host)
}
