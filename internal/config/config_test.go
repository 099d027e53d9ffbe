package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillframe/ragcore/internal/rag"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 30*time.Second, c.Provider.EmbedTimeout)
	assert.Equal(t, 60*time.Second, c.Provider.GenerateTimeout)
	assert.Equal(t, 3, c.Embedding.MaxRetries)
	assert.Equal(t, 5, c.Embedding.MaxConcurrentRequests)
	assert.Equal(t, 30*time.Minute, c.Embedding.CacheDuration)

	sc := c.SessionConfig()
	assert.Equal(t, 15*time.Minute, sc.SessionTTL)
	assert.Equal(t, 2, sc.MaxDocuments)
	assert.Equal(t, 100*1024, sc.MaxFileSizeBytes)
	assert.Equal(t, 512, sc.ChunkSize)
	assert.Equal(t, 50, sc.ChunkOverlap)
	assert.Equal(t, 5, sc.TopK)
	assert.InDelta(t, 0.3, float64(sc.MinSimilarityScore), 1e-6)
	assert.Equal(t, rag.StrategyDirect, sc.DefaultStrategy)
	assert.Equal(t, rag.ChunkFixedSize, sc.DefaultChunkingStrategy)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ragcore.yaml")
	data := []byte(`
server:
  port: 9999
session:
  ttl: 5m
  max_documents: 7
  default_strategy: query_expansion
provider:
  base_url: http://provider:9000
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	t.Setenv("CONFIG_PATH", path)

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, c.Server.Port)
	assert.Equal(t, "http://provider:9000", c.Provider.BaseURL)

	sc := c.SessionConfig()
	assert.Equal(t, 5*time.Minute, sc.SessionTTL)
	assert.Equal(t, 7, sc.MaxDocuments)
	assert.Equal(t, rag.StrategyQueryExpansion, sc.DefaultStrategy)
}

func TestLoadMissingFileFails(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestInvalidStrategyFallsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ragcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session:\n  default_strategy: bogus\n"), 0o600))
	t.Setenv("CONFIG_PATH", path)

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, rag.StrategyDirect, c.SessionConfig().DefaultStrategy)
}
