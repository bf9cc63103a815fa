package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/axion/axion"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	suite.tempDir = suite.T().TempDir()
	require.NoError(suite.T(), os.Chdir(suite.tempDir))
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		os.Chdir(suite.origDir)
	}
}

func (suite *ConfigTestSuite) writeConfig(content string) string {
	path := filepath.Join(suite.tempDir, "config.yaml")
	require.NoError(suite.T(), os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	cfg, err := LoadConfig("")

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), internal.DefaultAppName, cfg.App.Name)
	assert.Equal(suite.T(), internal.DefaultCacheDir, cfg.App.CacheDir)
	assert.Equal(suite.T(), "info", cfg.Log.Level)

	assert.Equal(suite.T(), 100, cfg.Cache.Generation.Capacity)
	assert.Equal(suite.T(), time.Duration(0), cfg.Cache.Generation.TTL())
	assert.Equal(suite.T(), 1000, cfg.Cache.Embedding.Capacity)
	assert.Equal(suite.T(), time.Hour, cfg.Cache.Planner.TTL())
	assert.Equal(suite.T(), 100, cfg.Cache.Debug.Capacity)

	assert.Equal(suite.T(), "file", cfg.Persistence.Backend)
	assert.Equal(suite.T(), internal.DefaultSnapshotDir, cfg.Persistence.Dir)
	assert.Equal(suite.T(), 10, cfg.Persistence.FlushEveryInserts)
	assert.Equal(suite.T(), 30*time.Second, cfg.Persistence.FlushInterval)
	assert.True(suite.T(), cfg.Persistence.AtomicWrites)

	assert.Equal(suite.T(), 384, cfg.Embedding.Dims)
	assert.Equal(suite.T(), 512, cfg.Generation.MaxInputTokens)
	assert.Equal(suite.T(), 2, cfg.Offload.Workers)
	assert.Equal(suite.T(), DefaultPlannerSystemPrompt, cfg.Agents.PlannerSystemPrompt)
	assert.Equal(suite.T(), 5, cfg.Memory.DefaultLimit)
}

func (suite *ConfigTestSuite) TestLoadConfigWithFile() {
	path := suite.writeConfig(`
log:
  level: debug
cache:
  generation:
    capacity: 7
    ttl_seconds: 60
persistence:
  backend: sqlite
  database_path: ./snapshots.db
  flush_every_inserts: 0
  flush_interval: 5s
offload:
  workers: 4
`)

	cfg, err := LoadConfig(path)
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), "debug", cfg.Log.Level)
	assert.Equal(suite.T(), 7, cfg.Cache.Generation.Capacity)
	assert.Equal(suite.T(), time.Minute, cfg.Cache.Generation.TTL())
	assert.Equal(suite.T(), "sqlite", cfg.Persistence.Backend)
	assert.Equal(suite.T(), "./snapshots.db", cfg.Persistence.DatabasePath)
	assert.Equal(suite.T(), 0, cfg.Persistence.FlushEveryInserts)
	assert.Equal(suite.T(), 5*time.Second, cfg.Persistence.FlushInterval)
	assert.Equal(suite.T(), 4, cfg.Offload.Workers)

	// Untouched sections keep their defaults.
	assert.Equal(suite.T(), 1000, cfg.Cache.Embedding.Capacity)
}

func (suite *ConfigTestSuite) TestLoadConfigFromWorkingDirectory() {
	suite.writeConfig(`
cache:
  embedding:
    capacity: 0
`)

	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 0, cfg.Cache.Embedding.Capacity)
}

func (suite *ConfigTestSuite) TestLoadConfigEnvOverride() {
	suite.T().Setenv("AXION_OFFLOAD_WORKERS", "8")
	suite.T().Setenv("AXION_CACHE_GENERATION_CAPACITY", "3")

	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 8, cfg.Offload.Workers)
	assert.Equal(suite.T(), 3, cfg.Cache.Generation.Capacity)
}

func (suite *ConfigTestSuite) TestLoadConfigInvalidFile() {
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigMalformedFile() {
	path := suite.writeConfig(`
cache:
  generation:
    capacity: [unclosed
`)

	cfg, err := LoadConfig(path)
	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigRejectsInvalidValues() {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "persistence:\n  backend: s3\n"},
		{"negative capacity", "cache:\n  planner:\n    capacity: -1\n"},
		{"zero workers", "offload:\n  workers: 0\n"},
		{"unknown model backend", "generation:\n  backend: onnx\n"},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			path := suite.writeConfig(tt.content)
			_, err := LoadConfig(path)
			assert.Error(suite.T(), err)
		})
	}
}
