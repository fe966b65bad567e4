package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paveg/distjoin/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DefaultValues(t *testing.T) {
	cfg := config.NewConfig()

	assert.Equal(t, 1000, cfg.ParallelThreshold)
	assert.Equal(t, 0, cfg.WorkerPoolSize) // 0 means auto-detect
	assert.Equal(t, 0, cfg.ChunkSize)      // 0 means auto-calculate
	assert.Equal(t, 16, cfg.MaxParallelism)
	assert.Equal(t, int64(0), cfg.MemoryThreshold)
	assert.Equal(t, config.CompressionNone, cfg.Compression)
	assert.Equal(t, time.Duration(0), cfg.ExchangeTimeout)
	assert.Equal(t, 64, cfg.MaxFixpointIterations)
	assert.Equal(t, "_right", cfg.RightSuffix)
	assert.False(t, cfg.VerboseLogging)
	assert.False(t, cfg.MetricsCollection)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validation(t *testing.T) {
	valid := func() config.Config {
		return config.Config{
			ParallelThreshold:     500,
			WorkerPoolSize:        4,
			ChunkSize:             100,
			MaxParallelism:        8,
			Compression:           config.CompressionLZ4,
			MaxFixpointIterations: 10,
			RightSuffix:           "_r",
		}
	}

	tests := []struct {
		name          string
		mutate        func(c *config.Config)
		expectedError string
	}{
		{
			name:          "valid config",
			mutate:        func(*config.Config) {},
			expectedError: "",
		},
		{
			name:          "negative parallel threshold",
			mutate:        func(c *config.Config) { c.ParallelThreshold = -1 },
			expectedError: "ParallelThreshold must be positive, got -1",
		},
		{
			name:          "negative worker pool size",
			mutate:        func(c *config.Config) { c.WorkerPoolSize = -2 },
			expectedError: "WorkerPoolSize must be non-negative, got -2",
		},
		{
			name:          "zero max parallelism",
			mutate:        func(c *config.Config) { c.MaxParallelism = 0 },
			expectedError: "MaxParallelism must be positive, got 0",
		},
		{
			name:          "unknown codec",
			mutate:        func(c *config.Config) { c.Compression = "snappy" },
			expectedError: `Compression must be one of none, lz4, zstd, got "snappy"`,
		},
		{
			name:          "negative timeout",
			mutate:        func(c *config.Config) { c.ExchangeTimeout = -time.Second },
			expectedError: "ExchangeTimeout must be non-negative, got -1s",
		},
		{
			name:          "no fixpoint budget",
			mutate:        func(c *config.Config) { c.MaxFixpointIterations = 0 },
			expectedError: "MaxFixpointIterations must be positive, got 0",
		},
		{
			name:          "empty suffix",
			mutate:        func(c *config.Config) { c.RightSuffix = "" },
			expectedError: "RightSuffix must not be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.expectedError == "" {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, tt.expectedError)
			}
		})
	}
}

func TestConfig_LoadFromJSON(t *testing.T) {
	jsonData := `{
		"parallel_threshold": 2000,
		"worker_pool_size": 8,
		"chunk_size": 1000,
		"memory_threshold": 1073741824,
		"compression": "zstd",
		"hash_seed": 42
	}`

	cfg, err := config.LoadFromJSON([]byte(jsonData))
	require.NoError(t, err)

	assert.Equal(t, 2000, cfg.ParallelThreshold)
	assert.Equal(t, 8, cfg.WorkerPoolSize)
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, int64(1073741824), cfg.MemoryThreshold)
	assert.Equal(t, config.CompressionZSTD, cfg.Compression)
	assert.Equal(t, uint64(42), cfg.HashSeed)
	assert.Equal(t, "_right", cfg.RightSuffix, "filled by WithDefaults")
}

func TestConfig_InvalidJSON(t *testing.T) {
	_, err := config.LoadFromJSON([]byte(`{"parallel_threshold": "many"`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing JSON configuration")
}

func TestConfig_LoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"parallel_threshold": 1500,
		"worker_pool_size": 4,
		"verbose_logging": true
	}`), 0o600))

	cfg, err := config.LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 1500, cfg.ParallelThreshold)
	assert.Equal(t, 4, cfg.WorkerPoolSize)
	assert.True(t, cfg.VerboseLogging)
}

func TestConfig_LoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
parallel_threshold: 2000
worker_pool_size: 8
compression: lz4
exchange_timeout: 5s
right_suffix: _other
metrics_collection: true
`), 0o600))

	cfg, err := config.LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 2000, cfg.ParallelThreshold)
	assert.Equal(t, 8, cfg.WorkerPoolSize)
	assert.Equal(t, config.CompressionLZ4, cfg.Compression)
	assert.Equal(t, 5*time.Second, cfg.ExchangeTimeout)
	assert.Equal(t, "_other", cfg.RightSuffix)
	assert.True(t, cfg.MetricsCollection)
}

func TestConfig_UnsupportedFileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("parallel_threshold = 1"), 0o600))

	_, err := config.LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config file format: .toml")
}

func TestConfig_LoadFromNonExistentFile(t *testing.T) {
	_, err := config.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("DISTJOIN_PARALLEL_THRESHOLD", "3000")
	t.Setenv("DISTJOIN_WORKER_POOL_SIZE", "12")
	t.Setenv("DISTJOIN_COMPRESSION", "LZ4")
	t.Setenv("DISTJOIN_EXCHANGE_TIMEOUT", "250ms")
	t.Setenv("DISTJOIN_HASH_SEED", "7")
	t.Setenv("DISTJOIN_VERBOSE_LOGGING", "true")
	t.Setenv("DISTJOIN_MAX_FIXPOINT_ITERATIONS", "not-a-number")

	cfg := config.LoadFromEnv()

	assert.Equal(t, 3000, cfg.ParallelThreshold)
	assert.Equal(t, 12, cfg.WorkerPoolSize)
	assert.Equal(t, config.CompressionLZ4, cfg.Compression)
	assert.Equal(t, 250*time.Millisecond, cfg.ExchangeTimeout)
	assert.Equal(t, uint64(7), cfg.HashSeed)
	assert.True(t, cfg.VerboseLogging)
	assert.Equal(t, config.DefaultMaxFixpointIterations, cfg.MaxFixpointIterations, "unparsable values are ignored")
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := config.Config{
		ParallelThreshold: 2000,
	}

	withDefaults := cfg.WithDefaults()

	assert.Equal(t, 2000, withDefaults.ParallelThreshold) // Should preserve set value
	assert.Equal(t, 0, withDefaults.WorkerPoolSize)       // 0 means auto-detect
	assert.Equal(t, 16, withDefaults.MaxParallelism)
	assert.Equal(t, config.CompressionNone, withDefaults.Compression)
	assert.False(t, withDefaults.VerboseLogging)
	require.NoError(t, withDefaults.Validate())
}

func TestConfig_EffectiveSizes(t *testing.T) {
	cfg := config.NewConfig()
	cfg.WorkerPoolSize = 32
	cfg.MaxParallelism = 4
	assert.Equal(t, 4, cfg.EffectiveWorkers())
	assert.Equal(t, 250, cfg.EffectiveChunkSize(1000))
	assert.Equal(t, 1, cfg.EffectiveChunkSize(0))

	cfg.ChunkSize = 64
	assert.Equal(t, 64, cfg.EffectiveChunkSize(1000))
}

func TestGlobalConfig_SetAndGet(t *testing.T) {
	original := config.GetGlobalConfig()
	defer config.SetGlobalConfig(original)

	updated := config.NewConfig()
	updated.ParallelThreshold = 5000
	config.SetGlobalConfig(updated)

	assert.Equal(t, 5000, config.GetGlobalConfig().ParallelThreshold)
}

func TestConfig_ValidationRecommendations(t *testing.T) {
	validator := config.NewConfigValidator()

	cfg := config.NewConfig()
	validated, warnings, err := validator.Validate(cfg, 4)
	require.NoError(t, err)
	assert.NotEmpty(t, warnings)
	assert.Positive(t, validated.WorkerPoolSize)

	_, _, err = validator.Validate(cfg, 0)
	require.Error(t, err)

	cfg.MemoryThreshold = 1 << 62
	_, _, err = validator.Validate(cfg, 2)
	require.Error(t, err)
}

func TestConfig_SystemInfo(t *testing.T) {
	info := config.GetSystemInfo()
	assert.Positive(t, info.CPUCount)
	assert.NotEmpty(t, info.Architecture)
	assert.NotEmpty(t, info.OSType)
}
