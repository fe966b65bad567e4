// Package config provides configuration management for distributed join execution
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Compression codecs accepted for exchanged segments.
const (
	CompressionNone = "none"
	CompressionLZ4  = "lz4"
	CompressionZSTD = "zstd"
)

// Config represents the global configuration for join compilation and execution
type Config struct {
	// Local Join Configuration
	ParallelThreshold int `json:"parallel_threshold" yaml:"parallel_threshold"` // Minimum probe rows to trigger a parallel probe
	WorkerPoolSize    int `json:"worker_pool_size" yaml:"worker_pool_size"`     // Number of probe goroutines (0 = auto-detect)
	ChunkSize         int `json:"chunk_size" yaml:"chunk_size"`                 // Probe rows per chunk (0 = auto-calculate)
	MaxParallelism    int `json:"max_parallelism" yaml:"max_parallelism"`       // Upper bound on probe goroutines

	// Memory Management Configuration
	MemoryThreshold int64 `json:"memory_threshold" yaml:"memory_threshold"` // Buffer handle budget in bytes (0 = unlimited)

	// Exchange Configuration
	Compression     string        `json:"compression" yaml:"compression"`           // Segment codec: none, lz4 or zstd
	ExchangeTimeout time.Duration `json:"exchange_timeout" yaml:"exchange_timeout"` // Per-collective timeout (0 = wait forever)
	HashSeed        uint64        `json:"hash_seed" yaml:"hash_seed"`               // Seed of the row-ownership hash

	// Compiler Configuration
	MaxFixpointIterations int    `json:"max_fixpoint_iterations" yaml:"max_fixpoint_iterations"` // Bound on distribution analysis rounds
	RightSuffix           string `json:"right_suffix" yaml:"right_suffix"`                       // Suffix for colliding right-side columns

	// Debugging Configuration
	VerboseLogging    bool `json:"verbose_logging" yaml:"verbose_logging"`       // Enable development logging
	MetricsCollection bool `json:"metrics_collection" yaml:"metrics_collection"` // Enable metrics collection
}

// SystemInfo contains system information for configuration validation
type SystemInfo struct {
	CPUCount     int
	MemorySize   int64
	Architecture string
	OSType       string
}

// ConfigValidator validates and provides recommendations for configuration
type ConfigValidator struct {
	systemInfo SystemInfo
}

// Global configuration instance
var (
	globalConfig Config
	configMutex  sync.RWMutex
)

// Default configuration values
const (
	DefaultParallelThreshold     = 1000
	DefaultMaxParallelism        = 16
	DefaultMaxFixpointIterations = 64
	DefaultRightSuffix           = "_right"
	DefaultCompression           = CompressionNone
)

// Initialize global configuration with defaults
func init() {
	globalConfig = NewConfig()
}

// NewConfig creates a new configuration with default values
func NewConfig() Config {
	return Config{
		ParallelThreshold: DefaultParallelThreshold,
		WorkerPoolSize:    0, // Auto-detect
		ChunkSize:         0, // Auto-calculate
		MaxParallelism:    DefaultMaxParallelism,

		MemoryThreshold: 0, // Unlimited

		Compression:     DefaultCompression,
		ExchangeTimeout: 0,
		HashSeed:        0,

		MaxFixpointIterations: DefaultMaxFixpointIterations,
		RightSuffix:           DefaultRightSuffix,

		VerboseLogging:    false,
		MetricsCollection: false,
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.ParallelThreshold <= 0 {
		return fmt.Errorf("ParallelThreshold must be positive, got %d", c.ParallelThreshold)
	}

	if c.WorkerPoolSize < 0 {
		return fmt.Errorf("WorkerPoolSize must be non-negative, got %d", c.WorkerPoolSize)
	}

	if c.ChunkSize < 0 {
		return fmt.Errorf("ChunkSize must be non-negative, got %d", c.ChunkSize)
	}

	if c.MaxParallelism <= 0 {
		return fmt.Errorf("MaxParallelism must be positive, got %d", c.MaxParallelism)
	}

	if c.MemoryThreshold < 0 {
		return fmt.Errorf("MemoryThreshold must be non-negative, got %d", c.MemoryThreshold)
	}

	switch c.Compression {
	case CompressionNone, CompressionLZ4, CompressionZSTD:
	default:
		return fmt.Errorf("Compression must be one of none, lz4, zstd, got %q", c.Compression)
	}

	if c.ExchangeTimeout < 0 {
		return fmt.Errorf("ExchangeTimeout must be non-negative, got %s", c.ExchangeTimeout)
	}

	if c.MaxFixpointIterations <= 0 {
		return fmt.Errorf("MaxFixpointIterations must be positive, got %d", c.MaxFixpointIterations)
	}

	if c.RightSuffix == "" {
		return fmt.Errorf("RightSuffix must not be empty")
	}

	return nil
}

// WithDefaults returns a new configuration with default values filled in for zero values
func (c Config) WithDefaults() Config {
	defaults := NewConfig()

	if c.ParallelThreshold == 0 {
		c.ParallelThreshold = defaults.ParallelThreshold
	}
	if c.MaxParallelism == 0 {
		c.MaxParallelism = defaults.MaxParallelism
	}
	if c.Compression == "" {
		c.Compression = defaults.Compression
	}
	if c.MaxFixpointIterations == 0 {
		c.MaxFixpointIterations = defaults.MaxFixpointIterations
	}
	if c.RightSuffix == "" {
		c.RightSuffix = defaults.RightSuffix
	}

	// Boolean fields are not defaulted so an explicit false survives.
	return c
}

// EffectiveWorkers returns the number of probe goroutines to use.
func (c Config) EffectiveWorkers() int {
	n := c.WorkerPoolSize
	if n == 0 {
		n = runtime.NumCPU()
	}
	if n > c.MaxParallelism && c.MaxParallelism > 0 {
		n = c.MaxParallelism
	}
	return n
}

// EffectiveChunkSize returns the probe chunk size for rows probe rows.
func (c Config) EffectiveChunkSize(rows int) int {
	if c.ChunkSize > 0 {
		return c.ChunkSize
	}
	workers := c.EffectiveWorkers()
	chunk := (rows + workers - 1) / workers
	if chunk < 1 {
		chunk = 1
	}
	return chunk
}

// SetGlobalConfig sets the global configuration
func SetGlobalConfig(config Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	globalConfig = config
}

// GetGlobalConfig returns the current global configuration
func GetGlobalConfig() Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return globalConfig
}

// LoadFromJSON loads configuration from JSON data
func LoadFromJSON(data []byte) (Config, error) {
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing JSON configuration: %w", err)
	}
	return config.WithDefaults(), nil
}

// LoadFromFile loads configuration from a JSON or YAML file
func LoadFromFile(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %s: %w", filename, err)
	}

	var config Config
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".json":
		err = json.Unmarshal(data, &config)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		return Config{}, fmt.Errorf("unsupported config file format: %s", ext)
	}

	if err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", filename, err)
	}

	return config.WithDefaults(), nil
}

// LoadFromEnv loads configuration from DISTJOIN_* environment variables
func LoadFromEnv() Config {
	config := NewConfig()

	if val := os.Getenv("DISTJOIN_PARALLEL_THRESHOLD"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			config.ParallelThreshold = parsed
		}
	}

	if val := os.Getenv("DISTJOIN_WORKER_POOL_SIZE"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			config.WorkerPoolSize = parsed
		}
	}

	if val := os.Getenv("DISTJOIN_CHUNK_SIZE"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			config.ChunkSize = parsed
		}
	}

	if val := os.Getenv("DISTJOIN_MAX_PARALLELISM"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			config.MaxParallelism = parsed
		}
	}

	if val := os.Getenv("DISTJOIN_MEMORY_THRESHOLD"); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			config.MemoryThreshold = parsed
		}
	}

	if val := os.Getenv("DISTJOIN_COMPRESSION"); val != "" {
		config.Compression = strings.ToLower(val)
	}

	if val := os.Getenv("DISTJOIN_EXCHANGE_TIMEOUT"); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			config.ExchangeTimeout = parsed
		}
	}

	if val := os.Getenv("DISTJOIN_HASH_SEED"); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 64); err == nil {
			config.HashSeed = parsed
		}
	}

	if val := os.Getenv("DISTJOIN_MAX_FIXPOINT_ITERATIONS"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			config.MaxFixpointIterations = parsed
		}
	}

	if val := os.Getenv("DISTJOIN_RIGHT_SUFFIX"); val != "" {
		config.RightSuffix = val
	}

	if val := os.Getenv("DISTJOIN_VERBOSE_LOGGING"); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			config.VerboseLogging = parsed
		}
	}

	if val := os.Getenv("DISTJOIN_METRICS_COLLECTION"); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			config.MetricsCollection = parsed
		}
	}

	return config
}

// GetSystemInfo returns system information for configuration validation
func GetSystemInfo() SystemInfo {
	var memSize int64 = 8 * 1024 * 1024 * 1024 // 8GB default estimate

	return SystemInfo{
		CPUCount:     runtime.NumCPU(),
		MemorySize:   memSize,
		Architecture: runtime.GOARCH,
		OSType:       runtime.GOOS,
	}
}

// NewConfigValidator creates a new configuration validator
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{
		systemInfo: GetSystemInfo(),
	}
}

// Validate validates a configuration for a cluster of the given number of
// workers and returns warnings worth surfacing to the user
func (cv *ConfigValidator) Validate(config Config, workers int) (Config, []string, error) {
	var warnings []string
	validated := config

	if err := config.Validate(); err != nil {
		return Config{}, warnings, err
	}

	if workers <= 0 {
		return Config{}, warnings, fmt.Errorf("worker count must be positive, got %d", workers)
	}

	if config.MemoryThreshold > cv.systemInfo.MemorySize {
		return Config{}, warnings, fmt.Errorf(
			"memory threshold (%d) exceeds estimated system memory (%d)",
			config.MemoryThreshold, cv.systemInfo.MemorySize)
	}

	// Every worker runs its own probe pool in this process.
	if workers*config.EffectiveWorkers() > cv.systemInfo.CPUCount*4 {
		warnings = append(warnings,
			fmt.Sprintf("%d workers x %d probe goroutines oversubscribes %d CPUs",
				workers, config.EffectiveWorkers(), cv.systemInfo.CPUCount))
	}

	if workers > 1 && config.ExchangeTimeout == 0 {
		warnings = append(warnings, "no exchange timeout set, a stalled worker blocks every collective")
	}

	if config.WorkerPoolSize == 0 {
		validated.WorkerPoolSize = config.EffectiveWorkers()
		warnings = append(warnings,
			fmt.Sprintf("Auto-setting worker pool size to %d", validated.WorkerPoolSize))
	}

	return validated, warnings, nil
}
