package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Load loads configuration from an optional JSON file and then applies
// environment variable overrides, mirroring the teacher's
// internal/mcpserver/config.Load (file first, env always wins).
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		fileCfg, err := loadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = fileCfg
	}

	applyEnvironmentOverrides(cfg)
	return cfg, nil
}

// LoadFromEnvironment builds configuration purely from environment
// variables, for containerized deployments without a mounted config file.
func LoadFromEnvironment() (*Config, error) {
	cfg := DefaultConfig()
	applyEnvironmentOverrides(cfg)
	return cfg, nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfigFormat, err)
	}
	return cfg, nil
}

// applyEnvironmentOverrides applies exactly the environment variables
// enumerated in spec.md §6.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("CACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxSize = n
		}
	}
	if v := os.Getenv("CACHE_MAX_MEMORY_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxMemoryMB = n
		}
	}
	if v := os.Getenv("CACHE_DEFAULT_TTL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DefaultTTL = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("CACHE_EVICTION_POLICY"); v != "" {
		cfg.Cache.EvictionPolicy = EvictionPolicy(strings.ToUpper(v))
	}
	if v := os.Getenv("CACHE_COMPRESSION"); v != "" {
		cfg.Cache.Compression = isTruthy(v)
	}
	if v := os.Getenv("CACHE_COMPRESSION_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.CompressionThreshold = n
		}
	}
	if v := os.Getenv("CACHE_PERSISTENCE"); v != "" {
		cfg.Cache.Persistence = isTruthy(v)
	}
	if v := os.Getenv("CACHE_PERSISTENCE_PATH"); v != "" {
		cfg.Cache.PersistencePath = v
	}
	if v := os.Getenv("CACHE_ADAPTIVE_TTL"); v != "" {
		cfg.Cache.AdaptiveTTL = isTruthy(v)
	}
	if v := os.Getenv("CACHE_REQUEST_COALESCING"); v != "" {
		cfg.Cache.RequestCoalescing = isTruthy(v)
	}
	if v := os.Getenv("QUEUE_PERSISTENCE_DIR"); v != "" {
		cfg.Purge.QueuePersistenceDir = v
	}
	if v := os.Getenv("STATUS_PERSISTENCE_DIR"); v != "" {
		cfg.Purge.StatusPersistenceDir = v
	}
	if v := os.Getenv("CREDENTIAL_MASTER_KEY"); v != "" {
		cfg.Credential.MasterKey = []byte(v)
	}
	if v := os.Getenv("CREDENTIAL_FILE"); v != "" {
		cfg.Credential.FilePath = v
	}
	if v := os.Getenv("DEBUG"); v != "" {
		cfg.Debug = isTruthy(v)
		if cfg.Debug && cfg.LogLevel == "info" {
			cfg.LogLevel = "debug"
		}
	}
}

func isTruthy(v string) bool {
	return v == "true" || v == "1" || v == "yes"
}
