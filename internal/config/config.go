// Package config is the viper-backed settings layer for the repository
// update ledger: database paths, the definition-ingestion chunk size, the
// outstanding-work cache threshold, and the default processing time
// budget. Environment variables take precedence over a config file,
// which takes precedence over defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Should be called
// once at application startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("config")

	configFileSet := false

	// 1. Walk up from CWD looking for .repoledger/config.yaml, so commands
	//    work from any subdirectory of a project.
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".repoledger", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	// 2. User config directory (~/.config/repoledger/config.yaml).
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "repoledger", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// Environment variable binding: BD_LEDGER_DB, BD_LEDGER_CHUNK_SIZE, etc.
	v.SetEnvPrefix("BD_LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("db", ".repoledger/ledger.db")
	v.SetDefault("master-db", ".repoledger/ledger-master.db")
	v.SetDefault("chunk-size", 50)
	v.SetDefault("outstanding-threshold", 20)
	v.SetDefault("default-time-budget", "30s")
	v.SetDefault("catalog-path", ".repoledger/catalog.toml")
	v.SetDefault("log.path", ".repoledger/ledger.log")
	v.SetDefault("log.max-size-mb", 50)
	v.SetDefault("log.max-backups", 3)
	v.SetDefault("log.max-age-days", 28)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set overrides a configuration value, mainly for tests.
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// DBPath returns the configured main ledger database path.
func DBPath() string { return GetString("db") }

// MasterDBPath returns the configured attached-master database path.
func MasterDBPath() string { return GetString("master-db") }

// ChunkSize returns the configured definition-ingestion chunk size.
func ChunkSize() int { return GetInt("chunk-size") }

// OutstandingThreshold returns the configured outstanding-work cache
// threshold.
func OutstandingThreshold() int { return GetInt("outstanding-threshold") }

// DefaultTimeBudget returns the configured default processing time
// budget for chunked ingestion.
func DefaultTimeBudget() time.Duration { return GetDuration("default-time-budget") }

// CatalogPath returns the configured content-type catalog file path.
func CatalogPath() string { return GetString("catalog-path") }
