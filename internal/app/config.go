// Package app wires the Store, Gateway, and LLM stages into a runnable
// Scheduler from a single Config, generalizing the teacher's internal/app
// (flags + env + optional YAML file, explicit-wins precedence) from a
// one-shot research run into watchdog's recurring ingestion service.
package app

import (
	"errors"
	"time"
)

// Config is watchdog's full set of runtime knobs (§6's "Configuration"
// list), loaded with the teacher's precedence rule: explicit flags win over
// environment, which wins over an optional YAML file's defaults.
type Config struct {
	DatabasePath   string
	StorageBackend string

	LLMBaseURL           string
	LLMModel             string
	LLMAPIKey            string
	LLMMonthlyBudgetEUR  float64

	TickIntervalSeconds int
	RateLimitPerHostRPS float64
	ContactEmail        string
	LogLevel            string
	FilesDir            string

	// StrictFilePerms tightens the HTTP listing-page cache and LLM response
	// cache to 0700 directories / 0600 files, for deployments where the
	// fetched municipal documents and cached model responses share a host
	// with other tenants.
	StrictFilePerms bool

	// CacheMaxAge bounds how long an HTTP listing-page or LLM response
	// cache entry may sit unused before the Scheduler prunes it after a
	// tick. Zero disables pruning.
	CacheMaxAge time.Duration

	// HTTPCacheMaxBytes and LLMCacheMaxCount cap the on-disk size of the
	// two caches regardless of age, evicting least-recently-used entries
	// first. Non-positive disables that dimension.
	HTTPCacheMaxBytes int64
	LLMCacheMaxCount  int

	MonitoredBodies []string
}

// ErrMissingLLMModel is returned by ValidateConfig when no model is
// configured for a non-dry-run invocation.
var ErrMissingLLMModel = errors.New("config: llm model is required (set LLM_MODEL)")

// ErrMissingDatabasePath is returned by ValidateConfig when DatabasePath is
// empty after defaults, env, and file config have all been applied.
var ErrMissingDatabasePath = errors.New("config: database path is required")

// DefaultConfig returns §6's stated defaults before env/file overlays.
func DefaultConfig() Config {
	return Config{
		DatabasePath:        "./data/watchdog.db",
		StorageBackend:      "local",
		LLMMonthlyBudgetEUR: 10,
		TickIntervalSeconds: 900,
		RateLimitPerHostRPS: 1,
		LogLevel:            "info",
		FilesDir:            "./data/files",
		CacheMaxAge:         30 * 24 * time.Hour,
		HTTPCacheMaxBytes:   512 * 1024 * 1024,
		LLMCacheMaxCount:    20_000,
	}
}

// ValidateConfig performs the minimal schema validation §6's exit code 2
// ("configuration error") depends on.
func ValidateConfig(cfg Config) error {
	if trim(cfg.DatabasePath) == "" {
		return ErrMissingDatabasePath
	}
	if trim(cfg.LLMModel) == "" {
		return ErrMissingLLMModel
	}
	if cfg.TickIntervalSeconds <= 0 {
		return errors.New("config: tick interval must be positive")
	}
	if cfg.LLMMonthlyBudgetEUR < 0 {
		return errors.New("config: llm monthly budget must not be negative")
	}
	return nil
}

func trim(s string) string {
	i, j := 0, len(s)
	for i < j && isSpace(s[i]) {
		i++
	}
	for j > i && isSpace(s[j-1]) {
		j--
	}
	return s[i:j]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
