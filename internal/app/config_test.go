package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigPrecedence_FlagsBeatEnvBeatFileBeatDefaults(t *testing.T) {
	t.Setenv("TICK_INTERVAL_SECONDS", "120")
	t.Setenv("LOG_LEVEL", "warn")

	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "watchdog.yaml")
	if err := os.WriteFile(yamlPath, []byte("logLevel: debug\nllm:\n  model: file-model\n"), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	// Flag-equivalent: LLMModel set explicitly, the rest left zero so env and
	// the file config can fill in.
	cfg := Config{LLMModel: "flag-model"}
	ApplyEnvToConfig(&cfg)
	fc, err := LoadConfigFile(yamlPath)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	ApplyFileConfig(&cfg, fc)
	applyDefaultsForTest(&cfg, DefaultConfig())

	if cfg.LLMModel != "flag-model" {
		t.Fatalf("expected the explicit flag value to win, got %q", cfg.LLMModel)
	}
	if cfg.TickIntervalSeconds != 120 {
		t.Fatalf("expected env to win over file/defaults, got %d", cfg.TickIntervalSeconds)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected env LOG_LEVEL to beat the file's logLevel, got %q", cfg.LogLevel)
	}
	if cfg.DatabasePath != DefaultConfig().DatabasePath {
		t.Fatalf("expected an untouched field to fall through to defaults, got %q", cfg.DatabasePath)
	}
}

func TestConfigPrecedence_FileFillsWhatEnvLeavesEmpty(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "watchdog.yaml")
	if err := os.WriteFile(yamlPath, []byte("llm:\n  model: file-model\n  base: https://file.example\n"), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg := Config{}
	ApplyEnvToConfig(&cfg)
	fc, err := LoadConfigFile(yamlPath)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	ApplyFileConfig(&cfg, fc)
	applyDefaultsForTest(&cfg, DefaultConfig())

	if cfg.LLMModel != "file-model" || cfg.LLMBaseURL != "https://file.example" {
		t.Fatalf("expected file config to fill unset fields, got %+v", cfg)
	}
}

func TestConfigEnv_StrictFilePermsAndCacheMaxAge(t *testing.T) {
	t.Setenv("STRICT_FILE_PERMS", "true")
	t.Setenv("CACHE_MAX_AGE_HOURS", "48")

	cfg := Config{}
	ApplyEnvToConfig(&cfg)

	if !cfg.StrictFilePerms {
		t.Fatal("expected STRICT_FILE_PERMS=true to set StrictFilePerms")
	}
	if cfg.CacheMaxAge != 48*time.Hour {
		t.Fatalf("expected CACHE_MAX_AGE_HOURS=48 to set a 48h CacheMaxAge, got %v", cfg.CacheMaxAge)
	}
}

func TestValidateConfig_RequiresModelAndDatabasePath(t *testing.T) {
	cfg := DefaultConfig()
	if err := ValidateConfig(cfg); err != ErrMissingLLMModel {
		t.Fatalf("expected ErrMissingLLMModel with no model set, got %v", err)
	}

	cfg.LLMModel = "gpt-4o-mini"
	cfg.DatabasePath = ""
	if err := ValidateConfig(cfg); err != ErrMissingDatabasePath {
		t.Fatalf("expected ErrMissingDatabasePath, got %v", err)
	}

	cfg.DatabasePath = "./data/watchdog.db"
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("expected a fully populated config to validate, got %v", err)
	}
}

// applyDefaultsForTest mirrors cmd/watchdog's unexported applyDefaults: the
// config package itself never applies defaults early, so tests exercising
// the full precedence chain fill the gap the same way main() does.
func applyDefaultsForTest(cfg *Config, defaults Config) {
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = defaults.DatabasePath
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = defaults.StorageBackend
	}
	if cfg.LLMMonthlyBudgetEUR == 0 {
		cfg.LLMMonthlyBudgetEUR = defaults.LLMMonthlyBudgetEUR
	}
	if cfg.TickIntervalSeconds == 0 {
		cfg.TickIntervalSeconds = defaults.TickIntervalSeconds
	}
	if cfg.RateLimitPerHostRPS == 0 {
		cfg.RateLimitPerHostRPS = defaults.RateLimitPerHostRPS
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.FilesDir == "" {
		cfg.FilesDir = defaults.FilesDir
	}
}
