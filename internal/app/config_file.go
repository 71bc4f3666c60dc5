package app

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// FileConfig is the optional YAML config file schema named in §6, nested
// the same way the teacher's FileConfig groups related settings.
type FileConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`

	Storage struct {
		Backend string `yaml:"backend"`
	} `yaml:"storage"`

	LLM struct {
		BaseURL         string  `yaml:"base"`
		Model           string  `yaml:"model"`
		APIKey          string  `yaml:"key"`
		MonthlyBudgetEUR float64 `yaml:"monthlyBudgetEUR"`
	} `yaml:"llm"`

	Scheduler struct {
		TickIntervalSeconds int `yaml:"tickIntervalSeconds"`
	} `yaml:"scheduler"`

	RateLimit struct {
		PerHostRPS float64 `yaml:"perHostRPS"`
	} `yaml:"rateLimit"`

	ContactEmail      string   `yaml:"contactEmail"`
	LogLevel          string   `yaml:"logLevel"`
	FilesDir          string   `yaml:"filesDir"`
	StrictFilePerms   bool     `yaml:"strictFilePerms"`
	CacheMaxAgeHours  int      `yaml:"cacheMaxAgeHours"`
	HTTPCacheMaxBytes int64    `yaml:"httpCacheMaxBytes"`
	LLMCacheMaxCount  int      `yaml:"llmCacheMaxCount"`
	MonitoredBodies   []string `yaml:"monitoredBodies"`
}

// LoadConfigFile reads a YAML config file into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("parse yaml config: %w", err)
	}
	return fc, nil
}

// ApplyFileConfig overlays fc into cfg for any field still at its zero
// value, so file config supplies defaults while flags and env (already
// applied before this call) keep precedence.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	if cfg.DatabasePath == "" && fc.Database.URL != "" {
		cfg.DatabasePath = fc.Database.URL
	}
	if cfg.StorageBackend == "" && fc.Storage.Backend != "" {
		cfg.StorageBackend = fc.Storage.Backend
	}
	if cfg.LLMBaseURL == "" && fc.LLM.BaseURL != "" {
		cfg.LLMBaseURL = fc.LLM.BaseURL
	}
	if cfg.LLMModel == "" && fc.LLM.Model != "" {
		cfg.LLMModel = fc.LLM.Model
	}
	if cfg.LLMAPIKey == "" && fc.LLM.APIKey != "" {
		cfg.LLMAPIKey = fc.LLM.APIKey
	}
	if cfg.LLMMonthlyBudgetEUR == 0 && fc.LLM.MonthlyBudgetEUR > 0 {
		cfg.LLMMonthlyBudgetEUR = fc.LLM.MonthlyBudgetEUR
	}
	if cfg.TickIntervalSeconds == 0 && fc.Scheduler.TickIntervalSeconds > 0 {
		cfg.TickIntervalSeconds = fc.Scheduler.TickIntervalSeconds
	}
	if cfg.RateLimitPerHostRPS == 0 && fc.RateLimit.PerHostRPS > 0 {
		cfg.RateLimitPerHostRPS = fc.RateLimit.PerHostRPS
	}
	if cfg.ContactEmail == "" && fc.ContactEmail != "" {
		cfg.ContactEmail = fc.ContactEmail
	}
	if cfg.LogLevel == "" && fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if cfg.FilesDir == "" && fc.FilesDir != "" {
		cfg.FilesDir = fc.FilesDir
	}
	if !cfg.StrictFilePerms && fc.StrictFilePerms {
		cfg.StrictFilePerms = fc.StrictFilePerms
	}
	if cfg.CacheMaxAge == 0 && fc.CacheMaxAgeHours > 0 {
		cfg.CacheMaxAge = time.Duration(fc.CacheMaxAgeHours) * time.Hour
	}
	if cfg.HTTPCacheMaxBytes == 0 && fc.HTTPCacheMaxBytes > 0 {
		cfg.HTTPCacheMaxBytes = fc.HTTPCacheMaxBytes
	}
	if cfg.LLMCacheMaxCount == 0 && fc.LLMCacheMaxCount > 0 {
		cfg.LLMCacheMaxCount = fc.LLMCacheMaxCount
	}
	if len(cfg.MonitoredBodies) == 0 && len(fc.MonitoredBodies) > 0 {
		cfg.MonitoredBodies = append([]string{}, fc.MonitoredBodies...)
	}
}
