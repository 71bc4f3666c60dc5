package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvToConfig fills unset fields of cfg from the environment variables
// named in §6. Explicit cfg values (already set by flags) take precedence,
// mirroring the teacher's ApplyEnvToConfig.
func ApplyEnvToConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	if v := os.Getenv("DATABASE_URL"); v != "" && cfg.DatabasePath == "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" && cfg.StorageBackend == "" {
		cfg.StorageBackend = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" && cfg.LLMBaseURL == "" {
		cfg.LLMBaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" && cfg.LLMModel == "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" && cfg.LLMAPIKey == "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("LLM_MONTHLY_BUDGET_EUR"); v != "" && cfg.LLMMonthlyBudgetEUR == 0 {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.LLMMonthlyBudgetEUR = f
		}
	}
	if v := os.Getenv("TICK_INTERVAL_SECONDS"); v != "" && cfg.TickIntervalSeconds == 0 {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TickIntervalSeconds = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_PER_HOST_RPS"); v != "" && cfg.RateLimitPerHostRPS == 0 {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RateLimitPerHostRPS = f
		}
	}
	if v := os.Getenv("CONTACT_EMAIL"); v != "" && cfg.ContactEmail == "" {
		cfg.ContactEmail = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" && cfg.LogLevel == "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STRICT_FILE_PERMS"); v != "" && !cfg.StrictFilePerms {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.StrictFilePerms = b
		}
	}
	if v := os.Getenv("CACHE_MAX_AGE_HOURS"); v != "" && cfg.CacheMaxAge == 0 {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxAge = time.Duration(n) * time.Hour
		}
	}
	if v := os.Getenv("HTTP_CACHE_MAX_BYTES"); v != "" && cfg.HTTPCacheMaxBytes == 0 {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.HTTPCacheMaxBytes = n
		}
	}
	if v := os.Getenv("LLM_CACHE_MAX_COUNT"); v != "" && cfg.LLMCacheMaxCount == 0 {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LLMCacheMaxCount = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MONITORED_BODIES")); v != "" && len(cfg.MonitoredBodies) == 0 {
		for _, body := range strings.Split(v, ",") {
			if b := strings.TrimSpace(body); b != "" {
				cfg.MonitoredBodies = append(cfg.MonitoredBodies, b)
			}
		}
	}
}
