// Command watchdog runs the municipal environmental-decision ingestion
// pipeline: a recurring Discover -> Fetch -> Extract -> Triage -> Case
// Build scheduler, or one of its one-shot CLI verbs (§6).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/watchdog/internal/app"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var (
		dbPath      string
		llmBaseURL  string
		llmModel    string
		llmKey      string
		budgetEUR   float64
		tickSeconds int
		rateLimit   float64
		contact     string
		logLevel    string
		filesDir    string
		configPath  string
		sourceID    string
	)

	flag.StringVar(&dbPath, "db", os.Getenv("DATABASE_URL"), "Path to the SQLite database file")
	flag.StringVar(&llmBaseURL, "llm.base", os.Getenv("LLM_BASE_URL"), "OpenAI-compatible base URL")
	flag.StringVar(&llmModel, "llm.model", os.Getenv("LLM_MODEL"), "Model name")
	flag.StringVar(&llmKey, "llm.key", os.Getenv("LLM_API_KEY"), "API key for the OpenAI-compatible server")
	flag.Float64Var(&budgetEUR, "llm.budget", 0, "Monthly LLM budget in EUR (default 10)")
	flag.IntVar(&tickSeconds, "tick", 0, "Scheduler tick interval in seconds (default 900)")
	flag.Float64Var(&rateLimit, "rate", 0, "Per-host rate limit in requests/second (default 1)")
	flag.StringVar(&contact, "contact", os.Getenv("CONTACT_EMAIL"), "Contact email embedded in the Gateway User-Agent")
	flag.StringVar(&logLevel, "log.level", os.Getenv("LOG_LEVEL"), "Log level (debug, info, warn, error)")
	flag.StringVar(&filesDir, "files.dir", "", "Directory fetched files are stored under (default ./data/files)")
	flag.StringVar(&configPath, "config", "", "Optional YAML config file")
	flag.StringVar(&sourceID, "source", "", "Source id for run-discover; accepted but not applied, run-discover covers every enabled Source (see App.RunDiscoverOnce)")
	flag.Parse()

	verb := "run-pipeline"
	if flag.NArg() > 0 {
		verb = flag.Arg(0)
	}

	// Precedence, highest first: flags, environment, YAML file, defaults —
	// so each layer below only fills in what the one above left empty.
	cfg := app.Config{
		DatabasePath:        dbPath,
		LLMBaseURL:          llmBaseURL,
		LLMModel:            llmModel,
		LLMAPIKey:           llmKey,
		LLMMonthlyBudgetEUR: budgetEUR,
		TickIntervalSeconds: tickSeconds,
		RateLimitPerHostRPS: rateLimit,
		ContactEmail:        contact,
		LogLevel:            logLevel,
		FilesDir:            filesDir,
	}
	app.ApplyEnvToConfig(&cfg)
	if configPath != "" {
		fc, err := app.LoadConfigFile(configPath)
		if err != nil {
			log.Error().Err(err).Msg("load config file")
			os.Exit(2)
		}
		app.ApplyFileConfig(&cfg, fc)
	}
	applyDefaults(&cfg, app.DefaultConfig())

	setLogLevel(cfg.LogLevel)

	if err := app.ValidateConfig(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := run(ctx, cfg, verb, sourceID)
	os.Exit(code)
}

func run(ctx context.Context, cfg app.Config, verb, sourceID string) int {
	a, err := app.New(ctx, cfg, log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("init app")
		return 2
	}
	defer a.Close()

	switch verb {
	case "run-discover":
		if err := a.RunDiscoverOnce(ctx); err != nil {
			log.Error().Err(err).Msg("run-discover failed")
			return 1
		}
		return 0

	case "run-pipeline":
		if err := a.Run(ctx); err != nil {
			log.Error().Err(err).Msg("run-pipeline failed")
			return 1
		}
		return 0

	case "run-once":
		if err := a.RunPipelineOnce(ctx); err != nil {
			log.Error().Err(err).Msg("run-once failed")
			return 1
		}
		return 0

	case "health":
		report, err := a.Health(ctx)
		if err != nil {
			log.Error().Err(err).Msg("health failed")
			return 1
		}
		printHealth(report)
		return 0

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q: expected run-discover, run-pipeline, run-once, or health\n", verb)
		return 2
	}
}

func printHealth(report app.HealthReport) {
	fmt.Printf("Monthly LLM spend: %s / %s EUR\n", report.MonthToDateCostEUR.StringFixed(2), report.MonthlyBudgetEUR.StringFixed(2))
	if report.LLMModelAvailable != nil {
		status := "not found on backend"
		if *report.LLMModelAvailable {
			status = "available"
		}
		fmt.Printf("LLM model %q: %s\n", report.LLMModel, status)
	}
	for _, src := range report.Sources {
		last := "never"
		if src.LastSuccessAt != nil {
			last = src.LastSuccessAt.Format(time.RFC3339)
		}
		cooldown := ""
		if src.OnCooldown {
			cooldown = " [cooldown]"
		}
		fmt.Printf("- %s (%s): last_success=%s failures=%d%s\n", src.ID, src.Municipality, last, src.ConsecutiveFailures, cooldown)
		for _, d := range src.RecentDiagnostics {
			fmt.Printf("    %s\n", d)
		}
	}
}

// applyDefaults fills any field still at its zero value from defaults,
// applied last so flags, env, and file config all take precedence over it.
func applyDefaults(cfg *app.Config, defaults app.Config) {
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
	if cfg.CacheMaxAge == 0 {
		cfg.CacheMaxAge = defaults.CacheMaxAge
	}
	if cfg.HTTPCacheMaxBytes == 0 {
		cfg.HTTPCacheMaxBytes = defaults.HTTPCacheMaxBytes
	}
	if cfg.LLMCacheMaxCount == 0 {
		cfg.LLMCacheMaxCount = defaults.LLMCacheMaxCount
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
