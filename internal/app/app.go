package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"

	"github.com/hyperifyio/watchdog/internal/budget"
	"github.com/hyperifyio/watchdog/internal/cache"
	"github.com/hyperifyio/watchdog/internal/gateway"
	"github.com/hyperifyio/watchdog/internal/llm"
	"github.com/hyperifyio/watchdog/internal/scheduler"
	"github.com/hyperifyio/watchdog/internal/store"
)

// App holds every long-lived dependency the CLI commands share: the Store,
// Gateway, LLM stages, and the Scheduler that drives them, generalizing the
// teacher's single-pipeline App into watchdog's multi-source service.
type App struct {
	cfg       Config
	store     *store.Store
	gateway   *gateway.Gateway
	scheduler *scheduler.Scheduler
	llmClient llm.Client
	log       zerolog.Logger
}

// New opens the Store, builds the Gateway and LLM clients, and wires the
// Scheduler, the same construction order the teacher's app.New follows
// (cache first, then transport, then the driving loop).
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*App, error) {
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	httpCacheDir := filepath.Join(filepath.Dir(cfg.FilesDir), "httpcache")
	httpCache := &cache.HTTPCache{Dir: httpCacheDir, StrictPerms: cfg.StrictFilePerms}

	gw := &gateway.Gateway{
		ContactEmail:  cfg.ContactEmail,
		RatePerSecond: cfg.RateLimitPerHostRPS,
		Cache:         httpCache,
	}

	llmCacheDir := filepath.Join(filepath.Dir(cfg.FilesDir), "llmcache")
	llmCache := &cache.LLMCache{Dir: llmCacheDir, StrictPerms: cfg.StrictFilePerms}

	transportCfg := openai.DefaultConfig(cfg.LLMAPIKey)
	if cfg.LLMBaseURL != "" {
		transportCfg.BaseURL = cfg.LLMBaseURL
	}
	client := &llm.OpenAIProvider{Inner: openai.NewClientWithConfig(transportCfg)}

	triager := &llm.Triager{Client: client, Cache: llmCache, Model: cfg.LLMModel}
	builder := &llm.CaseBuilder{Client: client, Cache: llmCache, Model: cfg.LLMModel}

	monitored := make(map[string]bool, len(cfg.MonitoredBodies))
	for _, b := range cfg.MonitoredBodies {
		monitored[b] = true
	}

	schedCfg := scheduler.DefaultConfig()
	schedCfg.TickInterval = time.Duration(cfg.TickIntervalSeconds) * time.Second
	schedCfg.FilesDir = cfg.FilesDir
	schedCfg.MonitoredBodies = monitored
	schedCfg.HTTPCacheDir = httpCacheDir
	schedCfg.LLMCacheDir = llmCacheDir
	schedCfg.CacheMaxAge = cfg.CacheMaxAge
	schedCfg.HTTPCacheMaxBytes = cfg.HTTPCacheMaxBytes
	schedCfg.LLMCacheMaxCount = cfg.LLMCacheMaxCount

	sched := &scheduler.Scheduler{
		Store:       st,
		Gateway:     gw,
		Triager:     triager,
		CaseBuilder: builder,
		Ledger:      budget.NewLedger(cfg.LLMMonthlyBudgetEUR),
		Config:      schedCfg,
		Log:         log,
	}

	return &App{cfg: cfg, store: st, gateway: gw, scheduler: sched, llmClient: client, log: log}, nil
}

// Close releases the Store's underlying database handle.
func (a *App) Close() error {
	return a.store.Close()
}

// Run starts the Scheduler's recurring tick loop and blocks until ctx is
// canceled (the "run-pipeline" long-lived CLI mode of §6).
func (a *App) Run(ctx context.Context) error {
	return a.scheduler.Run(ctx)
}

// RunDiscoverOnce runs a single Discover-and-drain tick immediately, the
// "run-discover" CLI verb of §6. It takes no Source filter: the tick runs
// Discover for every enabled Source, then drains the pipeline.
func (a *App) RunDiscoverOnce(ctx context.Context) error {
	return a.scheduler.Tick(ctx)
}

// RunPipelineOnce drains Discover through Fetch/Extract/Triage/CaseBuild
// once and returns, the "run-once" CLI verb of §6 — useful for driving the
// pipeline from an external cron instead of the long-lived Run loop.
func (a *App) RunPipelineOnce(ctx context.Context) error {
	return a.scheduler.Tick(ctx)
}

// Health reports per-Source status and monthly spend, the data behind the
// "health" CLI verb of §6.
func (a *App) Health(ctx context.Context) (HealthReport, error) {
	sources, err := a.store.EnabledSources(ctx)
	if err != nil {
		return HealthReport{}, fmt.Errorf("health: list sources: %w", err)
	}
	monthCents, err := a.store.MonthToDateCostCents(ctx, time.Now())
	if err != nil {
		return HealthReport{}, fmt.Errorf("health: month to date cost: %w", err)
	}

	report := HealthReport{
		MonthToDateCostEUR: budget.CentsToEUR(monthCents),
		MonthlyBudgetEUR:   a.scheduler.Ledger.MonthlyBudgetEUR,
		LLMModel:           a.cfg.LLMModel,
	}
	if available, known, err := llm.CheckModelAvailable(ctx, a.llmClient, a.cfg.LLMModel); err == nil && known {
		report.LLMModelAvailable = &available
	}
	for _, src := range sources {
		diags, err := a.store.RecentDiagnostics(ctx, src.ID, 5)
		if err != nil {
			return HealthReport{}, fmt.Errorf("health: diagnostics for %s: %w", src.ID, err)
		}
		report.Sources = append(report.Sources, SourceHealth{
			ID:                  src.ID,
			Municipality:        src.Municipality,
			LastSuccessAt:       src.LastSuccessAt,
			ConsecutiveFailures: src.ConsecutiveFailures,
			OnCooldown:          src.NextAttemptAt != nil && src.NextAttemptAt.After(time.Now()),
			RecentDiagnostics:   diags,
		})
	}
	return report, nil
}

// HealthReport is the structured shape the "health" CLI verb renders.
type HealthReport struct {
	Sources            []SourceHealth
	MonthToDateCostEUR decimal.Decimal
	MonthlyBudgetEUR   decimal.Decimal
	LLMModel           string
	// LLMModelAvailable is nil when the configured backend doesn't expose a
	// model list to check against (e.g. a minimal OpenAI-compatible server).
	LLMModelAvailable *bool
}

// SourceHealth is one Source's row in the health report.
type SourceHealth struct {
	ID                  string
	Municipality        string
	LastSuccessAt       *time.Time
	ConsecutiveFailures int
	OnCooldown          bool
	RecentDiagnostics   []string
}
