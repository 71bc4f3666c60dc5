// Package scheduler drives the periodic tick that fans Discover out across
// every enabled Source and then drains the Fetch -> Extract -> Triage ->
// Case Build pipeline (§4.E). It generalizes the teacher's single-run
// cmd/goresearch entrypoint into a recurring, multi-source scheduler.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hyperifyio/watchdog/internal/budget"
	"github.com/hyperifyio/watchdog/internal/cache"
	"github.com/hyperifyio/watchdog/internal/gateway"
	"github.com/hyperifyio/watchdog/internal/llm"
	"github.com/hyperifyio/watchdog/internal/store"
)

// Config bounds the Scheduler's concurrency and timing knobs, all named in
// §5/§6.
type Config struct {
	TickInterval   time.Duration
	PerTickBudget  time.Duration
	DiscoverLimit  int
	FetchWorkers   int
	ExtractWorkers int
	TriageWorkers  int
	CaseBuildWorkers int
	FilesDir       string
	MonitoredBodies map[string]bool

	// HTTPCacheDir and LLMCacheDir locate the on-disk caches to prune after
	// each tick. CacheMaxAge is how long an entry may sit unused before
	// PurgeHTTPCacheByAge/PurgeLLMCacheByAge removes it; zero disables
	// pruning. HTTPCacheMaxBytes and LLMCacheMaxCount additionally cap each
	// cache's size regardless of age, evicting least-recently-used entries
	// first; non-positive disables that dimension.
	HTTPCacheDir      string
	LLMCacheDir       string
	CacheMaxAge       time.Duration
	HTTPCacheMaxBytes int64
	LLMCacheMaxCount  int
}

// DefaultConfig returns §5's stated defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:     15 * time.Minute,
		PerTickBudget:    10 * time.Minute,
		DiscoverLimit:    8,
		FetchWorkers:     4,
		ExtractWorkers:   2,
		TriageWorkers:    2,
		CaseBuildWorkers: 1,
		FilesDir:         "./data/files",
	}
}

// Scheduler wires the Store, Gateway, and LLM stages into the recurring
// tick loop of §4.E.
type Scheduler struct {
	Store       *store.Store
	Gateway     *gateway.Gateway
	Triager     *llm.Triager
	CaseBuilder *llm.CaseBuilder
	Ledger      budget.Ledger
	Config      Config
	Log         zerolog.Logger
}

// cooldownThreshold is the consecutive_failures count past which a Source
// is held back with exponential cooldown (§4.E).
const cooldownThreshold = 10

// Run starts the cron-driven tick loop and blocks until ctx is canceled,
// draining in-flight work before returning (§5 cancellation semantics).
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", s.Config.TickInterval)
	_, err := c.AddFunc(spec, func() {
		tickCtx, cancel := context.WithTimeout(ctx, s.Config.PerTickBudget)
		defer cancel()
		if err := s.Tick(tickCtx); err != nil {
			s.Log.Error().Err(err).Msg("tick failed")
		}
	})
	if err != nil {
		return fmt.Errorf("scheduler: schedule tick: %w", err)
	}
	c.Start()
	<-ctx.Done()
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(60 * time.Second):
	}
	return nil
}

// Tick runs one full Discover-then-drain cycle, then prunes stale cache
// entries so a long-running deployment's disk usage doesn't grow
// unbounded (§4.E).
func (s *Scheduler) Tick(ctx context.Context) error {
	if err := s.discoverAll(ctx); err != nil {
		s.Log.Error().Err(err).Msg("discover phase had failures")
	}
	if err := s.drainPipeline(ctx); err != nil {
		return err
	}
	s.pruneCaches()
	return nil
}

// pruneCaches removes HTTP and LLM cache entries older than CacheMaxAge, then
// enforces each cache's size cap by evicting least-recently-used entries.
// Errors are logged, not returned: a failed prune shouldn't fail the tick
// that already did real pipeline work.
func (s *Scheduler) pruneCaches() {
	if s.Config.CacheMaxAge > 0 {
		if s.Config.HTTPCacheDir != "" {
			if n, err := cache.PurgeHTTPCacheByAge(s.Config.HTTPCacheDir, s.Config.CacheMaxAge); err != nil {
				s.Log.Error().Err(err).Msg("purge http cache failed")
			} else if n > 0 {
				s.Log.Info().Int("removed", n).Msg("purged stale http cache entries")
			}
		}
		if s.Config.LLMCacheDir != "" {
			if n, err := cache.PurgeLLMCacheByAge(s.Config.LLMCacheDir, s.Config.CacheMaxAge); err != nil {
				s.Log.Error().Err(err).Msg("purge llm cache failed")
			} else if n > 0 {
				s.Log.Info().Int("removed", n).Msg("purged stale llm cache entries")
			}
		}
	}

	if s.Config.HTTPCacheDir != "" && s.Config.HTTPCacheMaxBytes > 0 {
		if n, err := cache.EnforceHTTPCacheLimits(s.Config.HTTPCacheDir, s.Config.HTTPCacheMaxBytes, 0); err != nil {
			s.Log.Error().Err(err).Msg("enforce http cache limit failed")
		} else if n > 0 {
			s.Log.Info().Int("evicted", n).Msg("evicted http cache entries over size limit")
		}
	}
	if s.Config.LLMCacheDir != "" && s.Config.LLMCacheMaxCount > 0 {
		if n, err := cache.EnforceLLMCacheLimits(s.Config.LLMCacheDir, 0, s.Config.LLMCacheMaxCount); err != nil {
			s.Log.Error().Err(err).Msg("enforce llm cache limit failed")
		} else if n > 0 {
			s.Log.Info().Int("evicted", n).Msg("evicted llm cache entries over count limit")
		}
	}
}

// drainPipeline runs each stage's worker pool until every pool reports no
// remaining work or the tick's context is done.
func (s *Scheduler) drainPipeline(ctx context.Context) error {
	stages := []struct {
		name    string
		workers int
		run     func(context.Context) error
	}{
		{"fetch", s.Config.FetchWorkers, s.runFetch},
		{"extract", s.Config.ExtractWorkers, s.runExtract},
		{"triage", s.Config.TriageWorkers, s.runTriage},
		{"casebuild", s.Config.CaseBuildWorkers, s.runCaseBuild},
	}
	for _, st := range stages {
		if err := s.drainStage(ctx, st.name, st.workers, st.run); err != nil {
			return fmt.Errorf("drain %s: %w", st.name, err)
		}
	}
	return nil
}

func (s *Scheduler) drainStage(ctx context.Context, name string, workers int, run func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				if gctx.Err() != nil {
					return nil
				}
				err := run(gctx)
				if err == store.ErrNoWork {
					return nil
				}
				if err != nil {
					s.Log.Error().Err(err).Str("stage", name).Msg("stage worker error")
				}
			}
		})
	}
	return g.Wait()
}

// nextCooldown computes the next_attempt_at for a Source past the
// consecutive-failure threshold: 2^min(failures-10, 12) minutes, built on
// the same backoff library as the Gateway's retry schedule rather than a
// second hand-rolled formula (§4.E).
func nextCooldown(consecutiveFailures int, now time.Time) time.Time {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Minute
	b.Multiplier = 2
	b.MaxInterval = 4096 * time.Minute
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	b.Reset()

	over := consecutiveFailures - cooldownThreshold
	if over < 0 {
		over = 0
	}
	if over > 12 {
		over = 12
	}
	var d time.Duration
	for i := 0; i <= over; i++ {
		d = b.NextBackOff()
	}
	return now.Add(d)
}

// staleSourceThreshold is the last-success age (72 hours) past which a
// Source counts as stale (§4.E). Nothing reads it: neither the tick nor the
// health report flags stale Sources.
const staleSourceThreshold = 72 * time.Hour
