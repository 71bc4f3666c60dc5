package scheduler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hyperifyio/watchdog/internal/connector"
	"github.com/hyperifyio/watchdog/internal/model"
	"github.com/hyperifyio/watchdog/internal/store"
)

// discoverAll fans Discover out across every enabled Source, up to
// DiscoverLimit concurrently (§5: "up to N=8 sources processed in
// parallel").
func (s *Scheduler) discoverAll(ctx context.Context) error {
	sources, err := s.Store.EnabledSources(ctx)
	if err != nil {
		return fmt.Errorf("discover: list sources: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Config.DiscoverLimit)
	for _, src := range sources {
		src := src
		if src.NextAttemptAt != nil && src.NextAttemptAt.After(time.Now()) {
			continue
		}
		g.Go(func() error {
			s.discoverOne(gctx, src)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) discoverOne(ctx context.Context, src model.Source) {
	cfg, err := store.DecodeConfig(src)
	if err != nil {
		s.recordSourceFailure(ctx, src.ID, "decode_config", err)
		return
	}

	conn, err := connector.New(src, cfg, s.Gateway)
	if err != nil {
		s.recordSourceFailure(ctx, src.ID, "connector_init", err)
		return
	}

	refs, err := conn.Discover(ctx)
	if err != nil {
		s.recordSourceFailure(ctx, src.ID, "discover", err)
		return
	}

	for _, ref := range refs {
		id, isNew, changed, err := s.Store.UpsertDocument(ctx, src.ID, ref)
		if err != nil {
			s.Log.Error().Err(err).Str("source_id", src.ID).Msg("upsert_document failed")
			continue
		}
		if !isNew && changed {
			// Re-observed with different metadata: UpsertDocument already
			// reset status to "new" so Fetch re-verifies content_hash
			// (spec.md:185 scenario S3). Record why this Document is back
			// at the start of the pipeline.
			if err := s.Store.RecordDiagnostic(ctx, src.ID, id, "discover", "document_reobserved_changed", "re-observed document metadata changed; status reset to new"); err != nil {
				s.Log.Error().Err(err).Str("source_id", src.ID).Msg("record_diagnostic failed")
			}
		}
	}

	if err := s.Store.RecordSourceSuccess(ctx, src.ID); err != nil {
		s.Log.Error().Err(err).Str("source_id", src.ID).Msg("record_source_success failed")
	}
}

func (s *Scheduler) recordSourceFailure(ctx context.Context, sourceID, stage string, cause error) {
	if err := s.Store.RecordSourceFailure(ctx, sourceID, cause.Error()); err != nil {
		s.Log.Error().Err(err).Str("source_id", sourceID).Msg("record_source_failure failed")
	}
	if err := s.Store.RecordDiagnostic(ctx, sourceID, "", stage, "discover_error", cause.Error()); err != nil {
		s.Log.Error().Err(err).Str("source_id", sourceID).Msg("record_diagnostic failed")
	}

	sources, err := s.Store.EnabledSources(ctx)
	if err != nil {
		return
	}
	for _, src := range sources {
		if src.ID != sourceID || src.ConsecutiveFailures < cooldownThreshold {
			continue
		}
		next := nextCooldown(src.ConsecutiveFailures, time.Now())
		if err := s.Store.SetSourceCooldown(ctx, sourceID, next.UTC().Format(time.RFC3339)); err != nil {
			s.Log.Error().Err(err).Str("source_id", sourceID).Msg("set_source_cooldown failed")
		}
	}
}
