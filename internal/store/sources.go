package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/hyperifyio/watchdog/internal/model"
)

// CreateSource inserts a new Source row, generating its id.
func (s *Store) CreateSource(ctx context.Context, municipality string, platform model.Platform, baseURL string, cfg model.SourceConfig) (string, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("create_source: marshal config: %w", err)
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sources (id, municipality, platform, base_url, enabled, config_json, consecutive_failures)
		VALUES (?, ?, ?, ?, 1, ?, 0)`,
		id, municipality, string(platform), baseURL, string(cfgJSON),
	)
	if err != nil {
		return "", fmt.Errorf("create_source: %w", err)
	}
	return id, nil
}

// EnabledSources returns every Source with enabled = 1, for the Scheduler's
// Discover fan-out (§4.E).
func (s *Store) EnabledSources(ctx context.Context) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, municipality, platform, base_url, enabled, config_json,
		       last_success_at, last_error, consecutive_failures, next_attempt_at
		FROM sources WHERE enabled = 1`)
	if err != nil {
		return nil, fmt.Errorf("enabled_sources: %w", err)
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("enabled_sources: scan: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// GetSource fetches one Source by id, for stages past Discover that need a
// Document's municipality (Document itself only keeps source_id).
func (s *Store) GetSource(ctx context.Context, id string) (model.Source, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, municipality, platform, base_url, enabled, config_json,
		       last_success_at, last_error, consecutive_failures, next_attempt_at
		FROM sources WHERE id = ?`, id)
	var src model.Source
	var platform string
	var enabled int
	var lastSuccessAt, nextAttemptAt sql.NullString
	err := row.Scan(
		&src.ID, &src.Municipality, &platform, &src.BaseURL, &enabled, &src.ConfigJSON,
		&lastSuccessAt, &src.LastError, &src.ConsecutiveFailures, &nextAttemptAt,
	)
	if err != nil {
		return model.Source{}, fmt.Errorf("get_source: %w", err)
	}
	src.Platform = model.Platform(platform)
	src.Enabled = enabled != 0
	src.LastSuccessAt = parseNullableTime(lastSuccessAt)
	src.NextAttemptAt = parseNullableTime(nextAttemptAt)
	return src, nil
}

// DecodeConfig parses a Source's ConfigJSON into the typed SourceConfig
// shape every Connector variant expects (§6).
func DecodeConfig(src model.Source) (model.SourceConfig, error) {
	var cfg model.SourceConfig
	if src.ConfigJSON == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(src.ConfigJSON), &cfg); err != nil {
		return cfg, fmt.Errorf("decode source config: %w", err)
	}
	return cfg, nil
}

// RecordSourceSuccess resets a Source's failure streak after a clean
// Discover run (§4.D).
func (s *Store) RecordSourceSuccess(ctx context.Context, sourceID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sources SET last_success_at = ?, last_error = '', consecutive_failures = 0, next_attempt_at = NULL
		WHERE id = ?`, nowRFC3339(), sourceID)
	if err != nil {
		return fmt.Errorf("record_source_success: %w", err)
	}
	return nil
}

// RecordSourceFailure increments consecutive_failures and stores the
// error, for the Scheduler's cooldown logic (§4.E).
func (s *Store) RecordSourceFailure(ctx context.Context, sourceID, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sources SET last_error = ?, consecutive_failures = consecutive_failures + 1
		WHERE id = ?`, lastError, sourceID)
	if err != nil {
		return fmt.Errorf("record_source_failure: %w", err)
	}
	return nil
}

// SetSourceCooldown stores the Scheduler's computed next_attempt_at for a
// Source past the consecutive_failures >= 10 threshold (§4.E).
func (s *Store) SetSourceCooldown(ctx context.Context, sourceID string, nextAttemptAt string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sources SET next_attempt_at = ? WHERE id = ?`, nextAttemptAt, sourceID)
	if err != nil {
		return fmt.Errorf("set_source_cooldown: %w", err)
	}
	return nil
}

func scanSource(rows *sql.Rows) (model.Source, error) {
	var src model.Source
	var platform string
	var enabled int
	var lastSuccessAt, nextAttemptAt sql.NullString
	err := rows.Scan(
		&src.ID, &src.Municipality, &platform, &src.BaseURL, &enabled, &src.ConfigJSON,
		&lastSuccessAt, &src.LastError, &src.ConsecutiveFailures, &nextAttemptAt,
	)
	if err != nil {
		return model.Source{}, err
	}
	src.Platform = model.Platform(platform)
	src.Enabled = enabled != 0
	src.LastSuccessAt = parseNullableTime(lastSuccessAt)
	src.NextAttemptAt = parseNullableTime(nextAttemptAt)
	return src, nil
}
