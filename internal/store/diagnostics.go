package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// RecordDiagnostic appends a SourceDiagnostic row (§3), the error-trail
// record backing the health CLI.
func (s *Store) RecordDiagnostic(ctx context.Context, sourceID, documentID, stage, errorKind, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_diagnostics (id, source_id, document_id, stage, error_kind, message, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), sourceID, documentID, stage, errorKind, message, nowRFC3339(),
	)
	if err != nil {
		return fmt.Errorf("record_diagnostic: %w", err)
	}
	return nil
}

// RecentDiagnostics returns the most recent diagnostics for a Source,
// newest first, for the health CLI (§6).
func (s *Store) RecentDiagnostics(ctx context.Context, sourceID string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message FROM source_diagnostics
		WHERE source_id = ? ORDER BY occurred_at DESC LIMIT ?`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent_diagnostics: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return nil, fmt.Errorf("recent_diagnostics: scan: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}
