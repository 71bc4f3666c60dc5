package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hyperifyio/watchdog/internal/model"
)

// RecordLLMUsage persists one model call's token counts and estimated cost,
// the ledger entry budget enforcement reads back via MonthToDateCostCents
// (§4.F).
func (s *Store) RecordLLMUsage(ctx context.Context, usage model.LLMUsage) error {
	id := usage.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_usage (id, model, stage, document_id, tokens_in, tokens_out, estimated_cost_cents, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, usage.Model, usage.Stage, usage.DocumentID, usage.TokensIn, usage.TokensOut,
		usage.EstimatedCostCents, nowRFC3339(),
	)
	if err != nil {
		return fmt.Errorf("record_llm_usage: %w", err)
	}
	return nil
}

// MonthToDateCostCents sums estimated_cost_cents for calls occurring in the
// same UTC calendar month as asOf, the figure the Budget enforcement check
// and the health CLI's monthly spend report both read (§4.D, §6).
func (s *Store) MonthToDateCostCents(ctx context.Context, asOf time.Time) (int64, error) {
	monthStart := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(estimated_cost_cents), 0) FROM llm_usage WHERE occurred_at >= ?`,
		monthStart,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("month_to_date_cost: %w", err)
	}
	return total, nil
}
