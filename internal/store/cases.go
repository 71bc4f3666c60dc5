package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hyperifyio/watchdog/internal/model"
)

// CreateCase inserts a new Case row and returns its generated id, the
// CaseBuild stage's "else create a new Case" branch (§4.D).
func (s *Store) CreateCase(ctx context.Context, c model.Case) (string, error) {
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := nowRFC3339()
	munJSON, entJSON, locJSON, err := marshalCaseSlices(c)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cases (
			id, primary_category, headline, summary, status, confidence, confidence_reason,
			municipalities_json, entities_json, locations_json, first_seen_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(c.PrimaryCategory), c.Headline, c.Summary, string(c.Status), string(c.Confidence),
		c.ConfidenceReason, munJSON, entJSON, locJSON, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("create_case: %w", err)
	}
	return id, nil
}

// UpdateCase rewrites a Case's mutable fields after a successful merge
// (§4.D: "update the matched Case (union of municipalities/entities/
// locations, ... possibly update status if newer)").
func (s *Store) UpdateCase(ctx context.Context, c model.Case) error {
	munJSON, entJSON, locJSON, err := marshalCaseSlices(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE cases SET headline = ?, summary = ?, status = ?, confidence = ?, confidence_reason = ?,
		       municipalities_json = ?, entities_json = ?, locations_json = ?, updated_at = ?
		WHERE id = ?`,
		c.Headline, c.Summary, string(c.Status), string(c.Confidence), c.ConfidenceReason,
		munJSON, entJSON, locJSON, nowRFC3339(), c.ID,
	)
	if err != nil {
		return fmt.Errorf("update_case: %w", err)
	}
	return nil
}

// GetCase fetches one Case by id.
func (s *Store) GetCase(ctx context.Context, id string) (model.Case, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, primary_category, headline, summary, status, confidence, confidence_reason,
		       municipalities_json, entities_json, locations_json, first_seen_at, updated_at
		FROM cases WHERE id = ?`, id)
	return scanCase(row)
}

// FindMergeCandidates returns open Cases in the same category as a plausible
// merge target set, the find_merge_candidates operation of §4.D's merge
// step. Filtering narrows by category server-side; the caller (internal/
// merge) applies the full entity/location/title scoring in Go.
func (s *Store) FindMergeCandidates(ctx context.Context, category model.Category) ([]model.Case, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, primary_category, headline, summary, status, confidence, confidence_reason,
		       municipalities_json, entities_json, locations_json, first_seen_at, updated_at
		FROM cases WHERE primary_category = ?`, string(category))
	if err != nil {
		return nil, fmt.Errorf("find_merge_candidates: %w", err)
	}
	defer rows.Close()

	var out []model.Case
	for rows.Next() {
		c, err := scanCaseRows(rows)
		if err != nil {
			return nil, fmt.Errorf("find_merge_candidates: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AppendCaseEvent appends one append-only timeline entry, sequenced after
// every existing event for the same Case (§3: "CaseEvents for a single
// Case are totally ordered by event_time then insertion sequence").
func (s *Store) AppendCaseEvent(ctx context.Context, ev model.CaseEvent) error {
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}
	var nextSeq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM case_events WHERE case_id = ?`, ev.CaseID,
	).Scan(&nextSeq)
	if err != nil {
		return fmt.Errorf("append_case_event: sequence: %w", err)
	}
	eventTime := ev.EventTime
	if eventTime.IsZero() {
		eventTime = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO case_events (id, case_id, event_type, event_time, payload, sequence)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, ev.CaseID, string(ev.EventType), eventTime.UTC().Format(time.RFC3339), ev.Payload, nextSeq,
	)
	if err != nil {
		return fmt.Errorf("append_case_event: %w", err)
	}
	return nil
}

// AppendEvidence attaches one Evidence snippet to a Case (§4.D: "append
// Evidence").
func (s *Store) AppendEvidence(ctx context.Context, ev model.Evidence) error {
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evidence (id, case_id, file_id, document_id, page, snippet, source_url)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, ev.CaseID, ev.FileID, ev.DocumentID, ev.Page, ev.Snippet, ev.SourceURL,
	)
	if err != nil {
		return fmt.Errorf("append_evidence: %w", err)
	}
	return nil
}

func marshalCaseSlices(c model.Case) (string, string, string, error) {
	mun, err := json.Marshal(c.Municipalities)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal municipalities: %w", err)
	}
	ent, err := json.Marshal(c.Entities)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal entities: %w", err)
	}
	loc, err := json.Marshal(c.Locations)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal locations: %w", err)
	}
	return string(mun), string(ent), string(loc), nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanCase(row *sql.Row) (model.Case, error) {
	return scanCaseCommon(row)
}

func scanCaseRows(rows *sql.Rows) (model.Case, error) {
	return scanCaseCommon(rows)
}

func scanCaseCommon(s scannable) (model.Case, error) {
	var c model.Case
	var category, status, confidence string
	var munJSON, entJSON, locJSON string
	var firstSeenAt, updatedAt string
	err := s.Scan(
		&c.ID, &category, &c.Headline, &c.Summary, &status, &confidence, &c.ConfidenceReason,
		&munJSON, &entJSON, &locJSON, &firstSeenAt, &updatedAt,
	)
	if err != nil {
		return model.Case{}, err
	}
	c.PrimaryCategory = model.Category(category)
	c.Status = model.CaseStatus(status)
	c.Confidence = model.Confidence(confidence)
	if err := json.Unmarshal([]byte(munJSON), &c.Municipalities); err != nil {
		return model.Case{}, fmt.Errorf("unmarshal municipalities: %w", err)
	}
	if err := json.Unmarshal([]byte(entJSON), &c.Entities); err != nil {
		return model.Case{}, fmt.Errorf("unmarshal entities: %w", err)
	}
	if err := json.Unmarshal([]byte(locJSON), &c.Locations); err != nil {
		return model.Case{}, fmt.Errorf("unmarshal locations: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, firstSeenAt); err == nil {
		c.FirstSeenAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		c.UpdatedAt = t
	}
	return c, nil
}
