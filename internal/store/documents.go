package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hyperifyio/watchdog/internal/model"
)

// ErrNoWork is returned by ClaimNext when no Document is eligible.
var ErrNoWork = errors.New("store: no document available")

// ErrStaleTransition is returned by TransitionDocument when the Document's
// status no longer matches the expected "from" value — another worker
// already advanced it, and this caller's work must be discarded (§4.D).
var ErrStaleTransition = errors.New("store: document status changed concurrently")

// UpsertDocument inserts a new Document for (source_id, external_id), or
// updates the existing row's metadata when it has already been observed,
// the Discover stage's "upsert_document" operation (§4.D, spec.md:81):
// `upsert_document(ref) → (doc_id, is_new, content_changed)`.
//
// A re-observed row whose metadata (title, body, dates, source_url, or
// file_urls) differs from what's stored is reset to status "new" so it
// re-enters the pipeline — Fetch only ever claims documents in "new"
// (internal/scheduler/fetch.go), so without this reset a document already
// past Fetch could never be re-fetched when its upstream PDF changes
// (spec.md:31, scenario S3 at spec.md:185). The real content_hash compare
// that decides whether any File rows actually change still happens in
// Fetch; content_changed here is the best signal Discover can give ahead
// of that, from the metadata it has on hand.
func (s *Store) UpsertDocument(ctx context.Context, sourceID string, ref model.DocumentRef) (id string, isNew bool, contentChanged bool, err error) {
	var existingID, title, body, sourceURL, fileURLsJSON string
	var meetingDate, publishedAt sql.NullString
	scanErr := s.db.QueryRowContext(ctx, `
		SELECT id, title, body, meeting_date, published_at, source_url, file_urls_json
		FROM documents WHERE source_id = ? AND external_id = ?`,
		sourceID, ref.ExternalID,
	).Scan(&existingID, &title, &body, &meetingDate, &publishedAt, &sourceURL, &fileURLsJSON)

	switch {
	case scanErr == nil:
		var storedURLs []string
		if err := json.Unmarshal([]byte(fileURLsJSON), &storedURLs); err != nil {
			return "", false, false, fmt.Errorf("upsert_document: unmarshal stored file urls: %w", err)
		}
		changed := title != ref.Title || body != ref.Body || sourceURL != ref.SourceURL ||
			nullableTimeString(meetingDate) != formatNullableTime(ref.MeetingDate) ||
			nullableTimeString(publishedAt) != formatNullableTime(ref.PublishedAt) ||
			!stringsEqual(storedURLs, ref.FileURLs)
		if !changed {
			return existingID, false, false, nil
		}

		newFileURLsJSON, marshalErr := json.Marshal(ref.FileURLs)
		if marshalErr != nil {
			return "", false, false, fmt.Errorf("upsert_document: marshal file urls: %w", marshalErr)
		}
		_, execErr := s.db.ExecContext(ctx, `
			UPDATE documents SET title = ?, body = ?, meeting_date = ?, published_at = ?,
			       source_url = ?, file_urls_json = ?, status = ?, retry_count = 0
			WHERE id = ?`,
			ref.Title, ref.Body, nullableTime(ref.MeetingDate), nullableTime(ref.PublishedAt),
			ref.SourceURL, string(newFileURLsJSON), string(model.DocStatusNew), existingID,
		)
		if execErr != nil {
			return "", false, false, fmt.Errorf("upsert_document: update: %w", execErr)
		}
		return existingID, false, true, nil

	case errors.Is(scanErr, sql.ErrNoRows):
		fileURLsJSON, marshalErr := json.Marshal(ref.FileURLs)
		if marshalErr != nil {
			return "", false, false, fmt.Errorf("upsert_document: marshal file urls: %w", marshalErr)
		}

		id = uuid.NewString()
		_, execErr := s.db.ExecContext(ctx, `
			INSERT INTO documents (
				id, source_id, external_id, doc_type, title, body,
				meeting_date, published_at, source_url, discovered_at,
				content_hash, status, retry_count, file_urls_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', 'new', 0, ?)`,
			id, sourceID, ref.ExternalID, string(ref.DocType), ref.Title, ref.Body,
			nullableTime(ref.MeetingDate), nullableTime(ref.PublishedAt), ref.SourceURL, nowRFC3339(),
			string(fileURLsJSON),
		)
		if execErr != nil {
			return "", false, false, fmt.Errorf("upsert_document: insert: %w", execErr)
		}
		return id, true, true, nil

	default:
		return "", false, false, fmt.Errorf("upsert_document: lookup: %w", scanErr)
	}
}

// ClaimNext atomically claims one Document in fromStatus and advances it to
// claimStatus, returning it for the caller's stage to process. It is the
// claim_next operation of §4.F, implemented as a single UPDATE...RETURNING
// inside an IMMEDIATE transaction so two stage workers never claim the same
// row.
//
// ClaimNext does not itself advance status: the stage runner performs its
// work and then calls TransitionDocument on success, or ClearClaim to
// release the row for a retry on a transient failure (§4.D's "if the
// transition fails ... the work is discarded" applies the other way too —
// a claim that never reaches a transition must not wedge the row).
func (s *Store) ClaimNext(ctx context.Context, status model.DocStatus) (model.Document, error) {
	return s.claimNextWhere(ctx, "status = ?", string(status))
}

// ClaimNextForTriage claims an "extracted" Document that has not yet been
// triaged (triage_categories_json still its '[]' default), the stage-aware
// claim_next(stage) the spec's Triage stage needs so it never races
// ClaimNextForCaseBuild over the same "extracted" row (§4.D).
func (s *Store) ClaimNextForTriage(ctx context.Context) (model.Document, error) {
	return s.claimNextWhere(ctx, "status = ? AND triage_categories_json = '[]'", string(model.DocStatusExtracted))
}

// ClaimNextForCaseBuild claims an "extracted" Document that Triage already
// marked a candidate (non-empty triage_categories_json), the Case Build
// stage's half of the same stage-aware split (§4.D).
func (s *Store) ClaimNextForCaseBuild(ctx context.Context) (model.Document, error) {
	return s.claimNextWhere(ctx, "status = ? AND triage_categories_json != '[]'", string(model.DocStatusExtracted))
}

func (s *Store) claimNextWhere(ctx context.Context, predicate string, args ...interface{}) (model.Document, error) {
	var doc model.Document
	err := s.withImmediate(ctx, func(tx *sql.Tx) error {
		queryArgs := append([]interface{}{nowRFC3339()}, args...)
		row := tx.QueryRowContext(ctx, `
			UPDATE documents SET claimed_at = ?
			WHERE id = (
				SELECT id FROM documents WHERE `+predicate+` AND claimed_at IS NULL
				ORDER BY discovered_at LIMIT 1
			)
			RETURNING id, source_id, external_id, doc_type, title, body,
			          meeting_date, published_at, source_url, discovered_at,
			          content_hash, status, retry_count, file_urls_json,
			          triage_categories_json, triage_relevance_score, triage_reason`,
			queryArgs...,
		)
		d, scanErr := scanDocument(row)
		if scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return ErrNoWork
			}
			return fmt.Errorf("claim_next: %w", scanErr)
		}
		doc = d
		return nil
	})
	return doc, err
}

// ClearClaim releases a claimed Document back to its current status without
// changing it, so another worker may claim it again on the next pass — the
// retry path for a transient per-document failure (§4.D).
func (s *Store) ClearClaim(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE documents SET claimed_at = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("clear_claim: %w", err)
	}
	return nil
}

// TransitionDocument performs the compare-and-swap status change §4.D's
// stage runners rely on: UPDATE ... WHERE status = from, failing with
// ErrStaleTransition if another worker already moved the row on.
func (s *Store) TransitionDocument(ctx context.Context, id string, from, to model.DocStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, claimed_at = NULL WHERE id = ? AND status = ?`,
		string(to), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("transition_document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition_document: rows affected: %w", err)
	}
	if n != 1 {
		return ErrStaleTransition
	}
	return nil
}

// IncrementRetry bumps a Document's retry_count, for the Fetch stage's
// retryable-failure path (§4.D: after 5 retries the caller transitions to
// error).
func (s *Store) IncrementRetry(ctx context.Context, id string) (int, error) {
	_, err := s.db.ExecContext(ctx, `UPDATE documents SET retry_count = retry_count + 1 WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("increment_retry: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT retry_count FROM documents WHERE id = ?`, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("increment_retry: read back: %w", err)
	}
	return n, nil
}

// SetContentHash records the Fetch stage's computed content_hash (§4.D).
func (s *Store) SetContentHash(ctx context.Context, id, hash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE documents SET content_hash = ? WHERE id = ?`, hash, id)
	if err != nil {
		return fmt.Errorf("set_content_hash: %w", err)
	}
	return nil
}

// SetTriageResult persists the Triage stage's structured verdict on a
// Document so CaseBuild (and the health CLI) can inspect it later.
func (s *Store) SetTriageResult(ctx context.Context, id string, categories []string, score float64, reason string) error {
	catJSON, err := json.Marshal(categories)
	if err != nil {
		return fmt.Errorf("set_triage_result: marshal categories: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE documents SET triage_categories_json = ?, triage_relevance_score = ?, triage_reason = ? WHERE id = ?`,
		string(catJSON), score, reason, id,
	)
	if err != nil {
		return fmt.Errorf("set_triage_result: %w", err)
	}
	return nil
}

// InsertFiles replaces the File rows for a Document with a fresh set,
// matching the Fetch stage's "write File rows (replacing prior versions)"
// behavior (§4.D) when a re-fetch finds a changed content_hash.
func (s *Store) InsertFiles(ctx context.Context, documentID string, files []model.File) error {
	return s.withImmediate(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE document_id = ?`, documentID); err != nil {
			return fmt.Errorf("insert_files: delete prior: %w", err)
		}
		for _, f := range files {
			id := f.ID
			if id == "" {
				id = uuid.NewString()
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO files (id, document_id, url, mime, byte_length, storage_path, text_status, text_content)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				id, documentID, f.URL, f.Mime, f.ByteLength, f.StoragePath, string(f.TextStatus), f.TextContent,
			)
			if err != nil {
				return fmt.Errorf("insert_files: insert: %w", err)
			}
		}
		return nil
	})
}

// FilesForDocument returns every File row attached to a Document, in
// insertion (URL) order, for Extract and CaseBuild to walk.
func (s *Store) FilesForDocument(ctx context.Context, documentID string) ([]model.File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, url, mime, byte_length, storage_path, text_status, text_content
		FROM files WHERE document_id = ? ORDER BY rowid`, documentID)
	if err != nil {
		return nil, fmt.Errorf("files_for_document: %w", err)
	}
	defer rows.Close()

	var out []model.File
	for rows.Next() {
		var f model.File
		var textStatus string
		if err := rows.Scan(&f.ID, &f.DocumentID, &f.URL, &f.Mime, &f.ByteLength, &f.StoragePath, &textStatus, &f.TextContent); err != nil {
			return nil, fmt.Errorf("files_for_document: scan: %w", err)
		}
		f.TextStatus = model.TextStatus(textStatus)
		out = append(out, f)
	}
	return out, rows.Err()
}

// SetFileText records a File's extracted/OCR'd text and its resulting
// TextStatus (§4.D Extract stage).
func (s *Store) SetFileText(ctx context.Context, fileID string, status model.TextStatus, text string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE files SET text_status = ?, text_content = ? WHERE id = ?`,
		string(status), text, fileID,
	)
	if err != nil {
		return fmt.Errorf("set_file_text: %w", err)
	}
	return nil
}

func scanDocument(row *sql.Row) (model.Document, error) {
	var d model.Document
	var docType, status, fileURLsJSON, triageCategoriesJSON, triageReason string
	var triageScore float64
	var meetingDate, publishedAt sql.NullString
	err := row.Scan(
		&d.ID, &d.SourceID, &d.ExternalID, &docType, &d.Title, &d.Body,
		&meetingDate, &publishedAt, &d.SourceURL, &d.DiscoveredAt,
		&d.ContentHash, &status, &d.RetryCount, &fileURLsJSON,
		&triageCategoriesJSON, &triageScore, &triageReason,
	)
	if err != nil {
		return model.Document{}, err
	}
	d.DocType = model.DocType(docType)
	d.Status = model.DocStatus(status)
	d.MeetingDate = parseNullableTime(meetingDate)
	d.PublishedAt = parseNullableTime(publishedAt)
	d.TriageRelevanceScore = triageScore
	d.TriageReason = triageReason
	if fileURLsJSON != "" {
		if err := json.Unmarshal([]byte(fileURLsJSON), &d.FileURLs); err != nil {
			return model.Document{}, fmt.Errorf("unmarshal file urls: %w", err)
		}
	}
	if triageCategoriesJSON != "" {
		if err := json.Unmarshal([]byte(triageCategoriesJSON), &d.TriageCategories); err != nil {
			return model.Document{}, fmt.Errorf("unmarshal triage categories: %w", err)
		}
	}
	return d, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseNullableTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullableTimeString(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

func formatNullableTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
