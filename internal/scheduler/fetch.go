package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/hyperifyio/watchdog/internal/gateway"
	"github.com/hyperifyio/watchdog/internal/model"
	"github.com/hyperifyio/watchdog/internal/store"
)

// maxFetchRetries is the §4.D threshold past which a Document in "new"
// that keeps failing Fetch is marked "error" instead of retried again.
const maxFetchRetries = 5

// runFetch claims one Document in "new", downloads its files, and
// transitions it to "fetched" (§4.D Fetch stage).
func (s *Scheduler) runFetch(ctx context.Context) error {
	doc, err := s.Store.ClaimNext(ctx, model.DocStatusNew)
	if err != nil {
		return err
	}

	urls := doc.FileURLs

	var bodies [][]byte
	var newFiles []model.File
	for _, url := range urls {
		fileID := uuid.NewString()
		destPath := filepath.Join(s.Config.FilesDir, doc.SourceID, fileID+".pdf")
		body, err := s.Gateway.Fetch(ctx, url)
		if err != nil {
			return s.handleFetchError(ctx, doc, err)
		}
		if err := writeDurably(destPath, body.Body); err != nil {
			return s.failFetch(ctx, doc, err)
		}
		bodies = append(bodies, body.Body)
		newFiles = append(newFiles, model.File{
			ID:          fileID,
			DocumentID:  doc.ID,
			URL:         url,
			Mime:        body.ContentType,
			ByteLength:  int64(len(body.Body)),
			StoragePath: destPath,
			TextStatus:  model.TextStatusPending,
		})
	}

	hash := gateway.ContentHash(bodies)
	if hash != doc.ContentHash {
		if err := s.Store.InsertFiles(ctx, doc.ID, newFiles); err != nil {
			return s.failFetch(ctx, doc, err)
		}
		if err := s.Store.SetContentHash(ctx, doc.ID, hash); err != nil {
			return s.failFetch(ctx, doc, err)
		}
	}

	if err := s.Store.TransitionDocument(ctx, doc.ID, model.DocStatusNew, model.DocStatusFetched); err != nil {
		if err == store.ErrStaleTransition {
			return nil
		}
		return err
	}
	return nil
}

// handleFetchError classifies a Gateway error as permanent (content
// mismatch, blocked URL) or retryable, per §4.D Fetch's failure rule.
func (s *Scheduler) handleFetchError(ctx context.Context, doc model.Document, cause error) error {
	var gwErr *gateway.Error
	permanent := false
	if asGatewayError(cause, &gwErr) {
		permanent = gwErr.Kind == gateway.FailureContentMismatch || gwErr.Kind == gateway.FailureBlockedURL
	}
	if permanent {
		return s.failFetch(ctx, doc, cause)
	}

	count, err := s.Store.IncrementRetry(ctx, doc.ID)
	if err != nil {
		return err
	}
	if count >= maxFetchRetries {
		return s.failFetch(ctx, doc, cause)
	}
	if err := s.Store.ClearClaim(ctx, doc.ID); err != nil {
		return err
	}
	return fmt.Errorf("fetch: retryable failure for document %s: %w", doc.ID, cause)
}

func (s *Scheduler) failFetch(ctx context.Context, doc model.Document, cause error) error {
	if err := s.Store.RecordDiagnostic(ctx, doc.SourceID, doc.ID, "fetch", "fetch_error", cause.Error()); err != nil {
		s.Log.Error().Err(err).Msg("record_diagnostic failed")
	}
	if err := s.Store.TransitionDocument(ctx, doc.ID, model.DocStatusNew, model.DocStatusError); err != nil && err != store.ErrStaleTransition {
		return err
	}
	return fmt.Errorf("fetch: %s: %w", doc.ID, cause)
}

func asGatewayError(err error, target **gateway.Error) bool {
	ge, ok := err.(*gateway.Error)
	if ok {
		*target = ge
	}
	return ok
}

func fileBaseName(url string) string {
	base := filepath.Base(url)
	if base == "." || base == "/" || base == "" {
		base = "file"
	}
	return base
}

// writeDurably writes data to destPath via a temp-file-then-rename with an
// fsync in between, the same durable-write discipline the Gateway's
// Download uses (§5).
func writeDurably(destPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	tmp := destPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, destPath)
}
