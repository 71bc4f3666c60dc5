package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperifyio/watchdog/internal/extract"
	"github.com/hyperifyio/watchdog/internal/model"
	"github.com/hyperifyio/watchdog/internal/store"
)

// runExtract claims one Document in "fetched", extracts text from every
// attached File (falling back to OCR for scanned PDFs), and transitions it
// to "extracted" once every File has reached a terminal text status (§4.D
// Extract stage).
func (s *Scheduler) runExtract(ctx context.Context) error {
	doc, err := s.Store.ClaimNext(ctx, model.DocStatusFetched)
	if err != nil {
		return err
	}

	files, err := s.Store.FilesForDocument(ctx, doc.ID)
	if err != nil {
		return s.failExtract(ctx, doc, err)
	}

	anyText := false
	for _, f := range files {
		if f.TextStatus == model.TextStatusExtracted || f.TextStatus == model.TextStatusOCRDone {
			if strings.TrimSpace(f.TextContent) != "" {
				anyText = true
			}
			continue
		}
		if err := s.extractOne(ctx, doc, f); err != nil {
			s.Log.Error().Err(err).Str("file_id", f.ID).Msg("extract file failed")
			continue
		}
	}

	updated, err := s.Store.FilesForDocument(ctx, doc.ID)
	if err != nil {
		return s.failExtract(ctx, doc, err)
	}
	for _, f := range updated {
		if f.TextStatus == model.TextStatusExtracted || f.TextStatus == model.TextStatusOCRDone {
			if strings.TrimSpace(f.TextContent) != "" {
				anyText = true
			}
		}
	}

	if !anyText && len(updated) > 0 {
		return s.failExtract(ctx, doc, fmt.Errorf("no file produced extractable text"))
	}

	if err := s.Store.TransitionDocument(ctx, doc.ID, model.DocStatusFetched, model.DocStatusExtracted); err != nil {
		if err == store.ErrStaleTransition {
			return nil
		}
		return err
	}
	return nil
}

// extractOne runs text extraction for a single File, queuing OCR when the
// PDF reader flags it as likely scanned (§4.D, §5: OCR bounded to 300s).
func (s *Scheduler) extractOne(ctx context.Context, doc model.Document, f model.File) error {
	result, err := extract.FromPDF(f.StoragePath)
	if err != nil {
		if setErr := s.Store.SetFileText(ctx, f.ID, model.TextStatusFailed, ""); setErr != nil {
			return setErr
		}
		return fmt.Errorf("extract pdf %s: %w", f.ID, err)
	}

	if !result.NeedsOCR {
		return s.Store.SetFileText(ctx, f.ID, model.TextStatusExtracted, result.Text)
	}

	if err := s.Store.SetFileText(ctx, f.ID, model.TextStatusOCRQueued, result.Text); err != nil {
		return err
	}
	ocrCtx, cancel := context.WithTimeout(ctx, extract.OCRTimeout)
	defer cancel()
	text, err := extract.OCR(ocrCtx, f.StoragePath)
	if err != nil {
		if setErr := s.Store.SetFileText(ctx, f.ID, model.TextStatusFailed, result.Text); setErr != nil {
			return setErr
		}
		return fmt.Errorf("ocr %s: %w", f.ID, err)
	}
	return s.Store.SetFileText(ctx, f.ID, model.TextStatusOCRDone, text)
}

func (s *Scheduler) failExtract(ctx context.Context, doc model.Document, cause error) error {
	if err := s.Store.RecordDiagnostic(ctx, doc.SourceID, doc.ID, "extract", "extract_error", cause.Error()); err != nil {
		s.Log.Error().Err(err).Msg("record_diagnostic failed")
	}
	if err := s.Store.TransitionDocument(ctx, doc.ID, model.DocStatusFetched, model.DocStatusError); err != nil && err != store.ErrStaleTransition {
		return err
	}
	return fmt.Errorf("extract: %s: %w", doc.ID, cause)
}
