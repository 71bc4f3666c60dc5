package scheduler

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hyperifyio/watchdog/internal/budget"
	"github.com/hyperifyio/watchdog/internal/llm"
	"github.com/hyperifyio/watchdog/internal/model"
	"github.com/hyperifyio/watchdog/internal/store"
)

// costCentsPerThousandTokens is a blended estimate (input+output averaged)
// for a gpt-4o-mini-class model, the same order of magnitude OpenAI lists
// for that tier. It is deliberately coarse: the budget check only needs to
// reject calls before they would blow the monthly cap, not bill precisely.
const costCentsPerThousandTokens = 1.0

// estimateCostCents converts a token count into the §4.D budget check's
// integer-cents unit, rounding up so a call of any non-zero size counts
// against the budget.
func estimateCostCents(tokens int) int64 {
	return int64(math.Ceil(float64(tokens) / 1000.0 * costCentsPerThousandTokens))
}

// triageTextExcerptChars bounds how much of a Document's extracted text the
// Triage prompt sees (§4.D: "first 2000 chars of text").
const triageTextExcerptChars = 2000

// runTriage claims one Document in "extracted", runs the deterministic
// keyword pre-filter, and — if it doesn't short-circuit — spends a Triage
// LLM call to score relevance (§4.D Triage stage).
func (s *Scheduler) runTriage(ctx context.Context) error {
	doc, err := s.Store.ClaimNextForTriage(ctx)
	if err != nil {
		return err
	}

	files, err := s.Store.FilesForDocument(ctx, doc.ID)
	if err != nil {
		return s.failTriage(ctx, doc, err)
	}
	text := combinedFileText(files)

	src, err := s.Store.GetSource(ctx, doc.SourceID)
	if err != nil {
		return s.failTriage(ctx, doc, err)
	}

	in := llm.TriageInput{
		Municipality: src.Municipality,
		Body:         doc.Body,
		Title:        doc.Title,
		MeetingDate:  formatMeetingDate(doc.MeetingDate),
		TextExcerpt:  truncateChars(text, triageTextExcerptChars),
	}

	if llm.ShouldSkip(in, s.Config.MonitoredBodies) {
		return s.transitionTriage(ctx, doc, model.DocStatusProcessed)
	}

	monthCents, err := s.Store.MonthToDateCostCents(ctx, time.Now())
	if err != nil {
		return s.failTriage(ctx, doc, err)
	}
	projected := estimateCostCents(budget.EstimateTokens(in.TextExcerpt) + budget.EstimateTokens(in.Body) + budget.EstimateTokens(in.Title))
	if s.Ledger.ExceedsBudget(monthCents, projected) {
		// Leave status at "extracted" for resumption once the budget window
		// rolls over (§4.D: "Budget exhaustion").
		if err := s.Store.RecordDiagnostic(ctx, doc.SourceID, doc.ID, "triage", "llm_budget_exhausted", "monthly budget would be exceeded"); err != nil {
			s.Log.Error().Err(err).Msg("record_diagnostic failed")
		}
		return s.Store.ClearClaim(ctx, doc.ID)
	}

	res, tokens, err := s.Triager.Triage(ctx, in)
	if err != nil {
		return s.failTriage(ctx, doc, err)
	}
	if err := s.Store.RecordLLMUsage(ctx, model.LLMUsage{
		ID:                 uuid.NewString(),
		Model:              s.Triager.Model,
		Stage:              "triage",
		DocumentID:         doc.ID,
		TokensIn:           tokens,
		EstimatedCostCents: estimateCostCents(tokens),
	}); err != nil {
		s.Log.Error().Err(err).Msg("record_llm_usage failed")
	}

	if err := s.Store.SetTriageResult(ctx, doc.ID, res.Categories, res.RelevanceScore, res.CandidateReason); err != nil {
		return s.failTriage(ctx, doc, err)
	}

	if res.RelevanceScore < llm.RelevanceThreshold || len(res.Categories) == 0 {
		return s.transitionTriage(ctx, doc, model.DocStatusProcessed)
	}

	// A candidate proceeds straight on to Case Build without an intermediate
	// status: triage_categories_json now marks it as pending Case Build, and
	// ClaimNextForCaseBuild re-derives candidacy from that column rather than
	// a dedicated status. Release the claim so Case Build can pick it up.
	return s.Store.ClearClaim(ctx, doc.ID)
}

func (s *Scheduler) transitionTriage(ctx context.Context, doc model.Document, to model.DocStatus) error {
	if err := s.Store.TransitionDocument(ctx, doc.ID, model.DocStatusExtracted, to); err != nil {
		if err == store.ErrStaleTransition {
			return nil
		}
		return err
	}
	return nil
}

func (s *Scheduler) failTriage(ctx context.Context, doc model.Document, cause error) error {
	if err := s.Store.RecordDiagnostic(ctx, doc.SourceID, doc.ID, "triage", "triage_error", cause.Error()); err != nil {
		s.Log.Error().Err(err).Msg("record_diagnostic failed")
	}
	if err := s.Store.TransitionDocument(ctx, doc.ID, model.DocStatusExtracted, model.DocStatusError); err != nil && err != store.ErrStaleTransition {
		return err
	}
	return fmt.Errorf("triage: %s: %w", doc.ID, cause)
}

func combinedFileText(files []model.File) string {
	var sb strings.Builder
	for _, f := range files {
		if f.TextContent == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(f.TextContent)
	}
	return sb.String()
}

func formatMeetingDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func truncateChars(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
