package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hyperifyio/watchdog/internal/budget"
	"github.com/hyperifyio/watchdog/internal/llm"
	"github.com/hyperifyio/watchdog/internal/merge"
	"github.com/hyperifyio/watchdog/internal/model"
	"github.com/hyperifyio/watchdog/internal/store"
)

// caseBuildTextChars bounds how much combined File text feeds the Case
// Build prompt before llm.CaseBuilder applies its own token-budget
// truncation (§4.D: "≤8000 input tokens").
const caseBuildTextChars = 32000

// runCaseBuild claims one Triage-passed candidate Document, builds its
// strict-schema case synthesis, and either merges it into an existing Case
// or creates a new one, finally transitioning the Document to "processed"
// (§4.D Case Build stage).
func (s *Scheduler) runCaseBuild(ctx context.Context) error {
	doc, err := s.Store.ClaimNextForCaseBuild(ctx)
	if err != nil {
		return err
	}

	files, err := s.Store.FilesForDocument(ctx, doc.ID)
	if err != nil {
		return s.failCaseBuild(ctx, doc, err)
	}
	src, err := s.Store.GetSource(ctx, doc.SourceID)
	if err != nil {
		return s.failCaseBuild(ctx, doc, err)
	}

	in := llm.CaseBuildInput{
		Municipality: src.Municipality,
		Body:         doc.Body,
		Title:        doc.Title,
		MeetingDate:  formatMeetingDate(doc.MeetingDate),
		Categories:   doc.TriageCategories,
		Text:         truncateChars(combinedFileText(files), caseBuildTextChars),
		SourceURL:    doc.SourceURL,
	}

	monthCents, err := s.Store.MonthToDateCostCents(ctx, time.Now())
	if err != nil {
		return s.failCaseBuild(ctx, doc, err)
	}
	projected := estimateCostCents(budget.EstimateTokens(in.Text) + budget.EstimateTokens(in.Title))
	if s.Ledger.ExceedsBudget(monthCents, projected) {
		if err := s.Store.RecordDiagnostic(ctx, doc.SourceID, doc.ID, "casebuild", "llm_budget_exhausted", "monthly budget would be exceeded"); err != nil {
			s.Log.Error().Err(err).Msg("record_diagnostic failed")
		}
		return s.Store.ClearClaim(ctx, doc.ID)
	}

	res, tokens, err := s.CaseBuilder.Build(ctx, in)
	if err != nil {
		return s.failCaseBuild(ctx, doc, err)
	}
	if err := s.Store.RecordLLMUsage(ctx, model.LLMUsage{
		ID:                 uuid.NewString(),
		Model:              s.CaseBuilder.Model,
		Stage:              "casebuild",
		DocumentID:         doc.ID,
		TokensIn:           tokens,
		EstimatedCostCents: estimateCostCents(tokens),
	}); err != nil {
		s.Log.Error().Err(err).Msg("record_llm_usage failed")
	}

	category := model.Category("")
	if len(doc.TriageCategories) > 0 {
		category = model.Category(doc.TriageCategories[0])
	}

	if err := s.mergeOrCreateCase(ctx, doc, src.Municipality, category, res); err != nil {
		return s.failCaseBuild(ctx, doc, err)
	}

	if err := s.Store.TransitionDocument(ctx, doc.ID, model.DocStatusExtracted, model.DocStatusProcessed); err != nil {
		if err == store.ErrStaleTransition {
			return nil
		}
		return err
	}
	return nil
}

// mergeOrCreateCase scores res against existing Cases in the same category
// and either merges evidence into the best match above merge.Threshold or
// creates a new Case (§4.D: "query find_merge_candidates ... If max score >
// 0.8, update the matched Case ... else create a new Case").
func (s *Scheduler) mergeOrCreateCase(ctx context.Context, doc model.Document, municipality string, category model.Category, res llm.CaseBuildResult) error {
	candidate := merge.Candidate{
		Category:  category,
		Headline:  res.Headline,
		Entities:  res.Entities,
		Locations: res.Locations,
	}

	existing, err := s.Store.FindMergeCandidates(ctx, category)
	if err != nil {
		return fmt.Errorf("case build: find merge candidates: %w", err)
	}

	evidence := evidenceFromResult(doc, res)

	best, _, ok := merge.Best(candidate, existing)
	if ok {
		best.Municipalities = merge.UnionStrings(best.Municipalities, []string{municipality})
		best.Entities = merge.UnionStrings(best.Entities, res.Entities)
		best.Locations = merge.UnionStrings(best.Locations, res.Locations)
		if caseStatusRank(res.Status) > caseStatusRank(string(best.Status)) {
			best.Status = model.CaseStatus(res.Status)
		}
		if err := s.Store.UpdateCase(ctx, best); err != nil {
			return fmt.Errorf("case build: update case: %w", err)
		}
		for _, ev := range evidence {
			ev.CaseID = best.ID
			if err := s.Store.AppendEvidence(ctx, ev); err != nil {
				return fmt.Errorf("case build: append evidence: %w", err)
			}
		}
		return s.Store.AppendCaseEvent(ctx, model.CaseEvent{CaseID: best.ID, EventType: model.EventEvidenceAdded})
	}

	caseID, err := s.Store.CreateCase(ctx, model.Case{
		PrimaryCategory:  category,
		Headline:         res.Headline,
		Summary:          res.Summary,
		Status:           model.CaseStatus(res.Status),
		Confidence:       model.Confidence(res.Confidence),
		ConfidenceReason: res.ConfidenceReason,
		Municipalities:   []string{municipality},
		Entities:         res.Entities,
		Locations:        res.Locations,
	})
	if err != nil {
		return fmt.Errorf("case build: create case: %w", err)
	}
	for _, ev := range evidence {
		ev.CaseID = caseID
		if err := s.Store.AppendEvidence(ctx, ev); err != nil {
			return fmt.Errorf("case build: append evidence: %w", err)
		}
	}
	return nil
}

func evidenceFromResult(doc model.Document, res llm.CaseBuildResult) []model.Evidence {
	if len(res.Evidence) == 0 {
		return []model.Evidence{{DocumentID: doc.ID, SourceURL: doc.SourceURL, Snippet: res.Summary}}
	}
	out := make([]model.Evidence, 0, len(res.Evidence))
	for _, e := range res.Evidence {
		sourceURL := e.SourceURL
		if sourceURL == "" {
			sourceURL = doc.SourceURL
		}
		out = append(out, model.Evidence{DocumentID: doc.ID, Page: e.Page, Snippet: e.Snippet, SourceURL: sourceURL})
	}
	return out
}

// caseStatusRank orders CaseStatus so a newer Case Build result only
// overwrites an existing Case's status when it represents real progress
// (§4.D: "possibly update status if newer").
func caseStatusRank(status string) int {
	switch model.CaseStatus(status) {
	case model.CaseStatusApproved:
		return 2
	case model.CaseStatusProposed:
		return 1
	default:
		return 0
	}
}

func (s *Scheduler) failCaseBuild(ctx context.Context, doc model.Document, cause error) error {
	if err := s.Store.RecordDiagnostic(ctx, doc.SourceID, doc.ID, "casebuild", "casebuild_error", cause.Error()); err != nil {
		s.Log.Error().Err(err).Msg("record_diagnostic failed")
	}
	if err := s.Store.TransitionDocument(ctx, doc.ID, model.DocStatusExtracted, model.DocStatusError); err != nil && err != store.ErrStaleTransition {
		return err
	}
	return fmt.Errorf("casebuild: %s: %w", doc.ID, cause)
}
