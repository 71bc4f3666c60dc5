package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperifyio/watchdog/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "watchdog.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertDocument_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	srcID, err := s.CreateSource(ctx, "Utsjoki", model.PlatformMunicipalWebsite, "https://www.utsjoki.fi", model.SourceConfig{Municipality: "Utsjoki"})
	if err != nil {
		t.Fatalf("CreateSource: %v", err)
	}

	ref := model.DocumentRef{
		Municipality: "Utsjoki",
		Platform:     model.PlatformMunicipalWebsite,
		DocType:      model.DocTypeDecision,
		Title:        "Paatos",
		SourceURL:    "https://www.utsjoki.fi/poytakirjat",
		ExternalID:   "abc123",
	}

	id1, _, _, err := s.UpsertDocument(ctx, srcID, ref)
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	id2, _, _, err := s.UpsertDocument(ctx, srcID, ref)
	if err != nil {
		t.Fatalf("UpsertDocument (repeat): %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected rediscovery to return the same id, got %q and %q", id1, id2)
	}
}

// TestUpsertDocument_ReobservedWithChangedContent models scenario S3: a
// Document already past Fetch is rediscovered with a changed upstream PDF.
// UpsertDocument can only compare the metadata Discover has on hand, but
// that's enough to flag it and reset status so Fetch re-verifies the real
// content_hash.
func TestUpsertDocument_ReobservedWithChangedContent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	srcID, err := s.CreateSource(ctx, "Utsjoki", model.PlatformMunicipalWebsite, "https://www.utsjoki.fi", model.SourceConfig{Municipality: "Utsjoki"})
	if err != nil {
		t.Fatalf("CreateSource: %v", err)
	}

	ref := model.DocumentRef{
		Municipality: "Utsjoki",
		Platform:     model.PlatformMunicipalWebsite,
		DocType:      model.DocTypeDecision,
		Title:        "Paatos",
		SourceURL:    "https://www.utsjoki.fi/poytakirjat",
		ExternalID:   "doc-42",
		FileURLs:     []string{"https://www.utsjoki.fi/poytakirjat/42.pdf"},
	}

	docID, isNew, changed, err := s.UpsertDocument(ctx, srcID, ref)
	if err != nil {
		t.Fatalf("UpsertDocument (initial): %v", err)
	}
	if !isNew || !changed {
		t.Fatalf("expected the first observation to be new, got isNew=%v changed=%v", isNew, changed)
	}

	// Advance the Document well past Fetch, as if a prior run already
	// processed it end to end.
	if err := s.TransitionDocument(ctx, docID, model.DocStatusNew, model.DocStatusFetched); err != nil {
		t.Fatalf("TransitionDocument to fetched: %v", err)
	}
	if err := s.TransitionDocument(ctx, docID, model.DocStatusFetched, model.DocStatusExtracted); err != nil {
		t.Fatalf("TransitionDocument to extracted: %v", err)
	}
	if err := s.TransitionDocument(ctx, docID, model.DocStatusExtracted, model.DocStatusProcessed); err != nil {
		t.Fatalf("TransitionDocument to processed: %v", err)
	}

	// Rediscover the same (source_id, external_id) with a replaced PDF: same
	// title and body, new file_url.
	reobserved := ref
	reobserved.FileURLs = []string{"https://www.utsjoki.fi/poytakirjat/42-v2.pdf"}

	id2, isNew2, changed2, err := s.UpsertDocument(ctx, srcID, reobserved)
	if err != nil {
		t.Fatalf("UpsertDocument (re-observed): %v", err)
	}
	if id2 != docID {
		t.Fatalf("expected re-observation to keep the same Document id, got %q and %q", docID, id2)
	}
	if isNew2 {
		t.Fatalf("expected re-observation of an existing (source_id, external_id) to not be new")
	}
	if !changed2 {
		t.Fatalf("expected the changed file_urls to be detected as a content change")
	}

	// Status must be reset to "new" so Fetch re-verifies content_hash against
	// the replaced PDF, rather than leaving the Document stranded at
	// "processed" (spec.md:185).
	doc, err := s.ClaimNext(ctx, model.DocStatusNew)
	if err != nil {
		t.Fatalf("ClaimNext after re-observation: %v", err)
	}
	if doc.ID != docID {
		t.Fatalf("expected the re-observed Document to be claimable again, got %q", doc.ID)
	}
}

func TestClaimNext_ThenTransition(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	srcID, err := s.CreateSource(ctx, "Utsjoki", model.PlatformMunicipalWebsite, "https://www.utsjoki.fi", model.SourceConfig{})
	if err != nil {
		t.Fatalf("CreateSource: %v", err)
	}
	_, _, _, err = s.UpsertDocument(ctx, srcID, model.DocumentRef{
		DocType: model.DocTypeMinutes, Title: "t", SourceURL: "https://x", ExternalID: "ext-1",
	})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	doc, err := s.ClaimNext(ctx, model.DocStatusNew)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if doc.Status != model.DocStatusNew {
		t.Fatalf("expected ClaimNext to leave status unchanged, got %q", doc.Status)
	}

	if _, err := s.ClaimNext(ctx, model.DocStatusNew); err != ErrNoWork {
		t.Fatalf("expected ErrNoWork on second claim of an already-claimed row, got %v", err)
	}

	if err := s.TransitionDocument(ctx, doc.ID, model.DocStatusNew, model.DocStatusFetched); err != nil {
		t.Fatalf("TransitionDocument: %v", err)
	}
	if err := s.TransitionDocument(ctx, doc.ID, model.DocStatusNew, model.DocStatusFetched); err != ErrStaleTransition {
		t.Fatalf("expected ErrStaleTransition on stale CAS, got %v", err)
	}

	if err := s.ClearClaim(ctx, doc.ID); err != nil {
		t.Fatalf("ClearClaim: %v", err)
	}
}

func TestSourceFailureAndSuccess(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	srcID, err := s.CreateSource(ctx, "Inari", model.PlatformCloudNC, "https://cloudnc.example.fi", model.SourceConfig{})
	if err != nil {
		t.Fatalf("CreateSource: %v", err)
	}

	if err := s.RecordSourceFailure(ctx, srcID, "timeout"); err != nil {
		t.Fatalf("RecordSourceFailure: %v", err)
	}

	sources, err := s.EnabledSources(ctx)
	if err != nil {
		t.Fatalf("EnabledSources: %v", err)
	}
	if len(sources) != 1 || sources[0].ConsecutiveFailures != 1 {
		t.Fatalf("expected 1 source with 1 failure, got %+v", sources)
	}

	if err := s.RecordSourceSuccess(ctx, srcID); err != nil {
		t.Fatalf("RecordSourceSuccess: %v", err)
	}
	sources, err = s.EnabledSources(ctx)
	if err != nil {
		t.Fatalf("EnabledSources: %v", err)
	}
	if sources[0].ConsecutiveFailures != 0 || sources[0].LastSuccessAt == nil {
		t.Fatalf("expected failure streak reset, got %+v", sources[0])
	}
}

func TestCaseCreateUpdateAndMerge(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	caseID, err := s.CreateCase(ctx, model.Case{
		PrimaryCategory: model.CategoryZoning,
		Headline:        "Asemakaavan muutos",
		Status:          model.CaseStatusProposed,
		Confidence:      model.ConfidenceMedium,
		Municipalities:  []string{"Utsjoki"},
		Entities:        []string{"Utsjoen kunta"},
	})
	if err != nil {
		t.Fatalf("CreateCase: %v", err)
	}

	candidates, err := s.FindMergeCandidates(ctx, model.CategoryZoning)
	if err != nil {
		t.Fatalf("FindMergeCandidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != caseID {
		t.Fatalf("expected the created case to be a merge candidate, got %+v", candidates)
	}

	c := candidates[0]
	c.Entities = append(c.Entities, "Ympäristölautakunta")
	if err := s.UpdateCase(ctx, c); err != nil {
		t.Fatalf("UpdateCase: %v", err)
	}
	if err := s.AppendCaseEvent(ctx, model.CaseEvent{CaseID: caseID, EventType: model.EventEvidenceAdded}); err != nil {
		t.Fatalf("AppendCaseEvent: %v", err)
	}
	if err := s.AppendEvidence(ctx, model.Evidence{CaseID: caseID, Snippet: "..."}); err != nil {
		t.Fatalf("AppendEvidence: %v", err)
	}

	got, err := s.GetCase(ctx, caseID)
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	if len(got.Entities) != 2 {
		t.Fatalf("expected 2 entities after merge, got %+v", got.Entities)
	}
}

func TestMonthToDateCost(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.RecordLLMUsage(ctx, model.LLMUsage{Model: "gpt-4o-mini", Stage: "triage", TokensIn: 100, TokensOut: 20, EstimatedCostCents: 5}); err != nil {
		t.Fatalf("RecordLLMUsage: %v", err)
	}
	if err := s.RecordLLMUsage(ctx, model.LLMUsage{Model: "gpt-4o-mini", Stage: "casebuild", TokensIn: 500, TokensOut: 200, EstimatedCostCents: 42}); err != nil {
		t.Fatalf("RecordLLMUsage: %v", err)
	}

	total, err := s.MonthToDateCostCents(ctx, time.Now())
	if err != nil {
		t.Fatalf("MonthToDateCostCents: %v", err)
	}
	if total != 47 {
		t.Fatalf("expected total 47 cents, got %d", total)
	}
}

func TestClaimNextForTriageAndCaseBuild_DontRace(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	srcID, err := s.CreateSource(ctx, "Inari", model.PlatformMunicipalWebsite, "https://inari.fi", model.SourceConfig{Municipality: "Inari"})
	if err != nil {
		t.Fatalf("CreateSource: %v", err)
	}
	docID, _, _, err := s.UpsertDocument(ctx, srcID, model.DocumentRef{
		DocType: model.DocTypeDecision, Title: "Paatos", SourceURL: "https://x", ExternalID: "ext-1",
	})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if err := s.TransitionDocument(ctx, docID, model.DocStatusNew, model.DocStatusExtracted); err != nil {
		t.Fatalf("TransitionDocument to extracted: %v", err)
	}

	// Not yet triaged: only ClaimNextForCaseBuild should see nothing.
	if _, err := s.ClaimNextForCaseBuild(ctx); err != ErrNoWork {
		t.Fatalf("expected ClaimNextForCaseBuild to find no candidate before triage, got %v", err)
	}
	doc, err := s.ClaimNextForTriage(ctx)
	if err != nil {
		t.Fatalf("ClaimNextForTriage: %v", err)
	}
	if doc.ID != docID {
		t.Fatalf("expected to claim %q, got %q", docID, doc.ID)
	}
	if err := s.SetTriageResult(ctx, doc.ID, []string{"zoning"}, 0.9, "asemakaava mainittu"); err != nil {
		t.Fatalf("SetTriageResult: %v", err)
	}
	if err := s.ClearClaim(ctx, doc.ID); err != nil {
		t.Fatalf("ClearClaim: %v", err)
	}

	// Now triaged as a candidate: ClaimNextForTriage should no longer see it,
	// and ClaimNextForCaseBuild should.
	if _, err := s.ClaimNextForTriage(ctx); err != ErrNoWork {
		t.Fatalf("expected ClaimNextForTriage to skip an already-triaged row, got %v", err)
	}
	claimed, err := s.ClaimNextForCaseBuild(ctx)
	if err != nil {
		t.Fatalf("ClaimNextForCaseBuild: %v", err)
	}
	if claimed.ID != docID || len(claimed.TriageCategories) != 1 || claimed.TriageCategories[0] != "zoning" {
		t.Fatalf("unexpected claimed document: %+v", claimed)
	}
}

func TestGetSource(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	srcID, err := s.CreateSource(ctx, "Utsjoki", model.PlatformMunicipalWebsite, "https://www.utsjoki.fi", model.SourceConfig{Municipality: "Utsjoki"})
	if err != nil {
		t.Fatalf("CreateSource: %v", err)
	}

	src, err := s.GetSource(ctx, srcID)
	if err != nil {
		t.Fatalf("GetSource: %v", err)
	}
	if src.Municipality != "Utsjoki" || src.Platform != model.PlatformMunicipalWebsite {
		t.Fatalf("unexpected source: %+v", src)
	}
}

func TestRecordAndReadDiagnostics(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.RecordDiagnostic(ctx, "src-1", "", "discover", "transport_error", "dial tcp: timeout"); err != nil {
		t.Fatalf("RecordDiagnostic: %v", err)
	}
	msgs, err := s.RecentDiagnostics(ctx, "src-1", 10)
	if err != nil {
		t.Fatalf("RecentDiagnostics: %v", err)
	}
	if len(msgs) != 1 || msgs[0] != "dial tcp: timeout" {
		t.Fatalf("unexpected diagnostics: %+v", msgs)
	}
}
