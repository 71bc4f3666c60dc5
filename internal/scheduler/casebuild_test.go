package scheduler

import (
	"context"
	"testing"

	"github.com/hyperifyio/watchdog/internal/budget"
	"github.com/hyperifyio/watchdog/internal/model"
	"github.com/hyperifyio/watchdog/internal/store"
)

func seedTriagedCandidate(t *testing.T, ctx context.Context, s *store.Store, municipality, externalID string) string {
	t.Helper()
	srcID, err := s.CreateSource(ctx, municipality, model.PlatformMunicipalWebsite, "https://"+municipality, model.SourceConfig{Municipality: municipality})
	if err != nil {
		t.Fatalf("CreateSource: %v", err)
	}
	docID, _, _, err := s.UpsertDocument(ctx, srcID, model.DocumentRef{
		DocType: model.DocTypeDecision, Body: "Ympäristölautakunta", Title: "Asemakaavan muutos " + externalID,
		SourceURL: "https://" + municipality + "/" + externalID + ".pdf", ExternalID: externalID,
	})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if err := s.TransitionDocument(ctx, docID, model.DocStatusNew, model.DocStatusExtracted); err != nil {
		t.Fatalf("TransitionDocument to extracted: %v", err)
	}
	if err := s.SetTriageResult(ctx, docID, []string{"zoning"}, 0.9, "asemakaava mainittu"); err != nil {
		t.Fatalf("SetTriageResult: %v", err)
	}
	if err := s.ClearClaim(ctx, docID); err != nil {
		t.Fatalf("ClearClaim: %v", err)
	}
	return docID
}

func TestRunCaseBuild_CreatesNewCase(t *testing.T) {
	ctx := context.Background()
	resp := `{"headline":"Asemakaavan muutos keskustassa","summary":"...","status":"proposed",
"entities":["Utsjoen kunta"],"locations":["Keskusta"],"confidence":"high","confidence_reason":"selkeä päätös"}`
	client := &stubChatClient{response: resp}
	sched, s := newTestScheduler(t, client)
	seedTriagedCandidate(t, ctx, s, "Utsjoki", "ext-1")

	if err := sched.runCaseBuild(ctx); err != nil {
		t.Fatalf("runCaseBuild: %v", err)
	}

	cases, err := s.FindMergeCandidates(ctx, model.CategoryZoning)
	if err != nil {
		t.Fatalf("FindMergeCandidates: %v", err)
	}
	if len(cases) != 1 {
		t.Fatalf("expected exactly one new Case, got %d", len(cases))
	}
	if cases[0].Headline != "Asemakaavan muutos keskustassa" || cases[0].Status != model.CaseStatusProposed {
		t.Fatalf("unexpected case: %+v", cases[0])
	}
	if len(cases[0].Municipalities) != 1 || cases[0].Municipalities[0] != "Utsjoki" {
		t.Fatalf("expected the Case to carry the Document's municipality, got %+v", cases[0].Municipalities)
	}

	if _, err := s.ClaimNextForCaseBuild(ctx); err != store.ErrNoWork {
		t.Fatalf("expected the processed document to be gone from case build, got %v", err)
	}
}

func TestRunCaseBuild_MergesIntoExistingCase(t *testing.T) {
	ctx := context.Background()
	resp := `{"headline":"Asemakaavan muutos keskustassa","summary":"...","status":"proposed",
"entities":["Utsjoen kunta"],"locations":["Keskusta"],"confidence":"high","confidence_reason":"selkeä päätös"}`
	client := &stubChatClient{response: resp}
	sched, s := newTestScheduler(t, client)

	seedTriagedCandidate(t, ctx, s, "Utsjoki", "ext-1")
	if err := sched.runCaseBuild(ctx); err != nil {
		t.Fatalf("runCaseBuild (first): %v", err)
	}

	resp2 := `{"headline":"Asemakaavan muutos keskustassa","summary":"päivitys","status":"approved",
"entities":["Utsjoen kunta"],"locations":["Keskusta"],"confidence":"high","confidence_reason":"hyväksytty"}`
	client.response = resp2
	seedTriagedCandidate(t, ctx, s, "Utsjoki", "ext-2")
	if err := sched.runCaseBuild(ctx); err != nil {
		t.Fatalf("runCaseBuild (second): %v", err)
	}

	cases, err := s.FindMergeCandidates(ctx, model.CategoryZoning)
	if err != nil {
		t.Fatalf("FindMergeCandidates: %v", err)
	}
	if len(cases) != 1 {
		t.Fatalf("expected the second Document to merge into the first Case, got %d cases", len(cases))
	}
	if cases[0].Status != model.CaseStatusApproved {
		t.Fatalf("expected status to advance to approved, got %q", cases[0].Status)
	}
}

func TestRunCaseBuild_BudgetExhaustedReleasesClaim(t *testing.T) {
	ctx := context.Background()
	client := &stubChatClient{response: `{"headline":"h","summary":"s","status":"unknown","entities":[],"locations":[],"confidence":"low","confidence_reason":"r"}`}
	sched, s := newTestScheduler(t, client)
	sched.Ledger = budget.NewLedger(0)
	docID := seedTriagedCandidate(t, ctx, s, "Inari", "ext-1")

	if err := sched.runCaseBuild(ctx); err != nil {
		t.Fatalf("runCaseBuild: %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("expected the LLM call to be skipped once the budget check rejects it, got %d calls", client.calls)
	}

	doc, err := s.ClaimNextForCaseBuild(ctx)
	if err != nil {
		t.Fatalf("ClaimNextForCaseBuild after budget rejection: %v", err)
	}
	if doc.ID != docID {
		t.Fatalf("expected %q still pending case build, got %q", docID, doc.ID)
	}
}
