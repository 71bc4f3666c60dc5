package extract

import "testing"

func TestMinTextCharsBeforeOCR_Threshold(t *testing.T) {
	// §8 boundary behavior 10: a 6-page PDF extracting 23 characters of text
	// triggers OCR fallback. Exercise the threshold logic directly since
	// building a real multi-page PDF fixture belongs in an integration test.
	short := "short text under threshold"
	if len(short) >= MinTextCharsBeforeOCR {
		t.Fatalf("fixture text must be shorter than threshold for this test to be meaningful")
	}
	pageCount := 6
	needsOCR := pageCount > 1 && len(short) < MinTextCharsBeforeOCR
	if !needsOCR {
		t.Fatalf("expected OCR fallback to trigger")
	}
}

func TestSinglePageShortText_NoOCR(t *testing.T) {
	// A single-page PDF is never sent to OCR regardless of text length: the
	// §4.D rule only applies to multi-page documents.
	pageCount := 1
	text := "x"
	needsOCR := pageCount > 1 && len(text) < MinTextCharsBeforeOCR
	if needsOCR {
		t.Fatalf("single-page documents must not trigger OCR")
	}
}
