package connector

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// finCaser folds Finnish text for case-insensitive, diacritic-stable keyword
// matching — Ympäristö, YMPÄRISTÖ, and ympäristö must all match the same
// dictionary entry. This wires golang.org/x/text/cases + language, a
// dependency the teacher's go.mod required but never imported (see
// DESIGN.md), into the one place the spec actually needs locale-aware
// folding.
var finCaser = cases.Lower(language.Finnish)

func foldFinnish(s string) string {
	return finCaser.String(s)
}

// bodyKeywords maps a lowercase, fold-normalized keyword to the committee
// name a MunicipalWebsite listing block should be attributed to (§4.B).
var bodyKeywords = []struct {
	keyword string
	label   string
}{
	{"valtuusto", "Kunnanvaltuusto"},
	{"hallitus", "Kunnanhallitus"},
	{"ympäristö", "Ympäristölautakunta"},
	{"tekninen", "Tekninen lautakunta"},
	{"rakennus", "Rakennuslautakunta"},
	{"hyvinvointi", "Hyvinvointilautakunta"},
	{"sivistys", "Sivistyslautakunta"},
	{"tarkastus", "Tarkastuslautakunta"},
}

const unknownBody = "Tuntematon"

// MatchBody returns the committee label matched in text, or "Tuntematon".
// Custom body_patterns from a Source's config take precedence over the
// built-in dictionary.
func MatchBody(text string, custom map[string]string) string {
	folded := foldFinnish(text)
	for keyword, label := range custom {
		if strings.Contains(folded, foldFinnish(keyword)) {
			return label
		}
	}
	for _, kw := range bodyKeywords {
		if strings.Contains(folded, kw.keyword) {
			return kw.label
		}
	}
	return unknownBody
}

// docTypeKeywords maps a lowercase keyword to the DocType it implies.
var docTypeKeywords = []struct {
	keyword string
	docType string
}{
	{"esityslista", "agenda"},
	{"pöytäkirja", "minutes"},
	{"päätös", "decision"},
	{"kuulutus", "announcement"},
}

// MatchDocType infers a doc_type from anchor text, defaulting to "minutes".
func MatchDocType(text string) string {
	folded := foldFinnish(text)
	for _, kw := range docTypeKeywords {
		if strings.Contains(folded, kw.keyword) {
			return kw.docType
		}
	}
	return "minutes"
}

var (
	dateDMY = regexp.MustCompile(`\b(\d{1,2})\.(\d{1,2})\.(\d{4})\b`)
	dateYMD = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
)

// MatchMeetingDate finds the first d.m.yyyy or yyyy-mm-dd date in text.
func MatchMeetingDate(text string) *time.Time {
	if m := dateDMY.FindStringSubmatch(text); m != nil {
		if t, ok := buildDate(m[3], m[2], m[1]); ok {
			return &t
		}
	}
	if m := dateYMD.FindStringSubmatch(text); m != nil {
		if t, ok := buildDate(m[1], m[2], m[3]); ok {
			return &t
		}
	}
	return nil
}

func buildDate(year, month, day string) (time.Time, bool) {
	t, err := time.Parse("2006-1-2", year+"-"+month+"-"+day)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// TriageKeywords is the deterministic relevance keyword set from §4.D's
// Triage stage, shared here because the connector layer's body matching
// draws from the same Finnish-keyword idiom.
var TriageKeywords = []string{
	"kaava", "yleiskaava", "osayleiskaava", "asemakaava", "poikkeaminen",
	"maa-aines", "ympäristölupa", "meluilmoitus", "vesitalous", "ojitus",
	"kuivatus", "natura", "tuuli", "kaivos", "turve",
}

// MatchesTriageKeywords reports whether any Triage keyword appears in text.
func MatchesTriageKeywords(text string) bool {
	folded := foldFinnish(text)
	for _, kw := range TriageKeywords {
		if strings.Contains(folded, foldFinnish(kw)) {
			return true
		}
	}
	return false
}
