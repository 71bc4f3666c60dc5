package connector

import (
	"testing"

	"github.com/hyperifyio/watchdog/internal/model"
)

func TestNew_UnknownPlatform(t *testing.T) {
	src := model.Source{Platform: model.Platform("unknown_platform")}
	_, err := New(src, model.SourceConfig{}, nil)
	if err == nil {
		t.Fatalf("expected ErrUnknownPlatform")
	}
	if _, ok := err.(*ErrUnknownPlatform); !ok {
		t.Fatalf("expected *ErrUnknownPlatform, got %T", err)
	}
}

func TestNew_KnownPlatforms(t *testing.T) {
	for _, p := range []model.Platform{
		model.PlatformCloudNC, model.PlatformDynasty, model.PlatformTWeb, model.PlatformMunicipalWebsite,
	} {
		src := model.Source{Platform: p, BaseURL: "https://example.fi"}
		c, err := New(src, model.SourceConfig{}, nil)
		if err != nil {
			t.Fatalf("New(%s): unexpected error %v", p, err)
		}
		if c == nil {
			t.Fatalf("New(%s): nil connector", p)
		}
	}
}

func TestMunicipalWebsite_ParseListing_ScenarioS4(t *testing.T) {
	// §8 scenario S4: a listing block containing "Ympäristölautakunta
	// 13.12.2024" with an anchor to paatos-2024-11-ympäristö.pdf yields a
	// DocumentRef with body=Ympäristölautakunta, meeting_date=2024-12-13,
	// doc_type=decision.
	html := `<html><body>
<ul>
<li>Ympäristölautakunta 13.12.2024 <a href="/liitteet/paatos-2024-11-ymparisto.pdf">Päätös</a></li>
</ul>
</body></html>`

	c := &MunicipalWebsite{
		Source: model.Source{BaseURL: "https://www.utsjoki.fi"},
		Config: model.SourceConfig{Municipality: "Utsjoki"},
	}
	refs, err := c.parseListing("https://www.utsjoki.fi/poytakirjat", []byte(html))
	if err != nil {
		t.Fatalf("parseListing: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("expected 1 ref, got %d", len(refs))
	}
	ref := refs[0]
	if ref.Body != "Ympäristölautakunta" {
		t.Fatalf("Body = %q, want Ympäristölautakunta", ref.Body)
	}
	if ref.MeetingDate == nil || ref.MeetingDate.Format("2006-01-02") != "2024-12-13" {
		t.Fatalf("MeetingDate = %v, want 2024-12-13", ref.MeetingDate)
	}
	if ref.DocType != model.DocTypeDecision {
		t.Fatalf("DocType = %q, want decision", ref.DocType)
	}
	if ref.FileURLs[0] != "https://www.utsjoki.fi/liitteet/paatos-2024-11-ymparisto.pdf" {
		t.Fatalf("FileURLs[0] = %q", ref.FileURLs[0])
	}
	if ref.ExternalID == "" {
		t.Fatalf("expected non-empty ExternalID")
	}
}

func TestMunicipalWebsite_ParseListing_NoMatches(t *testing.T) {
	c := &MunicipalWebsite{Source: model.Source{BaseURL: "https://example.fi"}}
	refs, err := c.parseListing("https://example.fi/", []byte(`<html><body><a href="/about">About</a></body></html>`))
	if err != nil {
		t.Fatalf("parseListing: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("expected no refs for non-pdf anchors, got %d", len(refs))
	}
}

func TestCloudNC_ParseRSS(t *testing.T) {
	rss := `<?xml version="1.0"?>
<rss><channel>
<item>
<title>Kunnanhallitus 5.2.2025 poytakirja</title>
<link>https://cloudnc.example.fi/ah/openattachment.aspx?fileid=88211</link>
<pubDate>Wed, 05 Feb 2025 10:00:00 GMT</pubDate>
</item>
</channel></rss>`

	c := &CloudNC{Source: model.Source{BaseURL: "https://cloudnc.example.fi"}}
	refs, err := c.parseRSS("https://cloudnc.example.fi/rss/meetings", []byte(rss))
	if err != nil {
		t.Fatalf("parseRSS: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("expected 1 ref, got %d", len(refs))
	}
	if refs[0].ExternalID != "88211" {
		t.Fatalf("ExternalID = %q, want 88211", refs[0].ExternalID)
	}
	if refs[0].Body != "Kunnanhallitus" {
		t.Fatalf("Body = %q, want Kunnanhallitus", refs[0].Body)
	}
}

func TestCloudNC_ParseHTML(t *testing.T) {
	html := `<html><body><div>Tekninen lautakunta 1.3.2025
<a href="/ah/openattachment.aspx?fileid=4021">Poytakirja</a></div></body></html>`
	c := &CloudNC{Source: model.Source{BaseURL: "https://cloudnc.example.fi"}}
	refs, err := c.parseHTML("https://cloudnc.example.fi/listing", []byte(html))
	if err != nil {
		t.Fatalf("parseHTML: %v", err)
	}
	if len(refs) != 1 || refs[0].ExternalID != "4021" {
		t.Fatalf("refs = %+v", refs)
	}
}

func TestDynasty_Parse(t *testing.T) {
	html := `<html><body><div>Kunnanvaltuusto 20.1.2025
<a href="/meeting_handlers/show_attachment?item_id=9981">Esityslista</a></div></body></html>`
	c := &Dynasty{Source: model.Source{BaseURL: "https://dynasty.example.fi"}}
	refs, err := c.parse("https://dynasty.example.fi/meeting_handlers/frameset_meeting", []byte(html))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(refs) != 1 || refs[0].ExternalID != "9981" {
		t.Fatalf("refs = %+v", refs)
	}
	if refs[0].Body != "Kunnanvaltuusto" {
		t.Fatalf("Body = %q", refs[0].Body)
	}
}

func TestTWeb_Parse(t *testing.T) {
	html := `<html><body><div>Rakennuslautakunta 2.4.2025
<a href="/fileshow?doctype=poytakirja&docid=555">Liite</a></div></body></html>`
	c := &TWeb{Source: model.Source{BaseURL: "https://tweb.example.fi"}}
	refs, err := c.parse("https://tweb.example.fi/poytakirjat", []byte(html), model.DocTypeMinutes)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(refs) != 1 || refs[0].ExternalID != "555" {
		t.Fatalf("refs = %+v", refs)
	}
	if refs[0].Body != "Rakennuslautakunta" {
		t.Fatalf("Body = %q", refs[0].Body)
	}
}
