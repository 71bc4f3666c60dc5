package connector

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hyperifyio/watchdog/internal/gateway"
	"github.com/hyperifyio/watchdog/internal/model"
)

// TWeb discovers documents from a TWeb archive, which serves four named
// listing pages (meetings, agendas, officer decisions, announcements) whose
// file links all resolve through a shared fileshow endpoint parameterized
// by doctype and docid (§4.B): /fileshow?doctype=poytakirja&docid=12345.
type TWeb struct {
	Source  model.Source
	Config  model.SourceConfig
	Gateway *gateway.Gateway
}

// twebDocTypeForPath maps a SourceConfigPaths field name to the doc_type a
// fileshow link found on that listing page should default to, since TWeb's
// own doctype= query parameter is platform jargon (e.g. "poytakirja") not
// one of this system's DocType values.
var twebDocTypeForPath = map[string]model.DocType{
	"meetings":          model.DocTypeMinutes,
	"agendas":           model.DocTypeAgenda,
	"officer_decisions": model.DocTypeDecision,
	"announcements":     model.DocTypeAnnouncement,
}

func (c *TWeb) Discover(ctx context.Context) ([]model.DocumentRef, error) {
	var refs []model.DocumentRef
	for pathKind, path := range c.listingPaths() {
		listingURL, err := resolveURL(c.Source.BaseURL, path)
		if err != nil {
			return nil, fmt.Errorf("tweb: resolve listing path %q: %w", path, err)
		}
		resp, err := c.Gateway.Fetch(ctx, listingURL)
		if err != nil {
			return nil, fmt.Errorf("tweb: fetch %s: %w", listingURL, err)
		}
		pageRefs, err := c.parse(listingURL, resp.Body, twebDocTypeForPath[pathKind])
		if err != nil {
			return nil, fmt.Errorf("tweb: parse %s: %w", listingURL, err)
		}
		refs = append(refs, pageRefs...)
	}
	return refs, nil
}

func (c *TWeb) listingPaths() map[string]string {
	out := map[string]string{}
	if c.Config.Paths.Meetings != "" {
		out["meetings"] = c.Config.Paths.Meetings
	}
	if c.Config.Paths.Agendas != "" {
		out["agendas"] = c.Config.Paths.Agendas
	}
	if c.Config.Paths.OfficerDecisions != "" {
		out["officer_decisions"] = c.Config.Paths.OfficerDecisions
	}
	if c.Config.Paths.Announcements != "" {
		out["announcements"] = c.Config.Paths.Announcements
	}
	if len(out) == 0 {
		out["meetings"] = "/showattachment.asp"
	}
	return out
}

func (c *TWeb) parse(listingURL string, body []byte, defaultDocType model.DocType) ([]model.DocumentRef, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	var refs []model.DocumentRef
	doc.Find("a[href*='fileshow']").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		absURL, err := resolveURL(listingURL, href)
		if err != nil {
			return
		}
		docID := twebDocID(absURL)
		if docID == "" {
			return
		}
		title := strings.TrimSpace(sel.Text())
		blockText := surroundingBlockText(sel)
		docType := defaultDocType
		if inferred := model.DocType(MatchDocType(blockText + " " + title)); inferred != model.DocTypeMinutes {
			docType = inferred
		}
		refs = append(refs, model.DocumentRef{
			Municipality: c.Config.Municipality,
			Platform:     model.PlatformTWeb,
			Body:         MatchBody(blockText, c.Config.BodyPatterns),
			MeetingDate:  MatchMeetingDate(blockText),
			DocType:      docType,
			Title:        title,
			SourceURL:    listingURL,
			FileURLs:     []string{absURL},
			ExternalID:   docID,
		})
	})
	return refs, nil
}

// twebDocID extracts the docid query parameter from a fileshow URL.
func twebDocID(absURL string) string {
	u, err := url.Parse(absURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("docid")
}
