package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hyperifyio/watchdog/internal/gateway"
	"github.com/hyperifyio/watchdog/internal/model"
)

// Dynasty discovers documents from a Dynasty meeting-handler archive, which
// renders each meeting as a "meeting_handlers" frame listing its agenda
// items and attachments, each carrying a numeric item id in the frame's
// query string (§4.B).
type Dynasty struct {
	Source  model.Source
	Config  model.SourceConfig
	Gateway *gateway.Gateway
}

func (c *Dynasty) Discover(ctx context.Context) ([]model.DocumentRef, error) {
	var refs []model.DocumentRef
	for _, path := range c.listingPaths() {
		listingURL, err := resolveURL(c.Source.BaseURL, path)
		if err != nil {
			return nil, fmt.Errorf("dynasty: resolve listing path %q: %w", path, err)
		}
		resp, err := c.Gateway.Fetch(ctx, listingURL)
		if err != nil {
			return nil, fmt.Errorf("dynasty: fetch %s: %w", listingURL, err)
		}
		pageRefs, err := c.parse(listingURL, resp.Body)
		if err != nil {
			return nil, fmt.Errorf("dynasty: parse %s: %w", listingURL, err)
		}
		refs = append(refs, pageRefs...)
	}
	return refs, nil
}

func (c *Dynasty) listingPaths() []string {
	if len(c.Config.ListingPaths) > 0 {
		return c.Config.ListingPaths
	}
	if c.Config.Paths.Meetings != "" {
		return []string{c.Config.Paths.Meetings}
	}
	return []string{"/meeting_handlers/frameset_meeting"}
}

func (c *Dynasty) parse(listingURL string, body []byte) ([]model.DocumentRef, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	var refs []model.DocumentRef
	doc.Find("a[href*='item_id=']").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		absURL, err := resolveURL(listingURL, href)
		if err != nil {
			return
		}
		title := strings.TrimSpace(sel.Text())
		blockText := surroundingBlockText(sel)
		refs = append(refs, model.DocumentRef{
			Municipality: c.Config.Municipality,
			Platform:     model.PlatformDynasty,
			Body:         MatchBody(blockText, c.Config.BodyPatterns),
			MeetingDate:  MatchMeetingDate(blockText),
			DocType:      model.DocType(MatchDocType(blockText + " " + title)),
			Title:        title,
			SourceURL:    listingURL,
			FileURLs:     []string{absURL},
			ExternalID:   dynastyItemID(absURL),
		})
	})
	return refs, nil
}

// dynastyItemID extracts the item_id= query parameter naming each agenda
// item/attachment frame, falling back to a URL hash when absent.
func dynastyItemID(absURL string) string {
	const marker = "item_id="
	if idx := strings.Index(absURL, marker); idx >= 0 {
		rest := absURL[idx+len(marker):]
		if end := strings.IndexAny(rest, "&#"); end >= 0 {
			rest = rest[:end]
		}
		if rest != "" {
			return rest
		}
	}
	return externalIDFromURL(absURL)
}
