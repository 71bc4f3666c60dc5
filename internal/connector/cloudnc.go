package connector

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hyperifyio/watchdog/internal/gateway"
	"github.com/hyperifyio/watchdog/internal/model"
)

// CloudNC discovers documents from a CloudNC-hosted meeting archive, which
// publishes either an RSS feed or an HTML listing depending on municipality
// configuration, with each entry carrying a numeric file id in its link
// (§4.B). The RSS case is tried first; an HTML fallback covers
// municipalities that never enabled CloudNC's feed module.
type CloudNC struct {
	Source  model.Source
	Config  model.SourceConfig
	Gateway *gateway.Gateway
}

type cloudNCRSS struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []cloudNCItem `xml:"item"`
	} `xml:"channel"`
}

type cloudNCItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	PubDate string `xml:"pubDate"`
}

func (c *CloudNC) Discover(ctx context.Context) ([]model.DocumentRef, error) {
	var refs []model.DocumentRef
	for _, path := range c.listingPaths() {
		listingURL, err := resolveURL(c.Source.BaseURL, path)
		if err != nil {
			return nil, fmt.Errorf("cloudnc: resolve listing path %q: %w", path, err)
		}
		resp, err := c.Gateway.Fetch(ctx, listingURL)
		if err != nil {
			return nil, fmt.Errorf("cloudnc: fetch %s: %w", listingURL, err)
		}
		pageRefs, err := c.parse(listingURL, resp)
		if err != nil {
			return nil, fmt.Errorf("cloudnc: parse %s: %w", listingURL, err)
		}
		refs = append(refs, pageRefs...)
	}
	return refs, nil
}

func (c *CloudNC) listingPaths() []string {
	paths := []string{c.Config.Paths.Meetings, c.Config.Paths.Agendas, c.Config.Paths.OfficerDecisions, c.Config.Paths.Announcements}
	var out []string
	for _, p := range paths {
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = append(out, "/rss/meetings")
	}
	return out
}

func (c *CloudNC) parse(listingURL string, resp *gateway.Response) ([]model.DocumentRef, error) {
	if strings.Contains(resp.ContentType, "xml") || strings.HasPrefix(strings.TrimSpace(string(resp.Body)), "<?xml") {
		return c.parseRSS(listingURL, resp.Body)
	}
	return c.parseHTML(listingURL, resp.Body)
}

func (c *CloudNC) parseRSS(listingURL string, body []byte) ([]model.DocumentRef, error) {
	var feed cloudNCRSS
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode rss: %w", err)
	}
	var refs []model.DocumentRef
	for _, item := range feed.Channel.Items {
		absURL, err := resolveURL(listingURL, item.Link)
		if err != nil {
			continue
		}
		combined := item.Title
		refs = append(refs, model.DocumentRef{
			Municipality: c.Config.Municipality,
			Platform:     model.PlatformCloudNC,
			Body:         MatchBody(combined, c.Config.BodyPatterns),
			MeetingDate:  MatchMeetingDate(combined),
			DocType:      model.DocType(MatchDocType(combined)),
			Title:        strings.TrimSpace(item.Title),
			SourceURL:    listingURL,
			FileURLs:     []string{absURL},
			ExternalID:   cloudNCFileID(absURL),
		})
	}
	return refs, nil
}

func (c *CloudNC) parseHTML(listingURL string, body []byte) ([]model.DocumentRef, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	var refs []model.DocumentRef
	doc.Find("a[href*='fileid=']").Each(func(_ int, sel *goquery.Selection) {
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
			Platform:     model.PlatformCloudNC,
			Body:         MatchBody(blockText, c.Config.BodyPatterns),
			MeetingDate:  MatchMeetingDate(blockText),
			DocType:      model.DocType(MatchDocType(blockText + " " + title)),
			Title:        title,
			SourceURL:    listingURL,
			FileURLs:     []string{absURL},
			ExternalID:   cloudNCFileID(absURL),
		})
	})
	return refs, nil
}

// cloudNCFileID extracts the numeric fileid= query parameter CloudNC gives
// every document link, falling back to a hash when the link shape is
// unrecognized (mirrored municipalities sometimes rewrite the URL scheme).
func cloudNCFileID(absURL string) string {
	const marker = "fileid="
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
