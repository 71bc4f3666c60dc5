package connector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/hyperifyio/watchdog/internal/gateway"
	"github.com/hyperifyio/watchdog/internal/model"
)

// MunicipalWebsite discovers documents from a generic municipal website that
// publishes meeting minutes and decisions as linked PDFs on one or more
// listing pages, with no structured feed to rely on (§4.B). It is the most
// loosely specified platform and so leans hardest on the keyword dictionary
// in keywords.go.
type MunicipalWebsite struct {
	Source  model.Source
	Config  model.SourceConfig
	Gateway *gateway.Gateway
}

// pdfAnchorSuffix is the default substring a listing anchor's lower-cased
// href must contain (anywhere, not only at the end) to be treated as a
// document link, when the Source config names none.
const pdfAnchorSuffix = ".pdf"

func (c *MunicipalWebsite) Discover(ctx context.Context) ([]model.DocumentRef, error) {
	var refs []model.DocumentRef
	for _, path := range c.listingPaths() {
		listingURL, err := resolveURL(c.Source.BaseURL, path)
		if err != nil {
			return nil, fmt.Errorf("municipal_website: resolve listing path %q: %w", path, err)
		}
		resp, err := c.Gateway.Fetch(ctx, listingURL)
		if err != nil {
			return nil, fmt.Errorf("municipal_website: fetch %s: %w", listingURL, err)
		}
		pageRefs, err := c.parseListing(listingURL, resp.Body)
		if err != nil {
			return nil, fmt.Errorf("municipal_website: parse %s: %w", listingURL, err)
		}
		refs = append(refs, pageRefs...)
	}
	return refs, nil
}

func (c *MunicipalWebsite) listingPaths() []string {
	if len(c.Config.ListingPaths) > 0 {
		return c.Config.ListingPaths
	}
	return []string{"/"}
}

func (c *MunicipalWebsite) parseListing(listingURL string, body []byte) ([]model.DocumentRef, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}

	suffix := pdfAnchorSuffix
	if c.Config.PDFPattern != "" {
		suffix = c.Config.PDFPattern
	}

	var refs []model.DocumentRef
	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || !strings.Contains(strings.ToLower(href), suffix) {
			return
		}
		absURL, err := resolveURL(listingURL, href)
		if err != nil {
			return
		}
		title := strings.TrimSpace(sel.Text())
		blockText := surroundingBlockText(sel)

		ref := model.DocumentRef{
			Municipality: c.Config.Municipality,
			Platform:     model.PlatformMunicipalWebsite,
			Body:         MatchBody(blockText, c.Config.BodyPatterns),
			MeetingDate:  MatchMeetingDate(blockText),
			DocType:      model.DocType(MatchDocType(blockText + " " + title)),
			Title:        title,
			SourceURL:    listingURL,
			FileURLs:     []string{absURL},
			ExternalID:   externalIDFromURL(absURL),
		}
		refs = append(refs, ref)
	})
	return refs, nil
}

// surroundingBlockText walks up to the anchor's containing block-level
// ancestor (or its parent, failing that) and returns its full text, so date
// and committee-name keywords that sit beside the link rather than inside
// its own anchor text are still visible to MatchBody/MatchMeetingDate (§8
// scenario S4: the date appears in the surrounding paragraph, not the link).
func surroundingBlockText(sel *goquery.Selection) string {
	node := sel.Get(0)
	for p := node.Parent; p != nil; p = p.Parent {
		if isBlockElement(p) {
			return goquery.NewDocumentFromNode(p).Text()
		}
	}
	return sel.Parent().Text()
}

func isBlockElement(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.Data {
	case "li", "p", "tr", "div", "article", "section":
		return true
	default:
		return false
	}
}

func resolveURL(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// externalIDFromURL derives a stable external_id from an absolute file URL
// when a platform's own listing provides no numeric identifier.
func externalIDFromURL(absURL string) string {
	sum := sha256.Sum256([]byte(absURL))
	return hex.EncodeToString(sum[:])[:16]
}
