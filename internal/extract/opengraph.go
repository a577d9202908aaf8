package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"unfurl/internal/httputil"
)

// maxPageBytes bounds how much of a video page is read for metadata.
const maxPageBytes = 4 << 20

// OpenGraph reads title and preview image from a page's meta tags.
type OpenGraph struct {
	client *http.Client
}

// NewOpenGraph creates an OpenGraph scraper using client.
func NewOpenGraph(client *http.Client) *OpenGraph {
	return &OpenGraph{client: client}
}

// Lookup fetches pageURL and returns its og:title and og:image.
func (o *OpenGraph) Lookup(ctx context.Context, pageURL string) (title, image string, err error) {
	resp, err := httputil.Get(ctx, o.client, pageURL)
	if err != nil {
		return "", "", fmt.Errorf("fetching page: %w", err)
	}
	body, err := httputil.ReadLimited(resp, maxPageBytes)
	if err != nil {
		return "", "", err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("parsing page: %w", err)
	}
	return parseOpenGraph(doc)
}

func parseOpenGraph(doc *goquery.Document) (title, image string, err error) {
	title = metaContent(doc, "og:title", "twitter:title")
	if title == "" {
		title = strings.TrimSpace(doc.Find("head title").First().Text())
	}
	image = metaContent(doc, "og:image", "twitter:image")

	if title == "" && image == "" {
		return "", "", fmt.Errorf("no metadata tags found")
	}
	return title, image, nil
}

// metaContent returns the first non-empty content of the named meta tags,
// matching either the property or the name attribute.
func metaContent(doc *goquery.Document, keys ...string) string {
	for _, key := range keys {
		sel := doc.Find(fmt.Sprintf(`meta[property=%q], meta[name=%q]`, key, key))
		for i := range sel.Nodes {
			if v := strings.TrimSpace(sel.Eq(i).AttrOr("content", "")); v != "" {
				return v
			}
		}
	}
	return ""
}
