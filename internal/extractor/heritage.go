// Package extractor parses the UNESCO World Heritage List into catalog items
// and candidate records.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
)

// DefaultListingURL is the public World Heritage List.
const DefaultListingURL = "https://whc.unesco.org/en/list/"

const (
	listingSelector = "div.list_site ul li"
	countrySelector = `a[href*="/statesparties/"]`
	contentSelector = "#content > div > div:nth-of-type(3) > div > div:nth-of-type(1) > div:nth-of-type(3)"
)

// creditMarkers identify photo credit paragraphs appended to descriptions.
var creditMarkers = []string{"source: UNESCO/CPE", "CC-BY-SA IGO 3.0"}

// Heritage implements crawler.Catalog and crawler.Extractor for the UNESCO
// site layout.
type Heritage struct {
	fetcher crawler.Fetcher
	headers http.Header
	logger  *zap.Logger
}

// Option customizes a Heritage extractor.
type Option func(*Heritage)

// WithHeaders adds request headers to every fetch.
func WithHeaders(h http.Header) Option {
	return func(e *Heritage) { e.headers = h.Clone() }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Heritage) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewHeritage builds an extractor on top of fetcher.
func NewHeritage(fetcher crawler.Fetcher, opts ...Option) *Heritage {
	e := &Heritage{fetcher: fetcher, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Discover fetches the listing page and returns one item per site, in page
// order. Entries without a link are skipped and repeated links collapse.
func (e *Heritage) Discover(ctx context.Context, listingURL string) ([]crawler.Item, error) {
	resp, doc, err := e.load(ctx, listingURL)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(resp.URL)
	if err != nil || resp.URL == "" {
		base, err = url.Parse(listingURL)
		if err != nil {
			return nil, fmt.Errorf("%w: listing url %q: %w", crawler.ErrInvalidInput, listingURL, err)
		}
	}

	var (
		items []crawler.Item
		seen  = make(map[string]struct{})
	)
	doc.Find(listingSelector).Each(func(_ int, li *goquery.Selection) {
		link := li.ChildrenFiltered("a").First()
		href, ok := link.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			e.logger.Debug("skipping malformed listing link", zap.String("href", href), zap.Error(err))
			return
		}
		abs := base.ResolveReference(ref).String()
		key, err := crawler.NormalizeURL(abs)
		if err != nil {
			key = abs
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		label := normalizeSpace(link.Text())
		if label == "" {
			label = abs
		}
		items = append(items, crawler.Item{
			URL:      abs,
			Label:    label,
			Category: categoryFromClasses(li.AttrOr("class", "")),
		})
	})
	e.logger.Info("listing discovered", zap.String("url", listingURL), zap.Int("items", len(items)))
	return items, nil
}

// Extract fetches item.URL and parses the detail page. Failures wrap
// crawler.ErrExtraction.
func (e *Heritage) Extract(ctx context.Context, item crawler.Item) (crawler.Candidate, error) {
	resp, doc, err := e.load(ctx, item.URL)
	if err != nil {
		return crawler.Candidate{}, fmt.Errorf("%w: %w", crawler.ErrExtraction, err)
	}
	name := normalizeSpace(doc.Find("h1").First().Text())
	if name == "" {
		return crawler.Candidate{}, fmt.Errorf("%w: %s has no site name", crawler.ErrExtraction, item.URL)
	}

	category := item.Category
	if category == "" {
		category = categoryFromText(doc.Find("div.category").First().Text())
	}
	source := resp.URL
	if source == "" {
		source = item.URL
	}
	return crawler.Candidate{
		Name:                 name,
		Country:              country(doc),
		Category:             category,
		DescriptionPrimary:   blockText(doc.Find("#contentdes_en").First()),
		DescriptionSecondary: blockText(doc.Find("#contentdes_zh").First()),
		Content:              blockText(doc.Find(contentSelector).First()),
		SourceURL:            source,
		Raw:                  resp.Body,
	}, nil
}

func (e *Heritage) load(ctx context.Context, rawURL string) (crawler.FetchResponse, *goquery.Document, error) {
	resp, err := e.fetcher.Fetch(ctx, crawler.FetchRequest{URL: rawURL, Headers: e.headers})
	if err != nil {
		return crawler.FetchResponse{}, nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		return crawler.FetchResponse{}, nil, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return crawler.FetchResponse{}, nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	return resp, doc, nil
}

func country(doc *goquery.Document) string {
	link := doc.Find(countrySelector).First()
	if strong := normalizeSpace(link.Find("strong").First().Text()); strong != "" {
		return strong
	}
	return normalizeSpace(link.Text())
}

// categoryFromClasses maps listing li classes to a category.
func categoryFromClasses(class string) string {
	for _, c := range strings.Fields(strings.ToLower(class)) {
		switch c {
		case "natural", "natural_danger":
			return crawler.CategoryNatural
		case "mixed", "mixed_danger":
			return crawler.CategoryMixed
		}
	}
	return crawler.CategoryCultural
}

// categoryFromText maps a detail page category label to a category.
func categoryFromText(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "natural"):
		return crawler.CategoryNatural
	case strings.Contains(lower, "mixed"):
		return crawler.CategoryMixed
	default:
		return crawler.CategoryCultural
	}
}

// blockText renders a container as paragraphs separated by blank lines,
// dropping photo credits.
func blockText(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	children := sel.Children()
	if children.Length() == 0 {
		return normalizeSpace(sel.Text())
	}
	var parts []string
	children.Each(func(_ int, child *goquery.Selection) {
		text := normalizeSpace(child.Text())
		if text == "" || isCredit(text) {
			return
		}
		parts = append(parts, text)
	})
	return strings.Join(parts, "\n\n")
}

func isCredit(text string) bool {
	for _, marker := range creditMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// normalizeSpace collapses runs of whitespace into single spaces.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
