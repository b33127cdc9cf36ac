// Package detector decides when a plain fetch must be retried in a headless
// browser.
package detector

import (
	"bytes"
	"net/http"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
)

const (
	defaultBodyLengthThreshold = 2048
	scriptCoveragePercent      = 25
)

// spaSelector matches client-rendered application shells.
const spaSelector = "#__next, [data-reactroot], div#root:empty, div#app:empty"

// Heuristic promotes pages that look client-rendered or lack the markup the
// extractor depends on.
type Heuristic struct {
	// BodyLengthThreshold bounds the bodies checked for script density.
	BodyLengthThreshold int
	// RequiredSelectors must each match at least once in a server-rendered page.
	RequiredSelectors []string
}

// NewHeuristic creates a detector. A zero threshold falls back to 2048 bytes.
func NewHeuristic(threshold int, required ...string) *Heuristic {
	if threshold <= 0 {
		threshold = defaultBodyLengthThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold, RequiredSelectors: required}
}

// ShouldPromote reports whether resp warrants a headless fetch. Only 200
// responses are considered.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	if doc.Find(spaSelector).Length() > 0 {
		return true
	}
	for _, sel := range h.RequiredSelectors {
		if doc.Find(sel).Length() == 0 {
			return true
		}
	}
	return len(body) < h.BodyLengthThreshold && scriptCoverage(doc, len(body)) >= scriptCoveragePercent
}

// scriptCoverage returns the share of the document taken by script elements.
func scriptCoverage(doc *goquery.Document, total int) int {
	if total == 0 {
		return 0
	}
	covered := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if html, err := goquery.OuterHtml(s); err == nil {
			covered += len(html)
		}
	})
	return covered * 100 / total
}
