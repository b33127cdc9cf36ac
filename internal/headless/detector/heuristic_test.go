package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
)

func ok(body string) crawler.FetchResponse {
	return crawler.FetchResponse{StatusCode: 200, Body: []byte(body)}
}

func TestShouldPromoteEmptyBody(t *testing.T) {
	t.Parallel()

	require.True(t, NewHeuristic(100).ShouldPromote(ok("  ")))
}

func TestShouldPromoteSPAShell(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	require.True(t, h.ShouldPromote(ok(`<div id="__next"></div>`)))
	require.True(t, h.ShouldPromote(ok(`<body><div id="root"></div></body>`)))
}

func TestShouldPromoteScriptHeavyPage(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000)
	require.True(t, h.ShouldPromote(ok(`<html><script>var a=1;</script><p>t</p></html>`)))
}

func TestShouldPromoteMissingRequiredMarkup(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100, "h1")
	page := "<html><body><p>" + strings.Repeat("text ", 100) + "</p></body></html>"
	require.True(t, h.ShouldPromote(ok(page)))
}

func TestShouldNotPromoteServerRenderedPage(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100, "h1")
	page := `<html><body><h1>Historic Centre of Rome</h1><div id="contentdes_en">` +
		strings.Repeat("description ", 50) + `</div></body></html>`
	require.False(t, h.ShouldPromote(ok(page)))
}

func TestShouldNotPromoteNon200(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	require.False(t, h.ShouldPromote(crawler.FetchResponse{StatusCode: 404, Body: []byte("not found")}))
}
