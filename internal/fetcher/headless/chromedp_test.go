package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestNewRendererDefaults(t *testing.T) {
	t.Parallel()

	_, err := NewRenderer(Config{MaxParallel: -1})
	require.Error(t, err)

	r, err := NewRenderer(Config{MaxParallel: 2, WaitSelector: "h1"})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	require.Equal(t, 2, cap(r.slots))
	require.Equal(t, defaultNavigationTimeout, r.cfg.NavigationTimeout)
	require.Equal(t, "h1", r.cfg.WaitSelector)
	require.Equal(t, defaultSettle, r.cfg.Settle)

	unlimited, err := NewRenderer(Config{Settle: -time.Second})
	require.NoError(t, err)
	t.Cleanup(unlimited.Close)
	require.Nil(t, unlimited.slots)
	require.Equal(t, defaultWaitSelector, unlimited.cfg.WaitSelector)
	require.Zero(t, unlimited.cfg.Settle)
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	r := &Renderer{slots: make(chan struct{}, 1)}
	release, err := r.acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)

	release()
	release2, err := r.acquire(context.Background())
	require.NoError(t, err)
	release2()
}

func TestHeaderConversion(t *testing.T) {
	t.Parallel()

	src := http.Header{"X-Test": {"a", "b"}, "X-One": {"1"}, "X-Empty": {}}
	converted := networkHeaders(src)
	require.Equal(t, []string{"a", "b"}, converted["X-Test"])
	require.Equal(t, "1", converted["X-One"])
	require.NotContains(t, converted, "X-Empty")

	back := httpHeaders(network.Headers{"X-Test": []any{"a", 2}, "X-One": "1"})
	require.Equal(t, []string{"a", "2"}, back.Values("X-Test"))
	require.Equal(t, "1", back.Get("X-One"))
}

func TestDocumentResponseObservesDocuments(t *testing.T) {
	t.Parallel()

	doc := &documentResponse{}
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://whc.unesco.org/app.js"},
	})
	doc.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  203,
			URL:     "https://whc.unesco.org/en/list/91",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})

	resp := doc.result("https://req", "https://location")
	require.Equal(t, 203, resp.StatusCode)
	require.Equal(t, "https://whc.unesco.org/en/list/91", resp.URL)
	require.Equal(t, "abc", resp.Headers.Get("X-Request-ID"))
}

func TestDocumentResponseFallbacks(t *testing.T) {
	t.Parallel()

	resp := (&documentResponse{}).result("https://req", "https://location")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "https://location", resp.URL)
	require.NotNil(t, resp.Headers)

	resp = (&documentResponse{}).result("https://req", "")
	require.Equal(t, "https://req", resp.URL)
}
