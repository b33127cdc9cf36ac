// Package headless renders JavaScript-heavy pages in headless Chrome and
// promotes plain fetches to it when a detector asks for it.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
	"github.com/JakeFAU/heritage-crawler/internal/metrics"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultWaitSelector      = "body"
	defaultSettle            = 500 * time.Millisecond
)

// Config controls the browser renderer.
type Config struct {
	// MaxParallel caps concurrent tabs; 0 means unlimited.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// WaitSelector must be present before the DOM is captured. Site detail
	// pages render their name into h1 late, so callers usually pass "h1".
	WaitSelector string
	// Settle is an extra pause after WaitSelector appears.
	Settle time.Duration
	Logger *zap.Logger
}

// Renderer implements crawler.Fetcher by driving headless Chrome.
type Renderer struct {
	cfg    Config
	slots  chan struct{}
	logger *zap.Logger

	browser     context.Context
	stopBrowser context.CancelFunc
}

// NewRenderer starts a browser allocator. Chrome itself launches lazily on the
// first Fetch.
func NewRenderer(cfg Config) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = defaultWaitSelector
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	} else if cfg.Settle == 0 {
		cfg.Settle = defaultSettle
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Renderer{cfg: cfg, logger: logger}
	if cfg.MaxParallel > 0 {
		r.slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	r.browser, r.stopBrowser = chromedp.NewExecAllocator(context.Background(), opts...)
	return r, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.stopBrowser()
}

// Fetch renders request.URL and returns the resulting DOM.
func (r *Renderer) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	defer release()

	tab, closeTab := chromedp.NewContext(r.browser)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, r.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentResponse{}
	chromedp.ListenTarget(tab, doc.observe)

	start := time.Now()
	var html, location string
	err = chromedp.Run(tab,
		r.prepare(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady(r.cfg.WaitSelector, chromedp.ByQuery),
		chromedp.Sleep(r.cfg.Settle),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	elapsed := time.Since(start)
	if err != nil {
		metrics.ObserveFetch(request.URL, "error", 0)
		r.logger.Debug("render failed",
			zap.Int64("task_id", request.TaskID),
			zap.String("url", request.URL),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return crawler.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, err)
	}

	resp := doc.result(request.URL, location)
	resp.Body = []byte(html)
	resp.Duration = elapsed
	resp.UsedHeadless = true
	metrics.ObserveFetch(request.URL, strconv.Itoa(resp.StatusCode), len(resp.Body))
	r.logger.Debug("rendered page",
		zap.Int64("task_id", request.TaskID),
		zap.String("url", resp.URL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", elapsed))
	return resp, nil
}

// prepare enables the network domain so the document response is observed and
// applies per-request headers.
func (r *Renderer) prepare(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user agent: %w", err)
			}
		}
		if len(headers) == 0 {
			return nil
		}
		if err := network.SetExtraHTTPHeaders(networkHeaders(headers)).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		return nil
	})
}

// acquire takes a tab slot and returns its release func.
func (r *Renderer) acquire(ctx context.Context) (func(), error) {
	if r.slots == nil {
		return func() {}, nil
	}
	select {
	case r.slots <- struct{}{}:
		return func() { <-r.slots }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for browser tab: %w", ctx.Err())
	}
}

// documentResponse remembers the last top-level document response seen on a
// tab. Redirects overwrite earlier hops.
type documentResponse struct {
	mu      sync.Mutex
	status  int
	url     string
	headers http.Header
}

func (d *documentResponse) observe(ev any) {
	evt, ok := ev.(*network.EventResponseReceived)
	if !ok || evt.Type != network.ResourceTypeDocument || evt.Response == nil {
		return
	}
	headers := httpHeaders(evt.Response.Headers)
	d.mu.Lock()
	d.status = int(evt.Response.Status)
	d.url = evt.Response.URL
	d.headers = headers
	d.mu.Unlock()
}

// result builds a response from what was observed. Chrome does not always
// report the document response (cached pages, some redirects); the browser
// location and a 200 then stand in.
func (d *documentResponse) result(requested, location string) crawler.FetchResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	resp := crawler.FetchResponse{
		URL:        d.url,
		StatusCode: d.status,
		Headers:    d.headers,
	}
	if resp.URL == "" {
		resp.URL = location
	}
	if resp.URL == "" {
		resp.URL = requested
	}
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	if resp.Headers == nil {
		resp.Headers = http.Header{}
	}
	return resp
}

func httpHeaders(src network.Headers) http.Header {
	out := make(http.Header, len(src))
	for key, value := range src {
		switch v := value.(type) {
		case string:
			out.Add(key, v)
		case []string:
			for _, entry := range v {
				out.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				out.Add(key, fmt.Sprint(entry))
			}
		default:
			out.Add(key, fmt.Sprint(v))
		}
	}
	return out
}

func networkHeaders(src http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range src {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}
