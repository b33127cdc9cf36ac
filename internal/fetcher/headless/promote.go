package headless

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
)

// Promoter fetches with a plain fetcher first and re-fetches in a browser when
// the detector flags the response as client-rendered.
type Promoter struct {
	primary  crawler.Fetcher
	headless crawler.Fetcher
	detector crawler.HeadlessDetector
	logger   *zap.Logger
}

// NewPromoter wires the fallback chain. A nil headless fetcher or detector
// makes the Promoter a pass-through to primary.
func NewPromoter(primary, headless crawler.Fetcher, detector crawler.HeadlessDetector, logger *zap.Logger) *Promoter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoter{primary: primary, headless: headless, detector: detector, logger: logger}
}

// Fetch implements crawler.Fetcher.
func (p *Promoter) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	resp, err := p.primary.Fetch(ctx, request)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	if p.headless == nil || p.detector == nil || !p.detector.ShouldPromote(resp) {
		return resp, nil
	}
	p.logger.Debug("promoting fetch to headless",
		zap.Int64("task_id", request.TaskID),
		zap.String("url", request.URL))
	rendered, err := p.headless.Fetch(ctx, request)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("headless fetch %s: %w", request.URL, err)
	}
	return rendered, nil
}
