// Package engine runs the per-site aggregation task and fans it out over
// every configured site.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/IshaanNene/medfeed/internal/config"
	"github.com/IshaanNene/medfeed/internal/entity"
	"github.com/IshaanNene/medfeed/internal/feed"
	"github.com/IshaanNene/medfeed/internal/fetcher"
	"github.com/IshaanNene/medfeed/internal/observability"
	"github.com/IshaanNene/medfeed/internal/parser"
	"github.com/IshaanNene/medfeed/internal/pipeline"
	"github.com/IshaanNene/medfeed/internal/types"
)

// Fetcher is the interface for the plain HTTP fetch client.
type Fetcher interface {
	Fetch(ctx context.Context, req *types.Request) (*types.Response, error)
}

// SiteResult is what one site task produced.
type SiteResult struct {
	Site        string
	Articles    []types.Article
	Failures    []types.SiteFailure
	Feeds       []string
	UsedBrowser bool
	Duration    time.Duration
}

// Engine turns a site descriptor into articles: feeds first, then the
// homepage scraper, with the headless renderer as a last resort.
type Engine struct {
	cfg        *config.Config
	fetcher    Fetcher
	renderer   fetcher.Renderer
	policy     *fetcher.BrowserPolicy
	discoverer *feed.Discoverer
	feeds      *feed.Parser
	scraper    *parser.Scraper
	extractor  *entity.Extractor
	dedup      *Deduplicator
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// New creates an Engine. A nil renderer means no browser is available.
func New(cfg *config.Config, f Fetcher, r fetcher.Renderer, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	if r == nil {
		r = fetcher.Unavailable{Reason: "no renderer configured"}
	}
	return &Engine{
		cfg:        cfg,
		fetcher:    f,
		renderer:   r,
		policy:     fetcher.NewBrowserPolicy(cfg.Browser.RequiredDomains),
		discoverer: feed.NewDiscoverer(f, cfg.Discovery, logger),
		feeds:      feed.NewParser(metrics, logger),
		scraper:    parser.NewScraper(cfg.Scrape, logger),
		extractor:  entity.New(),
		dedup:      NewDeduplicator(cfg.Dedup.TieBreak),
		metrics:    metrics,
		logger:     logger.With("component", "engine"),
	}
}

// Extractor returns the entity extractor used for enrichment.
func (e *Engine) Extractor() *entity.Extractor {
	return e.extractor
}

// Deduplicator returns the engine's deduplicator.
func (e *Engine) Deduplicator() *Deduplicator {
	return e.dedup
}

// siteRun carries the state of one ProcessSite call.
type siteRun struct {
	e             *Engine
	site          types.SiteDescriptor
	siteCtx       types.SiteContext
	logger        *slog.Logger
	needsBrowser  bool
	browserMissed bool
	result        SiteResult
}

func (r *siteRun) fail(stage, rawURL string, err error) {
	f := types.NewSiteFailure(r.siteCtx.SiteName, stage, rawURL, err)
	r.result.Failures = append(r.result.Failures, f)
	r.logger.Warn("site step failed", "stage", stage, "url", rawURL, "kind", f.Kind, "error", err)
}

// ProcessSite runs the whole per-site task. It never returns an error: what
// went wrong is in the result's Failures, next to whatever was collected.
func (e *Engine) ProcessSite(ctx context.Context, site types.SiteDescriptor) SiteResult {
	start := time.Now()
	name := site.DisplayName()
	r := &siteRun{
		e:            e,
		site:         site,
		siteCtx:      types.SiteContext{SiteName: name, Homepage: site.Homepage},
		logger:       e.logger.With("site", name),
		needsBrowser: e.policy.Requires(site),
		result:       SiteResult{Site: name},
	}

	var (
		collected []types.Article
		home      *types.Response
		homeErr   error
		homeTried bool
	)

	feeds := site.ExplicitFeeds
	if len(feeds) == 0 && site.Homepage != "" {
		home, homeErr = e.fetchPage(ctx, site.Homepage)
		homeTried = true

		base := site.Homepage
		var body []byte
		if homeErr == nil {
			body = home.Body
			if home.FinalURL != "" {
				base = home.FinalURL
			}
		}
		feeds = e.discoverer.Candidates(ctx, base, body)
		if limit := e.cfg.Discovery.MaxFeedsPerSite; limit > 0 && len(feeds) > limit {
			feeds = feeds[:limit]
		}
		r.logger.Debug("feeds discovered", "count", len(feeds))
	}
	r.result.Feeds = feeds

	for _, feedURL := range feeds {
		if ctx.Err() != nil {
			break
		}
		collected = append(collected, r.readFeed(ctx, feedURL)...)
	}

	if len(collected) == 0 && site.Homepage != "" && ctx.Err() == nil {
		if !homeTried {
			home, homeErr = e.fetchPage(ctx, site.Homepage)
		}
		collected = r.scrapeHomepage(ctx, home, homeErr)
	}

	if len(collected) == 0 && r.browserMissed {
		r.fail(types.StageBrowser, site.Homepage, types.ErrBrowserUnavailable)
	}

	// Dedupe sees the records as they leave the pipeline, so completeness
	// reflects cleared dates and sanitized titles.
	processed := pipeline.ForSite(r.siteCtx, e.extractor, e.logger).ProcessAll(collected)
	out := e.dedup.Dedupe(processed)
	e.metrics.AddDedupRemoved("site", len(processed)-len(out))
	checkInvariants(name, out)

	r.result.Articles = out
	r.result.Duration = time.Since(start)
	e.metrics.SetSiteArticles(name, len(out))
	return r.result
}

// readFeed fetches and parses one feed, retrying through the renderer when
// the site needs one and the plain fetch gave nothing.
func (r *siteRun) readFeed(ctx context.Context, feedURL string) []types.Article {
	fc := r.siteCtx
	fc.FeedURL = feedURL

	var articles []types.Article
	req, err := types.NewFeedRequest(feedURL)
	if err != nil {
		r.fail(types.StageFetch, feedURL, &types.ValidationError{URL: feedURL, Reason: "malformed", Err: err})
		return nil
	}
	resp, err := r.e.fetcher.Fetch(ctx, req)
	switch {
	case err != nil:
		r.fail(types.StageFetch, feedURL, err)
	default:
		articles, err = r.e.feeds.Parse(resp.Body, fc)
		if err != nil {
			r.fail(types.StageFeed, feedURL, err)
		}
	}

	if len(articles) > 0 || !r.needsBrowser {
		return articles
	}
	rendered, ok := r.render(ctx, feedURL)
	if !ok {
		return nil
	}
	articles, err = r.e.feeds.Parse(rendered.Body, fc)
	if err != nil {
		r.fail(types.StageBrowser, feedURL, err)
	}
	return articles
}

// scrapeHomepage runs the scraper over the homepage, going through the
// renderer when the plain fetch was blocked or the site requires it.
func (r *siteRun) scrapeHomepage(ctx context.Context, home *types.Response, homeErr error) []types.Article {
	homepage := r.site.Homepage

	var articles []types.Article
	if homeErr == nil {
		articles = r.e.scraper.Scrape(home.Body, r.siteCtx)
	}

	var httpErr *types.HTTPError
	blocked := errors.As(homeErr, &httpErr) && httpErr.Blocked()

	if len(articles) == 0 && (r.needsBrowser || blocked) {
		if rendered, ok := r.render(ctx, homepage); ok {
			articles = r.e.scraper.Scrape(rendered.Body, r.siteCtx)
			if len(articles) > 0 {
				return articles
			}
		}
	}

	switch {
	case homeErr != nil:
		r.fail(types.StageFetch, homepage, homeErr)
	case len(articles) == 0 && !r.browserMissed:
		r.fail(types.StageScrape, homepage, types.ErrNoArticles)
	}
	return articles
}

// render fetches rawURL through the headless browser. It reports false when
// no renderer is available or rendering failed.
func (r *siteRun) render(ctx context.Context, rawURL string) (*types.Response, bool) {
	if !r.e.renderer.Available() {
		r.browserMissed = true
		r.logger.Info("site needs a browser but none is available", "url", rawURL)
		return nil, false
	}
	r.result.UsedBrowser = true
	resp, err := r.e.renderer.Render(ctx, rawURL)
	if err != nil {
		r.fail(types.StageBrowser, rawURL, err)
		return nil, false
	}
	return resp, true
}

func (e *Engine) fetchPage(ctx context.Context, rawURL string) (*types.Response, error) {
	req, err := types.NewRequest(rawURL)
	if err != nil {
		return nil, &types.ValidationError{URL: rawURL, Reason: "malformed", Err: err}
	}
	return e.fetcher.Fetch(ctx, req)
}

// checkInvariants panics when an article leaving a site task breaks the
// record contract. The pipeline makes this unreachable.
func checkInvariants(site string, articles []types.Article) {
	for i := range articles {
		a := &articles[i]
		switch {
		case a.Link == "":
			panic(&types.InvariantError{Site: site, Reason: "article without link"})
		case a.Site == "":
			panic(&types.InvariantError{Site: site, Link: a.Link, Reason: "article without site"})
		case a.Companies == nil || a.Products == nil:
			panic(&types.InvariantError{Site: site, Link: a.Link, Reason: "article not enriched"})
		}
	}
}
