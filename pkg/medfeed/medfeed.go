// Package medfeed provides a public SDK for embedding the medical news
// aggregator as a library.
//
// Example usage:
//
//	agg, err := medfeed.New(
//	    medfeed.WithConcurrency(5),
//	    medfeed.WithSiteTimeout(30*time.Second),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer agg.Close()
//
//	res := agg.Aggregate(ctx, []medfeed.Site{
//	    {Name: "Fierce Biotech", Homepage: "https://www.fiercebiotech.com"},
//	    {Name: "STAT", Feeds: []string{"https://www.statnews.com/feed/"}},
//	})
//	for _, a := range res.Articles {
//	    fmt.Println(a.Title, a.Companies)
//	}
package medfeed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/IshaanNene/medfeed/internal/config"
	"github.com/IshaanNene/medfeed/internal/engine"
	"github.com/IshaanNene/medfeed/internal/entity"
	"github.com/IshaanNene/medfeed/internal/feed"
	"github.com/IshaanNene/medfeed/internal/fetcher"
	"github.com/IshaanNene/medfeed/internal/guard"
	"github.com/IshaanNene/medfeed/internal/observability"
	"github.com/IshaanNene/medfeed/internal/types"
)

type (
	// Article is one normalized, enriched news item.
	Article = types.Article
	// SiteFailure records something that went wrong for one site.
	SiteFailure = types.SiteFailure
	// Result is the outcome of one aggregation over a set of sites.
	Result = engine.Result
	// Entities are the companies and products mentioned in a text.
	Entities = entity.Entities
)

// Site describes one news source.
type Site struct {
	Name     string
	Homepage string
	Feeds    []string
	Browser  bool
}

func (s Site) descriptor() types.SiteDescriptor {
	return types.SiteDescriptor{
		Name:          s.Name,
		Homepage:      s.Homepage,
		ExplicitFeeds: append([]string(nil), s.Feeds...),
		UsesBrowser:   s.Browser,
	}
}

// Option configures an Aggregator.
type Option func(*config.Config)

// WithConcurrency sets how many sites are processed at once.
func WithConcurrency(n int) Option {
	return func(c *config.Config) { c.Scheduler.Concurrency = n }
}

// WithSiteTimeout sets the wall-clock budget of one site.
func WithSiteTimeout(d time.Duration) Option {
	return func(c *config.Config) { c.Scheduler.SiteTimeout = d }
}

// WithFetchTimeout sets the per-attempt fetch timeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *config.Config) { c.Fetch.Timeout = d }
}

// WithMaxRetries sets the retry budget of each fetch.
func WithMaxRetries(n int) Option {
	return func(c *config.Config) { c.Fetch.MaxRetries = n }
}

// WithUserAgent sets a single User-Agent for every request.
func WithUserAgent(ua string) Option {
	return func(c *config.Config) { c.Fetch.UserAgents = []string{ua} }
}

// WithBrowser enables or disables headless rendering.
func WithBrowser(enabled bool) Option {
	return func(c *config.Config) { c.Browser.Enabled = enabled }
}

// WithBrowserDomains sets the domains that always go through the browser.
func WithBrowserDomains(domains ...string) Option {
	return func(c *config.Config) { c.Browser.RequiredDomains = domains }
}

// WithTieBreak picks which of two equally complete duplicates survives:
// "first" or "last".
func WithTieBreak(rule string) Option {
	return func(c *config.Config) { c.Dedup.TieBreak = rule }
}

// WithPrivateNetworks lets fetches reach loopback and private addresses.
func WithPrivateNetworks(allow bool) Option {
	return func(c *config.Config) { c.Fetch.AllowPrivateNetworks = allow }
}

// WithVerbose enables debug-level logging.
func WithVerbose() Option {
	return func(c *config.Config) { c.Logging.Level = "debug" }
}

// Aggregator runs the aggregation pipeline over a list of sites.
type Aggregator struct {
	cfg        *config.Config
	fetcher    *fetcher.HTTPFetcher
	renderer   fetcher.Renderer
	engine     *engine.Engine
	scheduler  *engine.Scheduler
	discoverer *feed.Discoverer
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// New creates an Aggregator from the default configuration and opts.
func New(opts ...Option) (*Aggregator, error) {
	cfg := config.DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return NewFromConfig(cfg, observability.NewMetrics(logger), logger)
}

// NewFromConfig wires an Aggregator from an already validated configuration.
// metrics may be nil.
func NewFromConfig(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (*Aggregator, error) {
	g := guard.New(
		guard.AllowPrivate(cfg.Fetch.AllowPrivateNetworks),
		guard.WithBlockedCIDRs(cfg.Fetch.BlockedCIDRs),
	)

	httpFetcher, err := fetcher.NewHTTPFetcher(cfg, g, metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}
	renderer := fetcher.DetectRenderer(cfg, g, metrics, logger)

	eng := engine.New(cfg, httpFetcher, renderer, metrics, logger)
	return &Aggregator{
		cfg:        cfg,
		fetcher:    httpFetcher,
		renderer:   renderer,
		engine:     eng,
		scheduler:  engine.NewScheduler(eng, cfg, metrics, logger),
		discoverer: feed.NewDiscoverer(httpFetcher, cfg.Discovery, logger),
		metrics:    metrics,
		logger:     logger,
	}, nil
}

// Aggregate fetches every site concurrently and returns the merged,
// deduplicated articles with a failure record per problem. It always
// returns a result; a site that fails contributes only failures.
func (a *Aggregator) Aggregate(ctx context.Context, sites []Site) *Result {
	descs := make([]types.SiteDescriptor, 0, len(sites))
	for _, s := range sites {
		descs = append(descs, s.descriptor())
	}
	return a.scheduler.FetchAll(ctx, descs)
}

// Refresh aggregates the sites from the configuration.
func (a *Aggregator) Refresh(ctx context.Context) *Result {
	return a.scheduler.FetchAll(ctx, a.cfg.SiteDescriptors())
}

// Discover returns the feed URLs found for a homepage, best first.
func (a *Aggregator) Discover(ctx context.Context, homepage string) []string {
	return a.discoverer.Discover(ctx, homepage)
}

// Extract returns the companies and products mentioned in text.
func (a *Aggregator) Extract(text string) Entities {
	return a.engine.Extractor().Extract(text)
}

// Extractor returns the entity extractor used for enrichment.
func (a *Aggregator) Extractor() *entity.Extractor {
	return a.engine.Extractor()
}

// BrowserAvailable reports whether a headless browser was started.
func (a *Aggregator) BrowserAvailable() bool {
	return a.renderer.Available()
}

// Close releases the browser and idle connections.
func (a *Aggregator) Close() error {
	rerr := a.renderer.Close()
	ferr := a.fetcher.Close()
	if rerr != nil {
		return rerr
	}
	return ferr
}
