package config

import (
	"time"

	"github.com/IshaanNene/medfeed/internal/types"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for medfeed.
type Config struct {
	Fetch     FetchConfig     `mapstructure:"fetch"     yaml:"fetch"`
	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"    yaml:"scrape"`
	Browser   BrowserConfig   `mapstructure:"browser"   yaml:"browser"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Dedup     DedupConfig     `mapstructure:"dedup"     yaml:"dedup"`
	Refresh   RefreshConfig   `mapstructure:"refresh"   yaml:"refresh"`
	API       APIConfig       `mapstructure:"api"       yaml:"api"`
	Storage   StorageConfig   `mapstructure:"storage"   yaml:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"   yaml:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"   yaml:"tracing"`
	Sites     []SiteConfig    `mapstructure:"sites"     yaml:"sites"`
}

// FetchConfig controls the HTTP fetch client and URL guard.
type FetchConfig struct {
	Timeout              time.Duration `mapstructure:"timeout"                yaml:"timeout"`
	MaxRetries           int           `mapstructure:"max_retries"            yaml:"max_retries"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"            yaml:"retry_delay"`
	MaxRetryDelay        time.Duration `mapstructure:"max_retry_delay"        yaml:"max_retry_delay"`
	MaxBodySize          int64         `mapstructure:"max_body_size"          yaml:"max_body_size"`
	MaxRedirects         int           `mapstructure:"max_redirects"          yaml:"max_redirects"`
	UserAgents           []string      `mapstructure:"user_agents"            yaml:"user_agents"`
	PerHostRPS           float64       `mapstructure:"per_host_rps"           yaml:"per_host_rps"`
	IdleConnTimeout      time.Duration `mapstructure:"idle_conn_timeout"      yaml:"idle_conn_timeout"`
	MaxIdleConns         int           `mapstructure:"max_idle_conns"         yaml:"max_idle_conns"`
	AllowPrivateNetworks bool          `mapstructure:"allow_private_networks" yaml:"allow_private_networks"`
	BlockedCIDRs         []string      `mapstructure:"blocked_cidrs"          yaml:"blocked_cidrs"`
}

// DiscoveryConfig controls feed discovery.
type DiscoveryConfig struct {
	MaxCandidates   int      `mapstructure:"max_candidates"     yaml:"max_candidates"`
	MaxCommonPaths  int      `mapstructure:"max_common_paths"   yaml:"max_common_paths"`
	MaxFeedsPerSite int      `mapstructure:"max_feeds_per_site" yaml:"max_feeds_per_site"`
	CommonPaths     []string `mapstructure:"common_paths"       yaml:"common_paths"`
}

// ScrapeConfig controls the homepage scraper heuristics.
type ScrapeConfig struct {
	MaxArticlesPerSite int `mapstructure:"max_articles_per_site" yaml:"max_articles_per_site"`
	MinTitleLength     int `mapstructure:"min_title_length"      yaml:"min_title_length"`
	MaxTitleLength     int `mapstructure:"max_title_length"      yaml:"max_title_length"`
	ScoreThreshold     int `mapstructure:"score_threshold"       yaml:"score_threshold"`
}

// BrowserConfig controls the optional headless renderer.
type BrowserConfig struct {
	Enabled         bool          `mapstructure:"enabled"          yaml:"enabled"`
	Engine          string        `mapstructure:"engine"           yaml:"engine"`
	PoolSize        int           `mapstructure:"pool_size"        yaml:"pool_size"`
	RenderDelay     time.Duration `mapstructure:"render_delay"     yaml:"render_delay"`
	NavTimeout      time.Duration `mapstructure:"nav_timeout"      yaml:"nav_timeout"`
	Stealth         bool          `mapstructure:"stealth"          yaml:"stealth"`
	RequiredDomains []string      `mapstructure:"required_domains" yaml:"required_domains"`
}

// SchedulerConfig controls the per-site fan-out.
type SchedulerConfig struct {
	Concurrency      int           `mapstructure:"concurrency"       yaml:"concurrency"`
	SiteTimeout      time.Duration `mapstructure:"site_timeout"      yaml:"site_timeout"`
	StrictInvariants bool          `mapstructure:"strict_invariants" yaml:"strict_invariants"`
}

// DedupConfig controls duplicate collapsing.
type DedupConfig struct {
	TieBreak string `mapstructure:"tie_break" yaml:"tie_break"`
}

// RefreshConfig controls the serve-mode refresh cadence.
type RefreshConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// APIConfig controls the read-only query server.
type APIConfig struct {
	Port         int           `mapstructure:"port"          yaml:"port"`
	DefaultLimit int           `mapstructure:"default_limit" yaml:"default_limit"`
	MaxLimit     int           `mapstructure:"max_limit"     yaml:"max_limit"`
	Timeout      time.Duration `mapstructure:"timeout"       yaml:"timeout"`
}

// StorageConfig controls snapshot export sinks.
type StorageConfig struct {
	Sinks      []string    `mapstructure:"sinks"       yaml:"sinks"`
	OutputPath string      `mapstructure:"output_path" yaml:"output_path"`
	Mongo      MongoConfig `mapstructure:"mongo"       yaml:"mongo"`
	Redis      RedisConfig `mapstructure:"redis"       yaml:"redis"`
}

// MongoConfig configures the mongodb sink.
type MongoConfig struct {
	URI        string `mapstructure:"uri"        yaml:"uri"`
	Database   string `mapstructure:"database"   yaml:"database"`
	Collection string `mapstructure:"collection" yaml:"collection"`
}

// RedisConfig configures the redis sink.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"     yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password"`
	DB       int           `mapstructure:"db"       yaml:"db"`
	Key      string        `mapstructure:"key"      yaml:"key"`
	Channel  string        `mapstructure:"channel"  yaml:"channel"`
	TTL      time.Duration `mapstructure:"ttl"      yaml:"ttl"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// TracingConfig controls OpenTelemetry trace export.
type TracingConfig struct {
	Enabled     bool              `mapstructure:"enabled"      yaml:"enabled"`
	ServiceName string            `mapstructure:"service_name" yaml:"service_name"`
	Endpoint    string            `mapstructure:"endpoint"     yaml:"endpoint"`
	Insecure    bool              `mapstructure:"insecure"     yaml:"insecure"`
	SampleRatio float64           `mapstructure:"sample_ratio" yaml:"sample_ratio"`
	Headers     map[string]string `mapstructure:"headers"      yaml:"headers"`
}

// SiteConfig is one entry of the sites list.
type SiteConfig struct {
	Name    string   `mapstructure:"name"    yaml:"name"`
	URL     string   `mapstructure:"url"     yaml:"url"`
	Feeds   []string `mapstructure:"feeds"   yaml:"feeds"`
	Browser bool     `mapstructure:"browser" yaml:"browser"`
}

// DefaultUserAgents are rotated per attempt by the fetch client.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// DefaultFeedPaths are probed in order when a homepage has no feed hints.
var DefaultFeedPaths = []string{
	"/feed",
	"/feed/",
	"/feeds",
	"/rss",
	"/rss/",
	"/rss.xml",
	"/atom.xml",
	"/index.xml",
	"/feed.xml",
	"/news/feed",
	"/news/rss",
	"/blog/feed",
	"/latest/rss",
	"/?feed=rss2",
	"/rss/news",
	"/rss/all",
}

// DefaultBrowserDomains need a rendered page: bot walls or JS-only listings.
var DefaultBrowserDomains = []string{
	"medscape.com",
	"auntminnie.com",
	"jvir.org",
	"jvascsurg.org",
	"gastrojournal.org",
	"anesthesiologynews.com",
	"painmedicinenews.com",
	"gastroendonews.com",
	"clinicaloncology.com",
	"intuitive.com",
	"journals.lww.com",
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Fetch: FetchConfig{
			Timeout:         20 * time.Second,
			MaxRetries:      2,
			RetryDelay:      1 * time.Second,
			MaxRetryDelay:   10 * time.Second,
			MaxBodySize:     10 * 1024 * 1024, // 10MB
			MaxRedirects:    10,
			UserAgents:      append([]string(nil), DefaultUserAgents...),
			PerHostRPS:      2,
			IdleConnTimeout: 90 * time.Second,
			MaxIdleConns:    100,
		},
		Discovery: DiscoveryConfig{
			MaxCandidates:   8,
			MaxCommonPaths:  8,
			MaxFeedsPerSite: 3,
			CommonPaths:     append([]string(nil), DefaultFeedPaths...),
		},
		Scrape: ScrapeConfig{
			MaxArticlesPerSite: 50,
			MinTitleLength:     15,
			MaxTitleLength:     200,
			ScoreThreshold:     3,
		},
		Browser: BrowserConfig{
			Enabled:         true,
			Engine:          "rod",
			PoolSize:        2,
			RenderDelay:     1 * time.Second,
			NavTimeout:      30 * time.Second,
			Stealth:         true,
			RequiredDomains: append([]string(nil), DefaultBrowserDomains...),
		},
		Scheduler: SchedulerConfig{
			Concurrency: 10,
		},
		Dedup: DedupConfig{
			TieBreak: "first",
		},
		Refresh: RefreshConfig{
			Interval: 900 * time.Second,
		},
		API: APIConfig{
			Port:         8000,
			DefaultLimit: 50,
			MaxLimit:     500,
			Timeout:      30 * time.Second,
		},
		Storage: StorageConfig{
			OutputPath: "./output/articles.json",
			Mongo: MongoConfig{
				URI:        "mongodb://localhost:27017",
				Database:   "medfeed",
				Collection: "articles",
			},
			Redis: RedisConfig{
				Addr:    "localhost:6379",
				Key:     "medfeed:snapshot",
				Channel: "medfeed:refresh",
				TTL:     2 * time.Hour,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			ServiceName: "medfeed",
			SampleRatio: 1,
		},
	}
}

// siteFetchPhases is how many retried fetches a site task may run back to
// back: homepage, feed, render and one spare for discovery probes.
const siteFetchPhases = 4

// SiteBudget is the wall-clock budget for one site task. A zero
// scheduler.site_timeout derives it from the fetch timeout and retry budget.
func (c *Config) SiteBudget() time.Duration {
	if c.Scheduler.SiteTimeout > 0 {
		return c.Scheduler.SiteTimeout
	}
	perFetch := c.Fetch.Timeout * time.Duration(c.Fetch.MaxRetries+1)
	backoff := c.Fetch.MaxRetryDelay * time.Duration(c.Fetch.MaxRetries)
	return siteFetchPhases*perFetch + backoff
}

// SiteDescriptors converts the configured sites into pipeline input.
func (c *Config) SiteDescriptors() []types.SiteDescriptor {
	out := make([]types.SiteDescriptor, 0, len(c.Sites))
	for _, s := range c.Sites {
		out = append(out, types.SiteDescriptor{
			Name:          s.Name,
			Homepage:      s.URL,
			ExplicitFeeds: append([]string(nil), s.Feeds...),
			UsesBrowser:   s.Browser,
		})
	}
	return out
}
