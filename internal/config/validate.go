package config

import (
	"fmt"
	"net"
	"net/url"
	"time"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Fetch.Timeout < time.Second || cfg.Fetch.Timeout > 300*time.Second {
		return fmt.Errorf("fetch.timeout must be between 1s and 300s, got %s", cfg.Fetch.Timeout)
	}
	if cfg.Fetch.MaxRetries < 0 || cfg.Fetch.MaxRetries > 10 {
		return fmt.Errorf("fetch.max_retries must be between 0 and 10, got %d", cfg.Fetch.MaxRetries)
	}
	if cfg.Fetch.RetryDelay <= 0 || cfg.Fetch.RetryDelay > time.Minute {
		return fmt.Errorf("fetch.retry_delay must be > 0 and <= 1m, got %s", cfg.Fetch.RetryDelay)
	}
	if cfg.Fetch.MaxRetryDelay < cfg.Fetch.RetryDelay {
		return fmt.Errorf("fetch.max_retry_delay (%s) must be >= fetch.retry_delay (%s)", cfg.Fetch.MaxRetryDelay, cfg.Fetch.RetryDelay)
	}
	if cfg.Fetch.MaxBodySize <= 0 {
		return fmt.Errorf("fetch.max_body_size must be > 0")
	}
	if cfg.Fetch.MaxRedirects < 0 || cfg.Fetch.MaxRedirects > 20 {
		return fmt.Errorf("fetch.max_redirects must be between 0 and 20, got %d", cfg.Fetch.MaxRedirects)
	}
	if len(cfg.Fetch.UserAgents) == 0 {
		return fmt.Errorf("fetch.user_agents must not be empty")
	}
	if cfg.Fetch.PerHostRPS < 0 {
		return fmt.Errorf("fetch.per_host_rps must be >= 0, got %v", cfg.Fetch.PerHostRPS)
	}
	for _, cidr := range cfg.Fetch.BlockedCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid fetch.blocked_cidrs entry %q: %w", cidr, err)
		}
	}

	if cfg.Discovery.MaxCandidates < 1 || cfg.Discovery.MaxCandidates > 32 {
		return fmt.Errorf("discovery.max_candidates must be between 1 and 32, got %d", cfg.Discovery.MaxCandidates)
	}
	if cfg.Discovery.MaxCommonPaths < 0 || cfg.Discovery.MaxCommonPaths > len(cfg.Discovery.CommonPaths) {
		return fmt.Errorf("discovery.max_common_paths must be between 0 and %d, got %d", len(cfg.Discovery.CommonPaths), cfg.Discovery.MaxCommonPaths)
	}
	if cfg.Discovery.MaxFeedsPerSite < 1 || cfg.Discovery.MaxFeedsPerSite > cfg.Discovery.MaxCandidates {
		return fmt.Errorf("discovery.max_feeds_per_site must be between 1 and %d, got %d", cfg.Discovery.MaxCandidates, cfg.Discovery.MaxFeedsPerSite)
	}

	if cfg.Scrape.MaxArticlesPerSite < 1 || cfg.Scrape.MaxArticlesPerSite > 500 {
		return fmt.Errorf("scrape.max_articles_per_site must be between 1 and 500, got %d", cfg.Scrape.MaxArticlesPerSite)
	}
	if cfg.Scrape.MinTitleLength < 1 || cfg.Scrape.MinTitleLength >= cfg.Scrape.MaxTitleLength {
		return fmt.Errorf("scrape.min_title_length (%d) must be >= 1 and < scrape.max_title_length (%d)", cfg.Scrape.MinTitleLength, cfg.Scrape.MaxTitleLength)
	}

	if cfg.Browser.Engine != "rod" && cfg.Browser.Engine != "chromedp" {
		return fmt.Errorf("browser.engine must be 'rod' or 'chromedp', got %q", cfg.Browser.Engine)
	}
	if cfg.Browser.PoolSize < 1 || cfg.Browser.PoolSize > 16 {
		return fmt.Errorf("browser.pool_size must be between 1 and 16, got %d", cfg.Browser.PoolSize)
	}
	if cfg.Browser.RenderDelay < 0 {
		return fmt.Errorf("browser.render_delay must be >= 0")
	}

	if cfg.Scheduler.Concurrency < 1 || cfg.Scheduler.Concurrency > 100 {
		return fmt.Errorf("scheduler.concurrency must be between 1 and 100, got %d", cfg.Scheduler.Concurrency)
	}
	if cfg.Scheduler.SiteTimeout < 0 {
		return fmt.Errorf("scheduler.site_timeout must be >= 0")
	}

	if cfg.Dedup.TieBreak != "first" && cfg.Dedup.TieBreak != "last" {
		return fmt.Errorf("dedup.tie_break must be 'first' or 'last', got %q", cfg.Dedup.TieBreak)
	}

	if cfg.Refresh.Interval < 10*time.Second {
		return fmt.Errorf("refresh.interval must be >= 10s, got %s", cfg.Refresh.Interval)
	}

	if cfg.API.Port < 1 || cfg.API.Port > 65535 {
		return fmt.Errorf("api.port must be 1-65535, got %d", cfg.API.Port)
	}
	if cfg.API.DefaultLimit < 1 || cfg.API.DefaultLimit > cfg.API.MaxLimit {
		return fmt.Errorf("api.default_limit must be between 1 and api.max_limit (%d), got %d", cfg.API.MaxLimit, cfg.API.DefaultLimit)
	}

	validSinks := map[string]bool{
		"json": true, "jsonl": true, "mongodb": true, "redis": true,
	}
	for _, sink := range cfg.Storage.Sinks {
		if !validSinks[sink] {
			return fmt.Errorf("storage sink %q is not supported (valid: json, jsonl, mongodb, redis)", sink)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Tracing.Enabled && (cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1) {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %v", cfg.Tracing.SampleRatio)
	}

	for i, site := range cfg.Sites {
		if site.URL == "" && len(site.Feeds) == 0 {
			return fmt.Errorf("sites[%d] (%q) needs a url or at least one feed", i, site.Name)
		}
		if site.URL != "" {
			if err := ValidateURL(site.URL); err != nil {
				return fmt.Errorf("sites[%d].url: %w", i, err)
			}
		}
		for j, feed := range site.Feeds {
			if err := ValidateURL(feed); err != nil {
				return fmt.Errorf("sites[%d].feeds[%d]: %w", i, j, err)
			}
		}
	}

	return nil
}

// ValidateURL is a syntactic check only; the guard does the network-aware one.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
