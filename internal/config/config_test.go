package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"timeout too small", func(c *Config) { c.Fetch.Timeout = 10 * time.Millisecond }, "fetch.timeout"},
		{"retries too many", func(c *Config) { c.Fetch.MaxRetries = 11 }, "fetch.max_retries"},
		{"max delay below delay", func(c *Config) { c.Fetch.MaxRetryDelay = 100 * time.Millisecond }, "fetch.max_retry_delay"},
		{"no user agents", func(c *Config) { c.Fetch.UserAgents = nil }, "fetch.user_agents"},
		{"bad cidr", func(c *Config) { c.Fetch.BlockedCIDRs = []string{"10.0.0.0/99"} }, "blocked_cidrs"},
		{"feeds above candidates", func(c *Config) { c.Discovery.MaxFeedsPerSite = 9 }, "discovery.max_feeds_per_site"},
		{"too many common paths", func(c *Config) { c.Discovery.MaxCommonPaths = 17 }, "discovery.max_common_paths"},
		{"title bounds inverted", func(c *Config) { c.Scrape.MinTitleLength = 300 }, "scrape.min_title_length"},
		{"unknown engine", func(c *Config) { c.Browser.Engine = "selenium" }, "browser.engine"},
		{"zero concurrency", func(c *Config) { c.Scheduler.Concurrency = 0 }, "scheduler.concurrency"},
		{"bad tie break", func(c *Config) { c.Dedup.TieBreak = "random" }, "dedup.tie_break"},
		{"refresh too fast", func(c *Config) { c.Refresh.Interval = time.Second }, "refresh.interval"},
		{"bad port", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"bad sink", func(c *Config) { c.Storage.Sinks = []string{"postgres"} }, "storage sink"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"site without url or feeds", func(c *Config) { c.Sites = []SiteConfig{{Name: "Empty"}} }, "needs a url"},
		{"site with ftp feed", func(c *Config) {
			c.Sites = []SiteConfig{{Name: "FTP", Feeds: []string{"ftp://example.com/feed"}}}
		}, "sites[0].feeds[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://www.fiercebiotech.com", false},
		{"http://example.com/feed.xml", false},
		{"ftp://example.com/feed", true},
		{"https://", true},
		{"://bad", true},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
	}
}

func TestSiteBudget(t *testing.T) {
	cfg := DefaultConfig()
	// siteFetchPhases * 20s * 3 + 10s * 2
	if got, want := cfg.SiteBudget(), 260*time.Second; got != want {
		t.Errorf("derived budget = %s, want %s", got, want)
	}
	cfg.Scheduler.SiteTimeout = 45 * time.Second
	if got := cfg.SiteBudget(); got != 45*time.Second {
		t.Errorf("explicit budget = %s, want 45s", got)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "medfeed.yaml")
	yaml := `
fetch:
  timeout: 5s
  max_retries: 1
scheduler:
  concurrency: 4
sites:
  - name: Fierce Biotech
    url: https://www.fiercebiotech.com
  - name: STAT
    feeds:
      - https://www.statnews.com/feed/
    browser: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Fetch.Timeout != 5*time.Second {
		t.Errorf("timeout = %s, want 5s", cfg.Fetch.Timeout)
	}
	if cfg.Fetch.MaxRetries != 1 {
		t.Errorf("max_retries = %d, want 1", cfg.Fetch.MaxRetries)
	}
	if cfg.Scheduler.Concurrency != 4 {
		t.Errorf("concurrency = %d, want 4", cfg.Scheduler.Concurrency)
	}
	// untouched keys keep their defaults
	if cfg.Discovery.MaxCandidates != 8 {
		t.Errorf("max_candidates = %d, want 8", cfg.Discovery.MaxCandidates)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("loaded config should validate: %v", err)
	}

	sites := cfg.SiteDescriptors()
	if len(sites) != 2 {
		t.Fatalf("expected 2 sites, got %d", len(sites))
	}
	if sites[1].Name != "STAT" || !sites[1].UsesBrowser || len(sites[1].ExplicitFeeds) != 1 {
		t.Errorf("unexpected second site: %+v", sites[1])
	}
}

func TestLoadSites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.yaml")
	content := "sites:\n  - name: MassDevice\n    url: https://www.massdevice.com\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	sites, err := LoadSites(path)
	if err != nil {
		t.Fatalf("LoadSites: %v", err)
	}
	if len(sites) != 1 || sites[0].URL != "https://www.massdevice.com" {
		t.Errorf("unexpected sites: %+v", sites)
	}
}
