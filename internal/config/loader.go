package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment.
// Priority (highest to lowest): env vars > config file > defaults.
// CLI flags are applied by the caller afterwards.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("MEDFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("medfeed")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".medfeed"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// LoadSites reads only the sites list from a standalone YAML file.
func LoadSites(path string) ([]SiteConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read sites file: %w", err)
	}

	var sites []SiteConfig
	if err := v.UnmarshalKey("sites", &sites); err != nil {
		return nil, fmt.Errorf("decode sites: %w", err)
	}
	return sites, nil
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("fetch.timeout", cfg.Fetch.Timeout)
	v.SetDefault("fetch.max_retries", cfg.Fetch.MaxRetries)
	v.SetDefault("fetch.retry_delay", cfg.Fetch.RetryDelay)
	v.SetDefault("fetch.max_retry_delay", cfg.Fetch.MaxRetryDelay)
	v.SetDefault("fetch.max_body_size", cfg.Fetch.MaxBodySize)
	v.SetDefault("fetch.max_redirects", cfg.Fetch.MaxRedirects)
	v.SetDefault("fetch.user_agents", cfg.Fetch.UserAgents)
	v.SetDefault("fetch.per_host_rps", cfg.Fetch.PerHostRPS)
	v.SetDefault("fetch.idle_conn_timeout", cfg.Fetch.IdleConnTimeout)
	v.SetDefault("fetch.max_idle_conns", cfg.Fetch.MaxIdleConns)
	v.SetDefault("fetch.allow_private_networks", cfg.Fetch.AllowPrivateNetworks)
	v.SetDefault("fetch.blocked_cidrs", cfg.Fetch.BlockedCIDRs)

	v.SetDefault("discovery.max_candidates", cfg.Discovery.MaxCandidates)
	v.SetDefault("discovery.max_common_paths", cfg.Discovery.MaxCommonPaths)
	v.SetDefault("discovery.max_feeds_per_site", cfg.Discovery.MaxFeedsPerSite)
	v.SetDefault("discovery.common_paths", cfg.Discovery.CommonPaths)

	v.SetDefault("scrape.max_articles_per_site", cfg.Scrape.MaxArticlesPerSite)
	v.SetDefault("scrape.min_title_length", cfg.Scrape.MinTitleLength)
	v.SetDefault("scrape.max_title_length", cfg.Scrape.MaxTitleLength)
	v.SetDefault("scrape.score_threshold", cfg.Scrape.ScoreThreshold)

	v.SetDefault("browser.enabled", cfg.Browser.Enabled)
	v.SetDefault("browser.engine", cfg.Browser.Engine)
	v.SetDefault("browser.pool_size", cfg.Browser.PoolSize)
	v.SetDefault("browser.render_delay", cfg.Browser.RenderDelay)
	v.SetDefault("browser.nav_timeout", cfg.Browser.NavTimeout)
	v.SetDefault("browser.stealth", cfg.Browser.Stealth)
	v.SetDefault("browser.required_domains", cfg.Browser.RequiredDomains)

	v.SetDefault("scheduler.concurrency", cfg.Scheduler.Concurrency)
	v.SetDefault("scheduler.site_timeout", cfg.Scheduler.SiteTimeout)
	v.SetDefault("scheduler.strict_invariants", cfg.Scheduler.StrictInvariants)

	v.SetDefault("dedup.tie_break", cfg.Dedup.TieBreak)

	v.SetDefault("refresh.interval", cfg.Refresh.Interval)

	v.SetDefault("api.port", cfg.API.Port)
	v.SetDefault("api.default_limit", cfg.API.DefaultLimit)
	v.SetDefault("api.max_limit", cfg.API.MaxLimit)
	v.SetDefault("api.timeout", cfg.API.Timeout)

	v.SetDefault("storage.sinks", cfg.Storage.Sinks)
	v.SetDefault("storage.output_path", cfg.Storage.OutputPath)
	v.SetDefault("storage.mongo.uri", cfg.Storage.Mongo.URI)
	v.SetDefault("storage.mongo.database", cfg.Storage.Mongo.Database)
	v.SetDefault("storage.mongo.collection", cfg.Storage.Mongo.Collection)
	v.SetDefault("storage.redis.addr", cfg.Storage.Redis.Addr)
	v.SetDefault("storage.redis.password", cfg.Storage.Redis.Password)
	v.SetDefault("storage.redis.db", cfg.Storage.Redis.DB)
	v.SetDefault("storage.redis.key", cfg.Storage.Redis.Key)
	v.SetDefault("storage.redis.channel", cfg.Storage.Redis.Channel)
	v.SetDefault("storage.redis.ttl", cfg.Storage.Redis.TTL)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.path", cfg.Metrics.Path)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
	v.SetDefault("tracing.endpoint", cfg.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", cfg.Tracing.Insecure)
	v.SetDefault("tracing.sample_ratio", cfg.Tracing.SampleRatio)
}
