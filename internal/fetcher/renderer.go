package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/IshaanNene/medfeed/internal/config"
	"github.com/IshaanNene/medfeed/internal/guard"
	"github.com/IshaanNene/medfeed/internal/observability"
	"github.com/IshaanNene/medfeed/internal/types"
)

// Renderer produces the post-JavaScript HTML of a page. Callers must check
// Available before relying on it; an unavailable renderer fails every Render
// with types.ErrBrowserUnavailable.
type Renderer interface {
	Available() bool
	Render(ctx context.Context, rawURL string) (*types.Response, error)
	Close() error
}

// Unavailable is the Renderer used when no headless browser could be started.
type Unavailable struct {
	Reason string
}

// Available always returns false.
func (u Unavailable) Available() bool { return false }

// Render always fails with types.ErrBrowserUnavailable.
func (u Unavailable) Render(_ context.Context, rawURL string) (*types.Response, error) {
	return nil, fmt.Errorf("render %s: %w (%s)", rawURL, types.ErrBrowserUnavailable, u.Reason)
}

// Close is a no-op.
func (u Unavailable) Close() error { return nil }

// DetectRenderer starts the configured browser engine once. Any failure is
// logged and turned into an Unavailable renderer, never an error.
func DetectRenderer(cfg *config.Config, g *guard.Guard, metrics *observability.Metrics, logger *slog.Logger) Renderer {
	log := logger.With("component", "renderer")
	if !cfg.Browser.Enabled {
		log.Info("browser rendering disabled")
		return Unavailable{Reason: "disabled by configuration"}
	}

	var (
		r   Renderer
		err error
	)
	client := NewGuardedClient(g, cfg.Fetch.MaxRedirects, cfg.Browser.NavTimeout)
	switch cfg.Browser.Engine {
	case "chromedp":
		r, err = NewChromedpRenderer(&cfg.Browser, g, client, metrics, logger)
	default:
		opts := []BrowserOption{WithMaxPages(cfg.Browser.PoolSize), WithHTTPClient(client)}
		if cfg.Browser.Stealth {
			opts = append(opts, WithStealth(DefaultStealthConfig()))
		}
		r, err = NewBrowserFetcher(&cfg.Browser, g, metrics, logger, opts...)
	}
	if err != nil {
		log.Warn("headless browser unavailable, JS-rendered sites will be skipped",
			"engine", cfg.Browser.Engine,
			"error", err,
		)
		return Unavailable{Reason: err.Error()}
	}
	return r
}

// BrowserPolicy decides which sites go through the renderer.
type BrowserPolicy struct {
	domains []string
}

// NewBrowserPolicy builds a policy from the configured required domains.
func NewBrowserPolicy(domains []string) *BrowserPolicy {
	p := &BrowserPolicy{}
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")
		if d != "" {
			p.domains = append(p.domains, d)
		}
	}
	return p
}

// Requires reports whether a site must be rendered regardless of how the
// plain fetch went: it is flagged, or one of its URLs is on a listed domain.
func (p *BrowserPolicy) Requires(site types.SiteDescriptor) bool {
	if site.UsesBrowser {
		return true
	}
	if p == nil {
		return false
	}
	urls := append([]string{site.Homepage}, site.ExplicitFeeds...)
	for _, raw := range urls {
		if p.MatchesURL(raw) {
			return true
		}
	}
	return false
}

// MatchesURL reports whether rawURL's host is, or is under, a listed domain.
func (p *BrowserPolicy) MatchesURL(rawURL string) bool {
	if p == nil || rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range p.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
