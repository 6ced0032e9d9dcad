// Package feed finds and parses a site's syndication feeds.
package feed

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/net/html"

	"github.com/IshaanNene/medfeed/internal/config"
	"github.com/IshaanNene/medfeed/internal/types"
)

// Fetcher is the subset of the fetch client the feed package needs.
type Fetcher interface {
	Fetch(ctx context.Context, req *types.Request) (*types.Response, error)
}

// feedLinkTypes are the <link type> values accepted as-is.
var feedLinkTypes = map[string]bool{
	"application/rss+xml":   true,
	"application/atom+xml":  true,
	"application/xml":       true,
	"text/xml":              true,
	"application/feed+json": true,
}

// Discoverer finds feed URLs for a homepage.
type Discoverer struct {
	fetcher Fetcher
	cfg     config.DiscoveryConfig
	logger  *slog.Logger
}

// NewDiscoverer creates a discoverer backed by f.
func NewDiscoverer(f Fetcher, cfg config.DiscoveryConfig, logger *slog.Logger) *Discoverer {
	if len(cfg.CommonPaths) == 0 {
		cfg.CommonPaths = config.DefaultFeedPaths
	}
	return &Discoverer{
		fetcher: f,
		cfg:     cfg,
		logger:  logger.With("component", "discoverer"),
	}
}

// Discover fetches the homepage and returns candidate feed URLs. It never
// fails: an unreachable homepage still gets the common-path probe.
func (d *Discoverer) Discover(ctx context.Context, homepage string) []string {
	var body []byte
	base := homepage

	req, err := types.NewRequest(homepage)
	if err == nil {
		resp, ferr := d.fetcher.Fetch(ctx, req)
		if ferr != nil {
			d.logger.Debug("homepage fetch failed", "url", homepage, "error", ferr)
		} else {
			body = resp.Body
			if resp.FinalURL != "" {
				base = resp.FinalURL
			}
		}
	}
	return d.Candidates(ctx, base, body)
}

// Candidates returns feed URLs for a homepage whose HTML is already in hand.
// Hints in the markup win; only when there are none are common paths probed.
func (d *Discoverer) Candidates(ctx context.Context, homepage string, page []byte) []string {
	var found []string
	if len(page) > 0 {
		found = d.hints(homepage, page)
	}
	if len(found) == 0 {
		found = d.probe(ctx, homepage)
	}

	out := dedupe(found, d.cfg.MaxCandidates)
	d.logger.Debug("feed discovery finished", "url", homepage, "candidates", len(out))
	return out
}

// hints scans the page for feed references, in document order: <link>
// elements first, then og:see_also, then anchors.
func (d *Discoverer) hints(homepage string, page []byte) []string {
	doc, err := htmlquery.Parse(bytes.NewReader(page))
	if err != nil {
		d.logger.Debug("homepage not parseable", "url", homepage, "error", err)
		return nil
	}

	base, err := url.Parse(homepage)
	if err != nil {
		return nil
	}
	if n := htmlquery.FindOne(doc, "//base[@href]"); n != nil {
		if ref, err := url.Parse(strings.TrimSpace(htmlquery.SelectAttr(n, "href"))); err == nil {
			base = base.ResolveReference(ref)
		}
	}

	var out []string
	add := func(ref string) {
		if abs := resolve(base, ref); abs != "" {
			out = append(out, abs)
		}
	}

	for _, n := range htmlquery.Find(doc, "//link[@href]") {
		if !hasToken(htmlquery.SelectAttr(n, "rel"), "alternate") {
			continue
		}
		if isFeedType(htmlquery.SelectAttr(n, "type")) {
			add(htmlquery.SelectAttr(n, "href"))
		}
	}

	for _, n := range htmlquery.Find(doc, "//meta[@property='og:see_also']") {
		content := htmlquery.SelectAttr(n, "content")
		lower := strings.ToLower(content)
		if strings.Contains(lower, "rss") || strings.Contains(lower, "feed") {
			add(content)
		}
	}

	for _, n := range htmlquery.Find(doc, "//a[@href]") {
		href := htmlquery.SelectAttr(n, "href")
		if feedLikeHref(href) || anchorMentionsRSS(n) {
			add(href)
		}
	}
	return out
}

// probe tries the common feed locations under the site root. Each probe is a
// single attempt.
func (d *Discoverer) probe(ctx context.Context, homepage string) []string {
	root, err := url.Parse(homepage)
	if err != nil || root.Host == "" {
		return nil
	}
	root = &url.URL{Scheme: root.Scheme, Host: root.Host, Path: "/"}

	paths := d.cfg.CommonPaths
	if d.cfg.MaxCommonPaths < len(paths) {
		paths = paths[:d.cfg.MaxCommonPaths]
	}

	var confirmed []string
	seen := make(map[string]bool)
	for _, p := range paths {
		if len(confirmed) >= d.cfg.MaxFeedsPerSite || ctx.Err() != nil {
			break
		}
		candidate := resolve(root, p)
		if candidate == "" || seen[feedKey(candidate)] {
			continue
		}

		req, err := types.NewFeedRequest(candidate)
		if err != nil {
			continue
		}
		req.MaxRetries = 0

		resp, err := d.fetcher.Fetch(ctx, req)
		if err != nil {
			d.logger.Debug("feed probe failed", "url", candidate, "error", err)
			continue
		}
		if resp.StatusCode != 200 || !LooksLikeFeed(resp.ContentType, resp.Body) {
			continue
		}
		seen[feedKey(candidate)] = true
		confirmed = append(confirmed, candidate)
	}
	return confirmed
}

// LooksLikeFeed decides from the content type and the first bytes of the
// body whether a response is a feed document.
func LooksLikeFeed(contentType string, body []byte) bool {
	ct := strings.ToLower(contentType)
	if !strings.Contains(ct, "html") &&
		(strings.Contains(ct, "rss") || strings.Contains(ct, "atom") || strings.Contains(ct, "xml")) {
		return true
	}
	if len(body) == 0 {
		return false
	}

	mt := mimetype.Detect(body)
	for _, m := range []string{"application/rss+xml", "application/atom+xml", "text/xml"} {
		if mt.Is(m) {
			return true
		}
	}
	return bytes.Contains(body, []byte("jsonfeed.org/version"))
}

func isFeedType(t string) bool {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	if feedLinkTypes[t] {
		return true
	}
	return strings.Contains(t, "rss") || strings.Contains(t, "atom") || strings.Contains(t, "feed")
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(strings.ToLower(list)) {
		if f == token {
			return true
		}
	}
	return false
}

// feedLikeHref matches hrefs such as /feed, /rss/, feed.xml or ?feed=rss2.
func feedLikeHref(href string) bool {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return false
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, suffix := range []string{".rss", ".xml", ".atom"} {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	for _, seg := range strings.Split(path, "/") {
		switch seg {
		case "feed", "feeds", "rss", "atom":
			return true
		}
	}
	return strings.Contains(strings.ToLower(u.RawQuery), "feed=")
}

// anchorMentionsRSS matches "RSS" link text and RSS icon images.
func anchorMentionsRSS(n *html.Node) bool {
	if strings.Contains(strings.ToLower(htmlquery.InnerText(n)), "rss") {
		return true
	}
	for _, img := range htmlquery.Find(n, ".//img") {
		alt := strings.ToLower(htmlquery.SelectAttr(img, "alt"))
		src := strings.ToLower(htmlquery.SelectAttr(img, "src"))
		if strings.Contains(alt, "rss") || strings.Contains(alt, "feed") || strings.Contains(src, "rss") {
			return true
		}
	}
	return false
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	u = base.ResolveReference(u)
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

func feedKey(raw string) string {
	return strings.TrimSuffix(strings.ToLower(raw), "/")
}

// dedupe keeps the first of each URL, ignoring case and a trailing slash.
func dedupe(urls []string, limit int) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		key := feedKey(u)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, u)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
