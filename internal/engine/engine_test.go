package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/sync/semaphore"

	"github.com/IshaanNene/medfeed/internal/config"
	"github.com/IshaanNene/medfeed/internal/observability"
	"github.com/IshaanNene/medfeed/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

// --- Test doubles ---

type stubPage struct {
	contentType string
	body        string
}

type stubFetcher struct {
	mu        sync.Mutex
	pages     map[string]stubPage
	errs      map[string]error
	downHosts map[string]bool
	calls     []string
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		pages:     make(map[string]stubPage),
		errs:      make(map[string]error),
		downHosts: make(map[string]bool),
	}
}

func (f *stubFetcher) Fetch(_ context.Context, req *types.Request) (*types.Response, error) {
	u := req.URLString()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, u)

	if f.downHosts[types.Domain(u)] {
		return nil, &types.NetworkError{URL: u, Attempts: 3, Err: errors.New("connection refused")}
	}
	if err, ok := f.errs[u]; ok {
		return nil, err
	}
	p, ok := f.pages[u]
	if !ok {
		return nil, &types.HTTPError{URL: u, StatusCode: 404}
	}
	return &types.Response{
		StatusCode:  200,
		ContentType: p.contentType,
		Body:        []byte(p.body),
		FinalURL:    u,
		Request:     req,
	}, nil
}

type stubRenderer struct {
	pages map[string]string
	calls atomic.Int32
}

func (r *stubRenderer) Available() bool { return true }

func (r *stubRenderer) Render(_ context.Context, rawURL string) (*types.Response, error) {
	r.calls.Add(1)
	body, ok := r.pages[rawURL]
	if !ok {
		return nil, fmt.Errorf("render %s: navigation failed", rawURL)
	}
	return types.NewBrowserResponse(nil, []byte(body), rawURL, time.Millisecond), nil
}

func (r *stubRenderer) Close() error { return nil }

type funcProcessor func(ctx context.Context, site types.SiteDescriptor) SiteResult

func (f funcProcessor) ProcessSite(ctx context.Context, site types.SiteDescriptor) SiteResult {
	return f(ctx, site)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Browser.RequiredDomains = nil
	cfg.Scheduler.SiteTimeout = 5 * time.Second
	return cfg
}

func rssFeed(title string, items ...string) string {
	return `<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>` + title + `</title>` +
		strings.Join(items, "") + `</channel></rss>`
}

func rssItem(title, link, pubDate string) string {
	s := `<item><title>` + title + `</title><link>` + link + `</link><description>Details.</description>`
	if pubDate != "" {
		s += `<pubDate>` + pubDate + `</pubDate>`
	}
	return s + `</item>`
}

const scrapeableHomepage = `<html><head><meta property="og:site_name" content="Scrape Health"></head><body>
<article><a href="/news/2025/some-long-story">A long enough headline for the scraper test</a></article>
</body></html>`

func countKind(failures []types.SiteFailure, kind string) int {
	n := 0
	for _, f := range failures {
		if f.Kind == kind {
			n++
		}
	}
	return n
}

// --- Deduplicator Tests ---

func TestNormalizeLink(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"HTTPS://Example.COM/a/", "https://example.com/a"},
		{"https://example.com:443/a", "https://example.com/a"},
		{"http://example.com:80/a", "http://example.com/a"},
		{"https://example.com:8443/a", "https://example.com:8443/a"},
		{"https://example.com/a#section", "https://example.com/a"},
		{"https://example.com/a?utm_source=rss&utm_medium=feed", "https://example.com/a"},
		{"https://example.com/a?b=2&fbclid=x&a=1&gclid=y", "https://example.com/a?a=1&b=2"},
		{"https://example.com", "https://example.com/"},
		{"https://example.com/", "https://example.com/"},
		{"  https://example.com/a  ", "https://example.com/a"},
		{"Not A URL", "not a url"},
	}
	for _, tt := range tests {
		if got := NormalizeLink(tt.in); got != tt.want {
			t.Errorf("NormalizeLink(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTitleKey(t *testing.T) {
	if a, b := TitleKey("FDA Approves: New Drug!", "Site"), TitleKey("fda approves new   drug", "site"); a != b {
		t.Errorf("keys differ: %q vs %q", a, b)
	}
	if TitleKey("Same title", "A") == TitleKey("Same title", "B") {
		t.Error("source should be part of the key")
	}
	for _, title := range []string{"", "   ", "Untitled", "--!!--"} {
		if k := TitleKey(title, "src"); k != "" {
			t.Errorf("TitleKey(%q) = %q, want empty", title, k)
		}
	}
}

func TestDedupeKeepsMostComplete(t *testing.T) {
	now := time.Now()
	in := []types.Article{
		{Title: "A", Link: "https://example.com/a?utm_source=x", Source: "s"},
		{Title: "B", Link: "https://example.com/b", Source: "s"},
		{Title: "A again", Link: "https://example.com/a", Source: "s", Published: &now, Image: "https://example.com/a.jpg"},
	}
	out := NewDeduplicator(TieBreakFirst).Dedupe(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(out))
	}
	if out[0].Title != "A again" {
		t.Errorf("the more complete duplicate should win, got %q", out[0].Title)
	}
	if out[1].Title != "B" {
		t.Errorf("group order should follow first appearance, got %q", out[1].Title)
	}
}

func TestDedupeTieBreak(t *testing.T) {
	in := []types.Article{
		{Title: "First", Link: "https://example.com/a", Source: "s"},
		{Title: "Second", Link: "https://example.com/a/", Source: "s"},
	}
	if out := NewDeduplicator("first").Dedupe(in); len(out) != 1 || out[0].Title != "First" {
		t.Errorf("first: got %+v", out)
	}
	if out := NewDeduplicator("last").Dedupe(in); len(out) != 1 || out[0].Title != "Second" {
		t.Errorf("last: got %+v", out)
	}
	if out := NewDeduplicator("").Dedupe(in); out[0].Title != "First" {
		t.Errorf("default should be first-seen, got %q", out[0].Title)
	}
}

func TestDedupeTransitive(t *testing.T) {
	in := []types.Article{
		{Title: "Story one", Link: "https://a.example/1", Source: "S"},
		{Title: "Story one", Link: "https://b.example/2", Source: "S"},
		{Title: "Different words", Link: "https://b.example/2", Source: "S"},
		{Title: "Unrelated", Link: "https://c.example/3", Source: "S"},
	}
	out := NewDeduplicator("first").Dedupe(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 groups, got %d: %+v", len(out), out)
	}
	if out[0].Link != "https://a.example/1" || out[1].Link != "https://c.example/3" {
		t.Errorf("got %+v", out)
	}
}

func TestDedupeIdempotent(t *testing.T) {
	now := time.Now()
	var in []types.Article
	for i := 0; i < 40; i++ {
		a := types.Article{
			Title:  fmt.Sprintf("Headline %d", i%7),
			Link:   fmt.Sprintf("https://example.com/story/%d?utm_campaign=%d", i%11, i),
			Source: fmt.Sprintf("source-%d", i%3),
		}
		if i%4 == 0 {
			a.Published = &now
		}
		in = append(in, a)
	}

	for _, tie := range []string{TieBreakFirst, TieBreakLast} {
		d := NewDeduplicator(tie)
		once := d.Dedupe(in)
		twice := d.Dedupe(once)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("%s: dedupe is not idempotent: %d then %d articles", tie, len(once), len(twice))
		}
		if again := d.Dedupe(in); !reflect.DeepEqual(once, again) {
			t.Errorf("%s: dedupe is not deterministic", tie)
		}
	}
}

func TestDedupeEmpty(t *testing.T) {
	out := NewDeduplicator("first").Dedupe(nil)
	if out == nil || len(out) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", out)
	}
}

func TestDedupeDoesNotAlias(t *testing.T) {
	in := []types.Article{{Title: "A", Link: "https://example.com/a", Companies: []string{"Pfizer"}}}
	out := NewDeduplicator("first").Dedupe(in)
	out[0].Companies[0] = "changed"
	if in[0].Companies[0] != "Pfizer" {
		t.Error("Dedupe output shares memory with its input")
	}
}

// --- Engine Tests ---

func TestProcessSiteExplicitFeed(t *testing.T) {
	f := newStubFetcher()
	f.pages["https://drugs.example/feed"] = stubPage{"application/rss+xml", rssFeed("Drug News Feed",
		rssItem("Pfizer and Moderna expand vaccine pact", "https://drugs.example/a?utm_source=rss", ""),
		rssItem("Pfizer and Moderna expand vaccine pact", "https://drugs.example/a", "Mon, 03 Mar 2025 10:00:00 GMT"),
		rssItem("Keytruda data at ASCO", "https://drugs.example/b", ""),
	)}

	metrics := observability.NewMetrics(testLogger)
	e := New(testConfig(), f, nil, metrics, testLogger)
	res := e.ProcessSite(context.Background(), types.SiteDescriptor{
		Name:          "Drug News",
		ExplicitFeeds: []string{"https://drugs.example/feed"},
	})

	if len(res.Failures) != 0 {
		t.Fatalf("unexpected failures: %+v", res.Failures)
	}
	if len(res.Articles) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(res.Articles))
	}
	first := res.Articles[0]
	if first.Link != "https://drugs.example/a" || !first.HasPublished() {
		t.Errorf("dated duplicate should survive, got %+v", first)
	}
	if !reflect.DeepEqual(first.Companies, []string{"Moderna", "Pfizer"}) {
		t.Errorf("companies = %q", first.Companies)
	}
	if first.Source != "Drug News Feed" || first.Site != "Drug News" || first.FeedURL != "https://drugs.example/feed" {
		t.Errorf("source/site/feed = %q/%q/%q", first.Source, first.Site, first.FeedURL)
	}
	if got := res.Articles[1].Products; len(got) == 0 || got[0] != "Keytruda" {
		t.Errorf("products = %q", got)
	}
	if got := testutil.ToFloat64(metrics.DedupRemoved.WithLabelValues("site")); got != 1 {
		t.Errorf("dedup_removed{site} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.SiteArticles.WithLabelValues("Drug News")); got != 2 {
		t.Errorf("site_articles = %v, want 2", got)
	}
}

func TestProcessSiteDedupeSeesProcessedArticles(t *testing.T) {
	f := newStubFetcher()
	f.pages["https://devices.example/feed"] = stubPage{"application/rss+xml", rssFeed("Device Feed",
		rssItem("Stryker recalls surgical helmets", "https://devices.example/recall", "Thu, 01 Jan 2099 10:00:00 GMT"),
		`<item><title>Stryker recalls surgical helmets</title><link>https://devices.example/recall</link>`+
			`<enclosure url="https://devices.example/helmet.jpg" type="image/jpeg" length="100"/></item>`,
	)}

	e := New(testConfig(), f, nil, nil, testLogger)
	res := e.ProcessSite(context.Background(), types.SiteDescriptor{
		Name:          "Devices",
		ExplicitFeeds: []string{"https://devices.example/feed"},
	})

	if len(res.Articles) != 1 {
		t.Fatalf("expected 1 article, got %d", len(res.Articles))
	}
	// The far-future date is cleared before the duplicates are compared, so
	// the copy with an image is the more complete one.
	got := res.Articles[0]
	if got.Image != "https://devices.example/helmet.jpg" {
		t.Errorf("image = %q, want the enclosure copy to survive", got.Image)
	}
	if got.HasPublished() {
		t.Errorf("future publication time should be cleared, got %v", got.Published)
	}
}

func TestProcessSiteDiscoversFeed(t *testing.T) {
	f := newStubFetcher()
	f.pages["https://disc.example/"] = stubPage{"text/html", `<html><head>
<link rel="alternate" type="application/rss+xml" href="/rss.xml"></head><body></body></html>`}
	f.pages["https://disc.example/rss.xml"] = stubPage{"application/rss+xml", rssFeed("Disc",
		rssItem("Medtronic launches new pump", "https://disc.example/pump", ""))}

	e := New(testConfig(), f, nil, nil, testLogger)
	res := e.ProcessSite(context.Background(), types.SiteDescriptor{Name: "Disc", Homepage: "https://disc.example/"})

	if len(res.Articles) != 1 || res.Articles[0].Link != "https://disc.example/pump" {
		t.Fatalf("got %+v", res.Articles)
	}
	if !reflect.DeepEqual(res.Feeds, []string{"https://disc.example/rss.xml"}) {
		t.Errorf("feeds = %q", res.Feeds)
	}
	if len(f.calls) != 2 {
		t.Errorf("expected homepage + feed fetch, got %q", f.calls)
	}
}

func TestProcessSiteScrapeFallback(t *testing.T) {
	f := newStubFetcher()
	f.pages["https://scrape.example/"] = stubPage{"text/html", scrapeableHomepage}

	e := New(testConfig(), f, nil, nil, testLogger)
	res := e.ProcessSite(context.Background(), types.SiteDescriptor{Name: "Scrape", Homepage: "https://scrape.example/"})

	if len(res.Articles) != 1 {
		t.Fatalf("expected 1 scraped article, got %d (failures %+v)", len(res.Articles), res.Failures)
	}
	a := res.Articles[0]
	if a.Link != "https://scrape.example/news/2025/some-long-story" || a.Source != "Scrape Health" || a.FeedURL != "" {
		t.Errorf("got %+v", a)
	}
	if len(res.Failures) != 0 {
		t.Errorf("probe misses are not failures: %+v", res.Failures)
	}
}

func TestProcessSiteBlockedUsesRenderer(t *testing.T) {
	f := newStubFetcher()
	f.errs["https://walled.example/"] = &types.HTTPError{URL: "https://walled.example/", StatusCode: 403}
	r := &stubRenderer{pages: map[string]string{"https://walled.example/": scrapeableHomepage}}

	e := New(testConfig(), f, r, nil, testLogger)
	res := e.ProcessSite(context.Background(), types.SiteDescriptor{Name: "Walled", Homepage: "https://walled.example/"})

	if len(res.Articles) != 1 {
		t.Fatalf("expected 1 rendered article, got %d (failures %+v)", len(res.Articles), res.Failures)
	}
	if !res.UsedBrowser || r.calls.Load() != 1 {
		t.Errorf("renderer should be used once, used=%v calls=%d", res.UsedBrowser, r.calls.Load())
	}
	if len(res.Failures) != 0 {
		t.Errorf("unexpected failures: %+v", res.Failures)
	}
}

func TestProcessSiteBrowserUnavailable(t *testing.T) {
	f := newStubFetcher()
	f.pages["https://js.example/"] = stubPage{"text/html", `<html><body><div id="app"></div></body></html>`}

	e := New(testConfig(), f, nil, nil, testLogger)
	res := e.ProcessSite(context.Background(), types.SiteDescriptor{
		Name:          "JS",
		Homepage:      "https://js.example/",
		ExplicitFeeds: []string{"https://js.example/feed"},
		UsesBrowser:   true,
	})

	if len(res.Articles) != 0 {
		t.Fatalf("expected no articles, got %d", len(res.Articles))
	}
	if res.Articles == nil {
		t.Error("articles should be an empty slice, not nil")
	}
	if countKind(res.Failures, types.KindBrowserUnavailable) != 1 {
		t.Errorf("expected one browser_unavailable failure, got %+v", res.Failures)
	}
	if countKind(res.Failures, types.KindHTTP) != 1 {
		t.Errorf("expected the feed 404 to be recorded, got %+v", res.Failures)
	}
}

func TestProcessSiteUnreachable(t *testing.T) {
	f := newStubFetcher()
	f.downHosts["down.example"] = true

	e := New(testConfig(), f, nil, nil, testLogger)
	res := e.ProcessSite(context.Background(), types.SiteDescriptor{Name: "Down", Homepage: "https://down.example/"})

	if len(res.Articles) != 0 {
		t.Fatalf("got %d articles", len(res.Articles))
	}
	if countKind(res.Failures, types.KindNetwork) != 1 {
		t.Errorf("expected one network failure, got %+v", res.Failures)
	}
}

// --- Scheduler Tests ---

func TestFetchAllIsolatesFailingSite(t *testing.T) {
	f := newStubFetcher()
	var sites []types.SiteDescriptor
	for i := 1; i <= 5; i++ {
		host := fmt.Sprintf("site%d.example", i)
		feedURL := "https://" + host + "/feed"
		f.pages[feedURL] = stubPage{"application/rss+xml", rssFeed(fmt.Sprintf("Site %d", i),
			rssItem(fmt.Sprintf("Story number %d about Pfizer", i), "https://"+host+"/story", ""))}
		sites = append(sites, types.SiteDescriptor{Name: fmt.Sprintf("Site %d", i), ExplicitFeeds: []string{feedURL}})
	}
	f.downHosts["site3.example"] = true

	cfg := testConfig()
	metrics := observability.NewMetrics(testLogger)
	e := New(cfg, f, nil, metrics, testLogger)
	res := NewScheduler(e, cfg, metrics, testLogger).FetchAll(context.Background(), sites)

	if len(res.Articles) != 4 {
		t.Fatalf("expected 4 articles, got %d", len(res.Articles))
	}
	if len(res.Failures) != 1 || res.Failures[0].Site != "Site 3" || res.Failures[0].Kind != types.KindNetwork {
		t.Errorf("failures = %+v", res.Failures)
	}
	if len(res.Sites) != 5 {
		t.Errorf("expected 5 site reports, got %d", len(res.Sites))
	}
	for _, a := range res.Articles {
		if a.Site == "Site 3" {
			t.Errorf("failing site contributed %+v", a)
		}
	}
	if got := testutil.ToFloat64(metrics.SiteFailures.WithLabelValues(types.StageFetch, types.KindNetwork)); got != 1 {
		t.Errorf("site_failures_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ArticlesTotal); got != 4 {
		t.Errorf("articles_total = %v, want 4", got)
	}
}

func TestFetchAllBatchDedupe(t *testing.T) {
	cfg := testConfig()
	s := &Scheduler{
		processor: funcProcessor(func(_ context.Context, site types.SiteDescriptor) SiteResult {
			return SiteResult{Site: site.Name, Articles: []types.Article{
				{Title: "Shared " + site.Name, Link: "https://wire.example/shared", Site: site.Name},
			}}
		}),
		dedup:  NewDeduplicator(TieBreakFirst),
		cfg:    cfg,
		logger: testLogger,
	}
	res := s.FetchAll(context.Background(), []types.SiteDescriptor{{Name: "A"}, {Name: "B"}})
	if len(res.Articles) != 1 || res.Articles[0].Site != "A" {
		t.Errorf("expected one article from A, got %+v", res.Articles)
	}
}

func TestFetchAllRecoversPanics(t *testing.T) {
	cfg := testConfig()
	s := &Scheduler{
		processor: funcProcessor(func(_ context.Context, site types.SiteDescriptor) SiteResult {
			if site.Name == "bad" {
				panic("nil map write")
			}
			return SiteResult{Site: site.Name, Articles: []types.Article{{Title: site.Name, Link: "https://example.com/" + site.Name}}}
		}),
		dedup:  NewDeduplicator(TieBreakFirst),
		cfg:    cfg,
		logger: testLogger,
	}
	res := s.FetchAll(context.Background(), []types.SiteDescriptor{{Name: "good"}, {Name: "bad"}, {Name: "fine"}})

	if len(res.Articles) != 2 {
		t.Errorf("expected 2 articles, got %d", len(res.Articles))
	}
	if len(res.Failures) != 1 || res.Failures[0].Stage != types.StagePanic || res.Failures[0].Kind != types.KindPanic {
		t.Errorf("failures = %+v", res.Failures)
	}
}

func TestRunSiteStrictInvariantRepanics(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.StrictInvariants = true
	s := &Scheduler{
		processor: funcProcessor(func(context.Context, types.SiteDescriptor) SiteResult {
			panic(&types.InvariantError{Site: "x", Reason: "article without link"})
		}),
		dedup:  NewDeduplicator(TieBreakFirst),
		cfg:    cfg,
		logger: testLogger,
	}

	defer func() {
		rec := recover()
		if _, ok := rec.(*types.InvariantError); !ok {
			t.Errorf("expected InvariantError panic, got %v", rec)
		}
	}()
	s.runSite(context.Background(), semaphore.NewWeighted(1), types.SiteDescriptor{Name: "x"})
	t.Error("runSite should have panicked")
}

func TestRunSiteInvariantRecordedWhenLenient(t *testing.T) {
	cfg := testConfig()
	s := &Scheduler{
		processor: funcProcessor(func(context.Context, types.SiteDescriptor) SiteResult {
			panic(&types.InvariantError{Site: "x", Reason: "article without link"})
		}),
		dedup:  NewDeduplicator(TieBreakFirst),
		cfg:    cfg,
		logger: testLogger,
	}
	res := s.runSite(context.Background(), semaphore.NewWeighted(1), types.SiteDescriptor{Name: "x"})
	if len(res.Failures) != 1 || res.Failures[0].Kind != types.KindInvariant {
		t.Errorf("failures = %+v", res.Failures)
	}
}

func TestFetchAllSiteDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.SiteTimeout = 50 * time.Millisecond
	s := &Scheduler{
		processor: funcProcessor(func(ctx context.Context, site types.SiteDescriptor) SiteResult {
			if site.Name == "slow" {
				<-ctx.Done()
				return SiteResult{Site: site.Name}
			}
			return SiteResult{Site: site.Name, Articles: []types.Article{{Title: "Quick", Link: "https://example.com/q"}}}
		}),
		dedup:  NewDeduplicator(TieBreakFirst),
		cfg:    cfg,
		logger: testLogger,
	}

	start := time.Now()
	res := s.FetchAll(context.Background(), []types.SiteDescriptor{{Name: "slow"}, {Name: "quick"}})
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("slow site stalled the batch for %v", elapsed)
	}
	if len(res.Articles) != 1 {
		t.Errorf("expected the quick site's article, got %d", len(res.Articles))
	}
	if len(res.Failures) != 1 || res.Failures[0].Stage != types.StageDeadline || res.Failures[0].Kind != types.KindDeadline {
		t.Errorf("failures = %+v", res.Failures)
	}
}

func TestFetchAllRespectsConcurrency(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.Concurrency = 2

	var current, peak atomic.Int32
	s := &Scheduler{
		processor: funcProcessor(func(_ context.Context, site types.SiteDescriptor) SiteResult {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			return SiteResult{Site: site.Name}
		}),
		dedup:  NewDeduplicator(TieBreakFirst),
		cfg:    cfg,
		logger: testLogger,
	}

	var sites []types.SiteDescriptor
	for i := 0; i < 6; i++ {
		sites = append(sites, types.SiteDescriptor{Name: fmt.Sprintf("s%d", i)})
	}
	res := s.FetchAll(context.Background(), sites)

	if peak.Load() > 2 {
		t.Errorf("peak concurrency %d exceeds gate of 2", peak.Load())
	}
	if len(res.Sites) != 6 {
		t.Errorf("expected 6 site reports, got %d", len(res.Sites))
	}
	if res.Articles == nil || res.Failures == nil {
		t.Error("result slices should be non-nil")
	}
}
