package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/IshaanNene/medfeed/internal/config"
	"github.com/IshaanNene/medfeed/internal/fetcher"
	"github.com/IshaanNene/medfeed/internal/guard"
	"github.com/IshaanNene/medfeed/internal/observability"
	"github.com/IshaanNene/medfeed/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

type stubPage struct {
	contentType string
	body        string
}

// stubFetcher serves canned pages by exact URL and 404s everything else.
type stubFetcher struct {
	mu    sync.Mutex
	pages map[string]stubPage
	calls []*types.Request
}

func (s *stubFetcher) Fetch(_ context.Context, req *types.Request) (*types.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	p, ok := s.pages[req.URLString()]
	if !ok {
		return nil, &types.HTTPError{URL: req.URLString(), StatusCode: 404}
	}
	return &types.Response{
		StatusCode:  200,
		ContentType: p.contentType,
		Body:        []byte(p.body),
		Request:     req,
		FinalURL:    req.URLString(),
	}, nil
}

func testDiscoveryConfig() config.DiscoveryConfig {
	return config.DefaultConfig().Discovery
}

// --- Discovery Tests ---

const hintsHomepage = `<html><head>
<base href="https://example.com/">
<link rel="stylesheet" href="/style.css">
<link rel="alternate" type="text/html" hreflang="fr" href="/fr">
<link rel="alternate" type="application/rss+xml" href="feed.xml">
<link rel="Alternate home" type="application/atom+xml; charset=utf-8" href="/atom">
<meta property="og:see_also" content="https://example.com/rss/news">
<meta property="og:see_also" content="https://twitter.com/example">
</head><body>
<a href="/feedback">Feedback</a>
<a href="/podcast.xml">Podcast</a>
<a href="/subscribe"><img alt="RSS icon" src="/i.png"></a>
<a href="https://example.com/Feed.xml">RSS</a>
<a href="mailto:rss@example.com">rss by mail</a>
</body></html>`

func TestDiscoverLinkHints(t *testing.T) {
	stub := &stubFetcher{pages: map[string]stubPage{
		"https://www.example.com/home": {contentType: "text/html", body: hintsHomepage},
	}}
	d := NewDiscoverer(stub, testDiscoveryConfig(), testLogger)

	got := d.Discover(context.Background(), "https://www.example.com/home")
	want := []string{
		"https://example.com/feed.xml",
		"https://example.com/atom",
		"https://example.com/rss/news",
		"https://example.com/podcast.xml",
		"https://example.com/subscribe",
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("candidates:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
	if len(stub.calls) != 1 {
		t.Errorf("hints were found, common paths should not be probed; %d fetches", len(stub.calls))
	}
}

func TestDiscoverProbesCommonPaths(t *testing.T) {
	stub := &stubFetcher{pages: map[string]stubPage{
		"https://example.com/":          {contentType: "text/html", body: "<html><body>No feeds here</body></html>"},
		"https://example.com/feed":      {contentType: "application/rss+xml", body: "<rss></rss>"},
		"https://example.com/rss":       {contentType: "text/html", body: "<html><body>not a feed</body></html>"},
		"https://example.com/rss.xml":   {contentType: "application/octet-stream", body: `<?xml version="1.0"?><rss version="2.0"><channel></channel></rss>`},
		"https://example.com/index.xml": {contentType: "application/json", body: `{"version":"https://jsonfeed.org/version/1.1","items":[]}`},
	}}
	d := NewDiscoverer(stub, testDiscoveryConfig(), testLogger)

	got := d.Discover(context.Background(), "https://example.com/")
	want := []string{
		"https://example.com/feed",
		"https://example.com/rss.xml",
		"https://example.com/index.xml",
	}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("got %v, want %v", got, want)
	}

	for _, req := range stub.calls[1:] {
		if req.MaxRetries != 0 {
			t.Errorf("probe %s should not retry, MaxRetries=%d", req.URLString(), req.MaxRetries)
		}
		if req.Kind != types.KindFeed {
			t.Errorf("probe %s should be a feed request", req.URLString())
		}
		if req.URLString() == "https://example.com/feed/" {
			t.Error("/feed/ duplicates a confirmed feed and should be skipped")
		}
	}
}

func TestDiscoverStopsAtMaxFeeds(t *testing.T) {
	stub := &stubFetcher{pages: map[string]stubPage{
		"https://example.com/feed":  {contentType: "application/rss+xml", body: "<rss/>"},
		"https://example.com/feeds": {contentType: "application/rss+xml", body: "<rss/>"},
		"https://example.com/rss":   {contentType: "application/rss+xml", body: "<rss/>"},
	}}
	cfg := testDiscoveryConfig()
	cfg.MaxFeedsPerSite = 2
	d := NewDiscoverer(stub, cfg, testLogger)

	got := d.Discover(context.Background(), "https://example.com")
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %v", got)
	}
	for _, req := range stub.calls {
		if req.URLString() == "https://example.com/rss" {
			t.Error("probing should stop once enough feeds are confirmed")
		}
	}
}

func TestDiscoverUnreachableHomepage(t *testing.T) {
	stub := &stubFetcher{pages: map[string]stubPage{
		"https://example.com/feed": {contentType: "application/rss+xml", body: "<rss/>"},
	}}
	d := NewDiscoverer(stub, testDiscoveryConfig(), testLogger)
	got := d.Discover(context.Background(), "https://example.com/")
	if len(got) != 1 || got[0] != "https://example.com/feed" {
		t.Fatalf("got %v", got)
	}
}

func TestDiscoverNothing(t *testing.T) {
	stub := &stubFetcher{pages: map[string]stubPage{}}
	d := NewDiscoverer(stub, testDiscoveryConfig(), testLogger)
	got := d.Discover(context.Background(), "https://example.com/")
	if len(got) != 0 {
		t.Fatalf("expected no candidates, got %v", got)
	}
	// homepage plus the first eight common paths
	if len(stub.calls) != 9 {
		t.Errorf("expected 9 fetches, got %d", len(stub.calls))
	}
}

func TestCandidatesCap(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><head>")
	for i := 0; i < 12; i++ {
		b.WriteString(`<link rel="alternate" type="application/rss+xml" href="/feed/` + string(rune('a'+i)) + `">`)
	}
	b.WriteString("</head></html>")

	d := NewDiscoverer(&stubFetcher{}, testDiscoveryConfig(), testLogger)
	got := d.Candidates(context.Background(), "https://example.com/", []byte(b.String()))
	if len(got) != 8 {
		t.Fatalf("expected cap of 8, got %d", len(got))
	}
	if got[0] != "https://example.com/feed/a" {
		t.Errorf("first = %s", got[0])
	}
}

func TestDedupeIgnoresCaseAndSlash(t *testing.T) {
	got := dedupe([]string{
		"https://example.com/feed/",
		"https://EXAMPLE.com/feed",
		"https://example.com/rss",
	}, 8)
	if len(got) != 2 || got[0] != "https://example.com/feed/" {
		t.Fatalf("got %v", got)
	}
}

func TestLooksLikeFeed(t *testing.T) {
	tests := []struct {
		name string
		ct   string
		body string
		want bool
	}{
		{"rss content type", "application/rss+xml; charset=utf-8", "", true},
		{"atom content type", "application/atom+xml", "", true},
		{"xml content type", "text/xml", "<x/>", true},
		{"html page", "text/html", "<html><body>hi</body></html>", false},
		{"sniffed rss", "application/octet-stream", `<?xml version="1.0"?><rss version="2.0"></rss>`, true},
		{"sniffed atom", "", `<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom"></feed>`, true},
		{"json feed", "application/json", `{"version":"https://jsonfeed.org/version/1"}`, true},
		{"plain json", "application/json", `{"ok":true}`, false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LooksLikeFeed(tt.ct, []byte(tt.body)); got != tt.want {
				t.Errorf("LooksLikeFeed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDiscoverOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<html><head><link rel="alternate" type="application/rss+xml" href="/rss"></head></html>`)
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.Fetch.PerHostRPS = 0
	f, err := fetcher.NewHTTPFetcher(cfg, guard.New(guard.AllowPrivate(true)), nil, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	d := NewDiscoverer(f, cfg.Discovery, testLogger)
	got := d.Discover(context.Background(), srv.URL+"/")
	if len(got) != 1 || got[0] != srv.URL+"/rss" {
		t.Fatalf("got %v", got)
	}
}

// --- Parser Tests ---

const rssFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/">
<channel>
<title>Fierce Pharma</title>
<link>https://www.fiercepharma.com</link>
<item>
  <title>&lt;script&gt;alert(1)&lt;/script&gt;Drug News</title>
  <link>https://www.fiercepharma.com/a/1</link>
  <description><![CDATA[<p>Pfizer <b>wins</b> approval.</p><img src="/img/desc.jpg">]]></description>
  <pubDate>Tue, 04 Mar 2025 10:00:00 GMT</pubDate>
  <media:content url="https://cdn.example.com/m.jpg" medium="image"/>
</item>
<item>
  <title>Relative link</title>
  <link>/a/2</link>
  <description><![CDATA[Text <img src="/img/two.jpg"> more]]></description>
</item>
<item>
  <title></title>
  <guid isPermaLink="true">https://www.fiercepharma.com/a/3</guid>
  <enclosure url="https://cdn.example.com/e.png" type="image/png" length="1"/>
</item>
<item>
  <title>No link at all</title>
  <guid isPermaLink="false">tag:fiercepharma,2025:4</guid>
</item>
</channel>
</rss>`

func pharmaSite() types.SiteContext {
	return types.SiteContext{SiteName: "Fierce", FeedURL: "https://www.fiercepharma.com/rss/xml"}
}

func TestParseRSS(t *testing.T) {
	m := observability.NewMetrics(testLogger)
	p := NewParser(m, testLogger)

	articles, err := p.Parse([]byte(rssFeed), pharmaSite())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(articles) != 3 {
		t.Fatalf("expected 3 articles, got %d", len(articles))
	}

	first := articles[0]
	if first.Title != "Drug News" {
		t.Errorf("title = %q", first.Title)
	}
	if first.Summary != "Pfizer wins approval." {
		t.Errorf("summary = %q", first.Summary)
	}
	if first.Image != "https://cdn.example.com/m.jpg" {
		t.Errorf("image = %q", first.Image)
	}
	if !first.HasPublished() || !first.Published.Equal(time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("published = %v", first.Published)
	}
	if first.Source != "Fierce Pharma" || first.Site != "Fierce" || first.FeedURL != "https://www.fiercepharma.com/rss/xml" {
		t.Errorf("provenance = %q %q %q", first.Source, first.Site, first.FeedURL)
	}

	second := articles[1]
	if second.Link != "https://www.fiercepharma.com/a/2" {
		t.Errorf("relative link not resolved: %q", second.Link)
	}
	if second.Image != "https://www.fiercepharma.com/img/two.jpg" {
		t.Errorf("image = %q", second.Image)
	}
	if second.Summary != "Text more" {
		t.Errorf("summary = %q", second.Summary)
	}
	if second.HasPublished() {
		t.Error("published should be absent")
	}

	third := articles[2]
	if third.Title != "Untitled" {
		t.Errorf("title = %q", third.Title)
	}
	if third.Link != "https://www.fiercepharma.com/a/3" {
		t.Errorf("guid link = %q", third.Link)
	}
	if third.Image != "https://cdn.example.com/e.png" {
		t.Errorf("image = %q", third.Image)
	}

	if got := testutil.ToFloat64(m.FeedEntries.WithLabelValues("parsed")); got != 3 {
		t.Errorf("parsed entries = %v", got)
	}
	if got := testutil.ToFloat64(m.FeedEntries.WithLabelValues("dropped")); got != 1 {
		t.Errorf("dropped entries = %v", got)
	}
}

func TestParseAtom(t *testing.T) {
	atom := `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Health</title>
  <link href="https://atom.example.com/"/>
  <entry>
    <title>Atom entry title</title>
    <link rel="alternate" href="https://atom.example.com/e/1"/>
    <id>urn:uuid:1</id>
    <updated>2025-02-01T12:00:00Z</updated>
    <summary>Short summary</summary>
  </entry>
</feed>`
	p := NewParser(nil, testLogger)
	articles, err := p.Parse([]byte(atom), types.SiteContext{SiteName: "Atom", FeedURL: "https://atom.example.com/feed"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(articles) != 1 {
		t.Fatalf("expected 1 article, got %d", len(articles))
	}
	a := articles[0]
	if a.Link != "https://atom.example.com/e/1" || a.Summary != "Short summary" || a.Source != "Atom Health" {
		t.Errorf("unexpected article %+v", a)
	}
	if !a.HasPublished() || a.Published.Month() != time.February {
		t.Errorf("published should fall back to updated, got %v", a.Published)
	}
}

func TestParseJSONFeed(t *testing.T) {
	doc := `{"version":"https://jsonfeed.org/version/1.1","title":"JSON Med","items":[
{"id":"1","url":"https://j.example.com/1","title":"Json item","content_html":"<p>Hello</p>","image":"https://j.example.com/i.png","date_published":"2025-01-02T03:04:05Z"}]}`
	p := NewParser(nil, testLogger)
	articles, err := p.Parse([]byte(doc), types.SiteContext{SiteName: "J", FeedURL: "https://j.example.com/feed.json"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(articles) != 1 {
		t.Fatalf("expected 1 article, got %d", len(articles))
	}
	a := articles[0]
	if a.Summary != "Hello" || a.Image != "https://j.example.com/i.png" || a.Source != "JSON Med" {
		t.Errorf("unexpected article %+v", a)
	}
}

func TestParseStripsEntityDeclarations(t *testing.T) {
	doc := `<?xml version="1.0"?>
<!DOCTYPE rss [<!ENTITY xxe SYSTEM "file:///etc/passwd">]>
<rss version="2.0"><channel><title>T</title>
<item><title>&xxe;</title><link>https://x.example.com/1</link></item>
</channel></rss>`
	p := NewParser(nil, testLogger)
	articles, err := p.Parse([]byte(doc), types.SiteContext{FeedURL: "https://x.example.com/feed"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(articles) != 1 {
		t.Fatalf("expected 1 article, got %d", len(articles))
	}
	if strings.Contains(articles[0].Title, "root:") {
		t.Fatalf("external entity was expanded: %q", articles[0].Title)
	}
}

func TestParseSalvagesEntries(t *testing.T) {
	doc := `<data>
<item><title>Salvaged</title><link>https://s.example.com/a</link></item>
<item><title>No link</title></item>
</data>`
	p := NewParser(nil, testLogger)
	articles, err := p.Parse([]byte(doc), types.SiteContext{SiteName: "Salvage", FeedURL: "https://s.example.com/feed"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(articles) != 1 || articles[0].Title != "Salvaged" {
		t.Fatalf("unexpected articles %+v", articles)
	}
	if articles[0].Source != "Salvage" {
		t.Errorf("source should fall back to site name, got %q", articles[0].Source)
	}
}

func TestParseTruncatedFeed(t *testing.T) {
	doc := `<?xml version="1.0"?><rss version="2.0"><channel><title>Cut Feed</title>
<item><title>Good</title><link>https://c.example.com/1</link></item>
<item><title>Cut`
	p := NewParser(nil, testLogger)
	articles, err := p.Parse([]byte(doc), types.SiteContext{FeedURL: "https://c.example.com/feed"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(articles) != 1 || articles[0].Link != "https://c.example.com/1" {
		t.Fatalf("unexpected articles %+v", articles)
	}
	if articles[0].Source != "Cut Feed" {
		t.Errorf("source = %q", articles[0].Source)
	}
}

func TestParseGarbage(t *testing.T) {
	p := NewParser(nil, testLogger)
	_, err := p.Parse([]byte("this is not a feed"), types.SiteContext{FeedURL: "https://g.example.com/feed"})
	var pe *types.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.URL != "https://g.example.com/feed" {
		t.Errorf("url = %q", pe.URL)
	}
	if types.ClassifyError(err) != types.KindParse {
		t.Errorf("kind = %s", types.ClassifyError(err))
	}
}

func TestParseEmpty(t *testing.T) {
	p := NewParser(nil, testLogger)
	articles, err := p.Parse(nil, types.SiteContext{})
	if err != nil || len(articles) != 0 {
		t.Fatalf("got %v, %v", articles, err)
	}
}

func TestParseTruncatesSummary(t *testing.T) {
	long := strings.Repeat("word ", 200)
	doc := `<rss version="2.0"><channel><title>T</title><item><title>Long</title><link>https://l.example.com/1</link><description>` +
		long + `</description></item></channel></rss>`
	p := NewParser(nil, testLogger)
	articles, err := p.Parse([]byte(doc), types.SiteContext{})
	if err != nil || len(articles) != 1 {
		t.Fatalf("got %v, %v", articles, err)
	}
	if n := len([]rune(articles[0].Summary)); n > 500 {
		t.Errorf("summary has %d runes", n)
	}
}
