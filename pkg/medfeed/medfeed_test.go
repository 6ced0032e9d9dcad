package medfeed

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/IshaanNene/medfeed/internal/types"
)

const testFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Device Wire</title>
<item><title>Medtronic wins clearance for new pump</title><link>https://news.example/medtronic-pump</link>
<description>The Medtronic MiniMed 780G system expands.</description><pubDate>Wed, 01 May 2024 10:00:00 GMT</pubDate></item>
<item><title>Stryker acquires Vocera</title><link>https://news.example/stryker-vocera?utm_source=rss</link>
<description>Deal closes.</description></item>
</channel></rss>`

func newTestAggregator(t *testing.T) *Aggregator {
	t.Helper()
	agg, err := New(
		WithBrowser(false),
		WithPrivateNetworks(true),
		WithMaxRetries(0),
		WithFetchTimeout(2*time.Second),
		WithSiteTimeout(5*time.Second),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = agg.Close() })
	return agg
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	if _, err := New(WithTieBreak("random")); err == nil {
		t.Error("expected an error for an unknown tie-break rule")
	}
	if _, err := New(WithConcurrency(0)); err == nil {
		t.Error("expected an error for zero concurrency")
	}
}

func TestAggregate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feed.xml" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = io.WriteString(w, testFeed)
	}))
	defer srv.Close()

	agg := newTestAggregator(t)
	if agg.BrowserAvailable() {
		t.Fatal("browser should be disabled")
	}

	res := agg.Aggregate(context.Background(), []Site{
		{Name: "Device Wire", Feeds: []string{srv.URL + "/feed.xml"}},
		{Name: "Mirror", Feeds: []string{srv.URL + "/feed.xml"}},
		{Name: "Gone", Feeds: []string{srv.URL + "/missing.xml"}},
	})

	// Both sites carry the same two stories, so the batch dedupe keeps two.
	if len(res.Articles) != 2 {
		t.Fatalf("expected 2 articles, got %d: %+v", len(res.Articles), res.Articles)
	}
	first := res.Articles[0]
	if first.Site != "Device Wire" || first.Link != "https://news.example/medtronic-pump" {
		t.Errorf("first article = %+v", first)
	}
	if len(first.Companies) != 1 || first.Companies[0] != "Medtronic" {
		t.Errorf("companies = %q", first.Companies)
	}
	if !first.HasPublished() {
		t.Error("published date should be parsed")
	}

	if len(res.Sites) != 3 {
		t.Errorf("expected 3 site reports, got %d", len(res.Sites))
	}
	var gone int
	for _, f := range res.Failures {
		if f.Site == "Gone" {
			gone++
			if f.Stage != types.StageFetch || f.Kind != types.KindHTTP {
				t.Errorf("unexpected failure %+v", f)
			}
		}
	}
	if gone == 0 {
		t.Error("missing failure record for the unreachable feed")
	}
}

func TestAggregateEmpty(t *testing.T) {
	agg := newTestAggregator(t)
	res := agg.Aggregate(context.Background(), nil)
	if res.Articles == nil || len(res.Articles) != 0 || len(res.Failures) != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestExtract(t *testing.T) {
	agg := newTestAggregator(t)
	got := agg.Extract("Boston Scientific and Abbott report earnings")
	if len(got.Companies) != 2 || got.Companies[0] != "Abbott" || got.Companies[1] != "Boston Scientific" {
		t.Errorf("companies = %q", got.Companies)
	}
}
