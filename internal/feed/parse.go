package feed

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/IshaanNene/medfeed/internal/observability"
	"github.com/IshaanNene/medfeed/internal/parser"
	"github.com/IshaanNene/medfeed/internal/types"
)

const (
	summaryRunes  = 500
	untitledTitle = "Untitled"
)

var (
	// A DOCTYPE carrying an internal subset is where entity declarations live.
	doctypeRe  = regexp.MustCompile(`(?is)<!DOCTYPE[^>\[]*(\[.*?\])?\s*>`)
	itemRe     = regexp.MustCompile(`(?is)<item[\s>].*?</item>`)
	entryRe    = regexp.MustCompile(`(?is)<entry[\s>].*?</entry>`)
	channelRe  = regexp.MustCompile(`(?is)<(?:channel|feed)[\s>].*?<title[^>]*>(.*?)</title>`)
	cdataRe    = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)
	itemMarker = regexp.MustCompile(`(?i)<(item|entry)[\s>]`)
)

const (
	rssEnvelopeOpen = `<?xml version="1.0" encoding="UTF-8"?>` +
		`<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/" ` +
		`xmlns:content="http://purl.org/rss/1.0/modules/content/" ` +
		`xmlns:dc="http://purl.org/dc/elements/1.1/"><channel><title>%s</title>`
	rssEnvelopeClose = `</channel></rss>`
	atomEnvelopeOpen = `<?xml version="1.0" encoding="UTF-8"?>` +
		`<feed xmlns="http://www.w3.org/2005/Atom" xmlns:media="http://search.yahoo.com/mrss/"><title>%s</title>`
	atomEnvelopeClose = `</feed>`
)

// Parser maps RSS, Atom and JSON Feed documents to articles.
type Parser struct {
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewParser creates a feed parser.
func NewParser(metrics *observability.Metrics, logger *slog.Logger) *Parser {
	return &Parser{
		metrics: metrics,
		logger:  logger.With("component", "feed_parser"),
	}
}

// Parse reads a feed document. A broken entry costs only itself: when the
// document as a whole does not parse, each <item> or <entry> is retried on
// its own. A *types.ParseError is returned only if nothing at all could be
// read from non-empty input.
func (p *Parser) Parse(raw []byte, site types.SiteContext) ([]types.Article, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	raw = doctypeRe.ReplaceAll(raw, nil)

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(raw))
	if err == nil && (len(feed.Items) > 0 || !itemMarker.Match(raw)) {
		return p.mapFeed(feed, feed.Items, site), nil
	}

	items, source := p.salvage(raw)
	if len(items) == 0 {
		if err == nil {
			err = types.ErrNoArticles
		}
		p.metrics.AddFeedEntries("failed", 1)
		return nil, &types.ParseError{URL: site.FeedURL, Format: "feed", Err: err}
	}

	p.logger.Debug("feed recovered entry by entry",
		"url", site.FeedURL,
		"entries", len(items),
		"error", err,
	)
	return p.mapFeed(&gofeed.Feed{Title: source}, items, site), nil
}

// salvage parses each item or entry chunk in its own minimal envelope.
func (p *Parser) salvage(raw []byte) ([]*gofeed.Item, string) {
	title := ""
	if m := channelRe.FindSubmatch(raw); m != nil {
		title = parser.Sanitize(string(cdataRe.ReplaceAll(m[1], []byte("$1"))))
	}
	escaped := xmlEscape(title)

	var items []*gofeed.Item
	broken := 0
	try := func(chunks [][]byte, open, closing string) {
		for _, chunk := range chunks {
			doc := fmt.Sprintf(open, escaped) + string(chunk) + closing
			f, err := gofeed.NewParser().ParseString(doc)
			if err != nil || len(f.Items) == 0 {
				broken++
				continue
			}
			items = append(items, f.Items...)
		}
	}
	try(itemRe.FindAll(raw, -1), rssEnvelopeOpen, rssEnvelopeClose)
	try(entryRe.FindAll(raw, -1), atomEnvelopeOpen, atomEnvelopeClose)

	if broken > 0 {
		p.metrics.AddFeedEntries("broken", broken)
	}
	return items, title
}

func (p *Parser) mapFeed(feed *gofeed.Feed, items []*gofeed.Item, site types.SiteContext) []types.Article {
	base, _ := url.Parse(site.FeedURL)
	source := feedSource(feed, site)

	articles := make([]types.Article, 0, len(items))
	dropped := 0
	for _, item := range items {
		if item == nil {
			continue
		}
		a, ok := mapItem(item, base)
		if !ok {
			dropped++
			continue
		}
		a.Source = source
		a.FeedURL = site.FeedURL
		a.Site = site.SiteName
		articles = append(articles, a)
	}

	p.metrics.AddFeedEntries("parsed", len(articles))
	if dropped > 0 {
		p.metrics.AddFeedEntries("dropped", dropped)
		p.logger.Debug("entries without a link dropped", "url", site.FeedURL, "dropped", dropped)
	}
	return articles
}

// mapItem converts one entry. It reports false when the entry has no usable
// link.
func mapItem(item *gofeed.Item, base *url.URL) (types.Article, bool) {
	link := itemLink(item, base)
	if link == "" {
		return types.Article{}, false
	}

	title := parser.Sanitize(item.Title)
	if title == "" {
		title = untitledTitle
	}

	summary := item.Description
	if strings.TrimSpace(summary) == "" {
		summary = item.Content
	}

	return types.Article{
		Title:     title,
		Link:      link,
		Summary:   parser.Truncate(parser.Sanitize(summary), summaryRunes),
		Published: itemPublished(item),
		Image:     itemImage(item, base),
	}, true
}

func itemLink(item *gofeed.Item, base *url.URL) string {
	candidates := append([]string{item.Link}, item.Links...)
	for _, c := range candidates {
		if abs := parser.ResolveURL(base, c); abs != "" {
			return abs
		}
	}
	// A GUID only counts when it is itself an absolute URL.
	guid := strings.TrimSpace(item.GUID)
	if strings.HasPrefix(guid, "http://") || strings.HasPrefix(guid, "https://") {
		return parser.ResolveURL(nil, guid)
	}
	return ""
}

func itemPublished(item *gofeed.Item) *time.Time {
	switch {
	case item.PublishedParsed != nil:
		t := *item.PublishedParsed
		return &t
	case item.UpdatedParsed != nil:
		t := *item.UpdatedParsed
		return &t
	}
	for _, raw := range []string{item.Published, item.Updated} {
		if t, ok := parser.ParseTimestamp(raw); ok {
			return &t
		}
	}
	return nil
}

// itemImage looks at media:content and media:thumbnail, the item image,
// image enclosures and finally the first <img> in the description.
func itemImage(item *gofeed.Item, base *url.URL) string {
	if media, ok := item.Extensions["media"]; ok {
		for _, name := range []string{"content", "thumbnail"} {
			for _, e := range media[name] {
				if u := e.Attrs["url"]; u != "" && mediaIsImage(e.Attrs) {
					if abs := parser.ResolveURL(base, u); abs != "" {
						return abs
					}
				}
			}
		}
		for _, group := range media["group"] {
			for _, name := range []string{"content", "thumbnail"} {
				for _, e := range group.Children[name] {
					if u := e.Attrs["url"]; u != "" && mediaIsImage(e.Attrs) {
						if abs := parser.ResolveURL(base, u); abs != "" {
							return abs
						}
					}
				}
			}
		}
	}

	if item.Image != nil {
		if abs := parser.ResolveURL(base, item.Image.URL); abs != "" {
			return abs
		}
	}

	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(strings.ToLower(enc.Type), "image/") {
			if abs := parser.ResolveURL(base, enc.URL); abs != "" {
				return abs
			}
		}
	}

	for _, markup := range []string{item.Description, item.Content} {
		if !strings.Contains(markup, "<img") {
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
		if err != nil {
			continue
		}
		if src, ok := doc.Find("img[src]").First().Attr("src"); ok {
			if abs := parser.ResolveURL(base, src); abs != "" {
				return abs
			}
		}
	}
	return ""
}

func mediaIsImage(attrs map[string]string) bool {
	if medium := strings.ToLower(attrs["medium"]); medium != "" {
		return medium == "image"
	}
	if t := strings.ToLower(attrs["type"]); t != "" {
		return strings.HasPrefix(t, "image/")
	}
	return true
}

func feedSource(feed *gofeed.Feed, site types.SiteContext) string {
	if feed != nil {
		if title := parser.Sanitize(feed.Title); title != "" {
			return title
		}
		if host := types.Domain(feed.Link); host != "" {
			return host
		}
	}
	return site.SiteName
}

func xmlEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
