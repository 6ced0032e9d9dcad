package parser

import (
	"bytes"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/IshaanNene/medfeed/internal/config"
	"github.com/IshaanNene/medfeed/internal/types"
)

const (
	summaryRunes  = 300
	sweetSpotMin  = 25
	sweetSpotMax  = 180
	boilerplateAt = 3
)

var (
	// Path fragments that mark listing or account pages.
	deniedPathParts = []string{"/tag/", "/category/", "/author/", "/page/"}
	// Whole path segments that mark site furniture.
	deniedSegments = map[string]bool{
		"search": true, "login": true, "subscribe": true, "about": true,
		"contact": true, "privacy": true, "terms": true,
	}
	noiseTags     = map[string]bool{"nav": true, "footer": true, "aside": true}
	noiseHints    = []string{"nav", "menu", "footer", "subscribe", "login", "cookie", "sidebar", "widget"}
	contentHints  = []string{"article", "news", "story", "post", "item", "card", "content", "feed", "list"}
	headingTags   = map[string]bool{"h1": true, "h2": true, "h3": true, "h4": true}
	headingSelect = "h1, h2, h3, h4"
)

// Weights are the points each scraper signal contributes.
type Weights struct {
	SweetSpot     int
	Acceptable    int
	InArticle     int
	InHeading     int
	ContainerHint int
	SlugPath      int
	SameHost      int
	ExternalHost  int
	Repeated      int
}

// DefaultWeights returns the standard scoring table.
func DefaultWeights() Weights {
	return Weights{
		SweetSpot:     2,
		Acceptable:    1,
		InArticle:     3,
		InHeading:     2,
		ContainerHint: 1,
		SlugPath:      1,
		SameHost:      1,
		ExternalHost:  -1,
		Repeated:      -1,
	}
}

// Candidate is an anchor that survived the hard filters, with the signals
// observed around it.
type Candidate struct {
	Title         string
	Link          string
	InArticle     bool
	InHeading     bool
	ContainerHint bool
	SlugPath      bool
	SameHost      bool
	// Occurrences is how many anchors on the page point at Link.
	Occurrences int
}

// Score sums the weights of the signals present on c.
func Score(c Candidate, w Weights) int {
	score := 0
	n := utf8.RuneCountInString(c.Title)
	if n >= sweetSpotMin && n <= sweetSpotMax {
		score += w.SweetSpot
	} else {
		score += w.Acceptable
	}
	if c.InArticle {
		score += w.InArticle
	}
	if c.InHeading {
		score += w.InHeading
	}
	if c.ContainerHint {
		score += w.ContainerHint
	}
	if c.SlugPath {
		score += w.SlugPath
	}
	if c.SameHost {
		score += w.SameHost
	} else {
		score += w.ExternalHost
	}
	if c.Occurrences >= 2 {
		score += w.Repeated
	}
	return score
}

// Scraper pulls headline links out of a homepage when no feed is usable.
type Scraper struct {
	cfg     config.ScrapeConfig
	weights Weights
	logger  *slog.Logger
}

// NewScraper creates a scraper with the default weights.
func NewScraper(cfg config.ScrapeConfig, logger *slog.Logger) *Scraper {
	return &Scraper{
		cfg:     cfg,
		weights: DefaultWeights(),
		logger:  logger.With("component", "scraper"),
	}
}

// SetWeights replaces the scoring table.
func (s *Scraper) SetWeights(w Weights) {
	s.weights = w
}

// anchor is a link seen during the first pass over the page.
type anchor struct {
	sel   *goquery.Selection
	title string
	link  string
}

// Scrape returns the article links found on a homepage. It never fails; a
// page it cannot make sense of yields an empty list.
func (s *Scraper) Scrape(html []byte, site types.SiteContext) []types.Article {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		s.logger.Debug("unparseable homepage", "site", site.SiteName, "error", err)
		return nil
	}

	base, _ := url.Parse(site.Homepage)
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok && base != nil {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			base = base.ResolveReference(ref)
		}
	}
	homeKey := pageKey(site.Homepage)
	homeHost := bareHost(site.Homepage)

	meta := ExtractPageMeta(doc, base)
	source := meta.SiteName
	if source == "" {
		source = types.Domain(site.Homepage)
	}

	// First pass: resolve every anchor and count repeats.
	var anchors []anchor
	linkCount := make(map[string]int)
	textCount := make(map[string]int)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		link := ResolveURL(base, href)
		if link == "" {
			return
		}
		link = stripFragment(link)
		title := anchorTitle(sel)
		linkCount[link]++
		if title != "" {
			textCount[strings.ToLower(title)]++
		}
		anchors = append(anchors, anchor{sel: sel, title: title, link: link})
	})

	limit := s.cfg.MaxArticlesPerSite
	seen := make(map[string]bool)
	var articles []types.Article
	var rejected int

	for _, a := range anchors {
		if limit > 0 && len(articles) >= limit {
			break
		}
		if seen[a.link] {
			continue
		}
		c, ok := s.candidate(a, homeKey, homeHost, linkCount, textCount)
		if !ok {
			rejected++
			continue
		}
		if Score(c, s.weights) < s.cfg.ScoreThreshold {
			rejected++
			continue
		}
		seen[a.link] = true

		article := types.Article{
			Title:  c.Title,
			Link:   c.Link,
			Source: source,
			Site:   site.SiteName,
		}
		fillContext(&article, a.sel, base)
		if ld, ok := meta.Linked[c.Link]; ok {
			if !article.HasPublished() && !ld.Published.IsZero() {
				t := ld.Published
				article.Published = &t
			}
			if article.Image == "" {
				article.Image = ld.Image
			}
		}
		articles = append(articles, article)
	}

	s.logger.Debug("homepage scraped",
		"site", site.SiteName,
		"anchors", len(anchors),
		"kept", len(articles),
		"rejected", rejected,
	)
	return articles
}

// candidate applies the hard filters and collects the scoring signals.
func (s *Scraper) candidate(a anchor, homeKey, homeHost string, linkCount, textCount map[string]int) (Candidate, bool) {
	u, err := url.Parse(a.link)
	if err != nil {
		return Candidate{}, false
	}
	if pageKey(a.link) == homeKey {
		return Candidate{}, false
	}
	if deniedPath(u.Path) {
		return Candidate{}, false
	}
	n := utf8.RuneCountInString(a.title)
	if n < s.cfg.MinTitleLength || n > s.cfg.MaxTitleLength {
		return Candidate{}, false
	}
	if textCount[strings.ToLower(a.title)] >= boilerplateAt {
		return Candidate{}, false
	}

	c := Candidate{
		Title:       a.title,
		Link:        a.link,
		SlugPath:    slugLike(u.Path),
		SameHost:    homeHost != "" && bareHost(a.link) == homeHost,
		Occurrences: linkCount[a.link],
	}
	if a.sel.Find(headingSelect).Length() > 0 {
		c.InHeading = true
	}

	noisy := false
	a.sel.Parents().EachWithBreak(func(_ int, p *goquery.Selection) bool {
		tag := goquery.NodeName(p)
		if tag == "body" || tag == "html" {
			return false
		}
		switch {
		case tag == "article":
			c.InArticle = true
		case headingTags[tag]:
			c.InHeading = true
		case noiseTags[tag]:
			noisy = true
			return false
		}
		label := attrLabel(p)
		if containsAny(label, noiseHints) {
			noisy = true
			return false
		}
		if containsAny(label, contentHints) {
			c.ContainerHint = true
		}
		return true
	})
	if noisy {
		return Candidate{}, false
	}
	return c, true
}

// anchorTitle prefers a nested heading over the raw anchor text.
func anchorTitle(sel *goquery.Selection) string {
	if h := sel.Find(headingSelect).First(); h.Length() > 0 {
		if t := CollapseSpace(h.Text()); t != "" {
			return t
		}
	}
	return CollapseSpace(sel.Text())
}

// fillContext reads summary, image and date from the anchor's enclosing block.
func fillContext(a *types.Article, sel *goquery.Selection, base *url.URL) {
	block := sel.Closest("article, li")
	if block.Length() == 0 {
		block = sel.Parent()
	}

	if p := block.Find("p").First(); p.Length() > 0 {
		a.Summary = Truncate(CollapseSpace(p.Text()), summaryRunes)
	}

	if img := block.Find("img").First(); img.Length() > 0 {
		src := img.AttrOr("src", "")
		if src == "" || strings.HasPrefix(src, "data:") {
			src = img.AttrOr("data-src", "")
		}
		a.Image = ResolveURL(base, src)
	}

	if tm := block.Find("time").First(); tm.Length() > 0 {
		raw := tm.AttrOr("datetime", "")
		if raw == "" {
			raw = tm.Text()
		}
		a.Published = parseTime(raw)
	}
}

func attrLabel(sel *goquery.Selection) string {
	return strings.ToLower(sel.AttrOr("class", "") + " " + sel.AttrOr("id", ""))
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func deniedPath(path string) bool {
	lower := strings.ToLower(path)
	for _, part := range deniedPathParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	for _, seg := range strings.Split(lower, "/") {
		if i := strings.LastIndexByte(seg, '.'); i > 0 {
			seg = seg[:i]
		}
		if deniedSegments[seg] {
			return true
		}
	}
	return false
}

// slugLike reports whether a path looks like an article permalink.
func slugLike(path string) bool {
	var segments []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	if len(segments) >= 2 {
		return true
	}
	if len(segments) == 0 {
		return false
	}
	last := segments[len(segments)-1]
	if strings.Count(last, "-") >= 3 {
		return true
	}
	return strings.IndexFunc(last, unicode.IsDigit) >= 0
}

func stripFragment(link string) string {
	if i := strings.IndexByte(link, '#'); i >= 0 {
		return link[:i]
	}
	return link
}

// pageKey identifies a page for the "is this the homepage" check.
func pageKey(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.ToLower(raw)
	}
	u.Fragment = ""
	return strings.ToLower(strings.TrimSuffix(u.Host+u.Path, "/")) + "?" + u.RawQuery
}

func bareHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func parseTime(raw string) *time.Time {
	if t, ok := ParseTimestamp(raw); ok {
		return &t
	}
	return nil
}
