package pipeline

import (
	"net/url"
	"strings"
	"time"

	"github.com/IshaanNene/medfeed/internal/entity"
	"github.com/IshaanNene/medfeed/internal/parser"
	"github.com/IshaanNene/medfeed/internal/types"
)

// RequireLinkMiddleware drops articles without an absolute http(s) link.
type RequireLinkMiddleware struct{}

func (m *RequireLinkMiddleware) Name() string { return "require_link" }

func (m *RequireLinkMiddleware) Process(a *types.Article) (*types.Article, error) {
	link := strings.TrimSpace(a.Link)
	if link == "" {
		return nil, nil
	}
	u, err := url.Parse(link)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, nil
	}
	a.Link = link
	return a, nil
}

// SanitizeMiddleware strips markup from title, summary and source, and caps
// the summary length.
type SanitizeMiddleware struct {
	// MaxSummary caps the summary in runes. Zero means 500.
	MaxSummary int
}

func (m *SanitizeMiddleware) Name() string { return "sanitize" }

func (m *SanitizeMiddleware) Process(a *types.Article) (*types.Article, error) {
	limit := m.MaxSummary
	if limit <= 0 {
		limit = 500
	}
	a.Title = parser.Sanitize(a.Title)
	if a.Title == "" {
		a.Title = "Untitled"
	}
	a.Summary = parser.Truncate(parser.Sanitize(a.Summary), limit)
	a.Source = parser.Sanitize(a.Source)
	return a, nil
}

// DefaultSourceMiddleware fills in the owning site and, when the parser
// found no publisher label, the source.
type DefaultSourceMiddleware struct {
	Site types.SiteContext
}

func (m *DefaultSourceMiddleware) Name() string { return "default_source" }

func (m *DefaultSourceMiddleware) Process(a *types.Article) (*types.Article, error) {
	if a.Site == "" {
		a.Site = m.Site.SiteName
	}
	if a.Source == "" {
		a.Source = m.Site.SiteName
	}
	if a.Source == "" {
		a.Source = types.Domain(a.Link)
	}
	return a, nil
}

// FutureDateMiddleware clears publication times further ahead than Skew,
// leaving the article undated.
type FutureDateMiddleware struct {
	Skew time.Duration
	Now  func() time.Time
}

func (m *FutureDateMiddleware) Name() string { return "future_date" }

func (m *FutureDateMiddleware) Process(a *types.Article) (*types.Article, error) {
	if a.Published == nil {
		return a, nil
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	if a.Published.IsZero() || a.Published.After(now().Add(m.Skew)) {
		a.Published = nil
	}
	return a, nil
}

// EnrichMiddleware tags companies and products.
type EnrichMiddleware struct {
	Extractor *entity.Extractor
}

func (m *EnrichMiddleware) Name() string { return "enrich" }

func (m *EnrichMiddleware) Process(a *types.Article) (*types.Article, error) {
	enriched := m.Extractor.Enrich(*a)
	return &enriched, nil
}
