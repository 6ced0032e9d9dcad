package types

import (
	"net/url"
	"strings"
	"time"
)

// Article is a single normalized news record.
type Article struct {
	Title     string     `json:"title"               bson:"title"`
	Summary   string     `json:"summary"             bson:"summary"`
	Link      string     `json:"link"                bson:"link"`
	Published *time.Time `json:"published,omitempty" bson:"published,omitempty"`
	Image     string     `json:"image,omitempty"     bson:"image,omitempty"`
	Source    string     `json:"source"              bson:"source"`
	FeedURL   string     `json:"feed,omitempty"      bson:"feed,omitempty"`
	Site      string     `json:"site"                bson:"site"`
	Companies []string   `json:"companies"           bson:"companies"`
	Products  []string   `json:"products"            bson:"products"`
}

// HasPublished reports whether the publication time is known.
func (a *Article) HasPublished() bool {
	return a.Published != nil && !a.Published.IsZero()
}

// Completeness scores how many optional fields are populated.
func (a *Article) Completeness() int {
	score := 0
	if a.HasPublished() {
		score++
	}
	if a.Image != "" {
		score++
	}
	return score
}

// Clone creates a deep copy of the article.
func (a Article) Clone() Article {
	clone := a
	if a.Published != nil {
		t := *a.Published
		clone.Published = &t
	}
	clone.Companies = append([]string(nil), a.Companies...)
	clone.Products = append([]string(nil), a.Products...)
	return clone
}

// SiteDescriptor describes one external publisher.
type SiteDescriptor struct {
	Name          string   `json:"name"               yaml:"name"`
	Homepage      string   `json:"url,omitempty"      yaml:"url,omitempty"`
	ExplicitFeeds []string `json:"feeds,omitempty"    yaml:"feeds,omitempty"`
	UsesBrowser   bool     `json:"browser,omitempty"  yaml:"browser,omitempty"`
}

// DisplayName returns the configured name, falling back to the domain.
func (s SiteDescriptor) DisplayName() string {
	if name := strings.TrimSpace(s.Name); name != "" {
		return name
	}
	if host := Domain(s.Homepage); host != "" {
		return host
	}
	if len(s.ExplicitFeeds) > 0 {
		if host := Domain(s.ExplicitFeeds[0]); host != "" {
			return host
		}
	}
	return "Unknown Source"
}

// SiteContext tells the feed parser and scraper where their input came from.
type SiteContext struct {
	// SiteName is the display name of the site being processed.
	SiteName string
	// Homepage is the site's homepage, if it has one.
	Homepage string
	// FeedURL is the feed being parsed; empty for scraped pages.
	FeedURL string
}

// Domain returns the host portion of a URL, or "" if it cannot be parsed.
func Domain(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Stages at which a site can fail.
const (
	StageFetch    = "fetch"
	StageDiscover = "discover"
	StageFeed     = "feed"
	StageScrape   = "scrape"
	StageBrowser  = "browser"
	StagePanic    = "panic"
	StageDeadline = "deadline"
)

// SiteFailure is a structured record of something that went wrong for one site.
type SiteFailure struct {
	Site  string    `json:"site"`
	Stage string    `json:"stage"`
	URL   string    `json:"url,omitempty"`
	Kind  string    `json:"kind"`
	Error string    `json:"error"`
	Err   error     `json:"-"`
	At    time.Time `json:"at"`
}

// Message returns the error text, for serialization.
func (f SiteFailure) Message() string {
	if f.Err == nil {
		return ""
	}
	return f.Err.Error()
}

// NewSiteFailure builds a failure record, classifying err.
func NewSiteFailure(site, stage, rawURL string, err error) SiteFailure {
	var msg string
	if err != nil {
		msg = err.Error()
	}
	return SiteFailure{
		Site:  site,
		Stage: stage,
		URL:   rawURL,
		Kind:  ClassifyError(err),
		Error: msg,
		Err:   err,
		At:    time.Now(),
	}
}
