package parser

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// PageMeta is the page-level metadata the scraper cares about.
type PageMeta struct {
	SiteName    string
	Title       string
	Description string
	Image       string

	// Linked holds JSON-LD article entries keyed by absolute URL.
	Linked map[string]LinkedArticle
}

// LinkedArticle is an article announced in the page's JSON-LD.
type LinkedArticle struct {
	URL       string
	Headline  string
	Image     string
	Published time.Time
}

var articleTypes = map[string]bool{
	"article":                 true,
	"newsarticle":             true,
	"blogposting":             true,
	"reportagenewsarticle":    true,
	"medicalscholarlyarticle": true,
	"scholarlyarticle":        true,
}

// ExtractPageMeta reads OpenGraph, standard meta tags and JSON-LD.
func ExtractPageMeta(doc *goquery.Document, base *url.URL) PageMeta {
	meta := PageMeta{Linked: make(map[string]LinkedArticle)}

	og := make(map[string]string)
	doc.Find(`meta[property^="og:"]`).Each(func(_ int, sel *goquery.Selection) {
		property, _ := sel.Attr("property")
		content, _ := sel.Attr("content")
		if property != "" && content != "" {
			og[strings.TrimPrefix(property, "og:")] = strings.TrimSpace(content)
		}
	})

	meta.SiteName = og["site_name"]
	meta.Title = og["title"]
	if meta.Title == "" {
		meta.Title = CollapseSpace(doc.Find("title").First().Text())
	}
	meta.Description = og["description"]
	if meta.Description == "" {
		meta.Description, _ = doc.Find(`meta[name="description"]`).Attr("content")
	}
	if img := og["image"]; img != "" {
		meta.Image = ResolveURL(base, img)
	}

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		raw := strings.TrimSpace(sel.Text())
		if raw == "" {
			return
		}
		var data any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return
		}
		collectLinked(data, base, meta.Linked)
	})

	return meta
}

// collectLinked walks a decoded JSON-LD value, including @graph and ItemList
// wrappers, and records every article-typed node that has a URL.
func collectLinked(v any, base *url.URL, out map[string]LinkedArticle) {
	switch node := v.(type) {
	case []any:
		for _, child := range node {
			collectLinked(child, base, out)
		}
	case map[string]any:
		if graph, ok := node["@graph"]; ok {
			collectLinked(graph, base, out)
		}
		if items, ok := node["itemListElement"]; ok {
			collectLinked(items, base, out)
		}
		if item, ok := node["item"]; ok {
			collectLinked(item, base, out)
		}
		if !isArticleType(node["@type"]) {
			return
		}

		link := jsonString(node["url"])
		if link == "" {
			link = jsonString(node["mainEntityOfPage"])
		}
		link = ResolveURL(base, link)
		if link == "" {
			return
		}

		la := LinkedArticle{
			URL:      link,
			Headline: CollapseSpace(jsonString(node["headline"])),
			Image:    ResolveURL(base, jsonString(node["image"])),
		}
		if t, ok := ParseTimestamp(jsonString(node["datePublished"])); ok {
			la.Published = t
		}
		out[link] = la
	}
}

func isArticleType(v any) bool {
	switch t := v.(type) {
	case string:
		return articleTypes[strings.ToLower(t)]
	case []any:
		for _, x := range t {
			if isArticleType(x) {
				return true
			}
		}
	}
	return false
}

// jsonString pulls a string out of a JSON-LD value that may be a plain
// string, an object with url/@id, or a list of either.
func jsonString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		if s := jsonString(t["url"]); s != "" {
			return s
		}
		return jsonString(t["@id"])
	case []any:
		for _, x := range t {
			if s := jsonString(x); s != "" {
				return s
			}
		}
	}
	return ""
}

// ResolveURL resolves ref against base and keeps only http(s) results.
func ResolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if u.Host == "" {
		return ""
	}
	return u.String()
}
