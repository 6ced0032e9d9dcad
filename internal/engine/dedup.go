package engine

import (
	"net/url"
	"sort"
	"strings"
	"unicode"

	"github.com/IshaanNene/medfeed/internal/types"
)

// Tie-break rules for equally complete duplicates.
const (
	TieBreakFirst = "first"
	TieBreakLast  = "last"
)

// trackingParams are query parameters that never change the page served.
var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"dclid":   true,
	"msclkid": true,
	"mc_cid":  true,
	"mc_eid":  true,
	"igshid":  true,
	"yclid":   true,
	"_ga":     true,
	"_hsenc":  true,
	"_hsmi":   true,
	"ref_src": true,
}

// Deduplicator collapses articles that point at the same story.
// Dedupe is pure: the same input always gives the same output, and
// running it on its own output changes nothing.
type Deduplicator struct {
	keepLast bool
}

// NewDeduplicator creates a Deduplicator with the given tie-break rule.
// Anything other than "last" means first-seen wins.
func NewDeduplicator(tieBreak string) *Deduplicator {
	return &Deduplicator{keepLast: strings.EqualFold(strings.TrimSpace(tieBreak), TieBreakLast)}
}

// Dedupe groups articles sharing a normalized link or a title key, keeps the
// most complete member of each group and returns the survivors in order of
// each group's first appearance.
func (d *Deduplicator) Dedupe(articles []types.Article) []types.Article {
	n := len(articles)
	if n == 0 {
		return []types.Article{}
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		// The lower index stays root so group order follows first appearance.
		if ra < rb {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}

	owner := make(map[string]int, 2*n)
	for i := range articles {
		for _, key := range dedupKeys(&articles[i]) {
			if j, ok := owner[key]; ok {
				union(i, j)
			} else {
				owner[key] = i
			}
		}
	}

	best := make(map[int]int, n)
	var roots []int
	for i := range articles {
		root := find(i)
		cur, ok := best[root]
		if !ok {
			best[root] = i
			roots = append(roots, root)
			continue
		}
		ci, cc := articles[i].Completeness(), articles[cur].Completeness()
		if ci > cc || (d.keepLast && ci == cc) {
			best[root] = i
		}
	}

	sort.Ints(roots)
	out := make([]types.Article, 0, len(roots))
	for _, root := range roots {
		out = append(out, articles[best[root]].Clone())
	}
	return out
}

func dedupKeys(a *types.Article) []string {
	keys := make([]string, 0, 2)
	if link := strings.TrimSpace(a.Link); link != "" {
		keys = append(keys, "link:"+NormalizeLink(link))
	}
	if tk := TitleKey(a.Title, a.Source); tk != "" {
		keys = append(keys, "title:"+tk)
	}
	return keys
}

// NormalizeLink canonicalizes a URL for duplicate detection:
// - lowercases scheme and host
// - removes fragment and default ports
// - drops tracking parameters and sorts the rest
// - removes trailing slash (except root)
func NormalizeLink(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return strings.ToLower(trimmed)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	host := u.Hostname()
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = host
	}

	if u.RawQuery != "" {
		params := u.Query()
		keys := make([]string, 0, len(params))
		for k := range params {
			lk := strings.ToLower(k)
			if trackingParams[lk] || strings.HasPrefix(lk, "utm_") {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var sorted []string
		for _, k := range keys {
			vals := params[k]
			sort.Strings(vals)
			for _, v := range vals {
				sorted = append(sorted, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		u.RawQuery = strings.Join(sorted, "&")
		u.ForceQuery = false
	}

	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String()
}

// TitleKey is the secondary identity of an article: its title reduced to
// lowercase letters and digits, plus the source. Untitled articles have none.
func TitleKey(title, source string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	norm := b.String()
	if norm == "" || norm == "untitled" {
		return ""
	}
	return norm + "|" + strings.ToLower(strings.TrimSpace(source))
}
