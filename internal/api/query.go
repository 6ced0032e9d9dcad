package api

import (
	"slices"
	"strings"

	"github.com/IshaanNene/medfeed/internal/types"
)

// FilterArticles returns at most limit articles, newest first, optionally
// restricted to one site and to a case-insensitive substring of the title,
// summary or source. Articles without a publication date sort last.
// The input is not modified.
func FilterArticles(articles []types.Article, site, q string, limit int) []types.Article {
	if limit <= 0 {
		return []types.Article{}
	}
	sorted := slices.Clone(articles)
	slices.SortStableFunc(sorted, byPublishedDesc)

	site = strings.TrimSpace(site)
	needle := strings.ToLower(strings.TrimSpace(q))

	out := make([]types.Article, 0, min(limit, len(sorted)))
	for i := range sorted {
		if len(out) >= limit {
			break
		}
		a := &sorted[i]
		if site != "" && !strings.EqualFold(a.Site, site) {
			continue
		}
		if needle != "" && !matches(a, needle) {
			continue
		}
		out = append(out, *a)
	}
	return out
}

func matches(a *types.Article, needle string) bool {
	hay := strings.ToLower(a.Title + " " + a.Summary + " " + a.Source)
	return strings.Contains(hay, needle)
}

func byPublishedDesc(a, b types.Article) int {
	ha, hb := a.HasPublished(), b.HasPublished()
	switch {
	case ha && hb:
		return b.Published.Compare(*a.Published)
	case ha:
		return -1
	case hb:
		return 1
	default:
		return 0
	}
}
