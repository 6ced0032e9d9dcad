package entity

import (
	"cmp"
	"regexp"
	"slices"
	"strings"

	"github.com/IshaanNene/medfeed/internal/types"
)

// Relationship kinds.
const (
	KindAcquisition = "acquisition"
	KindPartnership = "partnership"
)

type relationPattern struct {
	kind string
	re   *regexp.Regexp
}

const party = `(\w+(?:\s+\w+)?)`

var relationPatterns = []relationPattern{
	{KindAcquisition, regexp.MustCompile(`(?i)` + party + `\s+(?:acquires?|acquired|to acquire|bought|purchases?)\s+` + party)},
	{KindAcquisition, regexp.MustCompile(`(?i)` + party + `\s+(?:acquisition of|takeover of)\s+` + party)},
	{KindAcquisition, regexp.MustCompile(`(?i)` + party + `\s+(?:completes?|announces?)\s+(?:acquisition|merger)\s+(?:of|with)\s+` + party)},
	{KindPartnership, regexp.MustCompile(`(?i)` + party + `\s+(?:partners? with|partnering with|collaboration with)\s+` + party)},
	{KindPartnership, regexp.MustCompile(`(?i)` + party + `\s+and\s+` + party + `\s+(?:announce|enter|sign)\s+(?:partnership|collaboration|agreement)`)},
}

// Relationship is a deal between two parties named in one sentence.
type Relationship struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

// Relationships finds acquisition and partnership statements in text. Known
// companies are reported under their canonical names.
func (e *Extractor) Relationships(text string) []Relationship {
	out := []Relationship{}
	if strings.TrimSpace(text) == "" {
		return out
	}

	seen := make(map[Relationship]bool)
	for _, p := range relationPatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			from, to := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
			if len(from) <= 2 || len(to) <= 2 {
				continue
			}
			rel := Relationship{
				From: e.canonicalCompany(from),
				To:   e.canonicalCompany(to),
				Kind: p.kind,
			}
			if seen[rel] || strings.EqualFold(rel.From, rel.To) {
				continue
			}
			seen[rel] = true
			out = append(out, rel)
		}
	}
	return out
}

// EntityCount is how many articles mention an entity.
type EntityCount struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Mentions int    `json:"mentions"`
	Ticker   string `json:"ticker,omitempty"`
	Sector   Sector `json:"sector,omitempty"`
}

// Entity types in a tally.
const (
	TypeCompany = "company"
	TypeProduct = "product"
)

// Tally counts the companies and products tagged on articles, most
// mentioned first. Ties are ordered by type then name.
func (e *Extractor) Tally(articles []types.Article) []EntityCount {
	type key struct{ name, typ string }
	counts := make(map[key]int)
	for i := range articles {
		for _, c := range articles[i].Companies {
			counts[key{c, TypeCompany}]++
		}
		for _, p := range articles[i].Products {
			counts[key{p, TypeProduct}]++
		}
	}

	out := make([]EntityCount, 0, len(counts))
	for k, n := range counts {
		ec := EntityCount{Name: k.name, Type: k.typ, Mentions: n}
		if k.typ == TypeCompany {
			ec.Sector = SectorUnknown
			if p, ok := e.Profile(k.name); ok {
				ec.Ticker = p.Ticker
				ec.Sector = p.Sector
			}
		}
		out = append(out, ec)
	}

	slices.SortFunc(out, func(a, b EntityCount) int {
		if c := cmp.Compare(b.Mentions, a.Mentions); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Type, b.Type); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}
