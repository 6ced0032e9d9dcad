// Package entity tags articles with the companies and products they mention.
//
// Matching is table lookup plus a handful of regular expressions; there is no
// inference. An Extractor is immutable after New and safe for concurrent use.
package entity

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/IshaanNene/medfeed/internal/types"
)

// minEntryLen is the shortest table entry the scan considers. Shorter names
// ("BD", "GSK", "Ion") collide with ordinary text far too often.
const minEntryLen = 4

var (
	drugSuffixRe = regexp.MustCompile(`(?i)\b([A-Z][a-z]+(?:` + strings.Join(drugSuffixes, "|") + `))\b`)
	fdaRe        = regexp.MustCompile(`FDA\s+(?:approved?|cleared?|authorized?)\s+([A-Z][a-zA-Z0-9\s\-]+?)(?:\s+for|\s+to|\s+as|,|\.)`)
	acquirerRe   = regexp.MustCompile(`([A-Z][a-zA-Z\s&]+?)\s+(?:acquires?|acquired|to acquire|bought|purchases?|partners? with)`)
)

// Entities are the names found in one piece of text.
type Entities struct {
	Companies []string `json:"companies"`
	Products  []string `json:"products"`
}

// Empty reports whether nothing was found.
func (e Entities) Empty() bool {
	return len(e.Companies) == 0 && len(e.Products) == 0
}

type matcher struct {
	name  string // canonical output name
	lower string // lowercased table entry, for the prefilter
	re    *regexp.Regexp
}

// Extractor finds company and product names in free text.
type Extractor struct {
	companies      []matcher
	products       []matcher
	profiles       map[string]*CompanyProfile
	falsePositives map[string]bool
}

// New compiles the name tables.
func New() *Extractor {
	e := &Extractor{
		profiles:       make(map[string]*CompanyProfile),
		falsePositives: make(map[string]bool, len(falsePositives)),
	}

	for i := range companyProfiles {
		p := &companyProfiles[i]
		e.profiles[strings.ToLower(p.Name)] = p
		for _, alias := range p.Aliases {
			e.profiles[strings.ToLower(alias)] = p
		}
	}
	for _, fp := range falsePositives {
		e.falsePositives[strings.ToLower(fp)] = true
	}

	// Profile names and aliases join the plain company table.
	names := slices.Clone(knownCompanies)
	for _, p := range companyProfiles {
		names = append(names, p.Name)
		names = append(names, p.Aliases...)
	}
	e.companies = e.compile(names, e.canonicalCompany)
	e.products = e.compile(knownProducts, func(s string) string { return s })
	return e
}

func (e *Extractor) compile(entries []string, canonical func(string) string) []matcher {
	seen := make(map[string]bool, len(entries))
	out := make([]matcher, 0, len(entries))
	for _, entry := range entries {
		lower := strings.ToLower(entry)
		if utf8.RuneCountInString(entry) < minEntryLen || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, matcher{
			name:  canonical(entry),
			lower: lower,
			re:    regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(entry) + `\b`),
		})
	}
	return out
}

func (e *Extractor) canonicalCompany(name string) string {
	if p, ok := e.profiles[strings.ToLower(name)]; ok {
		return p.Name
	}
	return name
}

// Extract returns the companies and products mentioned in text. Both slices
// are sorted and never nil.
func (e *Extractor) Extract(text string) Entities {
	companies := newNameSet()
	products := newNameSet()

	if strings.TrimSpace(text) == "" {
		return Entities{Companies: companies.sorted(), Products: products.sorted()}
	}
	lower := strings.ToLower(text)

	for _, m := range e.companies {
		if strings.Contains(lower, m.lower) && m.re.MatchString(text) {
			companies.add(m.name)
		}
	}
	for _, m := range e.products {
		if strings.Contains(lower, m.lower) && m.re.MatchString(text) {
			products.add(m.name)
		}
	}

	for _, match := range drugSuffixRe.FindAllStringSubmatch(text, -1) {
		products.add(titleCase(match[1]))
	}
	for _, match := range fdaRe.FindAllStringSubmatch(text, -1) {
		if name := strings.TrimSpace(match[1]); inRange(name, 2, 50) {
			products.add(name)
		}
	}
	for _, match := range acquirerRe.FindAllStringSubmatch(text, -1) {
		if name := strings.TrimSpace(match[1]); inRange(name, 2, 40) {
			companies.add(e.canonicalCompany(name))
		}
	}

	companies.drop(e.falsePositives)
	products.drop(e.falsePositives)
	return Entities{Companies: companies.sorted(), Products: products.sorted()}
}

// Enrich returns a copy of a with Companies and Products set from its title
// and summary. No other field changes.
func (e *Extractor) Enrich(a types.Article) types.Article {
	found := e.Extract(a.Title + " " + a.Summary)
	out := a.Clone()
	out.Companies = found.Companies
	out.Products = found.Products
	return out
}

// Profile looks up a company by name or alias.
func (e *Extractor) Profile(name string) (CompanyProfile, bool) {
	p, ok := e.profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return CompanyProfile{}, false
	}
	return *p, true
}

// nameSet keeps the first spelling of each name, ignoring case.
type nameSet map[string]string

func newNameSet() nameSet { return make(nameSet) }

func (s nameSet) add(name string) {
	key := strings.ToLower(name)
	if _, ok := s[key]; !ok {
		s[key] = name
	}
}

func (s nameSet) drop(deny map[string]bool) {
	for key := range s {
		if deny[key] {
			delete(s, key)
		}
	}
}

func (s nameSet) sorted() []string {
	out := make([]string, 0, len(s))
	for _, name := range s {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func inRange(s string, lo, hi int) bool {
	n := utf8.RuneCountInString(s)
	return n > lo && n < hi
}

func titleCase(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
