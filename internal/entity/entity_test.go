package entity

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/IshaanNene/medfeed/internal/types"
)

var extractor = New()

func TestExtract(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		companies []string
		products  []string
	}{
		{
			name:      "partnership headline",
			text:      "Pfizer announced a partnership with Moderna for a new vaccine",
			companies: []string{"Moderna", "Pfizer"},
			products:  []string{},
		},
		{
			name:      "case insensitive and deduplicated",
			text:      "PFIZER and pfizer, also Pfizer Inc",
			companies: []string{"Pfizer"},
			products:  []string{},
		},
		{
			name:      "aliases map to the company",
			text:      "Shares of Lilly rose after Zimmer reported earnings",
			companies: []string{"Eli Lilly", "Zimmer Biomet"},
			products:  []string{},
		},
		{
			name:      "short names are ignored",
			text:      "GSK and BD announce results",
			companies: []string{},
			products:  []string{},
		},
		{
			name:      "product table",
			text:      "Dexcom G7 and Ozempic users in focus",
			companies: []string{"Dexcom"},
			products:  []string{"Dexcom G7", "Ozempic"},
		},
		{
			name:      "drug suffix",
			text:      "Patients on pembrolizumab and atorvastatin did well",
			companies: []string{},
			products:  []string{"Atorvastatin", "Pembrolizumab"},
		},
		{
			name:      "fda approval",
			text:      "FDA approved Zorvex Ultra for migraine.",
			companies: []string{},
			products:  []string{"Zorvex Ultra"},
		},
		{
			name:      "acquirer",
			text:      "Acme Robotics acquired a startup.",
			companies: []string{"Acme Robotics"},
			products:  []string{},
		},
		{
			name:      "acquirer in table",
			text:      "Stryker acquires Vocera in a $3 billion deal",
			companies: []string{"Stryker"},
			products:  []string{},
		},
		{
			name:      "false positives dropped",
			text:      "New study from Epic shows Loop results",
			companies: []string{},
			products:  []string{},
		},
		{
			name:      "false positive acquirer dropped",
			text:      "Health partners with Cigna",
			companies: []string{"Cigna"},
			products:  []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractor.Extract(tt.text)
			if !reflect.DeepEqual(got.Companies, tt.companies) {
				t.Errorf("companies = %q, want %q", got.Companies, tt.companies)
			}
			if !reflect.DeepEqual(got.Products, tt.products) {
				t.Errorf("products = %q, want %q", got.Products, tt.products)
			}
		})
	}
}

func TestExtractEmpty(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t"} {
		got := extractor.Extract(text)
		if got.Companies == nil || got.Products == nil {
			t.Fatalf("Extract(%q) returned nil slices", text)
		}
		if !got.Empty() {
			t.Errorf("Extract(%q) = %+v, want empty", text, got)
		}
	}
}

func TestExtractDeterministic(t *testing.T) {
	text := "Medtronic and Abbott compete with Dexcom G7; FDA cleared Libre 3 Plus for kids. " +
		"Boston Scientific acquires Axonics while semaglutide sales soar."
	first := extractor.Extract(text)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := extractor.Extract(text); !reflect.DeepEqual(got, first) {
				t.Errorf("Extract not deterministic: %+v vs %+v", got, first)
			}
		}()
	}
	wg.Wait()

	if again := New().Extract(text); !reflect.DeepEqual(again, first) {
		t.Errorf("fresh extractor differs: %+v vs %+v", again, first)
	}
}

func TestEnrich(t *testing.T) {
	published := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	in := types.Article{
		Title:     "Medtronic wins approval",
		Summary:   "The MiniMed 780G system expands access",
		Link:      "https://example.com/a",
		Published: &published,
		Image:     "https://example.com/a.jpg",
		Source:    "Example",
		Site:      "Example",
	}

	out := extractor.Enrich(in)

	if !reflect.DeepEqual(out.Companies, []string{"Medtronic"}) {
		t.Errorf("companies = %q", out.Companies)
	}
	if !reflect.DeepEqual(out.Products, []string{"MiniMed 780G"}) {
		t.Errorf("products = %q", out.Products)
	}
	if in.Companies != nil || in.Products != nil {
		t.Error("input article was mutated")
	}

	out.Companies, out.Products = nil, nil
	if out.Title != in.Title || out.Summary != in.Summary || out.Link != in.Link ||
		out.Image != in.Image || out.Source != in.Source || out.Site != in.Site ||
		!out.Published.Equal(*in.Published) {
		t.Errorf("other fields changed: %+v", out)
	}
	if out.Published == in.Published {
		t.Error("published time shares memory with the input")
	}
}

func TestEnrichEmptyArticle(t *testing.T) {
	out := extractor.Enrich(types.Article{})
	if out.Companies == nil || out.Products == nil {
		t.Fatal("expected non-nil slices")
	}
	if len(out.Companies)+len(out.Products) != 0 {
		t.Errorf("got %+v", out)
	}
}

func TestProfile(t *testing.T) {
	p, ok := extractor.Profile("j&j")
	if !ok {
		t.Fatal("expected a profile for an alias")
	}
	if p.Name != "Johnson & Johnson" || p.Ticker != "JNJ" || p.Sector != SectorBigPharma {
		t.Errorf("got %+v", p)
	}

	if p, ok := extractor.Profile("Intuitive"); !ok || p.Ticker != "ISRG" {
		t.Errorf("Intuitive: %+v %v", p, ok)
	}
	if _, ok := extractor.Profile("Acme Robotics"); ok {
		t.Error("unknown company should have no profile")
	}
}

func TestRelationships(t *testing.T) {
	tests := []struct {
		text string
		want []Relationship
	}{
		{"Stryker acquired Vocera.", []Relationship{{"Stryker", "Vocera", KindAcquisition}}},
		{"Pfizer partners with BioNTech", []Relationship{{"Pfizer", "BioNTech", KindPartnership}}},
		{"Merck and Moderna sign agreement", []Relationship{{"Merck", "Moderna", KindPartnership}}},
		{"Quarterly results were flat", []Relationship{}},
		{"", []Relationship{}},
	}
	for _, tt := range tests {
		got := extractor.Relationships(tt.text)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Relationships(%q) = %+v, want %+v", tt.text, got, tt.want)
		}
	}
}

func TestTally(t *testing.T) {
	articles := []types.Article{
		{Companies: []string{"Pfizer"}},
		{Companies: []string{"Pfizer", "Moderna"}, Products: []string{"Keytruda"}},
		{},
	}
	got := extractor.Tally(articles)
	want := []EntityCount{
		{Name: "Pfizer", Type: TypeCompany, Mentions: 2, Ticker: "PFE", Sector: SectorBigPharma},
		{Name: "Moderna", Type: TypeCompany, Mentions: 1, Ticker: "MRNA", Sector: SectorBiotech},
		{Name: "Keytruda", Type: TypeProduct, Mentions: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tally = %+v\nwant %+v", got, want)
	}

	if got := extractor.Tally(nil); len(got) != 0 {
		t.Errorf("Tally(nil) = %+v", got)
	}
}

func BenchmarkExtract(b *testing.B) {
	text := "Intuitive Surgical reported strong da Vinci 5 placements as Medtronic pushed Hugo RAS; " +
		"FDA approved Keytruda for a new indication and Eli Lilly expanded Mounjaro supply."
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		extractor.Extract(text)
	}
}
