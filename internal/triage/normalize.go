package triage

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type vocabEntry struct {
	canonical string
	aliases   []string
}

// vocabulary maps folded aliases to canonical values. Aliases are stored
// padded with spaces so they only match on word boundaries.
type vocabulary []vocabEntry

func newVocabulary(entries map[string][]string, order []string) vocabulary {
	v := make(vocabulary, 0, len(order))
	for _, canonical := range order {
		e := vocabEntry{canonical: canonical}
		seen := map[string]bool{}
		for _, alias := range append([]string{canonical}, entries[canonical]...) {
			folded := fold(alias)
			if strings.TrimSpace(folded) == "" || seen[folded] {
				continue
			}
			seen[folded] = true
			e.aliases = append(e.aliases, folded)
		}
		v = append(v, e)
	}
	return v
}

// match returns the canonical value whose alias occurs earliest in raw.
// A longer alias wins when two start at the same position.
func (v vocabulary) match(raw string) string {
	text := fold(raw)
	if strings.TrimSpace(text) == "" {
		return ""
	}
	best, bestPos, bestLen := "", -1, 0
	for _, e := range v {
		for _, alias := range e.aliases {
			pos := strings.Index(text, alias)
			if pos < 0 {
				continue
			}
			if bestPos < 0 || pos < bestPos || (pos == bestPos && len(alias) > bestLen) {
				best, bestPos, bestLen = e.canonical, pos, len(alias)
			}
		}
	}
	return best
}

// fold lowercases s, strips diacritics and turns every run of non
// alphanumeric characters into a single space, padding both ends.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	folded := cases.Fold().String(stripped)

	var b strings.Builder
	b.Grow(len(folded) + 2)
	b.WriteByte(' ')
	space := true
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

var contractTypes = newVocabulary(map[string][]string{
	"Sales": {
		"sale", "sales agreement", "sales contract", "purchase agreement", "purchase order",
		"customer contract", "customer agreement", "reseller", "reseller agreement",
		"distribution agreement", "msa", "master services agreement", "order form",
	},
	"Employment": {
		"employee", "employment contract", "employment agreement", "offer letter", "job offer",
		"new hire", "hiring", "contractor agreement", "contractor",
	},
	"NDA": {
		"ndas", "mutual nda", "non disclosure", "nondisclosure", "non disclosure agreement",
		"confidentiality", "confidentiality agreement",
	},
}, []string{"Sales", "Employment", "NDA"})

var locations = newVocabulary(map[string][]string{
	"Australia":      {"au", "aus", "aussie", "sydney", "melbourne", "brisbane", "perth"},
	"United States":  {"usa", "u s", "u s a", "united states of america", "america", "new york", "san francisco", "seattle"},
	"United Kingdom": {"uk", "u k", "britain", "great britain", "england", "scotland", "wales", "london"},
	"Canada":         {"toronto", "vancouver", "montreal"},
	"New Zealand":    {"nz", "auckland", "wellington"},
	"Ireland":        {"dublin"},
	"Germany":        {"deutschland", "berlin", "munich"},
	"France":         {"paris"},
	"India":          {"bangalore", "bengaluru", "mumbai", "delhi"},
	"Singapore":      {"sg"},
	"Japan":          {"tokyo"},
}, []string{
	"Australia", "United States", "United Kingdom", "Canada", "New Zealand",
	"Ireland", "Germany", "France", "India", "Singapore", "Japan",
})

var departments = newVocabulary(map[string][]string{
	"Engineering": {"engineer", "engineers", "eng", "dev", "developers", "development", "software"},
	"Marketing":   {"growth", "brand", "comms", "communications"},
	"Sales":       {"sale", "business development", "bd", "account executive"},
	"HR":          {"human resources", "people team", "people ops", "talent", "recruiting"},
	"Finance":     {"accounting", "accounts payable", "treasury", "fp a"},
	"Legal":       {"counsel", "compliance"},
	"Operations":  {"ops", "operation"},
	"Product":     {"product management", "product manager"},
	"Support":     {"customer support", "customer success", "helpdesk", "service desk"},
}, []string{
	"Engineering", "Marketing", "Sales", "HR", "Finance", "Legal", "Operations", "Product", "Support",
})

// NormalizeContractType maps raw to Sales, Employment or NDA, or "" when
// nothing recognisable is present.
func NormalizeContractType(raw string) string { return contractTypes.match(raw) }

// NormalizeLocation maps raw to a canonical country name, or "".
func NormalizeLocation(raw string) string { return locations.match(raw) }

// NormalizeDepartment maps raw to a canonical department name, or "".
func NormalizeDepartment(raw string) string { return departments.match(raw) }

// Normalize dispatches to the normalizer for field. Unknown fields yield "".
func Normalize(field Field, raw string) string {
	switch field {
	case FieldContractType:
		return NormalizeContractType(raw)
	case FieldLocation:
		return NormalizeLocation(raw)
	case FieldDepartment:
		return NormalizeDepartment(raw)
	default:
		return ""
	}
}
