// Package normalize maps raw adapter records onto the canonical message
// model: participant identity resolution and timestamp interpretation.
package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Identity is a resolved participant identifier.
type Identity struct {
	Raw      string
	Resolved string
	Kind     string // "email", "phone", or "other"
}

// Resolver maps raw identifier strings to a consistent identifier space
// within one source. Resolution is a pure function of the identifier set the
// resolver was built from; rebuilding from the same set yields the same
// mapping.
type Resolver struct {
	// dominantPrefix is the country-code prefix stripped from phone numbers,
	// empty when no prefix is statistically dominant in the source.
	dominantPrefix string
}

// nationalNumberLen is the assumed length of a national significant phone
// number; digits in front of it are treated as a country-code prefix.
const nationalNumberLen = 10

// NewResolver builds a Resolver calibrated to one source's identifiers.
// It scans the raw identifiers for phone-number country-code prefixes and
// fixes the dominant one (strict majority of prefixed numbers) for
// collapsing; with no dominant prefix, prefixed numbers stay separate.
func NewResolver(raws []string) *Resolver {
	prefixCount := map[string]int{}
	total := 0
	for _, raw := range raws {
		if classify(raw) != "phone" {
			continue
		}
		digits := digitsOnly(raw)
		if len(digits) <= nationalNumberLen {
			continue
		}
		prefixCount[digits[:len(digits)-nationalNumberLen]]++
		total++
	}

	r := &Resolver{}
	for prefix, n := range prefixCount {
		if n*2 > total {
			r.DominantPrefix(prefix)
			break
		}
	}
	return r
}

// DominantPrefix overrides the collapsed country-code prefix. Exposed so
// resolution rules can be tightened in tests without rebuilding sources.
func (r *Resolver) DominantPrefix(prefix string) {
	r.dominantPrefix = prefix
}

// Resolve normalizes one raw identifier. Email-like addresses are Unicode
// NFKC-normalized and case-folded; phone-like numbers are digit-normalized
// with the dominant country code collapsed.
func (r *Resolver) Resolve(raw string) Identity {
	raw = strings.TrimSpace(raw)
	id := Identity{Raw: raw, Kind: classify(raw)}

	switch id.Kind {
	case "email":
		id.Resolved = cases.Fold().String(norm.NFKC.String(raw))
	case "phone":
		digits := digitsOnly(raw)
		if r.dominantPrefix != "" &&
			len(digits) == len(r.dominantPrefix)+nationalNumberLen &&
			strings.HasPrefix(digits, r.dominantPrefix) {
			digits = digits[len(r.dominantPrefix):]
		}
		id.Resolved = digits
	default:
		id.Resolved = cases.Fold().String(strings.TrimSpace(raw))
	}
	return id
}

func classify(raw string) string {
	if strings.Contains(raw, "@") {
		return "email"
	}
	if d := digitsOnly(raw); len(d) >= 7 && len(d) >= len(strings.TrimSpace(raw))/2 {
		return "phone"
	}
	return "other"
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
