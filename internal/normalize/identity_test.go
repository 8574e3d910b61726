package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve_EmailFoldAndNormalize(t *testing.T) {
	r := NewResolver(nil)

	a := r.Resolve("Alice@Example.COM")
	b := r.Resolve("alice@example.com")
	assert.Equal(t, "email", a.Kind)
	assert.Equal(t, b.Resolved, a.Resolved)

	// Fullwidth characters NFKC-normalize to their ASCII forms, so visually
	// identical addresses collapse to one participant.
	c := r.Resolve("ａlice@example.com") // ａlice@example.com
	assert.Equal(t, "alice@example.com", c.Resolved)
}

func TestResolve_PhoneFormattingCollapses(t *testing.T) {
	r := NewResolver(nil)

	a := r.Resolve("(555) 000-1111")
	b := r.Resolve("555.000.1111")
	assert.Equal(t, "phone", a.Kind)
	assert.Equal(t, "5550001111", a.Resolved)
	assert.Equal(t, a.Resolved, b.Resolved)
}

func TestResolve_DominantCountryPrefix(t *testing.T) {
	// Most prefixed numbers in this source carry +1, so the prefix collapses
	// and "+1 555 000 1111" and "5550001111" become the same participant.
	raws := []string{
		"+1 555 000 1111",
		"+1 555 000 2222",
		"+1 555 000 3333",
		"+44 20 7946 0958 00", // minority prefix, stays distinct
		"5550001111",
	}
	r := NewResolver(raws)

	assert.Equal(t, "5550001111", r.Resolve("+1 555 000 1111").Resolved)
	assert.Equal(t, "5550001111", r.Resolve("5550001111").Resolved)
	// The minority-prefix number keeps its full digit string.
	assert.Equal(t, "44207946095800", r.Resolve("+44 20 7946 0958 00").Resolved)
}

func TestResolve_NoDominantPrefix(t *testing.T) {
	// An even split means no strict majority, so no prefix is collapsed.
	raws := []string{
		"+1 555 000 1111",
		"+44 7911 123456 0",
	}
	r := NewResolver(raws)

	assert.Equal(t, "15550001111", r.Resolve("+1 555 000 1111").Resolved)
}

func TestResolve_OtherIdentifiers(t *testing.T) {
	r := NewResolver(nil)

	id := r.Resolve("  Handle42  ")
	assert.Equal(t, "other", id.Kind)
	assert.Equal(t, "handle42", id.Resolved)
	assert.Equal(t, "Handle42", id.Raw)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"alice@example.com", "email"},
		{"+1 (555) 000-1111", "phone"},
		{"5550001", "phone"},
		{"room 12", "other"},
		{"alice", "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classify(tt.raw), tt.raw)
	}
}
