// Package normalizer folds code labels into the comparison key used for duplicate
// detection and canonical uniqueness.
package normalizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Step is a single named normalization step
type Step func(string) string

var registry = make(map[string]Step)

// DefaultChain is the order Normalize applies steps in.
var DefaultChain = []string{"trim", "fold_diacritics", "casefold", "collapse_whitespace"}

func init() {
	Register("trim", Trim)
	Register("fold_diacritics", FoldDiacritics)
	Register("casefold", CaseFold)
	Register("collapse_whitespace", CollapseWhitespace)
}

// Register adds a step to the registry
func Register(name string, fn Step) {
	registry[name] = fn
}

// Get retrieves a step by name
func Get(name string) (Step, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named step; unknown names leave the value unchanged
func Apply(value, step string) string {
	fn, ok := registry[step]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies steps in sequence
func ApplyChain(value string, steps ...string) string {
	result := value
	for _, name := range steps {
		result = Apply(result, name)
	}
	return result
}

// Normalize returns the comparison key for a label. It is total and deterministic.
func Normalize(label string) string {
	return ApplyChain(label, DefaultChain...)
}

// Equal reports whether two labels share a normalized form.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// FoldDiacritics strips combining marks: "categoría" becomes "categoria".
func FoldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return norm.NFC.String(s)
	}
	return out
}

// CaseFold applies Unicode case folding, which is stricter than lowercasing ("Straße" folds to "strasse").
func CaseFold(s string) string {
	return cases.Fold().String(s)
}

// CollapseWhitespace replaces each run of whitespace with a single space and trims the ends
func CollapseWhitespace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
