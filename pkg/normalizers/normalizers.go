// Package normalizers provides field normalization functions for entity matching
package normalizers

import (
	"regexp"
	"strings"
	"unicode"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// registry holds all registered normalizers
var registry = make(map[string]Normalizer)

func init() {
	// Register built-in normalizers
	Register("lowercase", Lowercase)
	Register("trim", Trim)
	Register("nemail", NormalizeEmail)
	Register("nname", NormalizeName)
	Register("slug", Slugify)
	Register("remove_punctuation", RemovePunctuation)
	Register("alphanumeric", Alphanumeric)
	Register("base_name", StripTrailingQualifiers)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// Built-in normalizers

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeEmail normalizes an email address (lowercase, trim)
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeName normalizes an organization name for matching
// - Lowercase
// - Remove punctuation
// - Collapse whitespace
func NormalizeName(s string) string {
	s = strings.ToLower(s)

	var result strings.Builder
	prevSpace := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
			prevSpace = false
		} else if unicode.IsSpace(r) || unicode.IsPunct(r) {
			if !prevSpace {
				result.WriteRune(' ')
				prevSpace = true
			}
		}
	}

	return strings.TrimSpace(result.String())
}

// RemovePunctuation removes all punctuation characters
func RemovePunctuation(s string) string {
	var result strings.Builder
	for _, r := range s {
		if !unicode.IsPunct(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Alphanumeric keeps only alphanumeric characters
func Alphanumeric(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Slugify converts a display name into a URL-safe slug
// - Lowercase
// - Whitespace, hyphens and underscores become single hyphens
// - All other non-alphanumeric characters are dropped
// - No leading or trailing hyphens
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	var result strings.Builder
	prevHyphen := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			result.WriteRune(r)
			prevHyphen = false
		case unicode.IsSpace(r) || r == '-' || r == '_':
			if !prevHyphen && result.Len() > 0 {
				result.WriteRune('-')
				prevHyphen = true
			}
		}
	}

	return strings.TrimSuffix(result.String(), "-")
}

var (
	trailingNumbersRe  = regexp.MustCompile(`(\s+\d+)+$`)
	trailingBracketsRe = regexp.MustCompile(`\s*[(\[][^)\]]*[)\]]$`)
	trailingDashRe     = regexp.MustCompile(`\s+-\s+\S.*$`)
)

// StripTrailingQualifiers removes trailing numeric tokens, bracketed
// suffixes and dash suffixes that sources append to otherwise identical
// names, e.g. "Acme Corp 2", "Acme Corp (old)" and "Acme Corp - Copy"
// all reduce to "Acme Corp".
func StripTrailingQualifiers(s string) string {
	for {
		trimmed := strings.TrimSpace(s)
		trimmed = trailingNumbersRe.ReplaceAllString(trimmed, "")
		trimmed = trailingBracketsRe.ReplaceAllString(trimmed, "")
		trimmed = trailingDashRe.ReplaceAllString(trimmed, "")
		trimmed = strings.TrimSpace(trimmed)
		if trimmed == s {
			return trimmed
		}
		s = trimmed
	}
}

// SignificantWords returns the words of a normalized name that are long
// enough to be useful when filtering match candidates.
func SignificantWords(s string) []string {
	var words []string
	for _, w := range strings.Fields(NormalizeName(s)) {
		if len(w) >= 3 {
			words = append(words, w)
		}
	}
	return words
}
