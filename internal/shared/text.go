package shared

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Locale carries the language used for case folding and collation of
// operator-entered text (customer names, colour names, pattern codes).
type Locale struct {
	tag language.Tag
}

// DefaultLocale is Turkish, matching the depot's operators.
var DefaultLocale = Locale{tag: language.Turkish}

// ParseLocale parses a BCP 47 tag such as "tr" or "en-US".
func ParseLocale(s string) (Locale, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultLocale, nil
	}
	tag, err := language.Parse(s)
	if err != nil {
		return Locale{}, fmt.Errorf("shared: parse locale %q: %w", s, err)
	}
	return Locale{tag: tag}, nil
}

// Tag returns the underlying language tag.
func (l Locale) Tag() language.Tag {
	if l.tag == language.Und {
		return DefaultLocale.tag
	}
	return l.tag
}

// Lower lower-cases s using the locale's rules (Turkish dotted/dotless i).
func (l Locale) Lower(s string) string {
	// Casers are stateful and must not be shared between goroutines.
	return cases.Lower(l.Tag()).String(s)
}

// NormalizeKey trims, lower-cases and collapses inner whitespace.
func (l Locale) NormalizeKey(s string) string {
	return strings.Join(strings.Fields(l.Lower(s)), " ")
}

// Contains reports whether haystack contains needle ignoring case in this locale.
func (l Locale) Contains(haystack, needle string) bool {
	n := l.NormalizeKey(needle)
	if n == "" {
		return true
	}
	return strings.Contains(l.NormalizeKey(haystack), n)
}

// Collator returns a fresh collator; collators are not safe for concurrent use.
func (l Locale) Collator() *collate.Collator {
	return collate.New(l.Tag())
}

// TrimOptional trims s and reports whether anything is left.
func TrimOptional(s string) (string, bool) {
	t := strings.TrimSpace(s)
	return t, t != ""
}
