// Package policy applies data-handling rules to conversation content before
// it leaves the realtime path, currently PII masking ahead of persistence.
package policy

import "regexp"

// Voice transcripts routinely contain card numbers read aloud during
// checkout, so the card rule runs before the phone rule to keep long digit
// runs from being classified as phone numbers.
var redactionRules = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactTranscript masks high-risk PII in a transcript destined for storage.
func RedactTranscript(input string) (redacted string, changed bool) {
	out := input
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllString(out, rule.replacement)
		changed = changed || next != out
		out = next
	}
	return out, changed
}
