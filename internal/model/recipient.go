package model

import (
	"regexp"
	"strings"
)

// Recipient identifiers are phone-number-like: optional leading +, then 6-15
// digits. Anything that is not a digit (or the leading +) is stripped before
// the check, so "+1 234-567-890" and "+1234567890" normalize identically.
var recipientPattern = regexp.MustCompile(`^\+?\d{6,15}$`)

// NormalizeRecipient strips formatting characters and reports whether the
// result is a valid recipient identifier.
func NormalizeRecipient(raw string) (string, bool) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	normalized := b.String()
	return normalized, recipientPattern.MatchString(normalized)
}

// NormalizeRecipients trims, normalizes and deduplicates while preserving
// first-seen order. Entries that fail the format rule are returned separately
// so the caller can log them.
func NormalizeRecipients(raw []string) (valid []string, dropped []string) {
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		n, ok := NormalizeRecipient(r)
		if !ok {
			dropped = append(dropped, r)
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		valid = append(valid, n)
	}
	return valid, dropped
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// FlattenBody is used only for the emptiness check: callers are expected to
// flatten rich formatting themselves, and the stored body is never modified.
func FlattenBody(body string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(body, ""))
}
