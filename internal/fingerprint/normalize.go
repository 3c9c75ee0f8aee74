// Package fingerprint derives stable crash-group identities from stack
// traces: volatile-token normalization, exception signature extraction,
// and the fingerprint digest itself.
package fingerprint

import (
	"regexp"
	"unicode/utf8"
)

// Normalization regexes compiled once at package init. Order matters:
// the number rule runs last so it never consumes digits that belong to
// a UUID, hash, hex literal, path, or IP already replaced above it.
var (
	reUUID = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	reHash = regexp.MustCompile(`[0-9a-fA-F]{32,}`)
	reHex  = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	rePath = regexp.MustCompile(`(?:/[\w.$+-]+)+/?`)
	reIP   = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	reNum  = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
)

// MaxMessageLen is the longest exception message persisted on a group.
// Truncation happens at the write boundary, not during extraction.
const MaxMessageLen = 1000

// Normalize replaces volatile substrings in a line with fixed
// placeholder tokens so that semantically identical messages hash
// identically. It is pure and idempotent: a line with no matches is
// returned unchanged, and placeholders never re-match.
func Normalize(line string) string {
	line = reUUID.ReplaceAllString(line, "<uuid>")
	line = reHash.ReplaceAllString(line, "<hash>")
	line = reHex.ReplaceAllString(line, "<hex>")
	line = rePath.ReplaceAllString(line, "<path>")
	line = reIP.ReplaceAllString(line, "<ip>")
	line = reNum.ReplaceAllString(line, "<N>")
	return line
}

// TruncateMessage caps s at MaxMessageLen bytes without splitting a
// UTF-8 rune. Callers apply it when persisting an exception message.
func TruncateMessage(s string) string {
	if len(s) <= MaxMessageLen {
		return s
	}
	n := MaxMessageLen
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
