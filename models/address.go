package models

import (
	"regexp"
	"strings"
)

// MinFuzzyKeyLength is the shortest normalized address allowed in a
// substring lookup. Shorter fragments ("5 st") match too much.
const MinFuzzyKeyLength = 10

var (
	streetSuffixRe = regexp.MustCompile(`\s+(?:dr|drive|st|street|ave|avenue|rd|road|ln|lane|ct|court|blvd|boulevard|way|pl|place|cir|circle)\.?$`)
	unitSuffixRe   = regexp.MustCompile(`,?\s*(?:#\s*[\w-]+|\b(?:apt|apartment|unit|suite|ste)\b\.?\s*#?\s*[\w-]*)$`)
)

// NormalizeAddress reduces a free-text address to a comparison key.
// Rules apply in order:
//  1. lowercase and trim, strip a leading "the "
//  2. strip one trailing street-suffix token (st, street, ave, ...)
//  3. strip a trailing unit designator (apt 4, unit b, #12, ...)
//  4. collapse runs of whitespace
func NormalizeAddress(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "the ")
	s = streetSuffixRe.ReplaceAllString(s, "")
	s = unitSuffixRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// ParseCity returns the second comma-separated segment of an address
// ("456 Oak Ave, Sacramento, CA" -> "Sacramento"), or "" when absent.
func ParseCity(address string) string {
	parts := strings.Split(address, ",")
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
