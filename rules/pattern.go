package rules

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Regular expression parts the wildcard syntax is translated into.
const (
	// regexDomainAnchor replaces the leading "||".  It matches the scheme and
	// any number of subdomains.
	regexDomainAnchor = `^[\w-]+:/+(?!/)(?:[^/]+\.)?`

	// regexSeparator replaces "^", the separator placeholder.
	regexSeparator = `(?:[^\w\d\-.%]|$)`

	// regexAnyCharacter replaces "*".
	regexAnyCharacter = `.*`
)

var (
	reMultipleWildcards      = regexp.MustCompile(`\*+`)
	reAnchorAfterSeparator   = regexp.MustCompile(`\^\|$`)
	reEscapedDomainAnchor    = regexp.MustCompile(`^\\\|\\\|`)
	reEscapedSeparator       = regexp.MustCompile(`\\\^`)
	reEscapedStartAnchor     = regexp.MustCompile(`^\\\|`)
	reEscapedEndAnchor       = regexp.MustCompile(`\\\|$`)
	reEscapedWildcard        = regexp.MustCompile(`\\\*`)
	reLeadingOrTrailingStars = regexp.MustCompile(`^\*|\*$`)
)

// wildcardToRegexp converts a rule pattern with "*", "^", and "|" into a
// regular expression.  The order of the substitutions matters: anchors are
// processed before the wildcards become ".*".
func wildcardToRegexp(pattern string) (expr string) {
	expr = reMultipleWildcards.ReplaceAllLiteralString(pattern, "*")
	expr = reAnchorAfterSeparator.ReplaceAllLiteralString(expr, "^")
	expr = reLeadingOrTrailingStars.ReplaceAllLiteralString(expr, "")
	expr = escapeNonWord(expr)
	expr = reEscapedDomainAnchor.ReplaceAllLiteralString(expr, regexDomainAnchor)
	expr = reEscapedSeparator.ReplaceAllLiteralString(expr, regexSeparator)
	expr = reEscapedStartAnchor.ReplaceAllLiteralString(expr, "^")
	expr = reEscapedEndAnchor.ReplaceAllLiteralString(expr, "$")

	return reEscapedWildcard.ReplaceAllLiteralString(expr, regexAnyCharacter)
}

// escapeNonWord escapes every ASCII character that is not a word character.
// Non-ASCII characters are never special and are kept as is.
func escapeNonWord(s string) (escaped string) {
	var sb strings.Builder
	sb.Grow(len(s) * 2)

	for _, c := range s {
		if c < utf8.RuneSelf && !isWordChar(byte(c)) {
			sb.WriteByte('\\')
		}

		sb.WriteRune(c)
	}

	return sb.String()
}

// isWordChar returns true if c matches \w.
func isWordChar(c byte) (ok bool) {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '_'
}
