// Package rules implements parsing and matching of Adblock Plus style
// filtering rules.
package rules

import (
	"strings"

	"github.com/dlclark/regexp2"
)

const (
	maskComment      = "!"
	maskHeader       = "[Adblock"
	maskException    = "@@"
	maskElemHide     = "##"
	maskRegexRule    = "/"
	optionsDelimiter = '$'
)

// Kind is the kind of a rule, which decides the cache a rule belongs to.
type Kind uint8

// Kind values.
const (
	// KindComment is a blank line, a comment, a list header, or a rule
	// disabled with the "!" prefix.
	KindComment Kind = iota

	// KindNetworkBlock blocks matching requests.
	KindNetworkBlock

	// KindNetworkException allows matching requests.
	KindNetworkException

	// KindElementHiding hides page elements with a CSS selector.
	KindElementHiding

	// KindDocument is an exception with the $document option; it disables
	// blocking and element hiding on matching pages.
	KindDocument

	// KindElemHide is an exception with the $elemhide option; it disables
	// element hiding on matching pages.
	KindElemHide
)

// String implements the [fmt.Stringer] interface for Kind.
func (k Kind) String() (s string) {
	switch k {
	case KindComment:
		return "comment"
	case KindNetworkBlock:
		return "block"
	case KindNetworkException:
		return "exception"
	case KindElementHiding:
		return "element_hiding"
	case KindDocument:
		return "document"
	case KindElemHide:
		return "elemhide"
	default:
		return "unknown"
	}
}

// Strategy is the way a network rule pattern is matched against a request.
type Strategy uint8

// Strategy values.
const (
	// StrategyExactSubstring matches if the pattern occurs anywhere in the
	// URL.
	StrategyExactSubstring Strategy = iota

	// StrategyDomainAnchored matches if the request hostname is the pattern
	// domain or one of its subdomains.
	StrategyDomainAnchored

	// StrategySuffixAnchored matches if the URL ends with the pattern.
	StrategySuffixAnchored

	// StrategyRegex matches with a regular expression.  It is the only slow
	// strategy.
	StrategyRegex
)

// String implements the [fmt.Stringer] interface for Strategy.
func (s Strategy) String() (str string) {
	switch s {
	case StrategyExactSubstring:
		return "substring"
	case StrategyDomainAnchored:
		return "domain"
	case StrategySuffixAnchored:
		return "suffix"
	case StrategyRegex:
		return "regex"
	default:
		return "unknown"
	}
}

// Rule is a single line of a filter list along with its compiled matcher.
// Rules are immutable after parsing except for [Rule.SetEnabled], so a Rule is
// safe for concurrent matching as long as SetEnabled is serialized by the
// owner.
type Rule struct {
	// regex is the compiled pattern for StrategyRegex.
	regex *regexp2.Regexp

	// text is the canonical rule text.
	text string

	// cssSelector is the selector of an element hiding rule.
	cssSelector string

	// matchString is the pattern for the non-regex strategies.  It is
	// lowercased unless the rule has the $match-case option.
	matchString string

	// allowedDomains are the domains from $domain or the element hiding
	// prefix the rule is restricted to.
	allowedDomains []string

	// blockedDomains are the "~"-prefixed domains the rule never applies to.
	blockedDomains []string

	// options are the request options present in the rule.
	options Option

	// inverted are the options used with the "~" prefix.
	inverted Option

	strategy Strategy

	enabled            bool
	internallyDisabled bool
	comment            bool
	exception          bool
	css                bool
	document           bool
	elemhide           bool
	matchCase          bool
}

// NewRule parses line and returns the compiled rule.  It never fails: blank
// lines, comments, and headers give disabled rules, and rules that are only
// partially understood are internally disabled and never match.
func NewRule(line string) (r *Rule) {
	r = &Rule{text: line}
	r.parse()

	return r
}

// Text returns the canonical text of the rule.  Text of a disabled rule starts
// with "!".
func (r *Rule) Text() (text string) {
	return r.text
}

// String implements the [fmt.Stringer] interface for *Rule.
func (r *Rule) String() (s string) {
	return r.text
}

// Kind returns the kind of the rule.  Rules disabled with [Rule.SetEnabled]
// are comments.
func (r *Rule) Kind() (k Kind) {
	switch {
	case r.comment, !r.enabled:
		return KindComment
	case r.css:
		return KindElementHiding
	case r.document:
		return KindDocument
	case r.elemhide:
		return KindElemHide
	case r.exception:
		return KindNetworkException
	default:
		return KindNetworkBlock
	}
}

// Strategy returns the pattern matching strategy of a network rule.
func (r *Rule) Strategy() (s Strategy) {
	return r.strategy
}

// IsEnabled returns true if the rule takes part in matching.
func (r *Rule) IsEnabled() (ok bool) {
	return r.enabled
}

// SetEnabled changes the enabled state of the rule.  Disabling prefixes the
// text with "!"; enabling a rule whose text starts with "!" parses the text
// without that prefix again.  Toggling back and forth restores the original
// text.
func (r *Rule) SetEnabled(enabled bool) {
	if r.enabled == enabled {
		return
	}

	if !enabled {
		r.enabled = false
		r.text = maskComment + r.text

		return
	}

	if !strings.HasPrefix(r.text, maskComment) {
		return
	}

	*r = Rule{text: r.text[len(maskComment):]}
	r.parse()
}

// IsInternallyDisabled returns true if the rule had options that could not be
// understood or a pattern that could not be compiled.
func (r *Rule) IsInternallyDisabled() (ok bool) {
	return r.internallyDisabled
}

// IsComment returns true if the text is a comment.
func (r *Rule) IsComment() (ok bool) {
	return strings.HasPrefix(r.text, maskComment)
}

// IsHeader returns true if the text is a list header.
func (r *Rule) IsHeader() (ok bool) {
	return strings.HasPrefix(r.text, maskHeader)
}

// IsException returns true if the rule starts with "@@".
func (r *Rule) IsException() (ok bool) {
	return r.exception
}

// IsCSS returns true for element hiding rules.
func (r *Rule) IsCSS() (ok bool) {
	return r.css
}

// CSSSelector returns the selector of an element hiding rule.
func (r *Rule) CSSSelector() (sel string) {
	return r.cssSelector
}

// IsDocument returns true for exceptions with the $document option.
func (r *Rule) IsDocument() (ok bool) {
	return r.document
}

// IsElemHide returns true for exceptions with the $elemhide option.
func (r *Rule) IsElemHide() (ok bool) {
	return r.elemhide
}

// IsDomainRestricted returns true if the rule only applies to some domains.
func (r *Rule) IsDomainRestricted() (ok bool) {
	return len(r.allowedDomains) > 0 || len(r.blockedDomains) > 0
}

// IsSlow returns true if the rule is matched with a regular expression.
func (r *Rule) IsSlow() (ok bool) {
	return !r.css && !r.comment && r.strategy == StrategyRegex
}

// IsMatchCase returns true if the rule has the $match-case option.
func (r *Rule) IsMatchCase() (ok bool) {
	return r.matchCase
}

// AllowedDomains returns the domains the rule is restricted to.  The returned
// slice must not be modified.
func (r *Rule) AllowedDomains() (domains []string) {
	return r.allowedDomains
}

// BlockedDomains returns the domains the rule never applies to.  The returned
// slice must not be modified.
func (r *Rule) BlockedDomains() (domains []string) {
	return r.blockedDomains
}

// HasOption returns true if the option is present in the rule, in either the
// plain or the "~" form.
func (r *Rule) HasOption(o Option) (ok bool) {
	return r.options&o == o
}

// IsOptionInverted returns true if the option was used with the "~" prefix.
func (r *Rule) IsOptionInverted(o Option) (ok bool) {
	return r.inverted&o == o
}
