package rules

import (
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// regexMatchTimeout bounds the time a single regex rule may spend on one URL.
const regexMatchTimeout = 100 * time.Millisecond

// Option is a request option of a network rule.  In order to save memory, the
// options are stored as flags.
type Option uint8

// Option values.
const (
	OptionThirdParty     Option = 1 << iota // $third-party
	OptionObject                            // $object
	OptionSubdocument                       // $subdocument
	OptionXmlhttprequest                    // $xmlhttprequest
)

// parse fills r from r.text.
func (r *Rule) parse() {
	line := r.text

	if strings.TrimSpace(line) == "" ||
		strings.HasPrefix(line, maskComment) ||
		strings.HasPrefix(line, maskHeader) {
		r.comment = true

		return
	}

	r.enabled = true

	if pos := strings.Index(line, maskElemHide); pos >= 0 {
		r.css = true
		if pos > 0 {
			r.loadDomains(line[:pos], ",")
		}

		// Element hiding rules cannot have any other options.
		r.cssSelector = line[pos+len(maskElemHide):]

		return
	}

	if strings.HasPrefix(line, maskException) {
		r.exception = true
		line = line[len(maskException):]
	}

	if i := strings.IndexByte(line, optionsDelimiter); i >= 0 {
		if !r.loadOptions(line[i+1:]) {
			r.internallyDisabled = true

			return
		}

		line = line[:i]
	}

	r.compilePattern(line)
}

// loadOptions parses the comma-separated options list.  It returns false if
// any of the options is unknown.
func (r *Rule) loadOptions(options string) (ok bool) {
	for _, opt := range strings.Split(options, ",") {
		if !r.loadOption(opt) {
			return false
		}
	}

	return true
}

// loadOption parses a single option.  It returns false if the option is
// unknown or not allowed for this rule.
func (r *Rule) loadOption(opt string) (ok bool) {
	if domains, found := strings.CutPrefix(opt, "domain="); found {
		r.loadDomains(domains, "|")

		return true
	}

	name, inverted := strings.CutPrefix(opt, "~")

	var o Option
	switch name {
	case "match-case":
		if inverted {
			return false
		}

		r.matchCase = true

		return true
	case "document":
		if inverted || !r.exception {
			return false
		}

		r.document = true

		return true
	case "elemhide":
		if inverted || !r.exception {
			return false
		}

		r.elemhide = true

		return true
	case "collapse":
		// Hiding the placeholders of blocked elements is up to the page
		// layer, the option doesn't change matching.
		return !inverted
	case "third-party":
		o = OptionThirdParty
	case "object":
		o = OptionObject
	case "subdocument":
		o = OptionSubdocument
	case "xmlhttprequest":
		o = OptionXmlhttprequest
	default:
		return false
	}

	r.options |= o
	if inverted {
		r.inverted |= o
	} else {
		r.inverted &^= o
	}

	return true
}

// loadDomains parses a list of domains separated by sep.  Domains prefixed
// with "~" are the ones the rule never applies to.
func (r *Rule) loadDomains(domains, sep string) {
	for _, d := range strings.Split(domains, sep) {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}

		if blocked, found := strings.CutPrefix(d, "~"); found {
			if blocked != "" {
				r.blockedDomains = append(r.blockedDomains, blocked)
			}
		} else {
			r.allowedDomains = append(r.allowedDomains, d)
		}
	}
}

// compilePattern selects the matching strategy for the pattern and compiles
// it.
func (r *Rule) compilePattern(pattern string) {
	if len(pattern) >= 2 &&
		strings.HasPrefix(pattern, maskRegexRule) &&
		strings.HasSuffix(pattern, maskRegexRule) {
		r.setRegex(pattern[1 : len(pattern)-1])

		return
	}

	pattern = strings.TrimPrefix(pattern, "*")
	pattern = strings.TrimSuffix(pattern, "*")

	switch {
	case isDomainAnchored(pattern):
		r.strategy = StrategyDomainAnchored
		r.matchString = strings.ToLower(pattern[len("||") : len(pattern)-len("^")])
	case isSuffixAnchored(pattern):
		r.strategy = StrategySuffixAnchored
		r.setMatchString(pattern[:len(pattern)-len("|")])
	case strings.ContainsAny(pattern, "*^|"):
		r.setRegex(wildcardToRegexp(pattern))
	default:
		r.strategy = StrategyExactSubstring
		r.setMatchString(pattern)
	}
}

// isDomainAnchored returns true if pattern has the "||domain^" form, which
// can be matched by a simple hostname comparison.
func isDomainAnchored(pattern string) (ok bool) {
	return len(pattern) > len("||^") &&
		strings.HasPrefix(pattern, "||") &&
		strings.HasSuffix(pattern, "^") &&
		!strings.ContainsAny(pattern, "/:?=&*")
}

// isSuffixAnchored returns true if pattern only has a single "|" at the end
// and no other special characters.
func isSuffixAnchored(pattern string) (ok bool) {
	return strings.HasSuffix(pattern, "|") &&
		strings.Count(pattern, "|") == 1 &&
		!strings.ContainsAny(pattern, "^*")
}

// setMatchString sets the pattern for the plain string strategies.
func (r *Rule) setMatchString(s string) {
	if !r.matchCase {
		s = strings.ToLower(s)
	}

	r.matchString = s
}

// setRegex compiles expr and makes it the matcher of the rule.  A pattern that
// cannot be compiled disables the rule.
func (r *Rule) setRegex(expr string) {
	r.strategy = StrategyRegex

	opts := regexp2.None
	if !r.matchCase {
		opts = regexp2.IgnoreCase
	}

	re, err := regexp2.Compile(expr, opts)
	if err != nil {
		r.internallyDisabled = true

		return
	}

	re.MatchTimeout = regexMatchTimeout
	r.regex = re
}
