package rules

import (
	"strings"

	"github.com/AdguardTeam/abpfilter/internal/ufnet"
)

// NetworkMatch returns true if the rule matches the request.  The domain
// used for the domain-anchored strategy and the domain restrictions is the
// request hostname, and the string matched by the other strategies is the
// request URL.  Element hiding rules, disabled rules, and internally disabled
// rules never match.
func (r *Rule) NetworkMatch(req *Request) (ok bool) {
	if r.css || !r.enabled || r.internallyDisabled {
		return false
	}

	switch {
	case
		!r.matchPattern(req),
		r.IsDomainRestricted() && !r.MatchDomain(req.Hostname),
		r.HasOption(OptionThirdParty) && !r.matchThirdParty(req),
		r.HasOption(OptionObject) && !r.matchRequestType(OptionObject, req, TypeObject),
		r.HasOption(OptionSubdocument) && !r.matchRequestType(OptionSubdocument, req, TypeSubdocument),
		r.HasOption(OptionXmlhttprequest) &&
			!r.matchRequestType(OptionXmlhttprequest, req, TypeXmlhttprequest):
		return false
	}

	return true
}

// URLMatch checks the page URL against a $document or $elemhide rule.  Other
// rules never match.
func (r *Rule) URLMatch(url string) (ok bool) {
	if !r.document && !r.elemhide {
		return false
	}

	return r.NetworkMatch(NewRequest(url, "", TypeDocument))
}

// MatchDomain returns true if the rule applies to domain according to its
// domain restrictions.  When the rule has both kinds of restrictions, the
// blocked domains are checked first.
func (r *Rule) MatchDomain(domain string) (ok bool) {
	if !r.enabled {
		return false
	}

	if !r.IsDomainRestricted() {
		return true
	}

	domain = strings.ToLower(domain)

	if isSubdomainOfAny(domain, r.blockedDomains) {
		return false
	}

	if len(r.allowedDomains) == 0 {
		return true
	}

	return isSubdomainOfAny(domain, r.allowedDomains)
}

// matchPattern matches the request against the pattern using the rule's
// strategy.
func (r *Rule) matchPattern(req *Request) (ok bool) {
	switch r.strategy {
	case StrategyDomainAnchored:
		return ufnet.IsSubdomainOrEqual(req.Hostname, r.matchString)
	case StrategySuffixAnchored:
		return strings.HasSuffix(r.caseURL(req), r.matchString)
	case StrategyRegex:
		if r.regex == nil {
			return false
		}

		// A timeout is treated as no match.
		ok, _ = r.regex.MatchString(req.URL)

		return ok
	default:
		return strings.Contains(r.caseURL(req), r.matchString)
	}
}

// caseURL returns the URL of the request in the case the rule compares it in.
func (r *Rule) caseURL(req *Request) (url string) {
	if r.matchCase {
		return req.URL
	}

	return req.URLLowerCase
}

// matchThirdParty checks the $third-party option.  Requests without a
// referrer never match it, regardless of the "~" prefix.
func (r *Rule) matchThirdParty(req *Request) (ok bool) {
	if req.SourceURL == "" {
		return false
	}

	return r.applyInversion(OptionThirdParty, req.ThirdParty)
}

// matchRequestType checks a request type option.
func (r *Rule) matchRequestType(o Option, req *Request, t RequestType) (ok bool) {
	return r.applyInversion(o, req.RequestType&t == t)
}

// applyInversion inverts match if o was used with the "~" prefix.
func (r *Rule) applyInversion(o Option, match bool) (ok bool) {
	if r.IsOptionInverted(o) {
		return !match
	}

	return match
}
