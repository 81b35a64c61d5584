// Package ufnet contains utilities for URL, hostname, and domain handling
// shared by the rule matchers and the request filter.
package ufnet

import (
	"net/netip"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ExtractHostname quickly retrieves the lowercased hostname from the given
// URL.
//
// NOTE: ExtractHostname is an optimized, best-effort function to retrieve a
// hostname from a URL-like string.  The result is not guaranteed to be correct
// for some edge cases, which include non-hierarchical URLs, userinfo, and IPv6
// hostnames.
func ExtractHostname(url string) (hostname string) {
	firstIdx := strings.Index(url, "//")
	if firstIdx == -1 {
		return ""
	}

	firstIdx += 2

	nextIdx := strings.IndexAny(url[firstIdx:], "/:?#")
	if nextIdx == -1 {
		nextIdx = len(url)
	} else {
		nextIdx += firstIdx
	}

	if nextIdx <= firstIdx {
		return ""
	}

	return strings.ToLower(url[firstIdx:nextIdx])
}

// ExtractScheme returns the lowercased scheme of url or an empty string if
// there is none.
func ExtractScheme(url string) (scheme string) {
	i := strings.IndexByte(url, ':')
	if i <= 0 {
		return ""
	}

	scheme = url[:i]
	for _, c := range []byte(scheme) {
		if !((c >= 'a' && c <= 'z') ||
			(c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') ||
			c == '+' || c == '-' || c == '.') {
			return ""
		}
	}

	return strings.ToLower(scheme)
}

// SecondLevelDomain returns the registrable domain of hostname, that is the
// public suffix with one additional label.  If hostname is itself a public
// suffix or cannot be split, it is returned as is.  An empty hostname gives an
// empty result.
func SecondLevelDomain(hostname string) (domain string) {
	hostnameLen := len(hostname)
	if hostnameLen < 1 {
		return ""
	}

	if hostname[0] == '.' || hostname[hostnameLen-1] == '.' {
		return hostname
	}

	suffix, _ := publicsuffix.PublicSuffix(hostname)

	i := hostnameLen - len(suffix) - 1
	if i < 0 || hostname[i] != '.' {
		return hostname
	}

	return hostname[1+strings.LastIndex(hostname[:i], "."):]
}

// IsSubdomainOrEqual returns true if domain is parent or one of its
// subdomains.  Both values are expected to be lowercased.
func IsSubdomainOrEqual(domain, parent string) (ok bool) {
	if parent == "" {
		return false
	}

	return domain == parent ||
		(strings.HasSuffix(domain, parent) && domain[len(domain)-len(parent)-1] == '.')
}

// internalSchemes are the schemes of URLs that never go to the network or
// belong to the browser itself, so filtering them makes no sense.
var internalSchemes = map[string]struct{}{
	"abp":    {},
	"about":  {},
	"data":   {},
	"chrome": {},
	"file":   {},
	"qrc":    {},
	"qthelp": {},

	"view-source": {},
}

// IsInternalScheme returns true if scheme is one of the schemes that must not
// be filtered.  scheme must be lowercased.
func IsInternalScheme(scheme string) (ok bool) {
	_, ok = internalSchemes[scheme]

	return ok
}

// maxDomainNameLen is the maximum length of an ASCII domain name including the
// dots.
const maxDomainNameLen = 253

// maxLabelLen is the maximum length of a domain name label.
const maxLabelLen = 63

// IsDomainName returns true if name is a valid ASCII domain name.  Labels
// consist of letters, digits, and hyphens and don't start or end with a
// hyphen.  The top-level label has at least two characters and is either
// alphabetic or an IDNA "xn--" label.
func IsDomainName(name string) (ok bool) {
	if name == "" || len(name) > maxDomainNameLen {
		return false
	}

	labels := strings.Split(name, ".")
	for _, l := range labels {
		if !isLabel(l) {
			return false
		}
	}

	return isTopLevelLabel(labels[len(labels)-1])
}

// isLabel returns true if l is a valid domain name label.
func isLabel(l string) (ok bool) {
	if l == "" || len(l) > maxLabelLen || l[0] == '-' || l[len(l)-1] == '-' {
		return false
	}

	for _, c := range []byte(l) {
		if !isLetter(c) && !isDigit(c) && c != '-' {
			return false
		}
	}

	return true
}

// isTopLevelLabel returns true if l can be a top-level domain.
func isTopLevelLabel(l string) (ok bool) {
	if len(l) < 2 {
		return false
	}

	if len(l) >= len("xn--wwww") && strings.EqualFold(l[:len("xn--")], "xn--") {
		return true
	}

	for _, c := range []byte(l) {
		if !isLetter(c) {
			return false
		}
	}

	return true
}

// isLetter returns true if c is an ASCII letter.
func isLetter(c byte) (ok bool) {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// isDigit returns true if c is an ASCII digit.
func isDigit(c byte) (ok bool) {
	return c >= '0' && c <= '9'
}

// isAddrRune returns true if r is a valid rune of string representation of an
// IP address.
func isAddrRune(r rune) (ok bool) {
	switch {
	case r == '.', r == ':',
		r >= '0' && r <= '9',
		r >= 'A' && r <= 'F',
		r >= 'a' && r <= 'f':
		return true
	default:
		return false
	}
}

// IsHost returns true if host is a domain name or an IP address.  Brackets
// around IPv6 addresses are allowed.
func IsHost(host string) (ok bool) {
	if IsDomainName(host) {
		return true
	}

	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if len(host) < len("::") || strings.IndexFunc(host, func(r rune) bool { return !isAddrRune(r) }) >= 0 {
		return false
	}

	_, err := netip.ParseAddr(host)

	return err == nil
}
