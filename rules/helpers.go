package rules

import "github.com/AdguardTeam/abpfilter/internal/ufnet"

// isSubdomainOfAny checks if domain is one of domains or a subdomain of any of
// them.
func isSubdomainOfAny(domain string, domains []string) (ok bool) {
	for _, d := range domains {
		if ufnet.IsSubdomainOrEqual(domain, d) {
			return true
		}
	}

	return false
}
