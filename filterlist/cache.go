package filterlist

import (
	"strings"

	"github.com/AdguardTeam/abpfilter/rules"
)

// selectorSeparator separates the selectors of element hiding rules.
const selectorSeparator = ","

// populateCache partitions the enabled rules by their kind.  s.mu must be
// held for writing.
func (s *Subscription) populateCache() {
	s.networkBlockRules = nil
	s.networkExceptionRules = nil
	s.domainRestrictedCSSRules = nil
	s.documentRules = nil
	s.elemHideRules = nil

	var selectors []string
	for _, r := range s.rules {
		if !r.IsEnabled() {
			continue
		}

		switch r.Kind() {
		case rules.KindElementHiding:
			if r.IsDomainRestricted() {
				s.domainRestrictedCSSRules = append(s.domainRestrictedCSSRules, r)
			} else {
				selectors = append(selectors, r.CSSSelector())
			}
		case rules.KindDocument:
			s.documentRules = append(s.documentRules, r)
		case rules.KindElemHide:
			s.elemHideRules = append(s.elemHideRules, r)
		case rules.KindNetworkException:
			s.networkExceptionRules = append(s.networkExceptionRules, r)
		case rules.KindNetworkBlock:
			s.networkBlockRules = append(s.networkBlockRules, r)
		default:
			// Comments don't take part in matching.
		}
	}

	s.elementHidingRules = strings.Join(selectors, selectorSeparator)
}

// Match returns the block rule matching req, or nil if there is none or if an
// exception allows the request.  Exceptions are checked first and
// "$document" exceptions apply both to the request URL and to the page it
// originates from.
func (s *Subscription) Match(req *rules.Request) (r *rules.Rule) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, exc := range s.networkExceptionRules {
		if exc.NetworkMatch(req) {
			return nil
		}
	}

	for _, doc := range s.documentRules {
		if doc.URLMatch(req.URL) || (req.SourceURL != "" && doc.URLMatch(req.SourceURL)) {
			return nil
		}
	}

	for _, r = range s.networkBlockRules {
		if r.NetworkMatch(req) {
			return r
		}
	}

	return nil
}

// AdBlockDisabledForURL returns true if a "$document" exception matches the
// page URL.
func (s *Subscription) AdBlockDisabledForURL(pageURL string) (ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return anyURLMatch(s.documentRules, pageURL)
}

// ElemHideDisabledForURL returns true if a "$document" or "$elemhide"
// exception matches the page URL.
func (s *Subscription) ElemHideDisabledForURL(pageURL string) (ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return anyURLMatch(s.documentRules, pageURL) || anyURLMatch(s.elemHideRules, pageURL)
}

// anyURLMatch returns true if any of rs matches u.
func anyURLMatch(rs []*rules.Rule, u string) (ok bool) {
	for _, r := range rs {
		if r.URLMatch(u) {
			return true
		}
	}

	return false
}

// ElementHidingRules returns the comma-separated selectors of the element
// hiding rules that apply to every domain.
func (s *Subscription) ElementHidingRules() (selectors string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.elementHidingRules
}

// ElementHidingRulesForDomain returns the comma-separated selectors of the
// domain-restricted element hiding rules that apply to domain.
func (s *Subscription) ElementHidingRulesForDomain(domain string) (selectors string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sb strings.Builder
	for _, r := range s.domainRestrictedCSSRules {
		if !r.MatchDomain(domain) {
			continue
		}

		if sb.Len() > 0 {
			sb.WriteString(selectorSeparator)
		}

		sb.WriteString(r.CSSSelector())
	}

	return sb.String()
}

// Len returns the number of rules including comments.
func (s *Subscription) Len() (n int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.rules)
}

// Rule returns the rule at index i or nil if i is out of range.
func (s *Subscription) Rule(i int) (r *rules.Rule) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i < 0 || i >= len(s.rules) {
		return nil
	}

	return s.rules[i]
}

// Rules returns a copy of the rule list.
func (s *Subscription) Rules() (rs []*rules.Rule) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]*rules.Rule(nil), s.rules...)
}

// AddRule appends a rule and returns its index.
func (s *Subscription) AddRule(r *rules.Rule) (i int) {
	s.mu.Lock()
	s.rules = append(s.rules, r)
	i = len(s.rules) - 1
	s.populateCache()
	s.mu.Unlock()

	s.emit(EventRulesChanged)

	return i
}

// RemoveRule removes the rule at index i.  It does nothing if i is out of
// range.
func (s *Subscription) RemoveRule(i int) {
	s.mu.Lock()
	if i < 0 || i >= len(s.rules) {
		s.mu.Unlock()

		return
	}

	s.rules = append(s.rules[:i], s.rules[i+1:]...)
	s.populateCache()
	s.mu.Unlock()

	s.emit(EventRulesChanged)
}

// ReplaceRule replaces the rule at index i.  It returns nil if i is out of
// range, and r otherwise.
func (s *Subscription) ReplaceRule(r *rules.Rule, i int) (replaced *rules.Rule) {
	s.mu.Lock()
	if i < 0 || i >= len(s.rules) {
		s.mu.Unlock()

		return nil
	}

	s.rules[i] = r
	s.populateCache()
	s.mu.Unlock()

	s.emit(EventRulesChanged)

	return r
}

// SetRuleEnabled turns the rule at index i on or off.  It returns the rule, or
// nil if i is out of range.
func (s *Subscription) SetRuleEnabled(i int, enabled bool) (r *rules.Rule) {
	s.mu.Lock()
	if i < 0 || i >= len(s.rules) {
		s.mu.Unlock()

		return nil
	}

	r = s.rules[i]
	r.SetEnabled(enabled)
	s.populateCache()
	s.mu.Unlock()

	s.emit(EventRulesChanged)

	return r
}
