package abpfilter

import (
	"fmt"
	"log/slog"

	"github.com/AdguardTeam/abpfilter/filterlist"
	"github.com/AdguardTeam/abpfilter/internal/ufnet"
	"github.com/AdguardTeam/abpfilter/rules"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// Result is a positive decision of a [RequestFilter].
type Result struct {
	// Rule is the block rule that matched the request.
	Rule *rules.Rule

	// Subscription is the title of the subscription the rule belongs to.
	Subscription string

	// Reportable is false when the page the request originates from can't be
	// blocked, so the block must not show up in the page's bookkeeping.  The
	// request itself is blocked regardless.
	Reportable bool
}

// Reason returns the human-readable reason of the block.
func (res *Result) Reason() (reason string) {
	return fmt.Sprintf("blocked by %q from %q", res.Rule.Text(), res.Subscription)
}

// RequestFilter decides whether outgoing requests are blocked.  It is safe for
// concurrent use.
type RequestFilter struct {
	logger  *slog.Logger
	manager *Manager
}

// NewRequestFilter returns a new request filter using the subscriptions of m.
// If logger is nil, a discard logger is used.
func NewRequestFilter(m *Manager, logger *slog.Logger) (f *RequestFilter) {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}

	return &RequestFilter{
		logger:  logger,
		manager: m,
	}
}

// Block returns the result for the request or nil if the request is allowed.
// Requests with internal schemes and requests to or from excepted hosts are
// always allowed.  The first enabled subscription that blocks the request
// wins.
func (f *RequestFilter) Block(req *rules.Request) (res *Result) {
	m := f.manager
	if !m.IsEnabled() ||
		ufnet.IsInternalScheme(ufnet.ExtractScheme(req.URL)) ||
		m.IsHostExcepted(req.Hostname) ||
		m.IsHostExcepted(req.SourceHostname) {
		return nil
	}

	var sub *filterlist.Subscription
	var r *rules.Rule
	for _, s := range m.enabledSubscriptions() {
		r = s.Match(req)
		if r != nil {
			sub = s

			break
		}
	}

	if r == nil {
		return nil
	}

	pageURL := req.SourceURL
	if pageURL == "" {
		pageURL = req.URL
	}

	res = &Result{
		Rule:         r,
		Subscription: sub.Title(),
		Reportable:   f.CanBeBlocked(pageURL),
	}

	f.logger.Debug("blocked", "url", req.URL, "rule", r.Text(), "subscription", res.Subscription)

	return res
}

// CanBeBlocked returns true if filtering applies to the page at all: the
// manager is enabled, the page host isn't excepted, and no enabled
// subscription disables filtering for the page.
func (f *RequestFilter) CanBeBlocked(pageURL string) (ok bool) {
	m := f.manager

	return m.IsEnabled() &&
		!m.IsHostExcepted(ufnet.ExtractHostname(pageURL)) &&
		!m.AdBlockDisabledForURL(pageURL)
}
