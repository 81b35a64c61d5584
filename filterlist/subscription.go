// Package filterlist implements subscriptions: filter lists loaded from a
// cache file and refreshed from their location.
package filterlist

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"log/slog"
	"net/url"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/abpfilter/rules"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// rulesFilePrefix is the prefix of the names of the cache files.
const rulesFilePrefix = "adblock_subscription_"

// CustomRulesFileName is the name of the file with the user's own rules.
const CustomRulesFileName = rulesFilePrefix + "custom"

// DefaultUpdatePeriod is used when neither the list nor the configuration set
// the update period.
const DefaultUpdatePeriod = 24 * time.Hour

// Event is a change of a subscription.
type Event uint8

// Event values.
const (
	// EventChanged is sent when the title, the location, or the last update
	// time change.
	EventChanged Event = iota + 1

	// EventRulesChanged is sent when rules are added, removed, replaced, or
	// toggled.  The caches are rebuilt by the time it's sent.
	EventRulesChanged

	// EventEnabledChanged is sent when the subscription is turned on or
	// off.
	EventEnabledChanged
)

// String implements the [fmt.Stringer] interface for Event.
func (e Event) String() (s string) {
	switch e {
	case EventChanged:
		return "changed"
	case EventRulesChanged:
		return "rules_changed"
	case EventEnabledChanged:
		return "enabled_changed"
	default:
		return "unknown"
	}
}

// EventHandler receives the events of a subscription.  It is called without
// any locks held.
type EventHandler func(s *Subscription, e Event)

// ConfirmFunc decides whether a list with a wrong checksum should be used
// anyway.
type ConfirmFunc func(ctx context.Context, s *Subscription, err *ChecksumError) (ok bool)

// Config is the configuration structure for a [Subscription].
type Config struct {
	// Logger is used for logging the lifecycle of the subscription.  If nil,
	// a discard logger is used.
	Logger *slog.Logger

	// Descriptor is the identity of the subscription.  It must not be nil.
	Descriptor *Descriptor

	// Fetcher downloads the list from remote locations.  If nil, an
	// [HTTPFetcher] with the default settings is used.
	Fetcher Fetcher

	// Confirm is called when the checksum of a downloaded list is wrong.  If
	// nil, such lists are discarded.
	Confirm ConfirmFunc

	// OnEvent receives the events of the subscription.  It may be nil.
	OnEvent EventHandler

	// Now returns the current time.  If nil, [time.Now] is used.
	Now func() (now time.Time)

	// CacheDir is the directory with the cache files of remote lists.
	CacheDir string

	// DefaultUpdatePeriod is the update period used when the list has no
	// "Expires" directive.  If zero, [DefaultUpdatePeriod] is used.
	DefaultUpdatePeriod time.Duration

	// Custom is true for the list of the user's own rules.  Custom lists are
	// editable and never updated.
	Custom bool

	// Default is true for the built-in list.  The first failed update of such
	// a list is not reported.
	Default bool
}

// Subscription is an ordered list of rules from one location along with the
// caches used for matching.  It is safe for concurrent use.
type Subscription struct {
	logger  *slog.Logger
	fetcher Fetcher
	confirm ConfirmFunc
	onEvent EventHandler
	now     func() (now time.Time)

	// mu protects all fields below.
	mu *sync.RWMutex

	rules []*rules.Rule

	networkBlockRules        []*rules.Rule
	networkExceptionRules    []*rules.Rule
	domainRestrictedCSSRules []*rules.Rule
	documentRules            []*rules.Rule
	elemHideRules            []*rules.Rule

	// elementHidingRules are the comma-separated selectors of the
	// unrestricted element hiding rules.
	elementHidingRules string

	title            string
	location         string
	requiresLocation string
	requiresTitle    string
	cacheDir         string

	lastUpdate     time.Time
	remoteModified time.Time

	// updatePeriod is the period from the "Expires" directive, if any.
	updatePeriod        time.Duration
	defaultUpdatePeriod time.Duration

	// refreshing is true while a refresh is in flight.
	refreshing *atomic.Bool

	enabled bool
	custom  bool
	isDflt  bool

	// suppressError is true until the first failed update of the default
	// list.
	suppressError bool
}

// New returns a new subscription.  The rules are not loaded until
// [Subscription.Load] is called.
func New(conf *Config) (s *Subscription) {
	d := conf.Descriptor

	s = &Subscription{
		logger:              conf.Logger,
		fetcher:             conf.Fetcher,
		confirm:             conf.Confirm,
		onEvent:             conf.OnEvent,
		now:                 conf.Now,
		mu:                  &sync.RWMutex{},
		title:               d.Title,
		location:            d.Location,
		requiresLocation:    d.RequiresLocation,
		requiresTitle:       d.RequiresTitle,
		cacheDir:            conf.CacheDir,
		lastUpdate:          d.LastUpdate,
		defaultUpdatePeriod: conf.DefaultUpdatePeriod,
		refreshing:          &atomic.Bool{},
		enabled:             !d.Disabled,
		custom:              conf.Custom,
		isDflt:              conf.Default,
		suppressError:       conf.Default,
	}

	if s.logger == nil {
		s.logger = slogutil.NewDiscardLogger()
	}

	if s.fetcher == nil {
		s.fetcher = NewHTTPFetcher(nil)
	}

	if s.now == nil {
		s.now = time.Now
	}

	if s.defaultUpdatePeriod <= 0 {
		s.defaultUpdatePeriod = DefaultUpdatePeriod
	}

	return s
}

// emit sends e to the event handler.  s.mu must not be held.
func (s *Subscription) emit(e Event) {
	s.logger.Debug("subscription event", "title", s.Title(), "event", e)

	if s.onEvent != nil {
		s.onEvent(s, e)
	}
}

// Descriptor returns the current descriptor of the subscription.
func (s *Subscription) Descriptor() (d *Descriptor) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Descriptor{
		LastUpdate:       s.lastUpdate,
		Location:         s.location,
		Title:            s.title,
		RequiresLocation: s.requiresLocation,
		RequiresTitle:    s.requiresTitle,
		Disabled:         !s.enabled,
	}
}

// Title returns the title of the subscription.
func (s *Subscription) Title() (title string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.title
}

// SetTitle changes the title of the subscription.
func (s *Subscription) SetTitle(title string) {
	s.mu.Lock()
	if s.title == title {
		s.mu.Unlock()

		return
	}

	s.title = title
	s.mu.Unlock()

	s.emit(EventChanged)
}

// Location returns the location the rules come from.
func (s *Subscription) Location() (loc string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.location
}

// SetLocation changes the location of the subscription.  The subscription is
// considered never updated afterwards.
func (s *Subscription) SetLocation(loc string) {
	s.mu.Lock()
	if s.location == loc {
		s.mu.Unlock()

		return
	}

	s.location = loc
	s.lastUpdate = time.Time{}
	s.mu.Unlock()

	s.emit(EventChanged)
}

// RequiresLocation returns the location of the subscription this one depends
// on, if any.
func (s *Subscription) RequiresLocation() (loc string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.requiresLocation
}

// IsEnabled returns true if the subscription takes part in filtering.
func (s *Subscription) IsEnabled() (ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.enabled
}

// SetEnabled turns the subscription on or off.
func (s *Subscription) SetEnabled(enabled bool) {
	s.mu.Lock()
	if s.enabled == enabled {
		s.mu.Unlock()

		return
	}

	s.enabled = enabled
	s.mu.Unlock()

	s.emit(EventEnabledChanged)
}

// IsCustom returns true for the list of the user's own rules.
func (s *Subscription) IsCustom() (ok bool) {
	return s.custom
}

// IsDefault returns true for the built-in list.
func (s *Subscription) IsDefault() (ok bool) {
	return s.isDflt
}

// CanEditRules returns true if the rules may be changed by the user.
func (s *Subscription) CanEditRules() (ok bool) {
	return s.custom
}

// CanBeRemoved returns true if the subscription may be removed from the
// manager.
func (s *Subscription) CanBeRemoved() (ok bool) {
	return !s.custom && !s.isDflt
}

// LastUpdate returns the time of the last successful update.
func (s *Subscription) LastUpdate() (t time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastUpdate
}

// RemoteModified returns the time from the "Last modified" directive of the
// list.
func (s *Subscription) RemoteModified() (t time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.remoteModified
}

// UpdatePeriod returns the effective update period of the subscription.
func (s *Subscription) UpdatePeriod() (period time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.effectiveUpdatePeriod()
}

// effectiveUpdatePeriod returns the period from the list, if any, or the
// configured default.  s.mu must be held.
func (s *Subscription) effectiveUpdatePeriod() (period time.Duration) {
	if s.updatePeriod > 0 {
		return s.updatePeriod
	}

	return s.defaultUpdatePeriod
}

// RulesFileName returns the path to the cache file of the subscription.  For
// "file:" locations it is the local path itself.  It returns an empty string
// if the location is empty.
func (s *Subscription) RulesFileName() (name string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.rulesFileName()
}

// rulesFileName is the lock-free version of [Subscription.RulesFileName].
func (s *Subscription) rulesFileName() (name string) {
	if s.location == "" {
		return ""
	}

	if p, ok := localPath(s.location); ok {
		return p
	}

	sum := sha1.Sum([]byte(s.location))

	return filepath.Join(s.cacheDir, rulesFilePrefix+hex.EncodeToString(sum[:]))
}

// localPath returns the path of a "file:" location.
func localPath(loc string) (p string, ok bool) {
	u, err := url.Parse(loc)
	if err != nil || u.Scheme != "file" {
		return "", false
	}

	return filepath.FromSlash(u.Path), true
}

// FileLocation returns the "file:" location of a local path.
func FileLocation(p string) (loc string) {
	u := &url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(p),
	}

	return u.String()
}
