// Package abpfilter contains the filter manager, which owns the ordered set of
// subscriptions, and the request filter consulted for every outgoing request.
package abpfilter

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/AdguardTeam/abpfilter/filterlist"
	"github.com/AdguardTeam/abpfilter/internal/ufnet"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

// Identity of the built-in subscriptions.
const (
	DefaultLocation = "https://easylist-downloads.adblockplus.org/easylist.txt"
	DefaultTitle    = "EasyList"
	CustomTitle     = "Custom Rules"
)

// ErrNotRemovable is returned when removing the default or the custom
// subscription.
const ErrNotRemovable errors.Error = "subscription cannot be removed"

// maxConcurrentUpdates is the maximum number of subscriptions loaded or
// refreshed at the same time.
const maxConcurrentUpdates = 4

// Config is the configuration structure for a [Manager].
type Config struct {
	// Logger is used for logging the operation of the manager.  If nil, a
	// discard logger is used.
	Logger *slog.Logger

	// Settings loads and saves the settings.  It must not be nil.
	Settings SettingsStore

	// Fetcher downloads the subscriptions.  If nil, a
	// [filterlist.HTTPFetcher] with the default settings is used.
	Fetcher filterlist.Fetcher

	// Confirm decides whether lists with a wrong checksum are used.  If nil,
	// such lists are discarded.
	Confirm filterlist.ConfirmFunc

	// OnChange is called after any change of the subscriptions.  It may be
	// nil.
	OnChange func()

	// Now returns the current time.  If nil, [time.Now] is used.
	Now func() (now time.Time)

	// CacheDir is the directory with the cache files of the subscriptions and
	// the custom rules.
	CacheDir string

	// SaveDebounce is the time without changes after which the settings and
	// the rules are saved.  If zero, 3 seconds are used.
	SaveDebounce time.Duration

	// SaveMaxWait is the maximum delay of a save after the first unsaved
	// change.  If zero, 15 seconds are used.
	SaveMaxWait time.Duration
}

// Manager owns the ordered list of subscriptions, the master switch, and the
// hosts excepted from filtering.  The custom subscription is always the last
// one, and there is always exactly one default subscription once the
// subscriptions are loaded.  It is safe for concurrent use.
type Manager struct {
	logger   *slog.Logger
	settings SettingsStore
	fetcher  filterlist.Fetcher
	confirm  filterlist.ConfirmFunc
	onChange func()
	now      func() (now time.Time)
	saver    *autoSaver

	// updateCtx is the context of the background update checks.  It is
	// canceled by [Manager.Close].
	updateCtx    context.Context
	updateCancel context.CancelFunc

	// updates tracks the background update checks.
	updates *sync.WaitGroup

	// saveMu serializes saves.
	saveMu *sync.Mutex

	cacheDir       string
	customLocation string

	// mu protects the fields below.
	mu *sync.RWMutex

	subscriptions []*filterlist.Subscription

	// descriptors are the persisted descriptors, which are kept as is until
	// the subscriptions are loaded.
	descriptors []string

	exceptedHosts []string

	updatePeriod time.Duration

	enabled            bool
	loaded             bool
	subscriptionsReady bool
}

// NewManager returns a new *Manager.  Call [Manager.Load] to read the
// settings and the subscriptions.
func NewManager(conf *Config) (m *Manager) {
	m = &Manager{
		logger:         conf.Logger,
		settings:       conf.Settings,
		fetcher:        conf.Fetcher,
		confirm:        conf.Confirm,
		onChange:       conf.OnChange,
		now:            conf.Now,
		cacheDir:       conf.CacheDir,
		customLocation: filterlist.FileLocation(filepath.Join(conf.CacheDir, filterlist.CustomRulesFileName)),
		updates:        &sync.WaitGroup{},
		saveMu:         &sync.Mutex{},
		mu:             &sync.RWMutex{},
		updatePeriod:   DefaultUpdatePeriodDays * 24 * time.Hour,
	}

	m.updateCtx, m.updateCancel = context.WithCancel(context.Background())

	if m.logger == nil {
		m.logger = slogutil.NewDiscardLogger()
	}

	if m.fetcher == nil {
		m.fetcher = filterlist.NewHTTPFetcher(&filterlist.HTTPFetcherConfig{
			Logger: m.logger,
		})
	}

	if m.now == nil {
		m.now = time.Now
	}

	m.saver = newAutoSaver(m.logger, m.Save, conf.SaveDebounce, conf.SaveMaxWait)

	return m
}

// Load reads the settings and, if filtering is enabled, loads the
// subscriptions from the cache files.  The subscriptions are then checked for
// updates in the background, see [Manager.WaitForUpdates].  Failures of single
// subscriptions are logged and don't stop loading.  Load does nothing when
// called again.
func (m *Manager) Load(ctx context.Context) (err error) {
	m.mu.Lock()
	if m.loaded {
		m.mu.Unlock()

		return nil
	}

	conf, err := m.settings.Load(ctx)
	if err != nil {
		m.mu.Unlock()

		return fmt.Errorf("loading settings: %w", err)
	}

	m.loaded = true
	m.enabled = conf.Enabled
	m.descriptors = slices.Clone(conf.Subscriptions)
	m.exceptedHosts = nil
	for _, h := range conf.Exceptions {
		m.exceptedHosts = appendHost(m.exceptedHosts, h)
	}

	if conf.UpdatePeriodDays > 0 {
		m.updatePeriod = time.Duration(conf.UpdatePeriodDays) * 24 * time.Hour
	}

	enabled := m.enabled
	m.mu.Unlock()

	if !enabled {
		return nil
	}

	m.loadSubscriptions(ctx)

	return nil
}

// loadSubscriptions creates the subscriptions from the persisted descriptors,
// loads their cache files, and starts the update checks.  The subscriptions
// other subscriptions depend on are handled first.
func (m *Manager) loadSubscriptions(ctx context.Context) {
	m.mu.Lock()
	if m.subscriptionsReady {
		m.mu.Unlock()

		return
	}

	descs := m.parseDescriptors()
	for _, d := range descs {
		m.subscriptions = append(m.subscriptions, m.newSubscription(d))
	}

	for _, d := range descs {
		if d.HasRequirement() && m.findRequired(d.RequiresLocation, d.RequiresTitle) == nil {
			req := m.newSubscription(&filterlist.Descriptor{
				Location: d.RequiresLocation,
				Title:    d.RequiresTitle,
			})
			m.insertBeforeLast(req)
		}
	}

	m.subscriptionsReady = true

	var required, rest []*filterlist.Subscription
	for _, s := range m.subscriptions {
		if m.isRequired(s) {
			required = append(required, s)
		} else {
			rest = append(rest, s)
		}
	}
	m.mu.Unlock()

	m.forEach(ctx, required, "loading cache", (*filterlist.Subscription).LoadCache)
	m.forEach(ctx, rest, "loading cache", (*filterlist.Subscription).LoadCache)

	m.logger.InfoContext(ctx, "subscriptions loaded", "count", len(required)+len(rest))

	if m.updateCtx.Err() != nil {
		return
	}

	m.updates.Add(1)
	go m.checkForUpdates(required, rest)
}

// checkForUpdates checks required and then rest for updates.  It is intended
// to be used as a goroutine.
func (m *Manager) checkForUpdates(required, rest []*filterlist.Subscription) {
	defer m.updates.Done()

	ctx := m.updateCtx
	defer slogutil.RecoverAndLog(ctx, m.logger)

	m.forEach(ctx, required, "checking for update", (*filterlist.Subscription).CheckForUpdate)
	m.forEach(ctx, rest, "checking for update", (*filterlist.Subscription).CheckForUpdate)

	m.logger.DebugContext(ctx, "update checks finished")
}

// WaitForUpdates blocks until the update checks started by loading the
// subscriptions finish or until ctx is canceled.
func (m *Manager) WaitForUpdates(ctx context.Context) (err error) {
	done := make(chan struct{})
	go func() {
		m.updates.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseDescriptors parses the persisted descriptors and makes sure that the
// default subscription is among them and that the custom one is the last.
// m.mu must be held.
func (m *Manager) parseDescriptors() (descs []*filterlist.Descriptor) {
	var custom *filterlist.Descriptor
	hasDefault := false
	for _, str := range m.descriptors {
		d, err := filterlist.ParseDescriptor(str)
		if err != nil {
			m.logger.Warn("skipping subscription", "descriptor", str, slogutil.KeyError, err)

			continue
		}

		switch d.Location {
		case m.customLocation:
			if custom == nil {
				custom = d
			}

			continue
		case DefaultLocation:
			if hasDefault {
				continue
			}

			hasDefault = true
		}

		descs = append(descs, d)
	}

	if !hasDefault {
		descs = slices.Insert(descs, 0, &filterlist.Descriptor{
			Location: DefaultLocation,
			Title:    DefaultTitle,
		})
	}

	if custom == nil {
		custom = &filterlist.Descriptor{
			Location: m.customLocation,
			Title:    CustomTitle,
		}
	}

	return append(descs, custom)
}

// forEach calls f for subs concurrently and logs the errors with msg.
func (m *Manager) forEach(
	ctx context.Context,
	subs []*filterlist.Subscription,
	msg string,
	f func(s *filterlist.Subscription, ctx context.Context) (err error),
) {
	g := &errgroup.Group{}
	g.SetLimit(maxConcurrentUpdates)

	for _, s := range subs {
		g.Go(func() (err error) {
			err = f(s, ctx)
			if err != nil {
				m.logger.ErrorContext(ctx, msg, "title", s.Title(), slogutil.KeyError, err)
			}

			return nil
		})
	}

	_ = g.Wait()
}

// newSubscription creates a subscription wired to the manager.
func (m *Manager) newSubscription(d *filterlist.Descriptor) (s *filterlist.Subscription) {
	return filterlist.New(&filterlist.Config{
		Logger:              m.logger.With("subscription", d.Title),
		Descriptor:          d,
		Fetcher:             m.fetcher,
		Confirm:             m.confirm,
		OnEvent:             m.handleEvent,
		Now:                 m.now,
		CacheDir:            m.cacheDir,
		DefaultUpdatePeriod: m.updatePeriod,
		Custom:              d.Location == m.customLocation,
		Default:             d.Location == DefaultLocation,
	})
}

// handleEvent is the [filterlist.EventHandler] of all subscriptions.
func (m *Manager) handleEvent(s *filterlist.Subscription, e filterlist.Event) {
	m.changed()
}

// changed schedules a save and notifies the listener.  m.mu must not be held.
func (m *Manager) changed() {
	m.saver.changeOccurred()

	if m.onChange != nil {
		m.onChange()
	}
}

// insertBeforeLast inserts s before the custom subscription.  m.mu must be
// held.
func (m *Manager) insertBeforeLast(s *filterlist.Subscription) {
	i := len(m.subscriptions)
	if i > 0 && m.subscriptions[i-1].IsCustom() {
		i--
	}

	m.subscriptions = slices.Insert(m.subscriptions, i, s)
}

// findRequired returns the subscription with the given location and title.
// Descriptors are compared by prefix, so that the state parameters don't
// matter.  m.mu must be held.
func (m *Manager) findRequired(location, title string) (s *filterlist.Subscription) {
	prefix := filterlist.LocationPrefix(location, title)
	for _, s = range m.subscriptions {
		if strings.HasPrefix(s.Descriptor().String(), prefix) {
			return s
		}
	}

	return nil
}

// isRequired returns true if another subscription depends on s.  m.mu must
// be held.
func (m *Manager) isRequired(s *filterlist.Subscription) (ok bool) {
	loc := s.Location()
	for _, other := range m.subscriptions {
		if other != s && other.RequiresLocation() == loc {
			return true
		}
	}

	return false
}

// Close stops the background update checks and saves the pending changes.
func (m *Manager) Close(ctx context.Context) (err error) {
	m.updateCancel()

	err = m.WaitForUpdates(ctx)
	if err != nil {
		return fmt.Errorf("waiting for updates: %w", err)
	}

	return m.saver.close(ctx)
}

// IsEnabled returns true if filtering is enabled.
func (m *Manager) IsEnabled() (ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.enabled
}

// SetEnabled turns filtering on or off.  Turning it on loads the
// subscriptions if they aren't loaded yet.
func (m *Manager) SetEnabled(ctx context.Context, enabled bool) {
	m.mu.Lock()
	if m.enabled == enabled {
		m.mu.Unlock()

		return
	}

	m.enabled = enabled
	load := enabled && m.loaded && !m.subscriptionsReady
	m.mu.Unlock()

	if load {
		m.loadSubscriptions(ctx)
	}

	m.changed()
}

// Subscriptions returns a copy of the ordered list of subscriptions.
func (m *Manager) Subscriptions() (subs []*filterlist.Subscription) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.subscriptions)
}

// enabledSubscriptions returns the enabled subscriptions in order.
func (m *Manager) enabledSubscriptions() (subs []*filterlist.Subscription) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.subscriptions {
		if s.IsEnabled() {
			subs = append(subs, s)
		}
	}

	return subs
}

// Subscription returns the subscription with the given location or nil if
// there is none.
func (m *Manager) Subscription(location string) (s *filterlist.Subscription) {
	if location == "" {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.subscriptionLocked(location)
}

// subscriptionLocked is the lock-free version of [Manager.Subscription].  m.mu
// must be held.
func (m *Manager) subscriptionLocked(location string) (s *filterlist.Subscription) {
	for _, s = range m.subscriptions {
		if s.Location() == location {
			return s
		}
	}

	return nil
}

// CustomRules returns the subscription with the user's own rules, creating it
// if necessary.
func (m *Manager) CustomRules(ctx context.Context) (s *filterlist.Subscription, err error) {
	m.mu.Lock()
	s = m.subscriptionLocked(m.customLocation)
	if s != nil {
		m.mu.Unlock()

		return s, nil
	}

	s = m.newSubscription(&filterlist.Descriptor{
		Location: m.customLocation,
		Title:    CustomTitle,
	})
	m.subscriptions = append(m.subscriptions, s)
	m.mu.Unlock()

	m.changed()

	return s, s.Load(ctx)
}

// AddSubscription adds a subscription before the custom one and loads it.  The
// subscription it depends on, if any, is added and loaded first.  If there
// already is a subscription with the same location, it is returned instead.
func (m *Manager) AddSubscription(
	ctx context.Context,
	d *filterlist.Descriptor,
) (s *filterlist.Subscription, err error) {
	if d.HasRequirement() {
		_, err = m.LoadRequiredSubscription(ctx, d.RequiresLocation, d.RequiresTitle)
		if err != nil {
			m.logger.WarnContext(ctx, "loading required subscription", slogutil.KeyError, err)
		}
	}

	m.mu.Lock()
	if existing := m.subscriptionLocked(d.Location); existing != nil {
		m.mu.Unlock()

		return existing, nil
	}

	s = m.newSubscription(d)
	m.insertBeforeLast(s)
	m.mu.Unlock()

	m.changed()

	return s, s.Load(ctx)
}

// LoadRequiredSubscription makes sure that a subscription with the given
// location and title exists, adding and loading it if not.  It is idempotent.
func (m *Manager) LoadRequiredSubscription(
	ctx context.Context,
	location string,
	title string,
) (s *filterlist.Subscription, err error) {
	m.mu.Lock()
	s = m.findRequired(location, title)
	if s != nil {
		m.mu.Unlock()

		return s, nil
	}

	s = m.newSubscription(&filterlist.Descriptor{
		Location: location,
		Title:    title,
	})
	m.insertBeforeLast(s)
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "adding required subscription", "location", location)

	m.changed()

	return s, s.Load(ctx)
}

// RemoveSubscription removes s along with every subscription depending on it,
// transitively, and deletes their cache files.  The default and the custom
// subscriptions can't be removed.
func (m *Manager) RemoveSubscription(s *filterlist.Subscription) (err error) {
	if !s.CanBeRemoved() {
		return fmt.Errorf("removing %q: %w", s.Title(), ErrNotRemovable)
	}

	var errs []error

	m.mu.Lock()
	removed := m.removeLocked(s, &errs)
	m.mu.Unlock()

	if removed {
		m.changed()
	}

	return errors.Annotate(errors.Join(errs...), "removing subscription files: %w")
}

// removeLocked removes s and its dependents.  m.mu must be held.
func (m *Manager) removeLocked(s *filterlist.Subscription, errs *[]error) (removed bool) {
	i := slices.Index(m.subscriptions, s)
	if i < 0 {
		return false
	}

	m.subscriptions = slices.Delete(m.subscriptions, i, i+1)
	if err := s.RemoveFile(); err != nil {
		*errs = append(*errs, err)
	}

	loc := s.Location()
	for _, dep := range slices.Clone(m.subscriptions) {
		if dep.RequiresLocation() == loc && dep.CanBeRemoved() {
			m.removeLocked(dep, errs)
		}
	}

	return true
}

// RequiresSubscriptions returns the subscriptions that depend on s.
func (m *Manager) RequiresSubscriptions(s *filterlist.Subscription) (subs []*filterlist.Subscription) {
	loc := s.Location()

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, other := range m.subscriptions {
		if other.RequiresLocation() == loc {
			subs = append(subs, other)
		}
	}

	return subs
}

// UpdateAllSubscriptions refreshes all subscriptions concurrently.
func (m *Manager) UpdateAllSubscriptions(ctx context.Context) (err error) {
	subs := m.Subscriptions()

	errMu := &sync.Mutex{}
	var errs []error

	g := &errgroup.Group{}
	g.SetLimit(maxConcurrentUpdates)
	for _, s := range subs {
		g.Go(func() (refreshErr error) {
			refreshErr = s.Refresh(ctx)
			if refreshErr != nil {
				errMu.Lock()
				defer errMu.Unlock()

				errs = append(errs, refreshErr)
			}

			return nil
		})
	}

	_ = g.Wait()

	return errors.Join(errs...)
}

// Save persists the settings and the rules of every subscription.  The
// subscriptions depending on others are saved after the rest, but still
// before the custom one.  It is safe to call concurrently with the automatic
// saves.
func (m *Manager) Save(ctx context.Context) (err error) {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.RLock()
	if !m.loaded {
		m.mu.RUnlock()

		return nil
	}

	conf := &Settings{
		Exceptions:       slices.Clone(m.exceptedHosts),
		UpdatePeriodDays: int(m.updatePeriod / (24 * time.Hour)),
		Enabled:          m.enabled,
	}

	subs := slices.Clone(m.subscriptions)
	ready := m.subscriptionsReady
	if !ready {
		conf.Subscriptions = slices.Clone(m.descriptors)
	}
	m.mu.RUnlock()

	var errs []error
	if ready {
		var requires []string
		for _, s := range subs {
			d := s.Descriptor()
			if d.HasRequirement() {
				requires = append(requires, d.String())
			} else {
				conf.Subscriptions = append(conf.Subscriptions, d.String())
			}

			if s.IsCustom() || s.Len() > 0 {
				errs = append(errs, s.Save())
			}
		}

		last := len(conf.Subscriptions) - 1
		conf.Subscriptions = slices.Insert(conf.Subscriptions, max(last, 0), requires...)
	}

	errs = append(errs, m.settings.Save(ctx, conf))

	return errors.Annotate(errors.Join(errs...), "saving: %w")
}

// ElementHidingRules returns the comma-separated selectors of the element
// hiding rules of the enabled subscriptions that apply to every domain.
func (m *Manager) ElementHidingRules() (selectors string) {
	if !m.IsEnabled() {
		return ""
	}

	var parts []string
	for _, s := range m.enabledSubscriptions() {
		if sel := s.ElementHidingRules(); sel != "" {
			parts = append(parts, sel)
		}
	}

	return strings.Join(parts, ",")
}

// ElementHidingRulesForDomain returns the comma-separated selectors of the
// domain-restricted element hiding rules that apply to the page.  It returns
// an empty string if any enabled subscription disables element hiding for
// the page.
func (m *Manager) ElementHidingRulesForDomain(pageURL string) (selectors string) {
	if !m.IsEnabled() {
		return ""
	}

	host := ufnet.ExtractHostname(pageURL)

	var parts []string
	for _, s := range m.enabledSubscriptions() {
		if s.ElemHideDisabledForURL(pageURL) {
			return ""
		}

		if sel := s.ElementHidingRulesForDomain(host); sel != "" {
			parts = append(parts, sel)
		}
	}

	return strings.Join(parts, ",")
}

// AdBlockDisabledForURL returns true if any enabled subscription disables
// filtering for the page.
func (m *Manager) AdBlockDisabledForURL(pageURL string) (ok bool) {
	for _, s := range m.enabledSubscriptions() {
		if s.AdBlockDisabledForURL(pageURL) {
			return true
		}
	}

	return false
}
