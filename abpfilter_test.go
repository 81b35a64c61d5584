package abpfilter_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AdguardTeam/abpfilter"
	"github.com/AdguardTeam/abpfilter/filterlist"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// testNow is the current time in tests.
var testNow = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

// testDefaultList is the body of the default subscription in tests.
const testDefaultList = "[Adblock Plus 2.0]\n" +
	"||ads.example.com^\n" +
	"/banner/*/img^\n" +
	"##.ad-banner\n" +
	"##.ad-box\n" +
	"example.com##.sponsored\n" +
	"example.net##.promo\n"

// fakeSettingsStore is an in-memory [abpfilter.SettingsStore].
type fakeSettingsStore struct {
	mu    *sync.Mutex
	conf  *abpfilter.Settings
	saves int
}

// type check
var _ abpfilter.SettingsStore = (*fakeSettingsStore)(nil)

// newFakeSettingsStore returns a store with conf, or with the default settings
// if conf is nil.
func newFakeSettingsStore(conf *abpfilter.Settings) (s *fakeSettingsStore) {
	if conf == nil {
		conf = abpfilter.DefaultSettings()
	}

	return &fakeSettingsStore{
		mu:   &sync.Mutex{},
		conf: conf,
	}
}

// Load implements the [abpfilter.SettingsStore] interface for
// *fakeSettingsStore.
func (s *fakeSettingsStore) Load(_ context.Context) (conf *abpfilter.Settings, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *s.conf

	return &c, nil
}

// Save implements the [abpfilter.SettingsStore] interface for
// *fakeSettingsStore.
func (s *fakeSettingsStore) Save(_ context.Context, conf *abpfilter.Settings) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *conf
	s.conf = &c
	s.saves++

	return nil
}

// saved returns the last saved settings.
func (s *fakeSettingsStore) saved() (conf *abpfilter.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conf
}

// mapFetcher is a [filterlist.Fetcher] serving lists by location.
type mapFetcher struct {
	mu     *sync.Mutex
	lists  map[string]string
	counts map[string]int
}

// type check
var _ filterlist.Fetcher = (*mapFetcher)(nil)

// newMapFetcher returns a fetcher serving lists.
func newMapFetcher(lists map[string]string) (f *mapFetcher) {
	return &mapFetcher{
		mu:     &sync.Mutex{},
		lists:  lists,
		counts: map[string]int{},
	}
}

// Fetch implements the [filterlist.Fetcher] interface for *mapFetcher.
func (f *mapFetcher) Fetch(_ context.Context, location string) (body []byte, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.counts[location]++

	list, ok := f.lists[location]
	if !ok {
		return nil, fmt.Errorf("unexpected status: %s", "404 Not Found")
	}

	return []byte(list), nil
}

// count returns the number of fetches of location.
func (f *mapFetcher) count(location string) (n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.counts[location]
}

// changeCounter counts the calls of the OnChange callback.
type changeCounter struct {
	mu *sync.Mutex
	n  int
}

// onChange is the callback.
func (c *changeCounter) onChange() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.n++
}

// count returns the number of calls.
func (c *changeCounter) count() (n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.n
}

// testEnv is a manager with its collaborators.
type testEnv struct {
	manager  *abpfilter.Manager
	settings *fakeSettingsStore
	fetcher  *mapFetcher
	changes  *changeCounter
	cacheDir string
}

// newTestEnv returns a loaded manager using conf as the persisted settings.
// The default subscription serves [testDefaultList] unless lists say
// otherwise.
func newTestEnv(t testing.TB, conf *abpfilter.Settings, lists map[string]string) (env *testEnv) {
	t.Helper()

	if lists == nil {
		lists = map[string]string{}
	}

	if _, ok := lists[abpfilter.DefaultLocation]; !ok {
		lists[abpfilter.DefaultLocation] = testDefaultList
	}

	env = &testEnv{
		settings: newFakeSettingsStore(conf),
		fetcher:  newMapFetcher(lists),
		changes:  &changeCounter{mu: &sync.Mutex{}},
		cacheDir: t.TempDir(),
	}

	env.manager = abpfilter.NewManager(&abpfilter.Config{
		Settings: env.settings,
		Fetcher:  env.fetcher,
		OnChange: env.changes.onChange,
		Now:      func() (now time.Time) { return testNow },
		CacheDir: env.cacheDir,
		// Keep the background saves out of the way of the tests.
		SaveDebounce: time.Hour,
		SaveMaxWait:  time.Hour,
	})

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	require.NoError(t, env.manager.Load(ctx))

	testutil.CleanupAndRequireSuccess(t, func() (err error) {
		return env.manager.Close(context.Background())
	})

	require.NoError(t, env.manager.WaitForUpdates(ctx))

	return env
}

// locations returns the locations of subs.
func locations(subs []*filterlist.Subscription) (locs []string) {
	for _, s := range subs {
		locs = append(locs, s.Location())
	}

	return locs
}
