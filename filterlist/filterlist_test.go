package filterlist_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/AdguardTeam/abpfilter/filterlist"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// testRemoteLocation is the location of remote test lists.
const testRemoteLocation = "https://lists.example/list.txt"

// testNow is the current time in tests.
var testNow = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

// fakeFetcher is a [filterlist.Fetcher] for tests.
type fakeFetcher struct {
	onFetch func(ctx context.Context, location string) (body []byte, err error)
}

// type check
var _ filterlist.Fetcher = (*fakeFetcher)(nil)

// Fetch implements the [filterlist.Fetcher] interface for *fakeFetcher.
func (f *fakeFetcher) Fetch(ctx context.Context, location string) (body []byte, err error) {
	return f.onFetch(ctx, location)
}

// newBodyFetcher returns a fetcher that always returns body and counts the
// calls.
func newBodyFetcher(body string, calls *int) (f *fakeFetcher) {
	mu := &sync.Mutex{}

	return &fakeFetcher{
		onFetch: func(_ context.Context, _ string) (b []byte, err error) {
			mu.Lock()
			defer mu.Unlock()

			*calls++

			return []byte(body), nil
		},
	}
}

// eventRecorder records the events of subscriptions.
type eventRecorder struct {
	mu     *sync.Mutex
	events []filterlist.Event
}

// newEventRecorder returns a new *eventRecorder.
func newEventRecorder() (r *eventRecorder) {
	return &eventRecorder{
		mu: &sync.Mutex{},
	}
}

// handle is a [filterlist.EventHandler].
func (r *eventRecorder) handle(_ *filterlist.Subscription, e filterlist.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, e)
}

// count returns the number of times e was recorded.
func (r *eventRecorder) count(e filterlist.Event) (n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, got := range r.events {
		if got == e {
			n++
		}
	}

	return n
}

// newLocalSubscription writes text into a file in a temporary directory and
// returns a subscription reading from it.
func newLocalSubscription(t testing.TB, text string) (s *filterlist.Subscription, path string) {
	t.Helper()

	dir := t.TempDir()
	path = filepath.Join(dir, "list.txt")
	err := os.WriteFile(path, []byte(text), 0o644)
	require.NoError(t, err)

	s = filterlist.New(&filterlist.Config{
		Descriptor: &filterlist.Descriptor{
			Location: filterlist.FileLocation(path),
			Title:    "Local",
		},
		Now:      func() (now time.Time) { return testNow },
		CacheDir: dir,
	})

	return s, path
}
