package filterlist_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AdguardTeam/abpfilter/filterlist"
	"github.com/AdguardTeam/abpfilter/rules"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscription_Load_endToEnd(t *testing.T) {
	const text = "[Adblock]\n||track.example.com^\n@@||track.example.com/ok.js"

	s, _ := newLocalSubscription(t, text)

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	require.NoError(t, s.Load(ctx))

	assert.Equal(t, 3, s.Len())
	assert.True(t, testNow.Equal(s.LastUpdate()))

	req := rules.NewRequest("https://track.example.com/x.js", "https://news.example.org/", rules.TypeScript)
	r := s.Match(req)
	require.NotNil(t, r)

	assert.Equal(t, "||track.example.com^", r.Text())

	req = rules.NewRequest("https://track.example.com/ok.js", "https://news.example.org/", rules.TypeScript)
	assert.Nil(t, s.Match(req))

	req = rules.NewRequest("https://other.example.com/x.js", "", rules.TypeScript)
	assert.Nil(t, s.Match(req))
}

func TestSubscription_Match_document(t *testing.T) {
	const text = "[Adblock Plus 2.0]\n" +
		"||ads.example.com^\n" +
		"/banner/\n" +
		"@@||example.com^$document\n"

	s, _ := newLocalSubscription(t, text)
	require.NoError(t, s.Load(testutil.ContextWithTimeout(t, testTimeout)))

	testCases := []struct {
		name      string
		url       string
		sourceURL string
		wantRule  string
	}{{
		name:      "blocked",
		url:       "http://ads.example.org/banner/1.png",
		sourceURL: "http://news.example.org/",
		wantRule:  "/banner/",
	}, {
		name:      "request_on_excepted_domain",
		url:       "http://ads.example.com/banner/1.png",
		sourceURL: "",
		wantRule:  "",
	}, {
		name:      "page_on_excepted_domain",
		url:       "http://cdn.example.net/banner/1.png",
		sourceURL: "http://www.example.com/page.html",
		wantRule:  "",
	}, {
		name:      "not_matched",
		url:       "http://cdn.example.net/style.css",
		sourceURL: "http://news.example.org/",
		wantRule:  "",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := s.Match(rules.NewRequest(tc.url, tc.sourceURL, rules.TypeImage))
			if tc.wantRule == "" {
				assert.Nil(t, r)
			} else {
				require.NotNil(t, r)
				assert.Equal(t, tc.wantRule, r.Text())
			}
		})
	}

	assert.True(t, s.AdBlockDisabledForURL("http://www.example.com/"))
	assert.False(t, s.AdBlockDisabledForURL("http://example.org/"))
	assert.True(t, s.ElemHideDisabledForURL("http://www.example.com/"))
}

func TestSubscription_elementHiding(t *testing.T) {
	const text = "[Adblock Plus 2.0]\n" +
		"##.ad\n" +
		"##div#banner\n" +
		"example.com##.sponsored\n" +
		"~sub.example.com,example.com##.promo\n" +
		"@@||example.org^$elemhide\n" +
		"!##.disabled\n"

	s, _ := newLocalSubscription(t, text)
	require.NoError(t, s.Load(testutil.ContextWithTimeout(t, testTimeout)))

	assert.Equal(t, ".ad,div#banner", s.ElementHidingRules())
	assert.Equal(t, ".sponsored,.promo", s.ElementHidingRulesForDomain("www.example.com"))
	assert.Equal(t, ".sponsored", s.ElementHidingRulesForDomain("sub.example.com"))
	assert.Equal(t, "", s.ElementHidingRulesForDomain("example.net"))

	assert.True(t, s.ElemHideDisabledForURL("https://example.org/page"))
	assert.False(t, s.AdBlockDisabledForURL("https://example.org/page"))
	assert.False(t, s.ElemHideDisabledForURL("https://example.com/page"))
}

func TestSubscription_Load_corrupt(t *testing.T) {
	s, path := newLocalSubscription(t, "||ads.example.com^\n")

	err := s.Load(testutil.ContextWithTimeout(t, testTimeout))
	require.NoError(t, err)

	assert.Equal(t, 0, s.Len())
	assert.NoFileExists(t, path)
}

func TestSubscription_LoadCache(t *testing.T) {
	s := filterlist.New(&filterlist.Config{
		Descriptor: &filterlist.Descriptor{
			Location: testRemoteLocation,
			Title:    "Remote",
		},
		Fetcher: &fakeFetcher{
			onFetch: func(_ context.Context, _ string) (b []byte, err error) {
				panic("must not be called")
			},
		},
		CacheDir: t.TempDir(),
	})

	err := os.WriteFile(s.RulesFileName(), []byte("[Adblock Plus 2.0]\n||ads.example.com^\n"), 0o600)
	require.NoError(t, err)

	require.NoError(t, s.LoadCache(testutil.ContextWithTimeout(t, testTimeout)))

	assert.Equal(t, 2, s.Len())
	assert.True(t, s.LastUpdate().IsZero())
}

func TestSubscription_Load_directives(t *testing.T) {
	const text = "[Adblock Plus 2.0]\n" +
		"! Expires: 4 days\n" +
		"! Last modified: 30 May 2024 08:15 UTC\n" +
		"||ads.example.com^\n"

	s, _ := newLocalSubscription(t, text)
	require.NoError(t, s.Load(testutil.ContextWithTimeout(t, testTimeout)))

	assert.Equal(t, 4*24*time.Hour, s.UpdatePeriod())
	assert.True(t, time.Date(2024, time.May, 30, 8, 15, 0, 0, time.UTC).Equal(s.RemoteModified()))
}

func TestSubscription_Save(t *testing.T) {
	t.Run("round_trip", func(t *testing.T) {
		const text = "[Adblock Plus 2.0]\n" +
			"! Title: Test\n" +
			"||ads.example.com^$third-party\n" +
			"\n" +
			"example.com##.ad\n" +
			"@@||example.com/ok.js\n"

		s, path := newLocalSubscription(t, text)
		require.NoError(t, s.Load(testutil.ContextWithTimeout(t, testTimeout)))

		require.NoError(t, s.Save())

		data, err := os.ReadFile(path)
		require.NoError(t, err)

		assert.Equal(t, text, string(data))
	})

	t.Run("header_added", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "custom")

		s := filterlist.New(&filterlist.Config{
			Descriptor: &filterlist.Descriptor{
				Location: filterlist.FileLocation(path),
				Title:    "Custom",
			},
			CacheDir: dir,
			Custom:   true,
		})

		s.AddRule(rules.NewRule("||ads.example.com^"))
		s.AddRule(rules.NewRule("/banner/"))
		s.SetRuleEnabled(1, false)

		require.NoError(t, s.Save())

		data, err := os.ReadFile(path)
		require.NoError(t, err)

		assert.Equal(t, filterlist.Header+"\n||ads.example.com^\n!/banner/\n", string(data))

		loaded := filterlist.New(&filterlist.Config{
			Descriptor: s.Descriptor(),
			CacheDir:   dir,
			Custom:     true,
		})
		require.NoError(t, loaded.Load(testutil.ContextWithTimeout(t, testTimeout)))

		require.Equal(t, 3, loaded.Len())
		assert.True(t, loaded.Rule(0).IsHeader())
		assert.Equal(t, "||ads.example.com^", loaded.Rule(1).Text())
		assert.False(t, loaded.Rule(2).IsEnabled())
	})
}

func TestSubscription_rules(t *testing.T) {
	rec := newEventRecorder()
	s := filterlist.New(&filterlist.Config{
		Descriptor: &filterlist.Descriptor{
			Location: filterlist.FileLocation(filepath.Join(t.TempDir(), "custom")),
			Title:    "Custom",
		},
		OnEvent: rec.handle,
		Custom:  true,
	})

	assert.True(t, s.CanEditRules())
	assert.False(t, s.CanBeRemoved())

	req := rules.NewRequest("http://ads.example.com/x.js", "", rules.TypeScript)
	assert.Nil(t, s.Match(req))

	i := s.AddRule(rules.NewRule("||ads.example.com^"))
	assert.Equal(t, 0, i)
	assert.NotNil(t, s.Match(req))

	s.SetRuleEnabled(i, false)
	assert.Nil(t, s.Match(req))

	s.SetRuleEnabled(i, true)
	assert.NotNil(t, s.Match(req))

	replaced := s.ReplaceRule(rules.NewRule("@@||ads.example.com/x.js"), i)
	require.NotNil(t, replaced)
	assert.Nil(t, s.Match(req))
	assert.Nil(t, s.ReplaceRule(rules.NewRule("x"), 10))

	s.RemoveRule(i)
	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.Rule(0))

	assert.Equal(t, 5, rec.count(filterlist.EventRulesChanged))

	s.SetEnabled(false)
	s.SetEnabled(false)
	s.SetTitle("My Rules")
	s.SetTitle("My Rules")

	assert.Equal(t, 1, rec.count(filterlist.EventEnabledChanged))
	assert.Equal(t, 1, rec.count(filterlist.EventChanged))
	assert.Equal(t, "My Rules", s.Title())
	assert.True(t, s.Descriptor().Disabled)
}

func TestSubscription_Refresh(t *testing.T) {
	const (
		goodList = "[Adblock Plus 2.0]\n||ads.example.com^\n"
		newList  = "[Adblock Plus 2.0]\n||tracker.example.com^\n"
	)

	var calls int
	body := goodList
	f := &fakeFetcher{
		onFetch: func(_ context.Context, loc string) (b []byte, err error) {
			calls++
			assert.Equal(t, testRemoteLocation, loc)

			return []byte(body), nil
		},
	}

	s := filterlist.New(&filterlist.Config{
		Descriptor: &filterlist.Descriptor{
			Location: testRemoteLocation,
			Title:    "Remote",
		},
		Fetcher:  f,
		Now:      func() (now time.Time) { return testNow },
		CacheDir: t.TempDir(),
	})

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	require.NoError(t, s.Load(ctx))

	assert.Equal(t, 1, calls)
	assert.True(t, testNow.Equal(s.LastUpdate()))
	assert.FileExists(t, s.RulesFileName())

	req := rules.NewRequest("http://ads.example.com/", "", rules.TypeOther)
	assert.NotNil(t, s.Match(req))

	// Up to date.
	require.NoError(t, s.CheckForUpdate(ctx))
	assert.Equal(t, 1, calls)

	body = newList
	require.NoError(t, s.Refresh(ctx))
	assert.Equal(t, 2, calls)
	assert.Nil(t, s.Match(req))

	data, err := os.ReadFile(s.RulesFileName())
	require.NoError(t, err)

	assert.Equal(t, newList, string(data))
}

func TestSubscription_CheckForUpdate(t *testing.T) {
	const list = "[Adblock Plus 2.0]\n" +
		"! Last modified: 1 Jan 2024 00:00\n" +
		"||ads.example.com^\n"

	testCases := []struct {
		lastUpdate time.Time
		name       string
		period     time.Duration
		wantCalls  int
	}{{
		lastUpdate: time.Time{},
		name:       "never_updated",
		period:     0,
		wantCalls:  1,
	}, {
		lastUpdate: testNow.Add(-2 * time.Hour),
		name:       "fresh",
		period:     365 * 24 * time.Hour,
		wantCalls:  0,
	}, {
		lastUpdate: testNow.Add(-48 * time.Hour),
		name:       "expired",
		period:     0,
		wantCalls:  1,
	}, {
		lastUpdate: testNow.Add(-2 * time.Hour),
		name:       "remote_modified_expired",
		period:     0,
		wantCalls:  1,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			d := &filterlist.Descriptor{
				Location:   testRemoteLocation,
				Title:      "Remote",
				LastUpdate: tc.lastUpdate,
			}

			seed := filterlist.New(&filterlist.Config{Descriptor: d, CacheDir: dir})
			require.NoError(t, os.WriteFile(seed.RulesFileName(), []byte(list), 0o644))

			var calls int
			s := filterlist.New(&filterlist.Config{
				Descriptor:          d,
				Fetcher:             newBodyFetcher(list, &calls),
				Now:                 func() (now time.Time) { return testNow },
				CacheDir:            dir,
				DefaultUpdatePeriod: tc.period,
			})

			require.NoError(t, s.Load(testutil.ContextWithTimeout(t, testTimeout)))
			assert.Equal(t, tc.wantCalls, calls)
		})
	}
}

func TestSubscription_Refresh_checksum(t *testing.T) {
	const goodList = "[Adblock Plus 2.0]\n||ads.example.com^\n"

	badList := strings.Replace(testListSigned, "ads.", "adz.", 1)

	newSub := func(t *testing.T, body *string, confirm filterlist.ConfirmFunc) (s *filterlist.Subscription) {
		t.Helper()

		return filterlist.New(&filterlist.Config{
			Descriptor: &filterlist.Descriptor{
				Location: testRemoteLocation,
				Title:    "Remote",
			},
			Fetcher: &fakeFetcher{
				onFetch: func(_ context.Context, _ string) (b []byte, err error) {
					return []byte(*body), nil
				},
			},
			Confirm:  confirm,
			Now:      func() (now time.Time) { return testNow },
			CacheDir: t.TempDir(),
		})
	}

	req := rules.NewRequest("http://ads.example.com/", "", rules.TypeOther)

	t.Run("declined", func(t *testing.T) {
		body := goodList
		s := newSub(t, &body, nil)

		ctx := testutil.ContextWithTimeout(t, testTimeout)
		require.NoError(t, s.Refresh(ctx))
		require.NotNil(t, s.Match(req))

		body = badList
		err := s.Refresh(ctx)
		assert.ErrorIs(t, err, filterlist.ErrChecksumMismatch)

		assert.NotNil(t, s.Match(req))

		data, err := os.ReadFile(s.RulesFileName())
		require.NoError(t, err)

		assert.Equal(t, goodList, string(data))
	})

	t.Run("confirmed", func(t *testing.T) {
		body := badList
		var gotErr *filterlist.ChecksumError
		s := newSub(t, &body, func(
			_ context.Context,
			_ *filterlist.Subscription,
			err *filterlist.ChecksumError,
		) (ok bool) {
			gotErr = err

			return true
		})

		require.NoError(t, s.Refresh(testutil.ContextWithTimeout(t, testTimeout)))
		require.NotNil(t, gotErr)

		assert.Equal(t, testListChecksum, gotErr.Found)
		assert.Nil(t, s.Match(req))

		adz := rules.NewRequest("http://adz.example.com/", "", rules.TypeOther)
		assert.NotNil(t, s.Match(adz))
	})
}

func TestSubscription_Refresh_errors(t *testing.T) {
	const testError errors.Error = "test error"

	newSub := func(t *testing.T, body []byte, err error, isDefault bool) (s *filterlist.Subscription) {
		t.Helper()

		return filterlist.New(&filterlist.Config{
			Descriptor: &filterlist.Descriptor{
				Location: testRemoteLocation,
				Title:    "Remote",
			},
			Fetcher: &fakeFetcher{
				onFetch: func(_ context.Context, _ string) (b []byte, fetchErr error) {
					return body, err
				},
			},
			CacheDir: t.TempDir(),
			Default:  isDefault,
		})
	}

	t.Run("default_suppressed_once", func(t *testing.T) {
		s := newSub(t, nil, testError, true)
		ctx := testutil.ContextWithTimeout(t, testTimeout)

		assert.NoError(t, s.Refresh(ctx))

		err := s.Refresh(ctx)
		testutil.AssertErrorMsg(t, `downloading "Remote": test error`, err)
		assert.True(t, s.LastUpdate().IsZero())
	})

	t.Run("reported", func(t *testing.T) {
		s := newSub(t, nil, testError, false)

		err := s.Refresh(testutil.ContextWithTimeout(t, testTimeout))
		assert.ErrorIs(t, err, testError)
	})

	t.Run("empty_body", func(t *testing.T) {
		s := newSub(t, []byte{}, nil, false)

		err := s.Refresh(testutil.ContextWithTimeout(t, testTimeout))
		assert.ErrorIs(t, err, filterlist.ErrEmptyBody)
	})

	t.Run("default_empty_body", func(t *testing.T) {
		s := newSub(t, []byte(" \n"), nil, true)

		err := s.Refresh(testutil.ContextWithTimeout(t, testTimeout))
		testutil.AssertErrorMsg(t, `refreshing "Remote": got empty subscription rules`, err)
		assert.True(t, s.LastUpdate().IsZero())
	})

	t.Run("no_header", func(t *testing.T) {
		s := newSub(t, []byte("||ads.example.com^\n"), nil, false)

		err := s.Refresh(testutil.ContextWithTimeout(t, testTimeout))
		assert.ErrorIs(t, err, filterlist.ErrNoHeader)
		assert.NoFileExists(t, s.RulesFileName())
	})

	t.Run("invalid_location", func(t *testing.T) {
		s := filterlist.New(&filterlist.Config{
			Descriptor: &filterlist.Descriptor{
				Location: "not a url",
				Title:    "Broken",
			},
			Fetcher: &fakeFetcher{
				onFetch: func(_ context.Context, _ string) (b []byte, err error) {
					panic("must not be called")
				},
			},
			CacheDir: t.TempDir(),
		})

		assert.NoError(t, s.Refresh(testutil.ContextWithTimeout(t, testTimeout)))
	})
}

func TestSubscription_Refresh_inFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	var calls int
	s := filterlist.New(&filterlist.Config{
		Descriptor: &filterlist.Descriptor{
			Location: testRemoteLocation,
			Title:    "Remote",
		},
		Fetcher: &fakeFetcher{
			onFetch: func(_ context.Context, _ string) (b []byte, err error) {
				calls++
				close(started)
				<-release

				return []byte("[Adblock Plus 2.0]\n||ads.example.com^\n"), nil
			},
		},
		CacheDir: t.TempDir(),
	})

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Refresh(ctx)
	}()

	<-started
	assert.NoError(t, s.Refresh(ctx))
	close(release)

	require.NoError(t, <-errCh)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, s.Len())
}

func TestSubscription_RulesFileName(t *testing.T) {
	dir := t.TempDir()

	s := filterlist.New(&filterlist.Config{
		Descriptor: &filterlist.Descriptor{
			Location: "https://easylist-downloads.adblockplus.org/easylist.txt",
			Title:    "EasyList",
		},
		CacheDir: dir,
		Default:  true,
	})

	wantName := filepath.Join(dir, "adblock_subscription_406565a4f9df3a3d524659354a22b0dd4f6478c9")
	assert.Equal(t, wantName, s.RulesFileName())
	assert.False(t, s.CanBeRemoved())
	assert.True(t, s.IsDefault())

	s.SetLocation("")
	assert.Equal(t, "", s.RulesFileName())
	assert.True(t, s.LastUpdate().IsZero())
}
